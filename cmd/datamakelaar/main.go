package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"datamakelaar/pkg/config"
	"datamakelaar/pkg/service"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	environment string
	verbose     bool
)

// loaded by the root command before any subcommand runs
var (
	cfg *config.Config
	svc *service.Service
)

var rootCmd = &cobra.Command{
	Use:   "datamakelaar",
	Short: "Curate VIP datasets through spreadsheets",
	Long: `datamakelaar downloads VIP datasets as validated spreadsheet templates,
checks edited spreadsheets against the live metadata and writes the changes
back to VIP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}
		svc = service.FromConfig(cfg)
		return nil
	},
}

func init() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stderr)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "datamakelaar.toml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&environment, "env", "", "VIP environment (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(templateCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(pullCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
