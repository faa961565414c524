package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"datamakelaar/pkg/service"
	"datamakelaar/pkg/sheets"
	"datamakelaar/pkg/spreadsheet"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	outputFile string
	submitAll  bool
	upsert     bool
	dryRun     bool
	pullSubmit bool
)

var errBlocked = errors.New("upload has critical issues")

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the configured datasets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := svc.Datasets()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, c := range configs {
			fmt.Fprintf(out, "%-20s %-30s %s (%d columns)\n", c.Key, c.Dataset, c.ObjectType, len(c.Attributes))
		}
		return nil
	},
}

var templateCmd = &cobra.Command{
	Use:   "template <dataset>",
	Short: "Download a dataset as a spreadsheet template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exp, err := svc.Export(cmd.Context(), environment, args[0])
		if err != nil {
			return err
		}
		name := outputFile
		if name == "" {
			name = spreadsheet.Filename(exp.Config.Dataset)
		}
		f, err := os.Create(name)
		if err != nil {
			return err
		}
		if err := spreadsheet.WriteTemplate(f, exp.Schema, exp.Objects); err != nil {
			f.Close()
			os.Remove(name)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d objects to %s\n", len(exp.Objects), name)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <dataset> <file>",
	Short: "Validate an edited spreadsheet without submitting it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := validateFile(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		printUpload(cmd.OutOrStdout(), u)
		if !u.Report.OK() {
			return errBlocked
		}
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit <dataset> <file>",
	Short: "Validate an edited spreadsheet and write it back to VIP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := validateFile(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		return submitUpload(cmd, u)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <dataset>",
	Short: "Publish a dataset to its tab in the configured Google spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := sheets.NewSheetClient(cmd.Context(), cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID)
		if err != nil {
			return err
		}
		exp, err := svc.Export(cmd.Context(), environment, args[0])
		if err != nil {
			return err
		}
		tab, err := client.Publish(cmd.Context(), exp.Schema, exp.Objects)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %d objects to tab %q\n", len(exp.Objects), tab)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <dataset>",
	Short: "Validate the published Google Sheets tab of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := sheets.NewSheetClient(cmd.Context(), cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID)
		if err != nil {
			return err
		}
		configs, err := svc.Datasets()
		if err != nil {
			return err
		}
		var tab string
		for _, c := range configs {
			if c.Key == args[0] {
				tab = sheets.Title(c.Dataset)
			}
		}
		if tab == "" {
			return fmt.Errorf("unknown dataset %q", args[0])
		}

		table, err := client.ReadTable(cmd.Context(), tab)
		if err != nil {
			return err
		}
		u, err := svc.ValidateTable(cmd.Context(), environment, args[0], "sheets:"+tab, table)
		if err != nil {
			return err
		}
		if !pullSubmit {
			printUpload(cmd.OutOrStdout(), u)
			if !u.Report.OK() {
				return errBlocked
			}
			return nil
		}
		return submitUpload(cmd, u)
	},
}

func init() {
	templateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default <Dataset>_Dataset.xlsx)")
	submitCmd.Flags().BoolVar(&submitAll, "all", false, "Send every row instead of only the changed ones")
	submitCmd.Flags().BoolVar(&upsert, "upsert", false, "Create objects that do not exist in VIP yet")
	submitCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and show the changes without sending them")
	pullCmd.Flags().BoolVar(&pullSubmit, "submit", false, "Write the validated tab back to VIP")
	pullCmd.Flags().BoolVar(&submitAll, "all", false, "With --submit, send every row instead of only the changed ones")
	pullCmd.Flags().BoolVar(&upsert, "upsert", false, "With --submit, create objects that do not exist in VIP yet")
}

func validateFile(cmd *cobra.Command, key, path string) (*service.Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return svc.Validate(cmd.Context(), environment, key, filepath.Base(path), f)
}

func submitUpload(cmd *cobra.Command, u *service.Upload) error {
	out := cmd.OutOrStdout()
	printUpload(out, u)
	if !u.Report.OK() {
		return errBlocked
	}
	if dryRun {
		fmt.Fprintln(out, "Dry run, nothing was sent")
		return nil
	}
	if !submitAll && len(u.Changes) == 0 {
		fmt.Fprintln(out, "Nothing to submit")
		return nil
	}

	log.WithFields(log.Fields{"upload": u.ID, "environment": u.Environment, "all": submitAll, "upsert": upsert}).Info("Submitting upload")
	res, err := svc.Submit(cmd.Context(), u.ID, service.SubmitOptions{All: submitAll, Upsert: upsert})
	if res != nil {
		printResult(out, res)
	}
	return err
}
