package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"datamakelaar/pkg/api"
	"datamakelaar/pkg/config"
	"datamakelaar/pkg/service"

	log "github.com/sirupsen/logrus"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose logging")
	configFile := flag.String("config", "datamakelaar.toml", "Configuration file")

	flag.Parse()
	if *verbose {
		// Set the log level to debug
		log.SetLevel(log.DebugLevel)
	}
	// Set the log format to include a leading timestamp in ISO8601 format
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	for _, name := range cfg.EnvironmentNames() {
		env, _ := cfg.Environment(name)
		log.WithFields(log.Fields{
			"api":       env.APIURL,
			"client_id": config.MaskSecret(env.ClientID),
			"secret":    config.MaskSecret(env.ClientSecret),
		}).Debugf("Environment %s", name)
	}

	svc := service.FromConfig(cfg)
	if len(svc.Environments()) == 0 {
		log.Warn("No environment has complete credentials, templates cannot be generated")
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           api.GetRouter(svc),
		ReadHeaderTimeout: 2 * time.Second,
	}
	go startServer(server)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	<-signalChan
	log.Info("Signalled, shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Shutdown: %v", err)
	}
}

func startServer(server *http.Server) {
	log.Infof("listening for HTTP on: %s", server.Addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("ListenAndServe: %v", err)
	}
}
