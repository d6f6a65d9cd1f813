package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/creditrail/creditrail/internal/app"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	if *migrate {
		if errMigrate := app.Migrate(*configPath); errMigrate != nil {
			log.WithError(errMigrate).Fatal("migration failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if errRun := app.Run(ctx, *configPath); errRun != nil {
		log.WithError(errRun).Fatal("service exited")
	}
}
