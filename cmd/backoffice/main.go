// backoffice runs one headless client tab against a back-office server and
// keeps its session coherent until interrupted. Toasts and navigations are
// logged.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/app"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile   string
		username  string
		password  string
		logLevel  string
		logFormat string
	)
	fs := pflag.NewFlagSet("backoffice", pflag.ContinueOnError)
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file to read before the environment")
	fs.StringVarP(&username, "username", "u", "", "log in as this user when no stored session exists")
	fs.StringVarP(&password, "password", "p", "", "password (default $BACKOFFICE_PASSWORD)")
	fs.StringVar(&logLevel, "log-level", "", "override BACKOFFICE_LOG_LEVEL")
	fs.StringVar(&logFormat, "log-format", "", "override BACKOFFICE_LOG_FORMAT (json|pretty)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if password == "" {
		password = os.Getenv("BACKOFFICE_PASSWORD")
	}

	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx, app.Credentials{Username: username, Password: password})
}
