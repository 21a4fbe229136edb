// backoffice-devserver serves an in-memory back-office API and push gateway
// for local runs. It is not a production server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/app"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/config"
	"github.com/shavkatbegmatov/jalyuzi-epr-sub002/internal/devserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile string
		addr    string
		seeds   []string
	)
	fs := pflag.NewFlagSet("backoffice-devserver", pflag.ContinueOnError)
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file to read before the environment")
	fs.StringVar(&addr, "addr", "", "listen address (default $BACKOFFICE_DEVSERVER_ADDR)")
	fs.StringArrayVar(&seeds, "user", []string{"admin:admin-password:ADMIN:PRODUCTS_VIEW,PRODUCTS_EDIT,ORDERS_VIEW"},
		"seed user as name:password[:ROLE[,ROLE]][:PERM[,PERM]] (repeatable)")
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
	if addr == "" {
		addr = cfg.DevServerAddr
	}
	log := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	srv, err := devserver.New(devserver.Config{Secret: cfg.DevServerSecret, Log: log})
	if err != nil {
		return err
	}
	for _, s := range seeds {
		su, err := parseSeed(s)
		if err != nil {
			return err
		}
		u, err := srv.AddUser(su)
		if err != nil {
			return fmt.Errorf("seed %q: %w", su.Username, err)
		}
		log.Info("devserver.seed", "user_id", u.ID, "username", u.Username, "roles", su.Roles)
	}

	hs := &http.Server{
		Addr:              addr,
		Handler:           app.WithRequestLogging(srv.Handler(), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("devserver.start", "addr", addr)

	select {
	case <-ctx.Done():
		log.Info("devserver.stop", "reason", "context_done")
	case err := <-errCh:
		log.Error("devserver.fail", "err", err)
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return hs.Shutdown(shutdownCtx)
}

func parseSeed(s string) (devserver.SeedUser, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return devserver.SeedUser{}, fmt.Errorf("seed %q: want name:password[:roles][:permissions]", s)
	}
	u := devserver.SeedUser{Username: parts[0], Password: parts[1], FullName: parts[0]}
	if len(parts) > 2 {
		u.Roles = splitList(parts[2])
		if len(u.Roles) > 0 {
			u.Role = u.Roles[0]
		}
	}
	if len(parts) > 3 {
		u.Permissions = splitList(parts[3])
	}
	return u, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
