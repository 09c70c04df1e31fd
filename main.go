package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peterje/steamsession/internal/classifier"
	"github.com/peterje/steamsession/internal/config"
	"github.com/peterje/steamsession/internal/credentials"
	"github.com/peterje/steamsession/internal/db"
	"github.com/peterje/steamsession/internal/history"
	"github.com/peterje/steamsession/internal/installer"
	"github.com/peterje/steamsession/internal/logger"
	"github.com/peterje/steamsession/internal/login"
	"github.com/peterje/steamsession/internal/preflight"
	"github.com/peterje/steamsession/internal/process"
	"github.com/peterje/steamsession/internal/server"
	"github.com/peterje/steamsession/internal/tunnel"
)

const usage = `usage: steamsession [-config FILE] <command> [flags]

commands:
  serve     run the HTTP/WebSocket login service (default)
  login     log in interactively on this terminal
  status    show the stored login and recent attempts
  forget    remove the stored login
  install   download steamcmd
`

func main() {
	configPath := flag.String("config", config.DefaultConfigFile, "YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "steamsession: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = runServe(ctx, cfg)
	case "login":
		err = runLogin(ctx, cfg, args)
	case "status":
		err = runStatus(ctx, cfg)
	case "forget":
		err = runForget(cfg)
	case "install":
		err = runInstall(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "steamsession %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

// app holds the collaborators shared by every command.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	database   *sql.DB
	history    *history.Store
	supervisor *process.Supervisor
	store      *credentials.Store
	installer  *installer.Installer
	manager    *login.Manager
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		database: database,
		history:  history.NewStore(database),
		supervisor: process.NewSupervisor(
			process.WithMode(process.Mode(cfg.Session.Mode)),
			process.WithGrace(cfg.Session.TerminateGrace),
			process.WithLogger(log),
		),
		store:     credentials.NewStore(cfg.Steam.Home, log),
		installer: installer.New(cfg.Steam, installer.WithLogger(log)),
	}

	opts := []login.Option{
		login.WithCredentialStore(a.store),
		login.WithRules(classifier.RulesFrom(cfg.Markers)),
		login.WithLogger(log),
	}
	if cfg.Steam.AutoInstall {
		opts = append(opts, login.WithInstaller(a.installer))
	}
	a.manager = login.NewManager(cfg.Steam, login.SettingsFrom(cfg.Session), a.supervisor, opts...)
	return a, nil
}

func (a *app) close() {
	a.manager.Shutdown()
	a.supervisor.TerminateAll()
	a.database.Close()
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cfg.Logging, os.Stderr)

	fmt.Println("steamsession - steamcmd login service")
	fmt.Println("=====================================")
	fmt.Println()

	fmt.Println("Running preflight checks...")
	checks := preflight.CheckAll(cfg.Steam, cfg.Session.Mode)
	preflight.Print(os.Stdout, checks)
	if !preflight.Healthy(checks) {
		return errors.New("preflight checks failed")
	}
	fmt.Println()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if n, err := a.history.MarkAbandoned(ctx, time.Now()); err != nil {
		log.Warn("close abandoned attempts", "error", err)
	} else if n > 0 {
		log.Info("closed abandoned attempts", "count", n)
	}

	events, unsub := a.manager.Subscribe()
	defer unsub()

	srv := server.New(server.Deps{
		Manager:   a.manager,
		Account:   a.store,
		Installer: a.installer,
		History:   a.history,
		Steam:     cfg.Steam,
		Mode:      cfg.Session.Mode,
		Log:       log,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return history.NewRecorder(a.history, log).Run(gctx, events)
	})
	g.Go(func() error {
		if err := a.store.Watch(gctx); err != nil {
			log.Warn("credential watcher stopped", "error", err)
		}
		return nil
	})
	if cfg.Tunnel.Enabled() {
		g.Go(func() error {
			return tunnel.NewClient(cfg.Tunnel, addr, log).Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		a.manager.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	fmt.Printf("Server running at http://%s\n", addr)
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Println("Server stopped.")
	return nil
}
