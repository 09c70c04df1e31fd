package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/peterje/steamsession/internal/config"
	"github.com/peterje/steamsession/internal/credentials"
	"github.com/peterje/steamsession/internal/history"
	"github.com/peterje/steamsession/internal/installer"
	"github.com/peterje/steamsession/internal/logger"
	"github.com/peterje/steamsession/internal/login"
)

// cliLogging keeps the terminal readable: text records, warnings and up,
// unless the config asks for debug.
func cliLogging(cfg config.Logging) config.Logging {
	cfg.Format = "text"
	if cfg.Level != "debug" {
		cfg.Level = "warn"
	}
	return cfg
}

func runLogin(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("u", "", "Steam account name")
	appID := fs.Int("app", 0, "app to install or update after login")
	dir := fs.String("dir", "", "install directory for -app (relative to the steam home)")
	fs.Parse(args)

	if *username == "" {
		return errors.New("-u is required")
	}

	in := bufio.NewReader(os.Stdin)
	password, err := readPassword(in)
	if err != nil {
		return err
	}

	creds := login.Credentials{Username: *username, Password: password}
	if *appID > 0 {
		d := *dir
		if d == "" {
			d = fmt.Sprintf("apps/%d", *appID)
		}
		creds.AfterLogin = []string{login.AppUpdateCommand(d, *appID)}
	}

	log := logger.New(cliLogging(cfg.Logging), os.Stderr)
	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	events, unsub := a.manager.Subscribe()
	defer unsub()

	recorded, unsubRecorder := a.manager.Subscribe()
	defer unsubRecorder()
	go history.NewRecorder(a.history, log).Run(ctx, recorded)

	if _, err := a.manager.Start(ctx, creds); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		for {
			line, err := in.ReadString('\n')
			if line = strings.TrimSpace(line); line != "" {
				lines <- line
			}
			if err != nil {
				close(lines)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.manager.Cancel()
			return errors.New("interrupted")

		case e, ok := <-events:
			if !ok {
				return errors.New("session closed")
			}
			switch e.Type {
			case login.EventOutput:
				fmt.Print(e.Text)
			case login.EventWarning:
				fmt.Fprintln(os.Stderr, "warning:", e.Text)
			case login.EventCodeRequested:
				fmt.Print("\nSteam Guard code: ")
				go func() {
					code, ok := <-lines
					if !ok {
						a.manager.Cancel()
						return
					}
					if err := a.manager.SubmitCode(code); err != nil {
						fmt.Fprintln(os.Stderr, "code rejected:", err)
					}
				}()
			case login.EventCompleted:
				fmt.Println()
				if !e.Success {
					return fmt.Errorf("login failed: %s", e.Reason)
				}
				fmt.Printf("Logged in as %s\n", e.Username)
				if len(creds.AfterLogin) > 0 || len(cfg.Session.AfterLogin) > 0 {
					return followUp(ctx, a.manager)
				}
				return nil
			}
		}
	}
}

// readPassword reads the password without echo from a terminal, or as the
// first line of piped input.
func readPassword(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// followUp streams the buffered output of the post-login commands until
// steamcmd exits. The buffer is ring-bounded, so new text is located after
// the tail printed last time rather than by offset.
func followUp(ctx context.Context, m *login.Manager) error {
	tail := lastBytes(m.Snapshot().Output, 256)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Cancel()
			return errors.New("interrupted")
		case <-ticker.C:
		}
		snap := m.Snapshot()
		out := snap.Output
		switch i := strings.LastIndex(out, tail); {
		case tail == "" || i < 0:
			fmt.Print(out)
		default:
			fmt.Print(out[i+len(tail):])
		}
		tail = lastBytes(out, 256)
		if !snap.Running {
			return nil
		}
	}
}

func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func runStatus(ctx context.Context, cfg *config.Config) error {
	log := logger.New(cliLogging(cfg.Logging), os.Stderr)
	inst := installer.New(cfg.Steam, installer.WithLogger(log))
	store := credentials.NewStore(cfg.Steam.Home, log)
	if err := store.Refresh(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	fmt.Printf("steamcmd installed: %t (%s)\n", inst.IsInstalled(), cfg.Steam.ExecutablePath())
	if name, ok := store.CurrentUsername(); ok {
		fmt.Printf("signed in as:       %s\n", name)
	} else {
		fmt.Printf("signed in:          %t\n", store.IsSignedIn())
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	attempts, err := a.history.List(ctx, 5)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		return nil
	}
	fmt.Println("\nrecent attempts:")
	for _, at := range attempts {
		outcome := at.State
		if at.Reason != "" {
			outcome += " (" + at.Reason + ")"
		}
		fmt.Printf("  %s  %-16s %s\n", at.StartedAt.Local().Format(time.DateTime), at.Username, outcome)
	}
	return nil
}

func runForget(cfg *config.Config) error {
	log := logger.New(cliLogging(cfg.Logging), os.Stderr)
	store := credentials.NewStore(cfg.Steam.Home, log)
	if err := store.Forget(); err != nil {
		return err
	}
	fmt.Println("Stored login removed.")
	return nil
}

func runInstall(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	reinstall := fs.Bool("reinstall", false, "remove the steam home (including the stored login) first")
	fs.Parse(args)

	log := logger.New(cliLogging(cfg.Logging), os.Stderr)
	inst := installer.New(cfg.Steam, installer.WithLogger(log))
	if *reinstall {
		if err := inst.Uninstall(); err != nil {
			return err
		}
	}
	if inst.IsInstalled() {
		fmt.Println("steamcmd is already installed at", cfg.Steam.ExecutablePath())
		return nil
	}
	fmt.Println("Installing steamcmd into", cfg.Steam.Home)
	if err := inst.Install(ctx); err != nil {
		return err
	}
	fmt.Println("Done.")
	return nil
}
