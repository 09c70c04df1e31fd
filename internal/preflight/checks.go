package preflight

import (
	"fmt"
	"io"
	"os"

	"github.com/creack/pty"

	"github.com/peterje/steamsession/internal/config"
	"github.com/peterje/steamsession/internal/models"
)

const (
	CheckSteamCMD = "steamcmd"
	CheckHome     = "steam_home"
	CheckPTY      = "pty"
)

// CheckAll inspects the host before sessions are served.
func CheckAll(steam config.Steam, mode string) []models.Check {
	checks := []models.Check{
		checkSteamCMD(steam),
		checkHome(steam.Home),
	}
	if mode == "pty" {
		checks = append(checks, checkPTY())
	}
	return checks
}

// Healthy reports whether every check a login depends on passed. A
// missing steamcmd is not fatal because it is installed on demand.
func Healthy(checks []models.Check) bool {
	for _, c := range checks {
		if !c.OK && c.Name != CheckSteamCMD {
			return false
		}
	}
	return true
}

// Print writes one line per check.
func Print(w io.Writer, checks []models.Check) {
	for _, c := range checks {
		if c.OK {
			fmt.Fprintf(w, "✓ %s (%s)\n", c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "⚠ %s: %s\n", c.Name, c.Detail)
		}
	}
}

func checkSteamCMD(steam config.Steam) models.Check {
	path := steam.ExecutablePath()
	info, err := os.Stat(path)
	if err != nil {
		return models.Check{Name: CheckSteamCMD, Detail: "not installed at " + path}
	}
	if info.Mode()&0o111 == 0 {
		return models.Check{Name: CheckSteamCMD, Detail: path + " is not executable"}
	}
	return models.Check{Name: CheckSteamCMD, OK: true, Detail: path}
}

func checkHome(home string) models.Check {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return models.Check{Name: CheckHome, Detail: err.Error()}
	}
	f, err := os.CreateTemp(home, ".preflight-*")
	if err != nil {
		return models.Check{Name: CheckHome, Detail: "not writable: " + err.Error()}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return models.Check{Name: CheckHome, OK: true, Detail: home}
}

func checkPTY() models.Check {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return models.Check{Name: CheckPTY, Detail: "cannot allocate a pseudo-terminal: " + err.Error()}
	}
	name := tty.Name()
	tty.Close()
	ptmx.Close()
	return models.Check{Name: CheckPTY, OK: true, Detail: name}
}
