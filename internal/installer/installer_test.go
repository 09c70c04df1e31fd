package installer

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterje/steamsession/internal/config"
)

type entry struct {
	name string
	body string
	mode int64
	dir  bool
}

func tarball(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestInstaller(t *testing.T, url string) (*Installer, string) {
	t.Helper()
	home := filepath.Join(t.TempDir(), "steam")
	steam := config.Steam{Home: home, DownloadURL: url, Executable: filepath.Join(home, "steamcmd.sh")}
	return New(steam, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))), home
}

func TestInstall(t *testing.T) {
	archive := tarball(t, []entry{
		{name: "linux32/", dir: true, mode: 0o755},
		{name: "linux32/steamcmd", body: "ELF", mode: 0o755},
		{name: "steamcmd.sh", body: "#!/bin/bash\n", mode: 0o755},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	inst, home := newTestInstaller(t, srv.URL+"/steamcmd_linux.tar.gz")
	if inst.IsInstalled() {
		t.Fatal("should not be installed yet")
	}
	if err := inst.Install(context.Background()); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !inst.IsInstalled() {
		t.Fatal("expected installed")
	}

	info, err := os.Stat(filepath.Join(home, "steamcmd.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("launcher not executable: %v", info.Mode())
	}
	if _, err := os.Stat(filepath.Join(home, "linux32", "steamcmd")); err != nil {
		t.Errorf("nested binary missing: %v", err)
	}
}

func TestInstallRejectsTraversal(t *testing.T) {
	archive := tarball(t, []entry{
		{name: "../escaped.sh", body: "x", mode: 0o644},
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	inst, home := newTestInstaller(t, srv.URL)
	if err := inst.Install(context.Background()); err == nil {
		t.Fatal("expected traversal error")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(home), "escaped.sh")); !os.IsNotExist(err) {
		t.Error("file written outside the steam home")
	}
}

func TestInstallHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	inst, _ := newTestInstaller(t, srv.URL)
	if err := inst.Install(context.Background()); err == nil {
		t.Fatal("expected status error")
	}
}

func TestInstallMissingLauncher(t *testing.T) {
	archive := tarball(t, []entry{{name: "README", body: "nothing here", mode: 0o644}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	inst, _ := newTestInstaller(t, srv.URL)
	if err := inst.Install(context.Background()); err == nil {
		t.Fatal("expected error for archive without launcher")
	}
}

func TestInstallCancelled(t *testing.T) {
	inst, _ := newTestInstaller(t, "http://127.0.0.1:1/steamcmd.tar.gz")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := inst.Install(ctx); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestUninstall(t *testing.T) {
	inst, home := newTestInstaller(t, "")
	if err := inst.Uninstall(); err != nil {
		t.Fatalf("Uninstall of missing home: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(home, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := inst.Uninstall(); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := os.Stat(home); !os.IsNotExist(err) {
		t.Error("steam home survived Uninstall")
	}
}

func TestSafeJoin(t *testing.T) {
	dest := "/srv/steam"
	for _, name := range []string{"steamcmd.sh", "linux32/steamcmd", "./a/../b"} {
		if _, err := safeJoin(dest, name); err != nil {
			t.Errorf("safeJoin(%q): %v", name, err)
		}
	}
	for _, name := range []string{"../x", "a/../../x"} {
		if _, err := safeJoin(dest, name); err == nil {
			t.Errorf("safeJoin(%q) should fail", name)
		}
	}
}
