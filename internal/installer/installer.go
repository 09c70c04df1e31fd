// Package installer downloads and unpacks the official steamcmd tarball
// into the steam home directory.
package installer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterje/steamsession/internal/config"
)

// Installer manages the steamcmd installation.
type Installer struct {
	home       string
	url        string
	executable string
	client     *http.Client
	log        *slog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithHTTPClient sets the client used for the download.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Installer) { i.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Installer) { i.log = l }
}

// New creates an Installer for the configured steam home.
func New(steam config.Steam, opts ...Option) *Installer {
	i := &Installer{
		home:       steam.Home,
		url:        steam.DownloadURL,
		executable: steam.ExecutablePath(),
		client:     &http.Client{Timeout: 5 * time.Minute},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.log = i.log.With("component", "installer")
	return i
}

// IsInstalled reports whether the steamcmd launcher exists.
func (i *Installer) IsInstalled() bool {
	info, err := os.Stat(i.executable)
	return err == nil && !info.IsDir()
}

// Install downloads the tarball and unpacks it into the steam home.
func (i *Installer) Install(ctx context.Context) error {
	if err := os.MkdirAll(i.home, 0o755); err != nil {
		return fmt.Errorf("create steam home: %w", err)
	}

	i.log.Info("downloading steamcmd", "url", i.url, "dest", i.home)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %s", resp.Status)
	}

	n, err := extract(resp.Body, i.home)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if !i.IsInstalled() {
		return fmt.Errorf("archive did not contain %s", filepath.Base(i.executable))
	}
	i.log.Info("steamcmd installed", "files", n)
	return nil
}

// Uninstall removes the steam home, including any stored login.
func (i *Installer) Uninstall() error {
	if _, err := os.Stat(i.home); errors.Is(err, fs.ErrNotExist) {
		i.log.Warn("steam home does not exist, skipping uninstall", "home", i.home)
		return nil
	}
	if err := os.RemoveAll(i.home); err != nil {
		return fmt.Errorf("remove steam home: %w", err)
	}
	i.log.Info("steam home removed", "home", i.home)
	return nil
}

// extract unpacks a gzipped tar stream into dest and returns the number
// of regular files written.
func extract(r io.Reader, dest string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	files := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("tar: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return files, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, err
			}
			files++
		case tar.TypeSymlink:
			if _, err := safeJoin(filepath.Dir(target), hdr.Linkname); err != nil || filepath.IsAbs(hdr.Linkname) {
				return files, fmt.Errorf("symlink %s escapes destination", hdr.Name)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return files, err
			}
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// safeJoin resolves name under dest and rejects paths that leave it.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes destination", name)
	}
	return target, nil
}
