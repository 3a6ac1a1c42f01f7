package packages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// RegistryConfig configures a JavaScript module registry.
type RegistryConfig struct {
	Dir      string // Directory holding <name>.js or <name>/index.js
	BaseURL  string // Remote fallback serving <BaseURL>/<name>; empty means offline
	Policy   Policy
	RetryMax int
	Logger   *zap.Logger
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Dir:      ".gorupad/js/packages",
		RetryMax: 3,
	}
}

// Registry resolves CommonJS module sources by package name.
type Registry struct {
	cfg  RegistryConfig
	http *retryablehttp.Client
	log  *zap.Logger
}

func NewRegistry(cfg RegistryConfig) *Registry {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		cfg:  cfg,
		http: newHTTPClient(cfg.RetryMax, log),
		log:  log,
	}
}

// Fetch returns the module source for name, downloading and caching it when
// it is not present locally.
func (r *Registry) Fetch(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := r.cfg.Policy.Check(name); err != nil {
		return nil, err
	}

	for _, path := range r.localPaths(name) {
		src, err := os.ReadFile(path)
		if err == nil {
			return src, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	if r.cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	src, err := r.download(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := r.cache(name, src); err != nil {
		r.log.Warn("caching module failed", zap.String("package", name), zap.Error(err))
	}
	return src, nil
}

// Has reports whether name is available without a download.
func (r *Registry) Has(name string) bool {
	if ValidateName(name) != nil {
		return false
	}
	for _, path := range r.localPaths(name) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// List returns the locally available module names, sorted.
func (r *Registry) List() ([]string, error) {
	var names []string
	err := filepath.WalkDir(r.cfg.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == r.cfg.Dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.cfg.Dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		name, ok := strings.CutSuffix(rel, "/index.js")
		if !ok {
			if name, ok = strings.CutSuffix(rel, ".js"); !ok {
				return nil
			}
		}
		// Nested files of a package directory are not packages.
		if ValidateName(name) == nil {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Remove deletes the local copy of name.
func (r *Registry) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	found := false
	for _, path := range r.localPaths(name) {
		target := path
		if filepath.Base(path) == "index.js" {
			target = filepath.Dir(path)
		}
		if _, err := os.Stat(target); err != nil {
			continue
		}
		found = true
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (r *Registry) localPaths(name string) []string {
	base := filepath.Join(r.cfg.Dir, filepath.FromSlash(name))
	return []string{base + ".js", filepath.Join(base, "index.js")}
}

func (r *Registry) download(ctx context.Context, name string) ([]byte, error) {
	url := strings.TrimSuffix(r.cfg.BaseURL, "/") + "/" + name
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	r.log.Info("downloading module", zap.String("package", name), zap.String("url", url))
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("download %s: registry returned status %d", name, resp.StatusCode)
	}

	src, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", name, err)
	}
	if len(src) > MaxDownloadSize {
		return nil, fmt.Errorf("download %s: larger than %d bytes", name, MaxDownloadSize)
	}
	return src, nil
}

func (r *Registry) cache(name string, src []byte) error {
	path := r.localPaths(name)[0]
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
