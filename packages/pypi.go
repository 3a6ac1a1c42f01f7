package packages

import (
	"archive/zip"
	"context"
	"encoding/json"
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

// PyPIConfig configures the wheel installer.
type PyPIConfig struct {
	Dir      string // Extraction directory, mounted by the interpreter
	IndexURL string // JSON API root, e.g. https://pypi.org/pypi
	Policy   Policy
	RetryMax int
	Logger   *zap.Logger
}

func DefaultPyPIConfig() PyPIConfig {
	return PyPIConfig{
		Dir:      ".gorupad/python/packages",
		IndexURL: "https://pypi.org/pypi",
		Policy:   Policy{Blocked: WASMIncompatible},
		RetryMax: 3,
	}
}

// Installed describes a wheel that was extracted.
type Installed struct {
	Name    string
	Version string
}

// PyPI installs pure-Python wheels without pip.
type PyPI struct {
	cfg  PyPIConfig
	http *retryablehttp.Client
	log  *zap.Logger
}

func NewPyPI(cfg PyPIConfig) *PyPI {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultPyPIConfig().IndexURL
	}
	return &PyPI{cfg: cfg, http: newHTTPClient(cfg.RetryMax, log), log: log}
}

func (p *PyPI) Dir() string { return p.cfg.Dir }

type pypiURL struct {
	PackageType string `json:"packagetype"`
	Filename    string `json:"filename"`
	URL         string `json:"url"`
}

type pypiResponse struct {
	Info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"info"`
	Urls []pypiURL `json:"urls"`
}

// Install downloads the latest pure-Python wheel for spec and extracts it.
// Version constraints in spec are accepted but not resolved.
func (p *PyPI) Install(ctx context.Context, spec string) (Installed, error) {
	name, _ := ParseSpec(spec)
	if err := ValidateName(name); err != nil {
		return Installed{}, err
	}
	if err := p.cfg.Policy.Check(name); err != nil {
		return Installed{}, err
	}
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return Installed{}, fmt.Errorf("create package dir: %w", err)
	}

	info, err := p.lookup(ctx, name)
	if err != nil {
		return Installed{}, err
	}

	wheelURL := findWheel(info.Urls)
	if wheelURL == "" {
		return Installed{}, fmt.Errorf("%s: no compatible wheel found (pure Python wheel required)", name)
	}

	p.log.Info("downloading wheel",
		zap.String("package", info.Info.Name),
		zap.String("version", info.Info.Version),
	)
	wheel, err := p.fetch(ctx, wheelURL)
	if err != nil {
		return Installed{}, fmt.Errorf("%s: download wheel: %w", name, err)
	}
	defer os.Remove(wheel)

	if err := extractWheel(wheel, p.cfg.Dir); err != nil {
		return Installed{}, fmt.Errorf("%s: extract wheel: %w", name, err)
	}
	return Installed{Name: info.Info.Name, Version: info.Info.Version}, nil
}

func (p *PyPI) lookup(ctx context.Context, name string) (*pypiResponse, error) {
	url := fmt.Sprintf("%s/%s/json", strings.TrimSuffix(p.cfg.IndexURL, "/"), name)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch package info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w on PyPI: %s", ErrNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("PyPI returned status %d", resp.StatusCode)
	}

	var info pypiResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("parse PyPI response: %w", err)
	}
	return &info, nil
}

func (p *PyPI) fetch(ctx context.Context, url string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "gorupad-*.whl")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxDownloadSize+1))
	tmp.Close()
	if err == nil && n > MaxDownloadSize {
		err = fmt.Errorf("larger than %d bytes", MaxDownloadSize)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// List returns the installed top-level packages, sorted.
func (p *PyPI) List() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasSuffix(entry.Name(), ".dist-info") && !strings.HasPrefix(entry.Name(), "__") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Remove deletes an installed package and its metadata.
func (p *PyPI) Remove(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	path := filepath.Join(p.cfg.Dir, name)
	if _, err := os.Stat(path); err != nil {
		if _, err := os.Stat(path + ".py"); err != nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		path += ".py"
	}
	if err := os.RemoveAll(path); err != nil {
		return err
	}

	entries, _ := os.ReadDir(p.cfg.Dir)
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), name+"-") && strings.HasSuffix(entry.Name(), ".dist-info") {
			os.RemoveAll(filepath.Join(p.cfg.Dir, entry.Name()))
		}
	}
	return nil
}

func findWheel(urls []pypiURL) string {
	// Only pure Python wheels; no C extensions work in WASM
	for _, u := range urls {
		if u.PackageType != "bdist_wheel" {
			continue
		}
		filename := strings.ToLower(u.Filename)
		if strings.Contains(filename, "-py3-none-any") || strings.Contains(filename, "-py2.py3-none-any") {
			return u.URL
		}
	}
	return ""
}

func extractWheel(wheelPath, destDir string) error {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".so") || strings.HasSuffix(name, ".pyd") || strings.HasSuffix(name, ".dylib") {
			return fmt.Errorf("package contains C extensions (%s) which won't work in WASM", filepath.Base(f.Name))
		}
	}

	root, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	for _, f := range r.File {
		if strings.Contains(f.Name, ".dist-info/") {
			continue
		}

		destPath := filepath.Join(root, f.Name)
		if !strings.HasPrefix(destPath, root+string(filepath.Separator)) {
			return fmt.Errorf("illegal path in wheel: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
