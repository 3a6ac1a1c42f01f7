package packages

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// MaxRuntimeSize bounds an interpreter runtime download such as python.wasm.
const MaxRuntimeSize = 256 << 20

// FetchFile downloads url to dest unless dest already exists. It reports
// whether a download happened. The file appears at dest only once complete.
func FetchFile(ctx context.Context, url, dest string, log *zap.Logger) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	}
	if log == nil {
		log = zap.NewNop()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := newHTTPClient(3, log).Do(req)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("download %s: %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return false, err
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, MaxRuntimeSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > MaxRuntimeSize {
		err = fmt.Errorf("larger than %d bytes", MaxRuntimeSize)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return false, fmt.Errorf("download %s: %w", url, err)
	}
	log.Debug("downloaded", zap.String("url", url), zap.String("dest", dest), zap.Int64("bytes", n))
	return true, nil
}
