// Package packages fetches installable packages for sandboxed interpreters.
//
// [Registry] serves CommonJS modules for the JavaScript interpreter from a
// local directory, falling back to a remote registry whose downloads are
// cached in that directory. [PyPI] installs pure-Python wheels into a
// directory the Python interpreter mounts at /packages.
package packages

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

var (
	ErrInvalidName = errors.New("invalid package name")
	ErrNotAllowed  = errors.New("package not allowed")
	ErrBlocked     = errors.New("package not supported")
	ErrNotFound    = errors.New("package not found")
)

// MaxDownloadSize bounds a single package download.
const MaxDownloadSize = 32 << 20

var namePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName rejects names that could escape the package directory or a
// registry URL.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > 214 || !namePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// ParseSpec splits "requests>=2.32" into its name and version constraint.
func ParseSpec(spec string) (name, version string) {
	for _, op := range []string{">=", "<=", "==", "~=", "!="} {
		if idx := strings.Index(spec, op); idx != -1 {
			return spec[:idx], spec[idx:]
		}
	}
	return spec, ""
}

// Policy decides which packages may be installed.
type Policy struct {
	// Allowed, if non-empty, lists the only installable packages.
	// "name" also admits extras such as "name[socks]".
	Allowed []string
	// Blocked maps lower-cased names to the reason they cannot work.
	Blocked map[string]string
}

func (p Policy) Check(name string) error {
	if reason, blocked := p.Blocked[strings.ToLower(name)]; blocked {
		return fmt.Errorf("%w: %s %s", ErrBlocked, name, reason)
	}
	if len(p.Allowed) > 0 && !slices.ContainsFunc(p.Allowed, func(pkg string) bool {
		return pkg == name || strings.HasPrefix(name, pkg+"[")
	}) {
		return fmt.Errorf("%w: %q", ErrNotAllowed, name)
	}
	return nil
}

// WASMIncompatible lists Python packages that won't work in a WASI interpreter
// (require C extensions, sockets, etc.)
var WASMIncompatible = map[string]string{
	// C extensions
	"numpy":         "requires C extensions",
	"pandas":        "requires C extensions (numpy)",
	"scipy":         "requires C extensions",
	"tensorflow":    "requires C extensions",
	"torch":         "requires C extensions",
	"scikit-learn":  "requires C extensions",
	"matplotlib":    "requires C extensions",
	"pillow":        "requires C extensions",
	"opencv-python": "requires C extensions",
	"psycopg2":      "requires C extensions",
	"cryptography":  "requires C extensions",
	"bcrypt":        "requires C extensions",
	"lxml":          "requires C extensions",
	"grpcio":        "requires C extensions",
	// Socket-based
	"requests": "uses sockets",
	"httpx":    "uses sockets",
	"urllib3":  "uses sockets",
	"aiohttp":  "uses async sockets",
	"flask":    "requires sockets (web framework not supported)",
	"django":   "requires sockets (web framework not supported)",
	"fastapi":  "requires sockets (web framework not supported)",
}

func newHTTPClient(retryMax int, log *zap.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{log.Sugar()}
	return client
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
