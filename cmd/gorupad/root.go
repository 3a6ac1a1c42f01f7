package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/gorupad/internal/config"
	"github.com/caffeineduck/gorupad/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg    = config.Default()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "gorupad [file]",
	Short: "Scratchpad for Python and JavaScript with tabs, a console and packages",
	Long: `gorupad - a scratchpad that runs Python and JavaScript in a separate host.

Scripts run in an interpreter host that streams their output back line by
line. The host runs in-process, as a child process (gorupad host), or behind
a WebSocket server (gorupad serve). Missing packages are installed on first
import from the JavaScript module registry or PyPI.

Settings come from flags, GORUPAD_* environment variables, .env and an
optional gorupad.yaml.`,
	Args:              cobra.MaximumNArgs(1),
	PersistentPreRunE: loadConfig,
	RunE:              runRun,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var e *exitError
		if !errors.As(err, &e) || e.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("config", "", "Config file (default: ./gorupad.yaml if present)")
	f.StringP("lang", "l", "", "Language: python, js (default: javascript, or from the file extension)")
	f.String("worker", "", "Where the host runs: inproc, process, remote")
	f.String("worker-url", "", "WebSocket URL of a gorupad serve host (remote worker)")
	f.Duration("timeout", 0, "Per-run time limit enforced by the host (0 = none)")
	f.String("python-wasm", "", "Path to the WASI python.wasm interpreter")
	f.Uint32("python-memory-pages", 0, "Python memory limit in 64KiB pages (0 = runtime default)")
	f.String("cache-dir", "", "Compilation cache directory")
	f.String("packages", "", "JavaScript module directory")
	f.String("py-packages", "", "Python package directory")
	f.String("registry", "", "Remote JavaScript module registry URL")
	f.String("pypi", "", "PyPI JSON API root")
	f.StringSlice("allow-pkg", nil, "Only allow these packages (repeatable)")
	f.StringSlice("allow-host", nil, "Allow goru.http to reach host (repeatable)")
	f.String("log-level", "", "Log level: debug, info, warn, error")
	f.Bool("log-dev", false, "Human-readable colored logs")

	addRunFlags(rootCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path, cmd.Flags())
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("lang") && len(args) > 0 {
		if lang := langFromFile(args[0]); lang != "" {
			c.Lang = lang
		}
	}
	cfg = c

	l, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Dev})
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func langFromFile(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".py":
		return "python"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	}
	return ""
}

// extension is the file suffix for new tabs in lang.
func extension(lang string) string {
	if lang == "python" {
		return ".py"
	}
	return ".js"
}
