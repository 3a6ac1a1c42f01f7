package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/caffeineduck/gorupad/packages"
	"github.com/spf13/cobra"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Manage packages for scripts",
	Long: `Install and manage the packages scripts can require or import.

JavaScript modules are CommonJS sources kept in the module directory and
fetched from --registry when missing. Python packages are downloaded from
PyPI; only pure Python wheels are supported since C extensions won't work
in WASM.

The language is taken from --lang (default: javascript).`,
}

var depsInstallCmd = &cobra.Command{
	Use:   "install [packages...]",
	Short: "Install packages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDepsInstall,
}

var depsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed packages",
	Args:  cobra.NoArgs,
	RunE:  runDepsList,
}

var depsRemoveCmd = &cobra.Command{
	Use:   "remove [packages...]",
	Short: "Remove packages",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDepsRemove,
}

var depsRuntimeCmd = &cobra.Command{
	Use:   "runtime <url>",
	Short: "Download the Python interpreter",
	Long: `Download the Python WASI module from url to the --python-wasm path.
Nothing is downloaded if the file already exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runDepsRuntime,
}

var depsCacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
}

var depsCacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the compilation cache",
	Args:  cobra.NoArgs,
	RunE:  runDepsCacheClear,
}

func init() {
	depsCacheCmd.AddCommand(depsCacheClearCmd)
	depsCmd.AddCommand(depsInstallCmd, depsListCmd, depsRemoveCmd, depsRuntimeCmd, depsCacheCmd)
	rootCmd.AddCommand(depsCmd)
}

func runDepsInstall(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if cfg.Lang == "python" {
		pypi := newPyPI(cfg, logger)
		for _, spec := range args {
			fmt.Fprintf(out, "Installing %s...\n", spec)
			got, err := pypi.Install(cmd.Context(), spec)
			if err != nil {
				return fmt.Errorf("install %s: %w", spec, err)
			}
			fmt.Fprintf(out, "  %s %s\n", got.Name, got.Version)
		}
		fmt.Fprintln(out, "Done.")
		return nil
	}

	reg := newRegistry(cfg, logger)
	for _, name := range args {
		fmt.Fprintf(out, "Installing %s...\n", name)
		if _, err := reg.Fetch(cmd.Context(), name); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}
	}
	fmt.Fprintln(out, "Done.")
	return nil
}

func runDepsList(cmd *cobra.Command, args []string) error {
	var (
		names []string
		dir   string
		err   error
	)
	if cfg.Lang == "python" {
		pypi := newPyPI(cfg, logger)
		names, err = pypi.List()
		dir = pypi.Dir()
	} else {
		names, err = newRegistry(cfg, logger).List()
		dir = cfg.Packages.Dir
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No packages installed.")
		return nil
	}
	fmt.Fprintf(out, "Packages in %s:\n", dir)
	for _, name := range names {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}

func runDepsRemove(cmd *cobra.Command, args []string) error {
	remove := newRegistry(cfg, logger).Remove
	if cfg.Lang == "python" {
		remove = newPyPI(cfg, logger).Remove
	}

	out := cmd.OutOrStdout()
	for _, name := range args {
		if err := remove(name); err != nil {
			if errors.Is(err, packages.ErrNotFound) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s is not installed\n", name)
				continue
			}
			return fmt.Errorf("remove %s: %w", name, err)
		}
		fmt.Fprintf(out, "Removed %s\n", name)
	}
	return nil
}

func runDepsRuntime(cmd *cobra.Command, args []string) error {
	fetched, err := packages.FetchFile(cmd.Context(), args[0], cfg.Python.WASM, logger)
	if err != nil {
		return err
	}
	if !fetched {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists.\n", cfg.Python.WASM)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", cfg.Python.WASM)
	return nil
}

func runDepsCacheClear(cmd *cobra.Command, args []string) error {
	if cfg.Cache.Dir == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "No cache configured.")
		return nil
	}
	if err := os.RemoveAll(cfg.Cache.Dir); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
	return nil
}
