package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/caffeineduck/gorupad/client"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run code once and exit",
	Long: `Run a script through an interpreter host and print its output.

Code can be provided via:
  - File argument: gorupad run script.py
  - Inline flag: gorupad run -l js -c 'print(1+1)'
  - Stdin: echo 'print(1+1)' | gorupad run

Program output goes to stdout and errors to stderr. The exit status is 1 when
the script fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().StringSlice("install", nil, "Install packages before running (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	install, _ := cmd.Flags().GetStringSlice("install")

	source, err := readSource(cmd.InOrStdin(), code, args)
	if err != nil {
		return err
	}
	if source == "" {
		return cmd.Help()
	}

	spawn, err := newSpawner(cfg, logger)
	if err != nil {
		return err
	}
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	c := client.New(spawn,
		client.WithLogger(logger),
		client.WithSink(func(l client.LogLine) {
			switch l.Kind {
			case client.KindOutput:
				fmt.Fprintln(stdout, l.Text)
			case client.KindError:
				fmt.Fprintln(stderr, l.Text)
			}
		}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return runFailed(err)
	}
	defer c.Close()
	if err := c.WaitReady(ctx); err != nil {
		return runFailed(err)
	}
	if len(install) > 0 {
		if err := c.Install(ctx, "", install); err != nil {
			return runFailed(err)
		}
	}
	return runFailed(c.Run(ctx, source))
}

// readSource returns the inline code, the named file, or piped stdin, in that
// order. An interactive stdin yields "".
func readSource(stdin io.Reader, code string, args []string) (string, error) {
	switch {
	case code != "":
		return code, nil
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if f, ok := stdin.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
