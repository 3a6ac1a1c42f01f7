package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/caffeineduck/gorupad/client"
	"github.com/caffeineduck/gorupad/session"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive scratchpad with tabs and a console",
	Long: `Start an interactive scratchpad.

Each tab holds a script. Lines you type are appended to the active tab;
commands start with a colon. Output of the last run is streamed to the
console as it happens, and error lines are marked with "! ".

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Tab completion of commands

Type :help for commands, 'exit' or Ctrl+D to quit. Ctrl+C during a run stops
it by restarting the interpreter.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.gorupad_history)")
	rootCmd.AddCommand(replCmd)
}

const replHelp = `Commands:
  :run               Run the active tab
  :show              Print the active tab
  :tabs              List tabs (* marks the active one)
  :new [name]        Open a new tab
  :switch <n>        Make tab n active
  :close [n]         Close tab n (default: the active tab)
  :rename <name>     Rename the active tab
  :example [key]     Load an example into the active tab, or list them
  :install [pkg...]  Install packages (default: the active tab's imports)
  :log               Reprint the console
  :clear             Clear the console
  :reset             Empty the active tab
  :restart           Restart the interpreter
  :help              Show this help
  exit               Quit
Any other line is appended to the active tab.`

// repl is the terminal front end: a session manager for the tabs and a
// client for the console.
type repl struct {
	client   *client.Client
	sessions *session.Manager
	out      io.Writer
	lang     string
	examples map[string]string
}

func newRepl(spawn func(sink func(client.LogLine)) *client.Client, lang string, out io.Writer) *repl {
	r := &repl{out: out, lang: lang, examples: examples[lang]}
	r.client = spawn(r.print)
	r.sessions = session.NewManager(r.client,
		session.WithExtension(extension(lang)),
		session.WithDefault(session.DefaultName+extension(lang), session.DefaultCode),
	)
	return r
}

func (r *repl) print(l client.LogLine) {
	if l.Kind == client.KindError {
		fmt.Fprintf(r.out, "! %s\n", l.Text)
		return
	}
	fmt.Fprintln(r.out, l.Text)
}

func (r *repl) errorf(format string, args ...any) {
	fmt.Fprintf(r.out, "! "+format+"\n", args...)
}

func (r *repl) check(err error) {
	if err != nil {
		r.errorf("%v", err)
	}
}

func (r *repl) prompt() string {
	return r.sessions.Active().Name + "> "
}

// handle processes one input line and reports whether to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "exit" || trimmed == "quit" {
		return true
	}
	if !strings.HasPrefix(trimmed, ":") {
		r.sessions.Edit(r.sessions.Active().Code + line + "\n")
		return false
	}

	fields := strings.Fields(trimmed)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case ":run":
		r.run(ctx)
	case ":show":
		r.show()
	case ":tabs":
		r.tabs()
	case ":new":
		name := session.DefaultName + extension(r.lang)
		if len(args) > 0 {
			name = strings.Join(args, " ")
		}
		r.sessions.Create(name, "")
	case ":switch":
		if s, ok := r.tab(args, false); ok {
			r.check(r.sessions.Switch(s.ID))
		}
	case ":close":
		if s, ok := r.tab(args, true); ok {
			r.check(r.sessions.Close(s.ID))
		}
	case ":rename":
		if len(args) == 0 {
			r.errorf("usage: :rename <name>")
			break
		}
		r.check(r.sessions.Rename(r.sessions.Active().ID, strings.Join(args, " ")))
	case ":example":
		r.example(args)
	case ":install":
		r.install(ctx, args)
	case ":log":
		for _, l := range r.client.Logs() {
			r.print(l)
		}
	case ":clear":
		r.client.ClearLogs()
	case ":reset":
		r.sessions.Edit("")
	case ":restart":
		r.restart(ctx)
	case ":help":
		fmt.Fprintln(r.out, replHelp)
	default:
		r.errorf("unknown command %s (try :help)", cmd)
	}
	return false
}

func (r *repl) run(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := r.client.Run(ctx, r.sessions.Active().Code)
	switch {
	case errors.Is(err, client.ErrNotReady):
		r.errorf("interpreter not ready (try :restart)")
	case errors.Is(err, client.ErrBusy):
		r.errorf("a run is already in progress")
	case errors.Is(err, context.Canceled):
		r.errorf("interrupted")
		r.restart(context.WithoutCancel(ctx))
	}
}

func (r *repl) install(ctx context.Context, pkgs []string) {
	code := ""
	if len(pkgs) == 0 {
		code = r.sessions.Active().Code
	}
	if err := r.client.Install(ctx, code, pkgs); err != nil {
		var reqErr *client.RequestError
		if !errors.As(err, &reqErr) && !errors.Is(err, client.ErrTransport) {
			r.errorf("%v", err)
		}
	}
}

func (r *repl) restart(ctx context.Context) {
	if err := r.client.Restart(ctx); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := r.client.WaitReady(ctx); err == nil {
		fmt.Fprintln(r.out, "Interpreter restarted.")
	}
}

func (r *repl) show() {
	code := r.sessions.Active().Code
	if code == "" {
		fmt.Fprintln(r.out, "(empty)")
		return
	}
	for i, line := range strings.Split(strings.TrimSuffix(code, "\n"), "\n") {
		fmt.Fprintf(r.out, "%3d  %s\n", i+1, line)
	}
}

func (r *repl) tabs() {
	active := r.sessions.Active().ID
	for i, s := range r.sessions.Sessions() {
		mark := " "
		if s.ID == active {
			mark = "*"
		}
		fmt.Fprintf(r.out, "%s %d  %s\n", mark, i+1, s.Name)
	}
}

// tab resolves a 1-based tab number. With orActive, no argument means the
// active tab.
func (r *repl) tab(args []string, orActive bool) (session.Session, bool) {
	if len(args) == 0 {
		if orActive {
			return r.sessions.Active(), true
		}
		r.errorf("usage: tab number required")
		return session.Session{}, false
	}
	n, err := strconv.Atoi(args[0])
	sessions := r.sessions.Sessions()
	if err != nil || n < 1 || n > len(sessions) {
		r.errorf("no tab %s", args[0])
		return session.Session{}, false
	}
	return sessions[n-1], true
}

func (r *repl) example(args []string) {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "Examples: %s\n", strings.Join(slices.Sorted(maps.Keys(r.examples)), ", "))
		return
	}
	code, ok := r.examples[args[0]]
	if !ok {
		r.errorf("no example %q", args[0])
		return
	}
	r.sessions.LoadExample(code, args[0])
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".gorupad_history")
	}

	spawn, err := newSpawner(cfg, logger)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      completer(),
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	r := newRepl(func(sink func(client.LogLine)) *client.Client {
		return client.New(spawn, client.WithLogger(logger), client.WithSink(sink))
	}, cfg.Lang, rl.Stdout())
	defer r.client.Close()

	ctx := cmd.Context()
	fmt.Fprintf(rl.Stderr(), "gorupad %s (type :help for commands, Ctrl+D to exit)\n", cfg.Lang)
	if err := r.client.Start(ctx); err == nil {
		waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
		r.client.WaitReady(waitCtx)
		cancel()
	}

	for {
		rl.SetPrompt(r.prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(rl.Stdout())
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if r.handle(ctx, line) {
			return nil
		}
	}
}

func completer() *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface
	for _, name := range []string{
		":run", ":show", ":tabs", ":new", ":switch", ":close", ":rename",
		":example", ":install", ":log", ":clear", ":reset", ":restart", ":help", "exit",
	} {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}
