package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/aixgo-dev/playground/internal/watch"
	"github.com/aixgo-dev/playground/pkg/interp"
	"github.com/aixgo-dev/playground/pkg/playground"
	"github.com/aixgo-dev/playground/pkg/session"
)

const (
	historyFile = ".playground_history"
	promptMain  = "lua> "

	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiDim   = "\x1b[2m"
)

const replHelp = `Commands:
  :run            run the program on a fresh interpreter
  :clear          clear the program, environment and transcript
  :program FILE   load the program text from FILE
  :env FILE       load the environment document from FILE
  :show           print the program and environment
  :share          print a share link for the program and environment
  :help           show this help
  :quit           exit
Anything else is evaluated as a line against the live interpreter.`

func newREPLCmd(flags *globalFlags) *cobra.Command {
	var programFile, envFile, history string
	var follow, noColor bool

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags.configFile)
			if err != nil {
				return err
			}
			shutdown := setupObservability(cfg)
			defer shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			pg, _, err := openPlayground(ctx, cfg, flags.open)
			if err != nil {
				return err
			}
			defer pg.Close()

			r := newREPL(pg, cmd.OutOrStdout(), !noColor)
			if s := pg.Snapshot(); !s.Document.IsEmpty() || s.Error != nil {
				r.render(s, true)
			}

			if programFile != "" || envFile != "" {
				w, err := watch.New(pg, watch.Options{
					ProgramPath:     programFile,
					EnvironmentPath: envFile,
					Run:             true,
					OnChange:        func(s playground.Snapshot) { r.render(s, true) },
				})
				if err != nil {
					return err
				}
				if err := w.Sync(ctx); err != nil {
					return err
				}
				if follow {
					go func() {
						if err := w.Run(ctx); err != nil {
							log.Printf("[Watch] WARNING: stopped: %v", err)
						}
					}()
				}
			} else if follow {
				return errors.New("--watch needs --program or --env")
			}

			if history == "" {
				home, _ := os.UserHomeDir()
				history = filepath.Join(home, historyFile)
			}
			return r.loop(ctx, history)
		},
	}
	cmd.Flags().StringVarP(&programFile, "program", "p", "", "program file to load")
	cmd.Flags().StringVarP(&envFile, "env", "e", "", "environment file to load")
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "reload and run when the program or environment file changes")
	cmd.Flags().StringVar(&history, "history", "", "history file (default ~/"+historyFile+")")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}

type repl struct {
	pg       *playground.Playground
	color    bool
	readFile func(string) ([]byte, error)

	mu  sync.Mutex
	out io.Writer
}

func newREPL(pg *playground.Playground, out io.Writer, color bool) *repl {
	return &repl{pg: pg, out: out, color: color, readFile: os.ReadFile}
}

func (r *repl) loop(ctx context.Context, historyPath string) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(historyPath); err == nil { // #nosec G304 - history path is supplied by the user
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil { // #nosec G304 - history path is supplied by the user
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	r.printf("Type :help for commands.\n")
	for ctx.Err() == nil {
		input, err := ln.Prompt(promptMain)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			r.printf("\n")
			return nil
		}
		if err != nil {
			return err
		}

		if strings.TrimSpace(input) != "" {
			ln.AppendHistory(input)
		}
		if r.handle(ctx, input) {
			return nil
		}
	}
	return nil
}

// handle runs one line of input and reports whether the session should end.
func (r *repl) handle(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	if !strings.HasPrefix(trimmed, ":") {
		r.render(r.pg.Dispatch(ctx, playground.LineSubmitted{Line: input}), false)
		return false
	}

	command, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(command) {
	case ":quit", ":q", ":exit":
		return true
	case ":help", ":h":
		r.printf("%s\n", replHelp)
	case ":run", ":r":
		r.render(r.pg.Dispatch(ctx, playground.RunRequested{}), true)
	case ":clear":
		r.pg.Dispatch(ctx, playground.ClearRequested{})
		r.printf("cleared\n")
	case ":program", ":env":
		if arg == "" {
			r.printf("usage: %s FILE\n", command)
			return false
		}
		data, err := r.readFile(arg)
		if err != nil {
			r.printError(err.Error())
			return false
		}
		if command == ":program" {
			r.pg.Dispatch(ctx, playground.ProgramEdited{Text: string(data)})
		} else {
			r.pg.Dispatch(ctx, playground.EnvironmentEdited{Text: string(data)})
		}
		r.printf("loaded %s (%d bytes), :run to run it\n", arg, len(data))
	case ":show":
		doc := r.pg.Document()
		r.printf("%s\n%s\n%s\n%s\n", r.dim("-- program"), doc.Program, r.dim("-- environment"), doc.Environment)
	case ":share":
		_, url, err := r.pg.Share()
		if err != nil {
			r.printError(err.Error())
			return false
		}
		r.printf("%s\n", url)
	default:
		r.printf("unknown command %s. Type :help for commands.\n", command)
	}
	return false
}

// render prints the outcome of the last event: the error if one is shown,
// otherwise the run result or the newest interaction.
func (r *repl) render(s playground.Snapshot, run bool) {
	if s.Error != nil {
		r.renderError(s.Error)
		return
	}
	switch {
	case run && s.Result != nil:
		r.printValue(s.Result.Output, s.Result.Value, s.Result.Type)
	case !run && len(s.Transcript) > 0:
		in := s.Transcript[0]
		r.printValue(in.Output, in.Value, in.Type)
	}
}

func (r *repl) renderError(msg *session.ErrorMessage) {
	var diag *interp.Diagnostic
	if errors.As(msg.Err, &diag) {
		r.printf("%s\n", diag.Pretty(r.color))
		return
	}
	cause := errors.Unwrap(msg.Err)
	if cause == nil {
		cause = msg.Err
	}
	text := msg.Category
	if cause != nil {
		text += ": " + cause.Error()
	}
	r.printError(text)
}

func (r *repl) printValue(output, value, typ string) {
	if output != "" {
		r.printf("%s", output)
		if !strings.HasSuffix(output, "\n") {
			r.printf("\n")
		}
	}
	r.printf("%s %s\n", r.paint(ansiGreen, value), r.dim("("+typ+")"))
}

func (r *repl) printError(text string) {
	r.printf("%s\n", r.paint(ansiRed, text))
}

func (r *repl) dim(s string) string {
	return r.paint(ansiDim, s)
}

func (r *repl) paint(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + ansiReset
}

// printf serializes output from the prompt loop and the file watcher.
func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}
