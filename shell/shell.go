// Package shell is the interactive fmgshell command loop.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"fmgshell/config"
	"fmgshell/fmg"
	"fmgshell/logging"
	"fmgshell/pathtree"
)

// Prompt is shown before every command.
const Prompt = "fmgshell> "

var errExit = errors.New("exit")

// Backend is what the shell needs from a logged-in appliance.
type Backend interface {
	fmg.API
	ADOMs(ctx context.Context) ([]string, error)
	SystemStatus(ctx context.Context, refresh bool) ([]fmg.Field, error)
}

var _ Backend = (*fmg.CachingClient)(nil)

// ConnectFunc returns a backend posting to baseURL. Request dumps enabled
// with "debug on" go to debugOut.
type ConnectFunc func(baseURL string, insecure bool, debugOut io.Writer) Backend

// Options configures a Shell.
type Options struct {
	// Tree is the path catalogue. Defaults to pathtree.Default().
	Tree *pathtree.Node

	// Out receives command output. Defaults to os.Stdout; Run replaces it
	// with the readline terminal.
	Out io.Writer

	Logger *zap.Logger

	// Config supplies login profiles and the history file.
	Config *config.Config

	Connect ConnectFunc

	// ReadPassword prompts for a password when login has no -p.
	ReadPassword func() (string, error)
}

// Shell holds the session state: the backend once logged in, the working
// directory and the debug flag.
type Shell struct {
	tree         *pathtree.Node
	cwd          *pathtree.Node
	out          io.Writer
	logger       *zap.Logger
	cfg          *config.Config
	connect      ConnectFunc
	readPassword func() (string, error)

	backend Backend
	debug   string
}

// New creates a shell at the root of the catalogue.
func New(opts Options) *Shell {
	s := &Shell{
		tree:         opts.Tree,
		out:          opts.Out,
		logger:       logging.Or(opts.Logger),
		cfg:          opts.Config,
		connect:      opts.Connect,
		readPassword: opts.ReadPassword,
		debug:        "off",
	}
	if s.tree == nil {
		s.tree = pathtree.Default()
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.cfg == nil {
		s.cfg = config.Default()
	}
	s.cwd = s.tree
	return s
}

// Cwd returns the working directory.
func (s *Shell) Cwd() *pathtree.Node { return s.cwd }

// LoggedIn reports whether a backend session is open.
func (s *Shell) LoggedIn() bool {
	return s.backend != nil && s.backend.LoggedIn()
}

// Run reads commands until exit, EOF or ctx is done. An open session is
// closed on the way out.
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          Prompt,
		HistoryFile:     s.cfg.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    &pathCompleter{shell: s},
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()
	s.out = rl.Stdout()

	defer func() {
		if s.LoggedIn() {
			if err := s.backend.Logout(context.Background()); err != nil {
				s.logger.Warn("logout on exit failed", zap.Error(err))
			}
		}
	}()

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := s.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return ctx.Err()
}

// Execute runs one command line. It returns errExit-wrapped errors only for
// exit and quit; every other failure is returned for the caller to print.
func (s *Shell) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasSuffix(line, "?") {
		s.contextHelp(strings.TrimSuffix(line, "?"))
		return nil
	}

	args := strings.Fields(line)
	name, args := args[0], args[1:]
	s.logger.Debug("command", zap.String("name", name), zap.Strings("args", args))

	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q, type 'help' for a list", name)
	}
	if cmd.needsLogin && !s.LoggedIn() {
		fmt.Fprintln(s.out, "You need to login first.")
		return nil
	}
	return cmd.run(ctx, s, args)
}

// IsExit reports whether err asks the loop to stop.
func IsExit(err error) bool {
	return errors.Is(err, errExit)
}
