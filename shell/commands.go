package shell

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"fmgshell/config"
	"fmgshell/fmg"
	"fmgshell/pathtree"
)

type command struct {
	name       string
	usage      string
	help       string
	needsLogin bool
	takesPath  bool
	run        func(ctx context.Context, s *Shell, args []string) error
}

var commands map[string]*command

func init() {
	list := []*command{
		{name: "login", usage: "login -i HOST -u USER [-p PASS] [--port N] [-P PROFILE] [-k] [--http]", help: "Login to FortiManager", run: runLogin},
		{name: "logout", help: "Logout from FortiManager", run: runLogout},
		{name: "debug", usage: "debug on|off|show", help: "Turn on/off JSON-RPC request dumps", run: runDebug},
		{name: "get", usage: "get system status [--refresh] | get adom", help: "Get information", needsLogin: true, run: runGet},
		{name: "pwd", help: "Print working directory", run: runPwd},
		{name: "cd", usage: "cd [PATH]", help: "Change working directory", needsLogin: true, takesPath: true, run: runCd},
		{name: "ls", usage: "ls [PATH]", help: "List a directory", needsLogin: true, takesPath: true, run: runLs},
		{name: "tree", usage: "tree [PATH]", help: "Print a directory and everything below it", needsLogin: true, takesPath: true, run: runTree},
		{name: "help", help: "Show this help", run: runHelp},
		{name: "exit", help: "Leave the shell", run: runExit},
		{name: "quit", help: "Leave the shell", run: runExit},
	}
	commands = make(map[string]*command, len(list))
	for _, c := range list {
		commands[c.name] = c
	}
}

// commandNames returns every command name in sorted order.
func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func runLogin(ctx context.Context, s *Shell, args []string) error {
	if s.LoggedIn() {
		fmt.Fprintln(s.out, "Already logged in.")
		return nil
	}

	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.SetOutput(s.out)
	host := fs.StringP("ip", "i", "", "FortiManager IP address or FQDN")
	user := fs.StringP("username", "u", "", "FortiManager user name")
	password := fs.StringP("password", "p", "", "FortiManager password")
	port := fs.Int("port", 0, "FortiManager TCP port")
	profileName := fs.StringP("profile", "P", "", "profile from the config file")
	insecure := fs.BoolP("insecure", "k", false, "skip TLS certificate verification")
	plain := fs.Bool("http", false, "use http instead of https")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var profile config.Profile
	if p, ok := s.cfg.Profile(*profileName); ok {
		profile = p
	} else if *profileName != "" {
		return fmt.Errorf("unknown profile %q", *profileName)
	}
	if *host == "" {
		*host = profile.Host
	}
	if *user == "" {
		*user = profile.Username
	}
	if *port == 0 {
		*port = profile.Port
	}
	if *port == 0 {
		*port = config.DefaultPort
	}
	if !fs.Changed("insecure") {
		*insecure = profile.Insecure
	}
	proto := profile.Proto
	if *plain {
		proto = "http"
	}
	if *host == "" || *user == "" {
		return errors.New("login: --ip and --username are required")
	}

	if !fs.Changed("password") {
		if s.readPassword == nil {
			return errors.New("login: no password given")
		}
		pw, err := s.readPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		*password = pw
	}

	if s.connect == nil {
		return errors.New("login: no backend configured")
	}
	backend := s.connect(fmg.BaseURL(proto, *host, *port), *insecure, s.out)
	if err := backend.SetDebug(s.debug); err != nil {
		return err
	}
	if err := backend.Login(ctx, *user, *password); err != nil {
		return err
	}
	s.backend = backend
	s.logger.Info("session opened", zap.String("host", *host), zap.Int("port", *port), zap.String("user", *user))
	return nil
}

func runLogout(ctx context.Context, s *Shell, args []string) error {
	if !s.LoggedIn() {
		fmt.Fprintln(s.out, "Not logged in.")
		return nil
	}
	backend := s.backend
	s.backend = nil
	return backend.Logout(ctx)
}

func runDebug(ctx context.Context, s *Shell, args []string) error {
	mode := "show"
	if len(args) > 0 {
		mode = args[0]
	}
	switch mode {
	case "on", "off":
		s.debug = mode
		if s.backend != nil {
			return s.backend.SetDebug(mode)
		}
	case "show":
		fmt.Fprintf(s.out, "Debug is %s.\n", s.debug)
	default:
		return fmt.Errorf("%w: %q", fmg.ErrInvalidDebugFlag, mode)
	}
	return nil
}

func runGet(ctx context.Context, s *Shell, args []string) error {
	usage := errors.New("usage: " + commands["get"].usage)
	if len(args) == 0 {
		return usage
	}
	switch args[0] {
	case "system":
		if len(args) < 2 || args[1] != "status" {
			return usage
		}
		fs := pflag.NewFlagSet("get system status", pflag.ContinueOnError)
		fs.SetOutput(s.out)
		refresh := fs.Bool("refresh", false, "ask the appliance again")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		fields, err := s.backend.SystemStatus(ctx, *refresh)
		if err != nil {
			return err
		}
		fmt.Fprint(s.out, FormatStatus(fields))
	case "adom":
		names, err := s.backend.ADOMs(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(s.out, name)
		}
	default:
		return usage
	}
	return nil
}

func runPwd(ctx context.Context, s *Shell, args []string) error {
	fmt.Fprintln(s.out, s.cwd.FullPath())
	return nil
}

func runCd(ctx context.Context, s *Shell, args []string) error {
	if len(args) == 0 || args[0] == "/" {
		s.cwd = s.tree
		return nil
	}
	node, err := pathtree.Navigate(s.cwd, args[0])
	if err != nil {
		fmt.Fprintln(s.out, "Wrong path.")
		return nil
	}
	s.cwd = node
	return nil
}

// target resolves the optional path argument of ls and tree.
func (s *Shell) target(args []string) (*pathtree.Node, error) {
	if len(args) == 0 {
		return s.cwd, nil
	}
	return pathtree.Navigate(s.cwd, args[0])
}

func runLs(ctx context.Context, s *Shell, args []string) error {
	node, err := s.target(args)
	if err != nil {
		return err
	}
	for _, c := range node.Children() {
		if c.HasChildren() {
			fmt.Fprintf(s.out, "%s/\n", c.Name())
		} else {
			fmt.Fprintln(s.out, c.Name())
		}
	}
	return nil
}

func runTree(ctx context.Context, s *Shell, args []string) error {
	node, err := s.target(args)
	if err != nil {
		return err
	}
	return pathtree.Dump(s.out, node)
}

func runHelp(ctx context.Context, s *Shell, args []string) error {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range commandNames() {
		c := commands[name]
		usage := c.usage
		if usage == "" {
			usage = c.name
		}
		fmt.Fprintf(&b, "  %-70s %s\n", usage, c.help)
	}
	b.WriteString("\nEnd a line with '?' to list completions.\n")
	fmt.Fprint(s.out, b.String())
	return nil
}

func runExit(ctx context.Context, s *Shell, args []string) error {
	return errExit
}
