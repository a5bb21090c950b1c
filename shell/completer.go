package shell

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"fmgshell/completion"
)

// pathCompleter implements readline.AutoCompleter. The first word
// completes to a command name; the argument of a path command completes
// against the catalogue.
type pathCompleter struct {
	shell *Shell
}

// Do returns the candidate suffixes for line[:pos] and the length of the
// word being completed, so readline lists candidates by their last segment.
func (pc *pathCompleter) Do(line []rune, pos int) ([][]rune, int) {
	text := string(line[:pos])
	if !strings.Contains(strings.TrimLeft(text, " "), " ") {
		return completeCommand(strings.TrimLeft(text, " "))
	}

	fields := strings.Fields(text)
	cmd, ok := commands[fields[0]]
	if !ok || !cmd.takesPath {
		return nil, 0
	}
	partial := ""
	if !strings.HasSuffix(text, " ") {
		partial = fields[len(fields)-1]
	}
	return pc.shell.completePath(partial)
}

func completeCommand(partial string) ([][]rune, int) {
	var out [][]rune
	for _, name := range commandNames() {
		if strings.HasPrefix(name, partial) {
			out = append(out, []rune(name[len(partial):]+" "))
		}
	}
	return out, len(partial)
}

// completePath completes a typed path. Candidates end with "/" and no
// space is appended, so completion can continue into the next segment.
func (s *Shell) completePath(partial string) ([][]rune, int) {
	if !s.LoggedIn() {
		return nil, 0
	}
	r := completion.Complete(s.cwd, partial)
	abs := completion.Absolute(s.cwd, partial)
	s.logger.Debug("completion",
		zap.String("text", partial),
		zap.String("full_path", abs),
		zap.Strings("candidates", r.Paths))

	word := partial[strings.LastIndex(partial, "/")+1:]
	var out [][]rune
	for _, p := range r.Paths {
		// Candidates from a mismatched inner segment cannot extend what
		// was typed.
		if !strings.HasPrefix(p, abs) {
			continue
		}
		out = append(out, []rune(p[len(abs):]))
	}
	return out, len(word)
}

// contextHelp answers a line ending in "?" by listing what could follow.
func (s *Shell) contextHelp(prefix string) {
	fields := strings.Fields(prefix)
	trailing := prefix == "" || strings.HasSuffix(prefix, " ")

	if len(fields) == 0 || (len(fields) == 1 && !trailing) {
		partial := ""
		if len(fields) == 1 {
			partial = fields[0]
		}
		var names []string
		for _, name := range commandNames() {
			if strings.HasPrefix(name, partial) {
				names = append(names, name)
			}
		}
		s.writeLabels(names)
		return
	}

	cmd, ok := commands[fields[0]]
	if !ok || !cmd.takesPath {
		if ok && cmd.usage != "" {
			fmt.Fprintf(s.out, "usage: %s\n", cmd.usage)
			return
		}
		fmt.Fprintln(s.out, "  (no help available)")
		return
	}
	if !s.LoggedIn() {
		fmt.Fprintln(s.out, "You need to login first.")
		return
	}
	partial := ""
	if !trailing {
		partial = fields[len(fields)-1]
	}
	s.writeLabels(completion.Complete(s.cwd, partial).Labels)
}

func (s *Shell) writeLabels(labels []string) {
	if len(labels) == 0 {
		fmt.Fprintln(s.out, "  (no completions)")
		return
	}
	completion.WriteLabels(s.out, labels)
}
