package scanin

import "strings"

// wrapperPrefixes are invocation prefixes that wrap the real compiler
// command without contributing include roots or a source path themselves
// (spec.md §6: "ccache wrappers, distcc wrappers... must be stripped before
// the command reaches the scanner").
var wrapperPrefixes = []string{"ccache", "distcc", "icecc", "sccache"}

// pseudoArgPrefixes are argument prefixes that look like scanner-relevant
// flags but are build-tool bookkeeping the core must not interpret.
var pseudoArgPrefixes = []string{
	"-fsanitize-blacklist=",
	"sloppiness=",
	"--ccache-skip",
}

// CompileDBEntry is one compile_commands.json record, reduced to the fields
// the core uses: the primary source, its working directory, and the
// tokenized command line.
type CompileDBEntry struct {
	File      string
	Directory string
	Arguments []string
}

// CompileCommand is the result of tokenizing one CompileDBEntry: the include
// search roots and the primary source, with wrapper and pseudo-argument
// noise already stripped. The raw command is carried through opaquely
// (spec.md §3, TranslationUnit.raw compile command).
type CompileCommand struct {
	Source       string
	IncludeRoots []string
	SystemRoots  []string
	Raw          []string
}

// ParseCompileCommand tokenizes entry.Arguments into a CompileCommand. It
// does not otherwise interpret the command: only -I/-isystem roots and the
// primary source are extracted, per spec.md §6 ("ignores all tokens except
// include-search roots and the source path itself").
func ParseCompileCommand(entry CompileDBEntry) CompileCommand {
	args := stripWrapper(entry.Arguments)

	cmd := CompileCommand{
		Source: entry.File,
		Raw:    entry.Arguments,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if isPseudoArg(arg) {
			continue
		}

		switch {
		case arg == "-I" && i+1 < len(args):
			i++
			cmd.IncludeRoots = append(cmd.IncludeRoots, args[i])
		case strings.HasPrefix(arg, "-I") && len(arg) > 2:
			cmd.IncludeRoots = append(cmd.IncludeRoots, arg[2:])
		case arg == "-isystem" && i+1 < len(args):
			i++
			cmd.SystemRoots = append(cmd.SystemRoots, args[i])
		case strings.HasPrefix(arg, "-isystem="):
			cmd.SystemRoots = append(cmd.SystemRoots, strings.TrimPrefix(arg, "-isystem="))
		}
	}

	return cmd
}

// stripWrapper drops a leading ccache/distcc/icecc/sccache invocation (and
// any of its own flags) so the remaining tokens are the real compiler
// command line.
func stripWrapper(args []string) []string {
	if len(args) == 0 {
		return args
	}

	name := baseName(args[0])
	if !isWrapperName(name) {
		return args
	}

	// Skip past the wrapper and any of its flags (tokens starting with '-')
	// until the first non-flag token, which is the real compiler.
	i := 1
	for i < len(args) && strings.HasPrefix(args[i], "-") {
		i++
	}

	return args[i:]
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}

	return path
}

func isWrapperName(name string) bool {
	for _, w := range wrapperPrefixes {
		if name == w {
			return true
		}
	}

	return false
}

func isPseudoArg(arg string) bool {
	for _, p := range pseudoArgPrefixes {
		if strings.HasPrefix(arg, p) {
			return true
		}
	}

	return false
}
