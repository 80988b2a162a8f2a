// Package bash implements the whitelisted shell command tool. It never
// spawns a shell: the accepted command language is a fixed whitelist of
// filesystem commands interpreted in-process against the session's virtual
// filesystem, behind a dangerous-pattern gate and a rate limiter.
//
// The pattern gate is a denial list and therefore inherently incomplete as a
// sole defense; it is layered under the whitelist and the per-command
// argument validators, which only accept known argument shapes.
package bash

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fenceio/fence/internal/errs"
	"github.com/fenceio/fence/internal/ratelimit"
	"github.com/fenceio/fence/internal/shellwords"
	"github.com/fenceio/fence/internal/tools"
	"github.com/fenceio/fence/internal/tools/file"
	"github.com/fenceio/fence/internal/vfs"
)

// handler executes one whitelisted command against the virtual filesystem.
type handler func(args []string) (*tools.Result, error)

// Tool is the constrained shell front end for one session.
type Tool struct {
	fs       *vfs.VFS
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	handlers map[string]handler // fixed at construction, never mutated
}

// NewTool creates the Bash tool bound to one session's filesystem and rate
// limiter.
func NewTool(fs *vfs.VFS, limiter *ratelimit.Limiter, logger *slog.Logger) *Tool {
	t := &Tool{
		fs:      fs,
		limiter: limiter,
		logger:  logger,
	}
	t.handlers = map[string]handler{
		"pwd":   t.handlePwd,
		"cd":    t.handleCd,
		"mkdir": t.handleMkdir,
		"ls":    t.handleLs,
		"echo":  t.handleEcho,
	}
	return t
}

func (t *Tool) Name() string { return "Bash" }
func (t *Tool) Description() string {
	return "Execute a whitelisted shell command (pwd, cd, mkdir, ls, echo) in the workspace"
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":     map[string]any{"type": "string", "description": "The command to execute, e.g. 'ls -l' or 'mkdir -p a/b'"},
			"description": map[string]any{"type": "string", "description": "Optional description of the command's purpose"},
		},
		"required": []string{"command"},
	}
}

// Validate checks that the command parameter is present and a string. The
// security gates run inside Execute so that their rejections are reported as
// the command's result pipeline dictates.
func (t *Tool) Validate(params map[string]any) error {
	v, ok := params["command"]
	if !ok {
		return errs.New(errs.DisallowedArgument, "missing required parameter: command")
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return errs.New(errs.DisallowedArgument, "parameter command must be a non-empty string")
	}
	return nil
}

// Execute runs the staged validation pipeline and dispatches to a handler.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if err := t.Validate(params); err != nil {
		return nil, err
	}
	command := params["command"].(string)

	t.logger.InfoContext(ctx, "bash tool executing", slog.String("command", command))

	return t.Run(command)
}

// Run executes a raw command line through the full gate sequence:
// pattern rejection, tokenization, whitelist check, argument validation,
// rate limiting, dispatch. No handler runs unless every prior stage passed,
// and a rejected input has no side effects.
func (t *Tool) Run(command string) (*tools.Result, error) {
	// The one pre-approved compound form: mkdir <dir> && cd <dir>.
	if first, second, ok := splitCompound(command); ok {
		return t.runCompound(first, second)
	}

	if err := scanPatterns(command); err != nil {
		return nil, err
	}

	cmd, args, err := t.parse(command)
	if err != nil {
		return nil, err
	}
	return t.admitAndDispatch(cmd, args)
}

// parse tokenizes a single (pattern-clean) command and validates the command
// name and arguments. It performs no side effects.
func (t *Tool) parse(command string) (string, []string, error) {
	words, err := shellwords.Split(command)
	if err != nil {
		return "", nil, errs.New(errs.DangerousPattern, "unbalanced quoting in command")
	}
	if len(words) == 0 {
		return "", nil, errs.New(errs.UnsupportedCommand, "empty command")
	}

	cmd := strings.ToLower(words[0])
	args := words[1:]

	if _, ok := t.handlers[cmd]; !ok {
		return "", nil, errs.New(errs.UnsupportedCommand,
			"command %q is not supported; allowed commands: %s", cmd, strings.Join(allowedCommands, ", "))
	}

	for _, arg := range args {
		// Defense in depth: arguments assembled from earlier pipeline output
		// may smuggle the same constructs the raw scan rejects.
		if err := scanPatterns(arg); err != nil {
			return "", nil, err
		}
		if err := checkArgument(arg); err != nil {
			return "", nil, err
		}
	}
	return cmd, args, nil
}

// admitAndDispatch consumes one rate-limit admission and runs the handler.
func (t *Tool) admitAndDispatch(cmd string, args []string) (*tools.Result, error) {
	if err := t.limiter.Allow(); err != nil {
		return nil, err
	}
	return t.handlers[cmd](args)
}

// runCompound executes the pre-approved `mkdir <dir> && cd <dir>` pair as two
// ordered sub-commands sharing a single rate-limit admission. If mkdir fails,
// cd is never attempted and the working directory is untouched.
func (t *Tool) runCompound(first, second string) (*tools.Result, error) {
	for _, part := range []string{first, second} {
		if err := scanPatterns(part); err != nil {
			return nil, err
		}
	}

	mkdirCmd, mkdirArgs, err := t.parse(first)
	if err != nil {
		return nil, err
	}
	cdCmd, cdArgs, err := t.parse(second)
	if err != nil {
		return nil, err
	}
	if mkdirCmd != "mkdir" || cdCmd != "cd" {
		return nil, errs.New(errs.DangerousPattern, "command chaining is not allowed")
	}
	if len(cdArgs) != 1 || len(mkdirArgs) == 0 || cdArgs[0] != lastOperand(mkdirArgs) {
		return nil, errs.New(errs.DangerousPattern,
			"chained mkdir/cd must reference the same directory")
	}

	if err := t.limiter.Allow(); err != nil {
		return nil, err
	}

	mkdirResult, err := t.handlers["mkdir"](mkdirArgs)
	if err != nil {
		return nil, err
	}
	cdResult, err := t.handlers["cd"](cdArgs)
	if err != nil {
		return nil, err
	}

	return &tools.Result{
		Output:  mkdirResult.Output + "\n" + cdResult.Output,
		Success: true,
		Metadata: map[string]any{
			"current_directory": t.fs.Cwd(),
		},
	}, nil
}

// splitCompound recognizes a candidate `<a> && <b>` input. It only splits;
// the parts are validated afterwards. More than one chain operator is never
// a compound.
func splitCompound(command string) (first, second string, ok bool) {
	if strings.Count(command, "&&") != 1 {
		return "", "", false
	}
	parts := strings.SplitN(command, "&&", 2)
	first = strings.TrimSpace(parts[0])
	second = strings.TrimSpace(parts[1])
	if strings.HasPrefix(first, "mkdir ") && (second == "cd" || strings.HasPrefix(second, "cd ")) {
		return first, second, true
	}
	return "", "", false
}

func lastOperand(args []string) string {
	for i := len(args) - 1; i >= 0; i-- {
		if !strings.HasPrefix(args[i], "-") {
			return args[i]
		}
	}
	return ""
}

// --- Handlers ---

func (t *Tool) handlePwd(args []string) (*tools.Result, error) {
	if len(args) != 0 {
		return nil, errs.New(errs.DisallowedArgument, "pwd takes no arguments")
	}
	cwd := t.fs.Cwd()
	return t.result(cwd), nil
}

func (t *Tool) handleCd(args []string) (*tools.Result, error) {
	target := "/"
	switch len(args) {
	case 0:
		// cd with no argument returns to the workspace root.
	case 1:
		target = args[0]
	default:
		return nil, errs.New(errs.DisallowedArgument, "cd takes at most one argument")
	}

	cwd, err := t.fs.ChangeDirectory(target)
	if err != nil {
		return nil, err
	}
	return t.result(cwd), nil
}

func (t *Tool) handleMkdir(args []string) (*tools.Result, error) {
	createParents := false
	var dirs []string
	for _, arg := range args {
		switch {
		case arg == "-p":
			createParents = true
		case strings.HasPrefix(arg, "-"):
			return nil, errs.New(errs.DisallowedArgument, "mkdir: unsupported option %q", arg)
		default:
			dirs = append(dirs, arg)
		}
	}
	if len(dirs) == 0 {
		return nil, errs.New(errs.DisallowedArgument, "mkdir: missing directory operand")
	}

	var lines []string
	for _, dir := range dirs {
		created, err := t.fs.MakeDirectory(dir, createParents)
		if err != nil {
			return nil, err
		}
		lines = append(lines, "created directory: "+created)
	}
	return t.result(strings.Join(lines, "\n")), nil
}

func (t *Tool) handleLs(args []string) (*tools.Result, error) {
	longFormat := false
	showHidden := false
	path := ""
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			for _, flag := range arg[1:] {
				switch flag {
				case 'l':
					longFormat = true
				case 'a':
					showHidden = true
				default:
					return nil, errs.New(errs.DisallowedArgument, "ls: unsupported option %q", string(flag))
				}
			}
			continue
		}
		if path != "" {
			return nil, errs.New(errs.DisallowedArgument, "ls takes at most one path")
		}
		path = arg
	}

	entries, err := t.fs.ListDirectory(path)
	if err != nil {
		return nil, err
	}
	return t.result(file.FormatEntries(entries, longFormat, showHidden)), nil
}

// handleEcho composes its result directly; it touches neither the filesystem
// nor any process.
func (t *Tool) handleEcho(args []string) (*tools.Result, error) {
	return t.result(strings.Join(args, " ")), nil
}

func (t *Tool) result(output string) *tools.Result {
	return &tools.Result{
		Output:  output,
		Success: true,
		Metadata: map[string]any{
			"current_directory": t.fs.Cwd(),
		},
	}
}

// --- Validation tables ---

var allowedCommands = []string{"pwd", "cd", "mkdir", "ls", "echo"}

// dangerousSubstrings are rejected anywhere in the input: substitution,
// redirection, pipes, backgrounding, chaining, escape smuggling, and the
// shell builtins that evaluate further input.
var dangerousSubstrings = []string{
	"$(", "`", ">", "<", "|", "&", ";",
	`\r`, `\n`, `\x`,
	"eval ", "exec ", "source ",
}

// scanPatterns rejects inputs containing disallowed shell constructs.
func scanPatterns(input string) error {
	for _, pat := range dangerousSubstrings {
		if strings.Contains(input, pat) {
			return errs.New(errs.DangerousPattern, "command contains a disallowed pattern %q", pat)
		}
	}
	return nil
}

// disallowedArguments block flags that defeat safety checks and references
// to host system locations. Matches the argument exactly or as a leading
// path segment.
var disallowedArguments = []string{
	"--help", "--version", "-v", "-h",
	"-r", "-f", "--force",
	"/etc", "/var", "/usr", "/bin", "/sbin",
	"/dev", "/proc", "/sys",
	"/root", "/home",
	"~", "$HOME",
}

func checkArgument(arg string) error {
	for _, banned := range disallowedArguments {
		if arg == banned || strings.HasPrefix(arg, banned+"/") {
			return errs.New(errs.DisallowedArgument, "argument %q is not allowed", arg)
		}
	}
	return nil
}
