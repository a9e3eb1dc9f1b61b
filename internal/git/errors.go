package git

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotRepository indicates the directory is not a recognizable git
// repository root.
var ErrNotRepository = errors.New("not a git repository")

// CommandError reports a failed git invocation together with its captured
// output and exit code.
type CommandError struct {
	Args     []string
	Output   string
	ExitCode int
	Err      error
}

func newCommandError(args []string, output string, err error) *CommandError {
	return &CommandError{
		Args:     args,
		Output:   strings.TrimSpace(output),
		ExitCode: exitCode(err),
		Err:      err,
	}
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("git %s failed: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s failed: %v: %s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
