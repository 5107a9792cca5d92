// Package shell runs external commands without going through a shell.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes a single subprocess invocation.
type Command struct {
	Name string
	Args []string
	// Env is appended to the current process environment.
	Env   []string
	Stdin io.Reader
}

// String returns the command line, for logging. Args are not quoted.
func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs commands and returns their standard output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExitError is returned when a command exits with a nonzero status.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.Code, e.Stderr)
}

// Exec implements Runner with os/exec.
type Exec struct{}

// Run runs the command and waits for it to finish.
func (Exec) Run(ctx context.Context, c Command) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{
				Name:   c.Name,
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("failed to run %s: %w", c.Name, err)
	}

	return stdout.Bytes(), nil
}
