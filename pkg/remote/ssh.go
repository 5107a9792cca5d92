// Package remote copies data bag secrets to target hosts over ssh.
package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/hamba/logger/v2"
	lctx "github.com/hamba/logger/v2/ctx"
	"github.com/hamba/pkg/v2/errors"
	"gitlab.com/sickit/bag-operator/pkg/shell"
)

// ErrInvalidTarget is returned for targets ssh would read as an option.
const ErrInvalidTarget = errors.Error("invalid target")

const (
	// DefaultBinary is the ssh binary used when none is set.
	DefaultBinary = "ssh"
	// DefaultOwner owns the copied secret.
	DefaultOwner = "root:root"
	// DefaultMode is the file mode of the copied secret.
	DefaultMode = "00600"
)

type Option func(*SSH)

// WithBinary sets the ssh binary.
func WithBinary(bin string) Option {
	return func(s *SSH) {
		s.bin = bin
	}
}

// WithRunner sets the command runner.
func WithRunner(r shell.Runner) Option {
	return func(s *SSH) {
		s.runner = r
	}
}

// SSH implements the application SecretDistributor. Host keys, users and
// jump hosts are left to the ssh client configuration.
type SSH struct {
	bin    string
	runner shell.Runner
	owner  string
	mode   string
	dryRun bool

	log *logger.Logger
}

// New returns an ssh distributor.
func New(log *logger.Logger, opts ...Option) *SSH {
	s := &SSH{
		bin:    DefaultBinary,
		runner: shell.Exec{},
		owner:  DefaultOwner,
		mode:   DefaultMode,
		log:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SSH) WithDryRun(dryRun bool) {
	s.dryRun = dryRun
}

// Copy writes secret to dest on target, readable by its owner only.
// The secret travels on stdin, it never appears on a command line.
func (s *SSH) Copy(ctx context.Context, target, dest, secret string) error {
	if target == "" || strings.HasPrefix(target, "-") {
		return fmt.Errorf("%q: %w", target, ErrInvalidTarget)
	}

	cmd := shell.Command{
		Name:  s.bin,
		Args:  []string{"--", target, s.script(dest)},
		Stdin: strings.NewReader(secret + "\n"),
	}

	s.log.Debug("copying data bag secret", lctx.Str("target", target), lctx.Str("dest", dest))
	if s.dryRun {
		s.log.Info("dry-run flag set, not copying data bag secret", lctx.Str("target", target), lctx.Str("dest", dest))
		return nil
	}

	if _, err := s.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to copy data bag secret to %s: %w", target, err)
	}
	return nil
}

func (s *SSH) script(dest string) string {
	file := quote(dest)
	return fmt.Sprintf("sudo tee %s > /dev/null && sudo chmod %s %s && sudo chown %s %s",
		file, s.mode, file, s.owner, file)
}

// quote single-quotes s for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
