package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hamba/logger/v2"
	lctx "github.com/hamba/logger/v2/ctx"
	"gitlab.com/sickit/bag-operator/pkg/shell"
)

const (
	TypePass = "pass"

	// EnvStoreDir points pass at a store directory.
	EnvStoreDir = "PASSWORD_STORE_DIR"

	notInStore = "is not in the password store"
)

type PassOption func(*Pass)

// WithBinary sets the pass binary.
func WithBinary(bin string) PassOption {
	return func(p *Pass) {
		p.bin = bin
	}
}

// WithRunner sets the command runner.
func WithRunner(r shell.Runner) PassOption {
	return func(p *Pass) {
		p.runner = r
	}
}

// Pass implements the application SecretStore on top of the pass CLI.
type Pass struct {
	dir    string
	bin    string
	runner shell.Runner
	dryRun bool

	log *logger.Logger
}

// NewPass returns a pass store rooted at dir.
func NewPass(dir string, log *logger.Logger, opts ...PassOption) *Pass {
	p := &Pass{
		dir:    dir,
		bin:    TypePass,
		runner: shell.Exec{},
		log:    log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pass) WithDryRun(dryRun bool) {
	p.dryRun = dryRun
}

// Show returns the entry at path, without its trailing newline.
func (p *Pass) Show(ctx context.Context, path string) (string, error) {
	out, err := p.run(ctx, nil, "show", path)
	if err != nil {
		var exitErr *shell.ExitError
		if errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, notInStore) {
			return "", ErrItemNotFound
		}
		return "", fmt.Errorf("failed to show %s: %w", path, err)
	}

	return chomp(string(out)), nil
}

// Exists reports whether an encrypted entry exists at path.
func (p *Pass) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(filepath.Join(p.dir, filepath.FromSlash(path)+".gpg"))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

// Insert stores value at path.
func (p *Pass) Insert(ctx context.Context, path, value string) error {
	p.log.Debug("inserting entry in password store", lctx.Str("dir", p.dir), lctx.Str("path", path))
	if p.dryRun {
		p.log.Info("dry-run flag set, not inserting password store entry", lctx.Str("path", path))
		return nil
	}

	if _, err := p.run(ctx, strings.NewReader(value), "insert", "--multiline", path); err != nil {
		return fmt.Errorf("failed to insert %s: %w", path, err)
	}
	return nil
}

// Generate lets pass generate an alphanumeric password of length at path.
func (p *Pass) Generate(ctx context.Context, path string, length int) error {
	p.log.Debug("generating entry in password store", lctx.Str("dir", p.dir), lctx.Str("path", path), lctx.Int("length", length))
	if p.dryRun {
		p.log.Info("dry-run flag set, not generating password store entry", lctx.Str("path", path))
		return nil
	}

	if _, err := p.run(ctx, nil, "generate", "--no-symbols", path, strconv.Itoa(length)); err != nil {
		return fmt.Errorf("failed to generate %s: %w", path, err)
	}
	return nil
}

func (p *Pass) run(ctx context.Context, stdin *strings.Reader, args ...string) ([]byte, error) {
	cmd := shell.Command{
		Name: p.bin,
		Args: args,
		Env:  []string{EnvStoreDir + "=" + p.dir},
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	return p.runner.Run(ctx, cmd)
}

func chomp(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
