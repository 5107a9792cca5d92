// Package knife uploads encrypted data bags to a Chef server.
package knife

import (
	"context"
	"fmt"
	"time"

	"github.com/hamba/logger/v2"
	lctx "github.com/hamba/logger/v2/ctx"
	"github.com/sethvargo/go-retry"
	"gitlab.com/sickit/bag-operator/pkg/shell"
)

// DefaultBinary is the knife binary used when none is set.
const DefaultBinary = "knife"

type Option func(*Knife)

// WithBinary sets the knife binary.
func WithBinary(bin string) Option {
	return func(k *Knife) {
		k.bin = bin
	}
}

// WithRunner sets the command runner.
func WithRunner(r shell.Runner) Option {
	return func(k *Knife) {
		k.runner = r
	}
}

// WithRetries sets how often a failed upload is retried.
func WithRetries(n uint64) Option {
	return func(k *Knife) {
		k.retries = n
	}
}

// Knife implements the application BagUploader.
type Knife struct {
	bin     string
	runner  shell.Runner
	dryRun  bool
	retries uint64
	delay   time.Duration

	log *logger.Logger
}

// New returns a knife uploader. Failed uploads are not retried by default.
func New(log *logger.Logger, opts ...Option) *Knife {
	k := &Knife{
		bin:    DefaultBinary,
		runner: shell.Exec{},
		delay:  time.Second,
		log:    log,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Knife) WithDryRun(dryRun bool) {
	k.dryRun = dryRun
}

// Upload creates or replaces the data bag item described by file,
// encrypting it with secret.
func (k *Knife) Upload(ctx context.Context, bag, file, secret string) error {
	cmd := shell.Command{
		Name: k.bin,
		Args: []string{"data", "bag", "from", "file", bag, file, "--secret", secret},
	}

	k.log.Debug("uploading data bag", lctx.Str("bag", bag), lctx.Str("file", file))
	if k.dryRun {
		k.log.Info("dry-run flag set, not uploading data bag", lctx.Str("bag", bag))
		return nil
	}

	b := retry.WithMaxRetries(k.retries, retry.NewExponential(k.delay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		out, err := k.runner.Run(ctx, cmd)
		if err != nil {
			k.log.Debug("retry on err", lctx.Err(err))
			return retry.RetryableError(err)
		}
		if len(out) > 0 {
			k.log.Debug("knife output", lctx.Str("output", string(out)))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to upload data bag %s: %w", bag, err)
	}
	return nil
}
