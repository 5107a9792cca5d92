package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hamba/cmd/v3/observe"
	"github.com/hamba/cmd/v3/term"
	"github.com/urfave/cli/v3"
	bag_operator "gitlab.com/sickit/bag-operator"
	"gitlab.com/sickit/bag-operator/pkg/bag"
	"gitlab.com/sickit/bag-operator/pkg/knife"
	"gitlab.com/sickit/bag-operator/pkg/remote"
	"gitlab.com/sickit/bag-operator/pkg/shell"
	"gitlab.com/sickit/bag-operator/pkg/store"
)

func newTerm() term.Term {
	return term.Prefixed{
		ErrorPrefix: "Error: ",
		Term: term.Colored{
			OutputColor:  term.White,
			InfoColor:    term.Cyan,
			WarningColor: term.Yellow,
			ErrorColor:   term.Red,
			Term: term.Basic{
				Writer:      os.Stdout,
				ErrorWriter: os.Stderr,
				Verbose:     false,
			},
		},
	}
}

func newApplication(ctx context.Context, cmd *cli.Command, obsvr *observe.Observer, bg *bag.Config, runner shell.Runner) (*bag_operator.Application, error) {
	secretLen := cmd.Int(flagSecretLength)
	passLen := cmd.Int(flagPassphraseLength)
	if secretLen <= 0 || passLen <= 0 {
		return nil, fmt.Errorf("secret and passphrase lengths must be positive")
	}

	st, err := newStore(ctx, cmd, obsvr, bg, runner)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	up, err := newUploader(cmd, obsvr, runner)
	if err != nil {
		return nil, fmt.Errorf("failed to create uploader: %w", err)
	}

	dist := remote.New(obsvr.Log,
		remote.WithBinary(cmd.String(flagSSHBin)),
		remote.WithRunner(runner),
	)
	dist.WithDryRun(cmd.Bool(flagDryRun))

	return bag_operator.NewApplication(st, up, dist, obsvr,
		bag_operator.WithSecretLength(secretLen),
		bag_operator.WithPassphraseLength(passLen),
	), nil
}

func newStore(ctx context.Context, cmd *cli.Command, obsvr *observe.Observer, bg *bag.Config, runner shell.Runner) (bag_operator.SecretStore, error) {
	typ := cmd.String(flagStoreType)
	if bg.StoreType != "" {
		typ = bg.StoreType
	}

	var st bag_operator.SecretStore
	switch typ {
	case store.TypePass:
		st = store.NewPass(bg.StoreDir, obsvr.Log,
			store.WithBinary(cmd.String(flagPassBin)),
			store.WithRunner(runner),
		)
	case store.Type1Password:
		if cmd.String(flagStoreToken) == "" {
			return nil, fmt.Errorf("no token for store specified")
		}

		op, err := store.NewOnePassword(ctx, cmd.String(flagStoreToken), bg.Vault, obsvr.Log)
		if err != nil {
			return nil, err
		}
		st = op
	default:
		return nil, fmt.Errorf("unknown store type: %s", typ)
	}

	st.WithDryRun(cmd.Bool(flagDryRun))

	return st, nil
}

func newUploader(cmd *cli.Command, obsvr *observe.Observer, runner shell.Runner) (bag_operator.BagUploader, error) {
	retries := cmd.Int(flagUploadRetries)
	if retries < 0 {
		return nil, fmt.Errorf("upload retries must not be negative")
	}

	up := knife.New(obsvr.Log,
		knife.WithBinary(cmd.String(flagKnifeBin)),
		knife.WithRetries(uint64(retries)),
		knife.WithRunner(runner),
	)
	up.WithDryRun(cmd.Bool(flagDryRun))

	return up, nil
}
