package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hamba/cmd/v3/observe"
	"github.com/hamba/cmd/v3/term"
	lctx "github.com/hamba/logger/v2/ctx"
	"github.com/urfave/cli/v3"
	bag_operator "gitlab.com/sickit/bag-operator"
	"gitlab.com/sickit/bag-operator/pkg/bag"
	"gitlab.com/sickit/bag-operator/pkg/boop"
	"gitlab.com/sickit/bag-operator/pkg/shell"
)

// bagCommands registers one command per configured data bag.
func bagCommands(config boop.Config, ui term.Term, runner shell.Runner) []*cli.Command {
	cmds := make([]*cli.Command, 0, len(config))
	for _, name := range config.Names() {
		bg := config[name]
		cmds = append(cmds, &cli.Command{
			Name:      name,
			Usage:     bg.Description,
			ArgsUsage: "<item>",
			Flags:     bagFlags(),
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return runBag(ctx, cmd, bg, ui, runner)
			},
		})
	}
	return cmds
}

func runBag(ctx context.Context, cmd *cli.Command, bg *bag.Config, ui term.Term, runner shell.Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one item, got %d arguments", cmd.Args().Len())
	}
	item := cmd.Args().First()

	obsvr, err := observe.New(ctx, cmd, "bocli", &observe.Options{
		StatsRuntime: false,
	})
	if err != nil {
		return fmt.Errorf("failed to create observer: %w", err)
	}
	defer obsvr.Close()

	obsvr.Log.Debug("read data bag config",
		lctx.Str("bag", bg.Name),
		lctx.Str("storeDir", bg.StoreDir),
		lctx.Str("secretFile", bg.SecretFile),
	)

	app, err := newApplication(ctx, cmd, obsvr, bg, runner)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	opts := bag_operator.RunOptions{
		ID:         cmd.String(flagID),
		Targets:    cmd.StringSlice(flagTarget),
		Passphrase: cmd.Bool(flagPassphrase),
	}

	obsvr.Log.Info("processing data bag", lctx.Str("bag", bg.Name), lctx.Str("item", item))
	err = app.Run(ctx, bg, item, opts)
	switch {
	case errors.Is(err, bag_operator.ErrNoElements):
		ui.Info("No data bag elements found.")
		return nil
	case err != nil:
		return err
	}

	obsvr.Log.Debug("data bag complete", lctx.Str("bag", bg.Name), lctx.Str("item", item))
	return nil
}
