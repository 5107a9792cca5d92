package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/ettle/strcase"
	"github.com/hamba/cmd/v3"
	"github.com/hamba/cmd/v3/term"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
	bag_operator "gitlab.com/sickit/bag-operator"
	"gitlab.com/sickit/bag-operator/pkg/boop"
	"gitlab.com/sickit/bag-operator/pkg/knife"
	"gitlab.com/sickit/bag-operator/pkg/remote"
	"gitlab.com/sickit/bag-operator/pkg/shell"
	"gitlab.com/sickit/bag-operator/pkg/store"
)

const (
	flagDryRun           = "dry-run"
	flagStoreType        = "store.type"
	flagStoreToken       = "store.token"
	flagPassBin          = "pass.bin"
	flagKnifeBin         = "knife.bin"
	flagSSHBin           = "ssh.bin"
	flagUploadRetries    = "upload.retries"
	flagSecretLength     = "secret.length"
	flagPassphraseLength = "passphrase.length"

	flagID         = "id"
	flagTarget     = "target"
	flagPassphrase = "passphrase"
)

// envConfig names the variable holding the config file path. The path is
// needed before flags are parsed, since it defines the commands.
var envConfig = strcase.ToSNAKE("config")

var version = "¯\\_(ツ)_/¯"

// rootFlags returns fresh global flags. Flags keep their parsed values,
// so every root command gets its own set.
func rootFlags() cmd.Flags {
	return cmd.Flags{
		&cli.BoolFlag{
			Name:    flagDryRun,
			Value:   false,
			Usage:   "Do a 'dry-run', don't change anything",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagDryRun)),
		},
		&cli.StringFlag{
			Name:    flagStoreType,
			Value:   store.TypePass,
			Usage:   "Which password store backend to use (pass, 1password)",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagStoreType)),
		},
		&cli.StringFlag{
			Name:    flagStoreToken,
			Value:   "",
			Usage:   "The store token to use, required for 1password",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagStoreToken)),
		},
		&cli.StringFlag{
			Name:    flagPassBin,
			Value:   store.TypePass,
			Usage:   "The pass binary",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagPassBin)),
		},
		&cli.StringFlag{
			Name:    flagKnifeBin,
			Value:   knife.DefaultBinary,
			Usage:   "The knife binary used to upload data bags",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagKnifeBin)),
		},
		&cli.StringFlag{
			Name:    flagSSHBin,
			Value:   remote.DefaultBinary,
			Usage:   "The ssh binary used to copy data bag secrets",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagSSHBin)),
		},
		&cli.IntFlag{
			Name:    flagUploadRetries,
			Value:   0,
			Usage:   "How often a failed data bag upload is retried",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagUploadRetries)),
		},
		&cli.IntFlag{
			Name:    flagSecretLength,
			Value:   bag_operator.DefaultSecretLength,
			Usage:   "The number of random bytes in a new data bag secret",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagSecretLength)),
		},
		&cli.IntFlag{
			Name:    flagPassphraseLength,
			Value:   bag_operator.DefaultPassphraseLength,
			Usage:   "The length of generated passphrases",
			Sources: cli.EnvVars(strcase.ToSNAKE(flagPassphraseLength)),
		},
	}.Merge(cmd.LogFlags, cmd.StatsFlags, cmd.TracingFlags)
}

func bagFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagID,
			Usage: "Data bag id (defaults to item)",
		},
		&cli.StringSliceFlag{
			Name:  flagTarget,
			Usage: "Target user@host[,user2@host2] to upload data_bag_secret to",
		},
		&cli.BoolFlag{
			Name:  flagPassphrase,
			Usage: "Also generate a passphrase for the item, unless present",
		},
	}
}

func newRootCommand(config boop.Config, ui term.Term, runner shell.Runner) *cli.Command {
	return &cli.Command{
		Name:     "bocli",
		Usage:    "Create/Upload encrypted Chef data bags from a password store",
		Version:  version,
		Flags:    rootFlags(),
		Commands: bagCommands(config, ui, runner),
		Suggest:  true,
	}
}

func main() {
	os.Exit(realMain())
}

func realMain() (code int) {
	ui := newTerm()
	cli.RootCommandHelpTemplate = fmt.Sprintf(`%s
EXAMPLES:

	# Create/Upload the sshkeys data bag for web01 and copy its secret to the host
	bocli sshkeys web01 --target root@web01.example.com

	# Override the data bag id and see what would happen
	bocli --dry-run sshkeys web01 --id web01-example-com

	# Read secrets from 1password instead of pass
	STORE_TOKEN=ops_... bocli --store.type 1password certificates web01

CONFIG: %s (set %s to use another file)

`, cli.RootCommandHelpTemplate, boop.DefaultPath, envConfig)

	defer func() {
		if v := recover(); v != nil {
			ui.Error(fmt.Sprintf("Panic: %v\n%s", v, string(debug.Stack())))
			code = 1
			return
		}
	}()

	cfgPath := os.Getenv(envConfig)
	if cfgPath == "" {
		cfgPath = boop.DefaultPath
	}
	config, err := boop.Load(cfgPath)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	app := newRootCommand(config, ui, shell.Exec{})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		ui.Error(err.Error())
		return 1
	}
	return 0
}
