package bag_operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hamba/cmd/v3/observe"
	"github.com/hamba/logger/v2"
	lctx "github.com/hamba/logger/v2/ctx"
	errors2 "github.com/hamba/pkg/v2/errors"
	"github.com/hamba/statter/v2"
	"github.com/hamba/statter/v2/tags"
	"gitlab.com/sickit/bag-operator/pkg/bag"
	"gitlab.com/sickit/bag-operator/pkg/store"
	"go.opentelemetry.io/otel/trace"
)

const (
	ErrNoElements  = errors2.Error("no data bag elements found")
	ErrInvalidItem = errors2.Error("invalid item")
)

const (
	DefaultSecretLength     = 512
	DefaultPassphraseLength = 20
)

// interface for the password store
type SecretStore interface {
	WithDryRun(dryRun bool)
	Show(ctx context.Context, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Insert(ctx context.Context, path, value string) error
	Generate(ctx context.Context, path string, length int) error
}

// interface for the random secret source
type SecretGenerator interface {
	Generate(length int) (string, error)
}

// interface for the data bag upload
type BagUploader interface {
	WithDryRun(dryRun bool)
	Upload(ctx context.Context, bag, file, secret string) error
}

// interface for the secret copy to target hosts
type SecretDistributor interface {
	WithDryRun(dryRun bool)
	Copy(ctx context.Context, target, dest, secret string) error
}

// RunOptions are the per-invocation options of a data bag command.
type RunOptions struct {
	// ID overrides the data bag item id, defaults to the item.
	ID string
	// Targets receive the data bag secret.
	Targets []string
	// Passphrase also generates "<bag>/<item>.passphrase".
	Passphrase bool
}

type Option func(*Application)

// WithSecretLength sets the number of random bytes in a new data bag secret.
func WithSecretLength(n int) Option {
	return func(a *Application) {
		a.secretLength = n
	}
}

// WithPassphraseLength sets the length of generated passphrases.
func WithPassphraseLength(n int) Option {
	return func(a *Application) {
		a.passphraseLength = n
	}
}

// WithGenerator sets the random secret source.
func WithGenerator(g SecretGenerator) Option {
	return func(a *Application) {
		a.random = g
	}
}

// Application represents the application.
type Application struct {
	store       SecretStore
	random      SecretGenerator
	uploader    BagUploader
	distributor SecretDistributor

	secretLength     int
	passphraseLength int
	// generated holds secrets created during this run, for dry-runs
	// where the store was never written.
	generated map[string]string

	log    *logger.Logger
	stats  *statter.Statter
	tracer trace.Tracer
}

// NewApplication creates an instance of Application.
func NewApplication(st SecretStore, up BagUploader, dist SecretDistributor, obsvr *observe.Observer, opts ...Option) *Application {
	a := &Application{
		store:       st,
		random:      store.Random{},
		uploader:    up,
		distributor: dist,

		secretLength:     DefaultSecretLength,
		passphraseLength: DefaultPassphraseLength,
		generated:        map[string]string{},

		log:    obsvr.Log,
		stats:  obsvr.Stats,
		tracer: obsvr.Tracer("app"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run builds the data bag for item, uploads it and copies its secret to the targets.
func (a *Application) Run(ctx context.Context, cfg *bag.Config, item string, opts RunOptions) error {
	if err := validateItem(item); err != nil {
		return err
	}

	ctx, span := a.tracer.Start(ctx, "run")
	defer span.End()

	grp, err := a.Resolve(ctx, cfg, item)
	if err != nil {
		return fmt.Errorf("failed to resolve data bag: %w", err)
	}
	if len(grp) == 0 {
		a.log.Info("no data bag elements found", lctx.Str("bag", cfg.Name), lctx.Str("item", item))
		return ErrNoElements
	}

	if _, ok := grp["id"]; !ok {
		id := item
		if opts.ID != "" {
			id = opts.ID
		}
		grp["id"] = bag.Value(id)
	}

	if err = a.EnsureSecret(ctx, cfg, item); err != nil {
		return fmt.Errorf("failed to ensure data bag secret: %w", err)
	}

	if err = a.Publish(ctx, cfg, item, grp); err != nil {
		return fmt.Errorf("failed to publish data bag: %w", err)
	}

	if err = a.Distribute(ctx, cfg, item, opts.Targets); err != nil {
		return fmt.Errorf("failed to distribute data bag secret: %w", err)
	}

	if opts.Passphrase {
		if err = a.GeneratePassphrase(ctx, cfg, item); err != nil {
			return fmt.Errorf("failed to generate passphrase: %w", err)
		}
	}

	return nil
}

// Resolve looks up every template of the data bag for item. Entries missing
// from the store are dropped, as are groups left empty.
func (a *Application) Resolve(ctx context.Context, cfg *bag.Config, item string) (bag.Group, error) {
	ctx, span := a.tracer.Start(ctx, "resolve")
	defer span.End()

	grp, err := a.resolveGroup(ctx, cfg, cfg.DataBag, item)
	if err != nil {
		return nil, err
	}
	return grp.Prune(), nil
}

func (a *Application) resolveGroup(ctx context.Context, cfg *bag.Config, tmpl bag.TemplateGroup, item string) (bag.Group, error) {
	grp := make(bag.Group, len(tmpl))
	for key, node := range tmpl {
		switch n := node.(type) {
		case bag.TemplateGroup:
			sub, err := a.resolveGroup(ctx, cfg, n, item)
			if err != nil {
				return nil, err
			}
			grp[key] = sub

		case bag.Leaf:
			path := cfg.LookupPath(bag.Expand(string(n), item))
			val, err := a.store.Show(ctx, path)
			if err != nil {
				if !errors.Is(err, store.ErrItemNotFound) {
					return nil, fmt.Errorf("failed to look up %s: %w", path, err)
				}
				a.log.Debug("entry not in store, skipping", lctx.Str("field", key), lctx.Str("path", path))
				a.count("lookups", tags.Str("result", "missing"))
				continue
			}
			a.count("lookups", tags.Str("result", "found"))
			grp[key] = bag.Value(val)
		}
	}
	return grp, nil
}

// EnsureSecret generates the data bag secret of item unless the store already holds one.
func (a *Application) EnsureSecret(ctx context.Context, cfg *bag.Config, item string) error {
	ctx, span := a.tracer.Start(ctx, "ensure-secret")
	defer span.End()

	path := cfg.SecretPath(item)
	ok, err := a.store.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to check data bag secret: %w", err)
	}
	if ok {
		a.log.Debug("data bag secret exists", lctx.Str("path", path))
		return nil
	}

	a.log.Info("generating data bag secret", lctx.Str("path", path), lctx.Int("length", a.secretLength))
	secret, err := a.random.Generate(a.secretLength)
	if err != nil {
		return fmt.Errorf("failed to generate data bag secret: %w", err)
	}

	if err = a.store.Insert(ctx, path, secret); err != nil {
		return fmt.Errorf("failed to store data bag secret: %w", err)
	}
	if a.generated == nil {
		a.generated = map[string]string{}
	}
	a.generated[path] = strings.TrimSuffix(secret, "\n")
	a.count("secrets.generated")
	return nil
}

// Publish writes the data bag to a temporary JSON file and uploads it,
// encrypted with the data bag secret of item.
func (a *Application) Publish(ctx context.Context, cfg *bag.Config, item string, grp bag.Group) error {
	ctx, span := a.tracer.Start(ctx, "publish")
	defer span.End()

	secret, err := a.secret(ctx, cfg, item)
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(grp.StripEmpty().Document(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data bag: %w", err)
	}

	f, err := os.CreateTemp("", "knife-generate*.json")
	if err != nil {
		return fmt.Errorf("failed to create data bag file: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write data bag file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to write data bag file: %w", err)
	}

	a.log.Info("uploading data bag",
		lctx.Str("bag", cfg.Name),
		lctx.Str("item", item),
		lctx.Str("fields", strings.Join(grp.Keys(), ",")),
		lctx.Str("secret", maskSecret(secret)),
	)
	if err = a.uploader.Upload(ctx, cfg.Name, f.Name(), secret); err != nil {
		return err
	}
	a.count("uploads")
	return nil
}

// Distribute copies the data bag secret of item to every target, one at a time.
func (a *Application) Distribute(ctx context.Context, cfg *bag.Config, item string, targets []string) error {
	if len(targets) == 0 {
		return nil
	}

	ctx, span := a.tracer.Start(ctx, "distribute")
	defer span.End()

	secret, err := a.secret(ctx, cfg, item)
	if err != nil {
		return err
	}

	dest := cfg.SecretDestination(item)
	for _, target := range targets {
		a.log.Info("copying data bag secret", lctx.Str("target", target), lctx.Str("dest", dest))
		if err = a.distributor.Copy(ctx, target, dest, secret); err != nil {
			return err
		}
		a.count("distributions")
	}
	return nil
}

// GeneratePassphrase lets the store generate a passphrase for item unless one exists.
func (a *Application) GeneratePassphrase(ctx context.Context, cfg *bag.Config, item string) error {
	ctx, span := a.tracer.Start(ctx, "generate-passphrase")
	defer span.End()

	path := cfg.PassphrasePath(item)
	ok, err := a.store.Exists(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to check passphrase: %w", err)
	}
	if ok {
		a.log.Debug("passphrase exists", lctx.Str("path", path))
		return nil
	}

	a.log.Info("generating passphrase", lctx.Str("path", path), lctx.Int("length", a.passphraseLength))
	return a.store.Generate(ctx, path, a.passphraseLength)
}

func (a *Application) secret(ctx context.Context, cfg *bag.Config, item string) (string, error) {
	path := cfg.SecretPath(item)
	secret, err := a.store.Show(ctx, path)
	if err != nil {
		if gen, ok := a.generated[path]; ok && errors.Is(err, store.ErrItemNotFound) {
			return gen, nil
		}
		return "", fmt.Errorf("failed to read data bag secret: %w", err)
	}
	return secret, nil
}

func (a *Application) count(name string, t ...statter.Tag) {
	if a.stats == nil {
		return
	}
	a.stats.Counter(name, t...).Inc(1)
}

func validateItem(item string) error {
	if item == "" || strings.HasPrefix(item, "-") {
		return fmt.Errorf("%q: %w", item, ErrInvalidItem)
	}
	for _, seg := range strings.Split(item, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%q: %w", item, ErrInvalidItem)
		}
	}
	return nil
}

func maskSecret(secret string) string {
	if len(secret) < 8 {
		return "..."
	}
	return secret[0:1] + "..." + secret[len(secret)-1:]
}
