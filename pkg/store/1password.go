package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/1password/onepassword-sdk-go"
	"github.com/hamba/logger/v2"
	lctx "github.com/hamba/logger/v2/ctx"
	"github.com/sethvargo/go-retry"
)

const (
	Type1Password      = "1password"
	IntegrationName    = "bag-operator"
	IntegrationVersion = "v0.1.0"

	// FieldPassword is the item field holding the entry value.
	FieldPassword = "password"
)

func NewOnePassword(ctx context.Context, token, vault string, log *logger.Logger) (*OnePassword, error) {
	op, err := onepassword.NewClient(ctx, onepassword.WithServiceAccountToken(token),
		onepassword.WithIntegrationInfo(IntegrationName, IntegrationVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create 1password client: %w", err)
	}

	return &OnePassword{
		items:   op.Items(),
		vaults:  op.Vaults(),
		vault:   vault,
		backoff: newBackoff,
		log:     log,
	}, nil
}

func newBackoff() retry.Backoff {
	b := retry.NewExponential(50 * time.Millisecond)
	b = retry.WithMaxRetries(10, b)
	return retry.WithMaxDuration(30*time.Second, b)
}

type itemsAPI interface {
	List(ctx context.Context, vaultID string, filters ...onepassword.ItemListFilter) ([]onepassword.ItemOverview, error)
	Get(ctx context.Context, vaultID, itemID string) (onepassword.Item, error)
	Create(ctx context.Context, params onepassword.ItemCreateParams) (onepassword.Item, error)
	Put(ctx context.Context, item onepassword.Item) (onepassword.Item, error)
}

type vaultsAPI interface {
	List(ctx context.Context) ([]onepassword.VaultOverview, error)
}

// OnePassword implements the application SecretStore on a 1password vault.
// Store paths are used as item titles, values live in the password field.
type OnePassword struct {
	items   itemsAPI
	vaults  vaultsAPI
	vault   string
	dryRun  bool
	backoff func() retry.Backoff

	log *logger.Logger
}

func (o *OnePassword) WithDryRun(dryRun bool) {
	o.dryRun = dryRun
}

func (o *OnePassword) Show(ctx context.Context, path string) (string, error) {
	vaultID, err := o.findVault(ctx)
	if err != nil {
		return "", err
	}

	itemID, err := o.findItem(ctx, vaultID, path)
	if err != nil {
		return "", err
	}

	var secret onepassword.Item
	err = retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		var err error
		secret, err = o.items.Get(ctx, vaultID, itemID)
		return o.isRetriable(err)
	})
	if err != nil {
		return "", fmt.Errorf("failed to get 1password vault item: %w", err)
	}

	for _, field := range secret.Fields {
		if field.Title == FieldPassword && field.Value != "" {
			return field.Value, nil
		}
	}
	return "", ErrItemNotFound
}

func (o *OnePassword) Exists(ctx context.Context, path string) (bool, error) {
	vaultID, err := o.findVault(ctx)
	if err != nil {
		return false, err
	}

	if _, err = o.findItem(ctx, vaultID, path); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Insert creates the item at path, or updates its password field.
func (o *OnePassword) Insert(ctx context.Context, path, value string) error {
	vaultID, err := o.findVault(ctx)
	if err != nil {
		return err
	}

	itemID, err := o.findItem(ctx, vaultID, path)
	switch {
	case errors.Is(err, ErrItemNotFound):
		return o.create(ctx, vaultID, path, value)
	case err != nil:
		return err
	}
	return o.update(ctx, vaultID, itemID, path, value)
}

// Generate is not supported, 1password items are written with Insert.
func (o *OnePassword) Generate(context.Context, string, int) error {
	return ErrOperationNotSupported
}

func (o *OnePassword) create(ctx context.Context, vaultID, path, value string) error {
	o.log.Debug("creating item in 1password vault", lctx.Str("vault", vaultID), lctx.Str("item", path))
	if o.dryRun {
		o.log.Info("dry-run flag set, not creating 1password vault item", lctx.Str("vault", vaultID), lctx.Str("item", path))
		return nil
	}

	create := onepassword.ItemCreateParams{
		Category: onepassword.ItemCategoryLogin,
		VaultID:  vaultID,
		Title:    path,
		Fields: []onepassword.ItemField{
			{
				ID:        FieldPassword,
				Title:     FieldPassword,
				Value:     value,
				FieldType: onepassword.ItemFieldTypeConcealed,
			},
		},
	}

	var item onepassword.Item
	err := retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		var err error
		item, err = o.items.Create(ctx, create)
		return o.isRetriable(err)
	})
	if err != nil {
		return fmt.Errorf("failed to create 1password vault item: %w", err)
	}

	o.log.Debug("created item in 1password vault",
		lctx.Str("vault", item.VaultID),
		lctx.Str("item", path),
		lctx.Uint32("version", item.Version),
	)
	return nil
}

func (o *OnePassword) update(ctx context.Context, vaultID, itemID, path, value string) error {
	var item onepassword.Item
	err := retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		var err error
		item, err = o.items.Get(ctx, vaultID, itemID)
		if retryErr := o.isRetriable(err); retryErr != nil {
			return retryErr
		}

		found := false
		for i, field := range item.Fields {
			if field.Title == FieldPassword {
				item.Fields[i].Value = value
				found = true
				break
			}
		}
		if !found {
			item.Fields = append(item.Fields, onepassword.ItemField{
				ID:        FieldPassword,
				Title:     FieldPassword,
				Value:     value,
				FieldType: onepassword.ItemFieldTypeConcealed,
			})
		}

		o.log.Debug("updating item in 1password vault", lctx.Str("vault", vaultID), lctx.Str("item", path))
		if o.dryRun {
			o.log.Info("dry-run flag set, not updating 1password vault item", lctx.Str("vault", vaultID), lctx.Str("item", path))
			return nil
		}

		item, err = o.items.Put(ctx, item)
		return o.isRetriable(err)
	})
	if err != nil {
		return fmt.Errorf("failed to update 1password vault item: %w", err)
	}
	return nil
}

func (o *OnePassword) findVault(ctx context.Context) (string, error) {
	var vaults []onepassword.VaultOverview
	err := retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		var err error
		vaults, err = o.vaults.List(ctx)
		return o.isRetriable(err)
	})
	if err != nil {
		return "", fmt.Errorf("failed to list 1password vaults: %w", err)
	}

	for _, vlt := range vaults {
		if vlt.ID == o.vault || vlt.Title == o.vault {
			return vlt.ID, nil
		}
	}
	return "", fmt.Errorf("1password vault %q: %w", o.vault, ErrVaultNotFound)
}

func (o *OnePassword) findItem(ctx context.Context, vaultID, path string) (string, error) {
	var items []onepassword.ItemOverview
	err := retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		var err error
		items, err = o.items.List(ctx, vaultID)
		return o.isRetriable(err)
	})
	if err != nil {
		return "", fmt.Errorf("failed to list 1password items: %w", err)
	}

	for _, itm := range items {
		if itm.Title == path {
			return itm.ID, nil
		}
	}
	return "", ErrItemNotFound
}

func (o *OnePassword) isRetriable(err error) error {
	switch {
	case err == nil:
		return nil
	case strings.HasPrefix(err.Error(), "error resolving secret reference"):
		return err
	}

	o.log.Debug("retry on err", lctx.Err(err))
	return retry.RetryableError(err)
}
