package store

import "github.com/hamba/pkg/v2/errors"

const (
	ErrItemNotFound          = errors.Error("item not found")
	ErrVaultNotFound         = errors.Error("vault not found")
	ErrOperationNotSupported = errors.Error("this operation is not supported")
)
