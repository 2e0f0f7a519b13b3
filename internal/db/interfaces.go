package db

import (
	"context"
	"errors"

	"promptstudio-backend-go/internal/models"
)

var (
	// ErrNotFound is returned when an account or customer mapping does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by Create when the account id is taken.
	ErrAlreadyExists = errors.New("document already exists")
)

// MutateFunc changes an account in place. Returning an error aborts the
// write. It may run more than once when a backend retries a conflict.
type MutateFunc func(account *models.Account) error

// AccountRepository defines the storage operations on accounts and the
// Stripe customer index. Implementations return copies. Changes to stored
// accounts go through Mutate so concurrent writers never overwrite each other.
type AccountRepository interface {
	Get(ctx context.Context, accountID string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) error
	// Update replaces the whole record. Use it for imports and tests only.
	Update(ctx context.Context, account *models.Account) error
	// Mutate applies fn to the stored account atomically and returns the
	// result. Missing accounts yield ErrNotFound.
	Mutate(ctx context.Context, accountID string, fn MutateFunc) (*models.Account, error)
	// GetByCustomer resolves a Stripe customer id through the customer index.
	GetByCustomer(ctx context.Context, customerID string) (*models.Account, error)
	LinkCustomer(ctx context.Context, customerID, accountID string) error
	// Close flushes pending writes and releases the backend.
	Close() error
}
