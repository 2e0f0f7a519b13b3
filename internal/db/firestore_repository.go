package db

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"promptstudio-backend-go/internal/models"
)

const (
	accountsCollection  = "accounts"
	customersCollection = "stripe_customers"
)

type customerLink struct {
	AccountID string `firestore:"accountId"`
}

// firestoreAccountRepository implements AccountRepository using Firestore.
// The account id is the document id; the customer index lives in its own
// collection keyed by Stripe customer id.
type firestoreAccountRepository struct {
	client *firestore.Client
}

// NewFirestoreAccountRepository creates a Firestore backed AccountRepository.
func NewFirestoreAccountRepository(client *firestore.Client) (AccountRepository, error) {
	if client == nil {
		return nil, errors.New("firestore client is not initialized for AccountRepository")
	}
	return &firestoreAccountRepository{client: client}, nil
}

func (r *firestoreAccountRepository) Get(ctx context.Context, accountID string) (*models.Account, error) {
	if accountID == "" {
		return nil, errors.New("accountID cannot be empty for Get operation")
	}
	snap, err := r.client.Collection(accountsCollection).Doc(accountID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("account '%s': %w", accountID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account '%s': %w", accountID, err)
	}
	var acc models.Account
	if err := snap.DataTo(&acc); err != nil {
		return nil, fmt.Errorf("failed to decode account '%s': %w", accountID, err)
	}
	acc.AccountID = snap.Ref.ID
	return &acc, nil
}

func (r *firestoreAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account == nil || account.AccountID == "" {
		return errors.New("account ID cannot be empty for Create operation")
	}
	_, err := r.client.Collection(accountsCollection).Doc(account.AccountID).Create(ctx, account)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("account '%s': %w", account.AccountID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create account '%s': %w", account.AccountID, err)
	}
	return nil
}

func (r *firestoreAccountRepository) Update(ctx context.Context, account *models.Account) error {
	if account == nil || account.AccountID == "" {
		return errors.New("account ID cannot be empty for Update operation")
	}
	if _, err := r.client.Collection(accountsCollection).Doc(account.AccountID).Set(ctx, account); err != nil {
		return fmt.Errorf("failed to update account '%s': %w", account.AccountID, err)
	}
	return nil
}

// Mutate runs fn inside a Firestore transaction, which retries on contention.
func (r *firestoreAccountRepository) Mutate(ctx context.Context, accountID string, fn MutateFunc) (*models.Account, error) {
	if accountID == "" {
		return nil, errors.New("accountID cannot be empty for Mutate operation")
	}
	ref := r.client.Collection(accountsCollection).Doc(accountID)
	var result *models.Account
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("account '%s': %w", accountID, ErrNotFound)
			}
			return fmt.Errorf("failed to get account '%s': %w", accountID, err)
		}
		var acc models.Account
		if err := snap.DataTo(&acc); err != nil {
			return fmt.Errorf("failed to decode account '%s': %w", accountID, err)
		}
		acc.AccountID = accountID
		if err := fn(&acc); err != nil {
			return err
		}
		if err := tx.Set(ref, &acc); err != nil {
			return err
		}
		result = &acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *firestoreAccountRepository) GetByCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	if customerID == "" {
		return nil, fmt.Errorf("empty customer id: %w", ErrNotFound)
	}
	snap, err := r.client.Collection(customersCollection).Doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("customer '%s': %w", customerID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get customer link '%s': %w", customerID, err)
	}
	var link customerLink
	if err := snap.DataTo(&link); err != nil {
		return nil, fmt.Errorf("failed to decode customer link '%s': %w", customerID, err)
	}
	return r.Get(ctx, link.AccountID)
}

func (r *firestoreAccountRepository) LinkCustomer(ctx context.Context, customerID, accountID string) error {
	if customerID == "" || accountID == "" {
		return errors.New("customer and account IDs are required")
	}
	_, err := r.client.Collection(customersCollection).Doc(customerID).Set(ctx, customerLink{AccountID: accountID})
	if err != nil {
		return fmt.Errorf("failed to link customer '%s': %w", customerID, err)
	}
	return nil
}

func (r *firestoreAccountRepository) Close() error {
	return r.client.Close()
}
