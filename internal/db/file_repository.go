package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"promptstudio-backend-go/internal/models"
)

// FileAccountRepository keeps all accounts in memory and mirrors them to a
// single JSON document. Writes are coalesced: the first mutation arms a
// timer and every mutation until it fires is saved in the same rewrite.
type FileAccountRepository struct {
	mu        sync.Mutex
	writeMu   sync.Mutex // serializes encode+write so older snapshots never land last
	path      string
	debounce  time.Duration
	logger    *zap.Logger
	accounts  map[string]*models.Account
	customers map[string]string
	timer     *time.Timer
	closed    bool
}

// NewFileAccountRepository loads path if it exists. A corrupt document is
// logged and the store starts empty, like a fresh install.
func NewFileAccountRepository(path string, debounce time.Duration, logger *zap.Logger) (*FileAccountRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	r := &FileAccountRepository{
		path:      path,
		debounce:  debounce,
		logger:    logger,
		accounts:  make(map[string]*models.Account),
		customers: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return r, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return r, nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Error("DB load error, starting with an empty store", zap.String("path", path), zap.Error(err))
		return r, nil
	}
	for id, acc := range snap.Accounts {
		if acc == nil {
			continue
		}
		if acc.AccountID == "" {
			acc.AccountID = id
		}
		r.accounts[id] = acc
	}
	for cid, aid := range snap.Customers {
		r.customers[cid] = aid
	}
	logger.Info("Account store loaded", zap.String("path", path), zap.Int("accounts", len(r.accounts)))
	return r, nil
}

// Get returns a copy of the account.
func (r *FileAccountRepository) Get(_ context.Context, accountID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account '%s': %w", accountID, ErrNotFound)
	}
	return acc.Clone(), nil
}

// Create stores a new account.
func (r *FileAccountRepository) Create(_ context.Context, account *models.Account) error {
	if account == nil || account.AccountID == "" {
		return errors.New("account ID cannot be empty for Create operation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[account.AccountID]; ok {
		return fmt.Errorf("account '%s': %w", account.AccountID, ErrAlreadyExists)
	}
	r.accounts[account.AccountID] = account.Clone()
	r.scheduleSaveLocked()
	return nil
}

// Update replaces the stored account. Unknown ids are created.
func (r *FileAccountRepository) Update(_ context.Context, account *models.Account) error {
	if account == nil || account.AccountID == "" {
		return errors.New("account ID cannot be empty for Update operation")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[account.AccountID] = account.Clone()
	r.scheduleSaveLocked()
	return nil
}

// Mutate runs fn on a copy under the store lock and keeps the copy only
// when fn succeeds.
func (r *FileAccountRepository) Mutate(_ context.Context, accountID string, fn MutateFunc) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account '%s': %w", accountID, ErrNotFound)
	}
	acc := stored.Clone()
	if err := fn(acc); err != nil {
		return nil, err
	}
	acc.AccountID = accountID
	r.accounts[accountID] = acc
	r.scheduleSaveLocked()
	return acc.Clone(), nil
}

// GetByCustomer resolves the account linked to a Stripe customer.
func (r *FileAccountRepository) GetByCustomer(_ context.Context, customerID string) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	accountID, ok := r.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer '%s': %w", customerID, ErrNotFound)
	}
	acc, ok := r.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account '%s' for customer '%s': %w", accountID, customerID, ErrNotFound)
	}
	return acc.Clone(), nil
}

// LinkCustomer records customerID -> accountID in the index.
func (r *FileAccountRepository) LinkCustomer(_ context.Context, customerID, accountID string) error {
	if customerID == "" || accountID == "" {
		return errors.New("customer and account IDs are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.customers[customerID] == accountID {
		return nil
	}
	r.customers[customerID] = accountID
	r.scheduleSaveLocked()
	return nil
}

// Flush writes the document now, cancelling any pending timer.
func (r *FileAccountRepository) Flush() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	data, err := r.encodeLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.write(data)
}

// Close flushes pending writes. Later mutations are kept in memory only.
func (r *FileAccountRepository) Close() error {
	err := r.Flush()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return err
}

func (r *FileAccountRepository) scheduleSaveLocked() {
	if r.timer != nil || r.closed {
		return
	}
	r.timer = time.AfterFunc(r.debounce, r.saveFromTimer)
}

func (r *FileAccountRepository) saveFromTimer() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	r.timer = nil
	data, err := r.encodeLocked()
	r.mu.Unlock()
	if err == nil {
		err = r.write(data)
	}
	if err != nil {
		r.logger.Error("DB save error", zap.String("path", r.path), zap.Error(err))
	}
}

func (r *FileAccountRepository) encodeLocked() ([]byte, error) {
	snap := models.Snapshot{Accounts: r.accounts, Customers: r.customers}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// write replaces the document atomically through a temp file.
func (r *FileAccountRepository) write(data []byte) error {
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
