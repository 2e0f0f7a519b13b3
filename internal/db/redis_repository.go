package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"promptstudio-backend-go/internal/models"
)

const (
	redisAccountPrefix = "gle:account:"
	redisCustomersKey  = "gle:customers"

	redisMutateRetries = 10
)

// RedisOptions contains options for connecting the Redis store.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
}

// redisAccountRepository stores each account as a JSON string and keeps the
// customer index in a single hash.
type redisAccountRepository struct {
	client *redis.Client
}

// NewRedisAccountRepository connects to Redis and verifies the connection.
func NewRedisAccountRepository(ctx context.Context, opts RedisOptions) (AccountRepository, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &redisAccountRepository{client: rdb}, nil
}

func (r *redisAccountRepository) Get(ctx context.Context, accountID string) (*models.Account, error) {
	return getAccount(ctx, r.client, accountID)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// getAccount reads through either the client or a WATCH transaction.
func getAccount(ctx context.Context, c stringGetter, accountID string) (*models.Account, error) {
	raw, err := c.Get(ctx, redisAccountPrefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("account '%s': %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account '%s': %w", accountID, err)
	}
	var acc models.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("failed to decode account '%s': %w", accountID, err)
	}
	return &acc, nil
}

func (r *redisAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account == nil || account.AccountID == "" {
		return errors.New("account ID cannot be empty for Create operation")
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account '%s': %w", account.AccountID, err)
	}
	ok, err := r.client.SetNX(ctx, redisAccountPrefix+account.AccountID, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create account '%s': %w", account.AccountID, err)
	}
	if !ok {
		return fmt.Errorf("account '%s': %w", account.AccountID, ErrAlreadyExists)
	}
	return nil
}

func (r *redisAccountRepository) Update(ctx context.Context, account *models.Account) error {
	if account == nil || account.AccountID == "" {
		return errors.New("account ID cannot be empty for Update operation")
	}
	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode account '%s': %w", account.AccountID, err)
	}
	if err := r.client.Set(ctx, redisAccountPrefix+account.AccountID, raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to update account '%s': %w", account.AccountID, err)
	}
	return nil
}

// Mutate uses optimistic locking: the key is watched while fn runs and the
// write is retried when another client changed it in between.
func (r *redisAccountRepository) Mutate(ctx context.Context, accountID string, fn MutateFunc) (*models.Account, error) {
	key := redisAccountPrefix + accountID
	var result *models.Account
	txf := func(tx *redis.Tx) error {
		acc, err := getAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := fn(acc); err != nil {
			return err
		}
		acc.AccountID = accountID
		raw, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("failed to encode account '%s': %w", accountID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		if err == nil {
			result = acc
		}
		return err
	}

	for i := 0; i < redisMutateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("failed to update account '%s': too many concurrent writers", accountID)
}

func (r *redisAccountRepository) GetByCustomer(ctx context.Context, customerID string) (*models.Account, error) {
	accountID, err := r.client.HGet(ctx, redisCustomersKey, customerID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("customer '%s': %w", customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer '%s': %w", customerID, err)
	}
	return r.Get(ctx, accountID)
}

func (r *redisAccountRepository) LinkCustomer(ctx context.Context, customerID, accountID string) error {
	if customerID == "" || accountID == "" {
		return errors.New("customer and account IDs are required")
	}
	if err := r.client.HSet(ctx, redisCustomersKey, customerID, accountID).Err(); err != nil {
		return fmt.Errorf("failed to link customer '%s': %w", customerID, err)
	}
	return nil
}

func (r *redisAccountRepository) Close() error {
	return r.client.Close()
}
