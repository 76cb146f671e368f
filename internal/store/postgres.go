package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kmirel/planhook/internal/domain"
)

// Config holds PostgreSQL connection settings.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// New creates a Postgres store and verifies connectivity.
func New(ctx context.Context, config Config) (*Postgres, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// NewWithPool wraps an existing pool. The caller retains ownership.
func NewWithPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close closes the underlying connection pool.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UserByEmail implements Store.
func (s *Postgres) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.userBy(ctx, "email = $1", email)
}

// UserByCustomerID implements Store.
func (s *Postgres) UserByCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	return s.userBy(ctx, "customer_id = $1", customerID)
}

func (s *Postgres) userBy(ctx context.Context, where string, arg string) (*domain.User, error) {
	var (
		user       domain.User
		customerID *string
	)

	query := `SELECT id, email, customer_id, plan, created_at, updated_at
		FROM users WHERE ` + where

	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Email,
		&customerID,
		&user.Plan,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if customerID != nil {
		user.CustomerID = *customerID
	}
	return &user, nil
}

// AttachCustomerID implements Store. The customer_id IS NULL guard enforces
// set-once semantics at the row level, so concurrent redeliveries cannot
// overwrite an already assigned customer ID.
func (s *Postgres) AttachCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET customer_id = $2, updated_at = NOW()
			WHERE id = $1 AND customer_id IS NULL`,
		userID, customerID)
	if err != nil {
		return fmt.Errorf("failed to attach customer id: %w", err)
	}
	return nil
}

// SetUserPlan implements Store.
func (s *Postgres) SetUserPlan(ctx context.Context, userID string, plan domain.Plan) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET plan = $2, updated_at = NOW() WHERE id = $1`,
		userID, plan)
	if err != nil {
		return fmt.Errorf("failed to set user plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpsertSubscription implements Store.
func (s *Postgres) UpsertSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	var out domain.Subscription

	query := `
		INSERT INTO subscriptions (user_id, plan, period, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			period = EXCLUDED.period,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			updated_at = NOW()
		RETURNING id, user_id, plan, period, start_date, end_date
	`
	err := s.pool.QueryRow(ctx, query,
		sub.UserID,
		sub.Plan,
		sub.Period,
		sub.StartDate,
		sub.EndDate,
	).Scan(
		&out.ID,
		&out.UserID,
		&out.Plan,
		&out.Period,
		&out.StartDate,
		&out.EndDate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return &out, nil
}

// SubscriptionByUserID implements Store.
func (s *Postgres) SubscriptionByUserID(ctx context.Context, userID string) (*domain.Subscription, error) {
	var sub domain.Subscription

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, plan, period, start_date, end_date
			FROM subscriptions WHERE user_id = $1`,
		userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Plan,
		&sub.Period,
		&sub.StartDate,
		&sub.EndDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}
	return &sub, nil
}
