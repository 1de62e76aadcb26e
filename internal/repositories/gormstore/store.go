package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/houseofkezura/backend-sub000/internal/platform/database"
	"github.com/houseofkezura/backend-sub000/internal/repositories"
)

// Option customises the Store.
type Option func(*Store)

// WithIDGenerator overrides the primary key generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = func() time.Time { return clock().UTC() }
		}
	}
}

// WithHealth attaches the readiness repository exposed through the registry.
func WithHealth(health repositories.HealthRepository) Option {
	return func(s *Store) {
		s.health = health
	}
}

// WithTxOptions customises transactions started by RunInTx.
func WithTxOptions(opts ...database.TxOption) Option {
	return func(s *Store) {
		s.txOpts = append(s.txOpts, opts...)
	}
}

// Store implements repositories.Registry on top of gorm.
type Store struct {
	db     *gorm.DB
	newID  func() string
	now    func() time.Time
	health repositories.HealthRepository
	txOpts []database.TxOption
}

var _ repositories.Registry = (*Store)(nil)

// New constructs a Store over an open connection.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("gormstore: db is required")
	}
	s := &Store{
		db:    db,
		newID: func() string { return ulid.Make().String() },
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Migrate creates or updates every table owned by the store.
func (s *Store) Migrate(ctx context.Context) error {
	return database.WrapError("migrate", s.db.WithContext(ctx).AutoMigrate(Models()...))
}

// DB exposes the underlying connection for infrastructure that shares it.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close(context.Context) error {
	return database.Close(s.db)
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.RunInTx(ctx, s.db, fn, s.txOpts...)
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return database.Conn(ctx, s.db)
}

// locked returns the connection with FOR UPDATE applied when ctx carries a transaction.
func (s *Store) locked(ctx context.Context) *gorm.DB {
	return database.ForUpdate(ctx, s.conn(ctx))
}

func (s *Store) Carts() repositories.CartRepository                 { return cartRepository{s} }
func (s *Store) Variants() repositories.VariantRepository           { return variantRepository{s} }
func (s *Store) Orders() repositories.OrderRepository               { return orderRepository{s} }
func (s *Store) Payments() repositories.PaymentRepository           { return paymentRepository{s} }
func (s *Store) Webhooks() repositories.WebhookRepository           { return webhookRepository{s} }
func (s *Store) Wallets() repositories.WalletRepository             { return walletRepository{s} }
func (s *Store) Subscriptions() repositories.SubscriptionRepository { return subscriptionRepository{s} }
func (s *Store) Loyalty() repositories.LoyaltyRepository            { return loyaltyRepository{s} }
func (s *Store) Users() repositories.UserRepository                 { return userRepository{s} }

func (s *Store) Health() repositories.HealthRepository {
	return s.health
}
