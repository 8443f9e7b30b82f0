package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/speedrun-hq/speedrun-resolver/pkg/models"
)

// orderRecord is the swap_orders row
type orderRecord struct {
	IntentID   string `gorm:"primaryKey;size:128"`
	UserID     string `gorm:"size:128;index"`
	ResolverID string `gorm:"size:128;index"`

	SenderAddress    string `gorm:"size:128;not null"`
	RecipientAddress string `gorm:"size:128;not null"`

	SourceChainType string `gorm:"size:16;not null"`
	SourceChainID   int    `gorm:"not null"`
	DestChainType   string `gorm:"size:16;not null"`
	DestChainID     int    `gorm:"not null"`

	SourceTokenAddress  string `gorm:"size:256"`
	SourceTokenSymbol   string `gorm:"size:32"`
	SourceTokenDecimals int
	DestTokenAddress    string `gorm:"size:256"`
	DestTokenSymbol     string `gorm:"size:32"`
	DestTokenDecimals   int

	AmountIn        string `gorm:"type:numeric;not null"`
	MinAmountOut    string `gorm:"type:numeric;not null"`
	ActualAmountOut string `gorm:"size:80"`

	Status      string `gorm:"size:16;not null;index;default:PENDING"`
	RetryCount  int    `gorm:"default:0"`
	ErrorReason string `gorm:"type:text"`
	ExpiresAt   time.Time
	ExecutedAt  *time.Time
	CompletedAt *time.Time

	TxHashSource      string `gorm:"size:128"`
	TxHashDest        string `gorm:"size:128"`
	BlockNumberSource uint64
	BlockNumberDest   uint64
	ExchangeRate      string `gorm:"size:64"`
	FeeAmount         string `gorm:"size:80"`
	RefundTxHash      string `gorm:"size:128"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (orderRecord) TableName() string { return "swap_orders" }

// GormStore keeps intents in Postgres
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

// OpenPostgres connects to dsn and migrates the swap_orders table
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open connection and migrates the schema
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&orderRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate swap_orders: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Create inserts a new intent
func (s *GormStore) Create(ctx context.Context, intent *models.Intent) error {
	if err := intent.Validate(); err != nil {
		return err
	}
	rec := toRecord(intent)
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Intent, error) {
	var rec orderRecord
	err := s.db.WithContext(ctx).Where("intent_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec), nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status models.IntentStatus) ([]*models.Intent, error) {
	return s.list(ctx, "status = ?", string(status))
}

func (s *GormStore) ListByUser(ctx context.Context, userID string) ([]*models.Intent, error) {
	return s.list(ctx, "user_id = ?", userID)
}

func (s *GormStore) ListByResolver(ctx context.Context, resolverID string) ([]*models.Intent, error) {
	return s.list(ctx, "resolver_id = ?", resolverID)
}

// Update locks the row, applies u and saves it in one transaction
func (s *GormStore) Update(ctx context.Context, id string, u Update) (*models.Intent, error) {
	var updated *models.Intent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec orderRecord
		err := lockedOrder(tx, id).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		updated, err = applyRecord(&rec, u, s.now())
		if err != nil {
			return err
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// applyRecord applies u to the intent stored in rec and rewrites rec in place.
// rec is left untouched when the update is rejected.
func applyRecord(rec *orderRecord, u Update, now time.Time) (*models.Intent, error) {
	intent := fromRecord(rec)
	if err := apply(intent, u, now); err != nil {
		return nil, err
	}
	*rec = toRecord(intent)
	return intent, nil
}

func lockedOrder(db *gorm.DB, id string) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("intent_id = ?", id)
}

func ordersWhere(db *gorm.DB, query string, arg interface{}) *gorm.DB {
	return db.Where(query, arg).Order("created_at ASC")
}

func (s *GormStore) list(ctx context.Context, query string, arg interface{}) ([]*models.Intent, error) {
	var recs []orderRecord
	if err := ordersWhere(s.db.WithContext(ctx), query, arg).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*models.Intent, 0, len(recs))
	for i := range recs {
		out = append(out, fromRecord(&recs[i]))
	}
	return out, nil
}

// Close releases the connection pool
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(i *models.Intent) orderRecord {
	return orderRecord{
		IntentID:            i.IntentID,
		UserID:              i.UserID,
		ResolverID:          i.ResolverID,
		SenderAddress:       i.SenderAddress,
		RecipientAddress:    i.RecipientAddress,
		SourceChainType:     string(i.SourceChainType),
		SourceChainID:       i.SourceChainID,
		DestChainType:       string(i.DestChainType),
		DestChainID:         i.DestChainID,
		SourceTokenAddress:  i.SourceToken.Address,
		SourceTokenSymbol:   i.SourceToken.Symbol,
		SourceTokenDecimals: i.SourceToken.Decimals,
		DestTokenAddress:    i.DestToken.Address,
		DestTokenSymbol:     i.DestToken.Symbol,
		DestTokenDecimals:   i.DestToken.Decimals,
		AmountIn:            i.AmountIn,
		MinAmountOut:        i.MinAmountOut,
		ActualAmountOut:     i.ActualAmountOut,
		Status:              string(i.Status),
		RetryCount:          i.RetryCount,
		ErrorReason:         i.ErrorReason,
		ExpiresAt:           i.ExpiresAt,
		ExecutedAt:          i.ExecutedAt,
		CompletedAt:         i.CompletedAt,
		TxHashSource:        i.TxHashSource,
		TxHashDest:          i.TxHashDest,
		BlockNumberSource:   i.BlockNumberSource,
		BlockNumberDest:     i.BlockNumberDest,
		ExchangeRate:        i.ExchangeRate,
		FeeAmount:           i.FeeAmount,
		RefundTxHash:        i.RefundTxHash,
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}
}

func fromRecord(r *orderRecord) *models.Intent {
	return &models.Intent{
		IntentID:          r.IntentID,
		UserID:            r.UserID,
		ResolverID:        r.ResolverID,
		SenderAddress:     r.SenderAddress,
		RecipientAddress:  r.RecipientAddress,
		SourceChainType:   models.ChainType(r.SourceChainType),
		SourceChainID:     r.SourceChainID,
		DestChainType:     models.ChainType(r.DestChainType),
		DestChainID:       r.DestChainID,
		SourceToken:       models.Token{Address: r.SourceTokenAddress, Symbol: r.SourceTokenSymbol, Decimals: r.SourceTokenDecimals},
		DestToken:         models.Token{Address: r.DestTokenAddress, Symbol: r.DestTokenSymbol, Decimals: r.DestTokenDecimals},
		AmountIn:          r.AmountIn,
		MinAmountOut:      r.MinAmountOut,
		ActualAmountOut:   r.ActualAmountOut,
		Status:            models.IntentStatus(r.Status),
		RetryCount:        r.RetryCount,
		ErrorReason:       r.ErrorReason,
		ExpiresAt:         r.ExpiresAt,
		ExecutedAt:        r.ExecutedAt,
		CompletedAt:       r.CompletedAt,
		TxHashSource:      r.TxHashSource,
		TxHashDest:        r.TxHashDest,
		BlockNumberSource: r.BlockNumberSource,
		BlockNumberDest:   r.BlockNumberDest,
		ExchangeRate:      r.ExchangeRate,
		FeeAmount:         r.FeeAmount,
		RefundTxHash:      r.RefundTxHash,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}
