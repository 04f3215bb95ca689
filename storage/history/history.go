// Package history keeps a queryable index of committed settlements. The
// key/value ledger stays authoritative; the index only serves account history
// reads and is rebuilt from receipts if lost.
package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"yieldstake/crypto"
	"yieldstake/native/staking"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 50
	maxListLimit     = 500
)

var (
	// ErrDSNRequired is returned when no connection string is configured.
	ErrDSNRequired = errors.New("history: dsn must be configured")
	// ErrUnknownDriver is returned for drivers other than sqlite and postgres.
	ErrUnknownDriver = errors.New("history: unknown driver")
)

// Settlement is the persisted row. Raw amounts are decimal strings because
// postgres has no unsigned 64-bit column type.
type Settlement struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	SettlementID      string    `gorm:"uniqueIndex;size:128;not null"`
	Operation         string    `gorm:"index;size:32;not null"`
	Owner             string    `gorm:"index;size:96;not null"`
	AmountRaw         string    `gorm:"size:20;not null"`
	RewardRaw         string    `gorm:"size:20;not null"`
	StakedAfterRaw    string    `gorm:"size:20;not null"`
	TotalHarvestedRaw string    `gorm:"size:20;not null"`
	ConfigVersion     uint64    `gorm:"not null"`
	SettledAt         time.Time `gorm:"index;not null"`
	ForfeitedRaw      string    `gorm:"size:20;not null;default:'0'"`
	ForfeitReason     string    `gorm:"size:16;not null;default:''"`
	CreatedAt         time.Time
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (Settlement) TableName() string { return "staking_settlements" }

// Store wraps the gorm handle.
type Store struct {
	db *gorm.DB
}

// Open connects to driver/dsn and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(trimmed)
	case DriverPostgres:
		dialector = postgres.Open(trimmed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("history: db must not be nil")
	}
	if err := db.AutoMigrate(&Settlement{}); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record indexes a committed receipt. Recording the same settlement twice is
// a no-op.
func (s *Store) Record(ctx context.Context, receipt *staking.Receipt) error {
	if s == nil {
		return fmt.Errorf("history: store not configured")
	}
	if receipt == nil || strings.TrimSpace(receipt.ID) == "" {
		return fmt.Errorf("history: receipt requires an id")
	}
	row := &Settlement{
		ID:                uuid.New(),
		SettlementID:      receipt.ID,
		Operation:         string(receipt.Operation),
		Owner:             crypto.AddressFromArray(crypto.OwnerPrefix, receipt.Owner).String(),
		AmountRaw:         strconv.FormatUint(receipt.AmountRaw, 10),
		RewardRaw:         strconv.FormatUint(receipt.RewardRaw, 10),
		StakedAfterRaw:    strconv.FormatUint(receipt.StakedAfterRaw, 10),
		TotalHarvestedRaw: strconv.FormatUint(receipt.TotalHarvestedRaw, 10),
		ConfigVersion:     receipt.ConfigVersion,
		SettledAt:         time.Unix(receipt.SettledAt, 0).UTC(),
		ForfeitedRaw:      strconv.FormatUint(receipt.ForfeitedRaw, 10),
		ForfeitReason:     receipt.ForfeitReason,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "settlement_id"}}, DoNothing: true}).
		Create(row).Error
}

// ListByOwner returns the owner's settlements, newest first.
func (s *Store) ListByOwner(ctx context.Context, owner [20]byte, limit int) ([]*staking.Receipt, error) {
	if s == nil {
		return nil, fmt.Errorf("history: store not configured")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	var rows []Settlement
	err := s.db.WithContext(ctx).
		Where("owner = ?", crypto.AddressFromArray(crypto.OwnerPrefix, owner).String()).
		Order("settled_at DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	out := make([]*staking.Receipt, 0, len(rows))
	for i := range rows {
		receipt, err := rows[i].toReceipt()
		if err != nil {
			return nil, err
		}
		out = append(out, receipt)
	}
	return out, nil
}

// Count returns the number of indexed settlements for an operation, or all of
// them when op is empty.
func (s *Store) Count(ctx context.Context, op staking.Operation) (int64, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&Settlement{})
	if op != "" {
		query = query.Where("operation = ?", string(op))
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return count, nil
}

func (row *Settlement) toReceipt() (*staking.Receipt, error) {
	owner, err := crypto.DecodeOwner(row.Owner)
	if err != nil {
		return nil, fmt.Errorf("history: settlement %s: %w", row.SettlementID, err)
	}
	receipt := &staking.Receipt{
		ID:            row.SettlementID,
		Operation:     staking.Operation(row.Operation),
		Owner:         owner.Array(),
		ConfigVersion: row.ConfigVersion,
		SettledAt:     row.SettledAt.Unix(),
		Status:        staking.StatusCommitted,
		ForfeitReason: row.ForfeitReason,
	}
	forfeited := row.ForfeitedRaw
	if forfeited == "" {
		forfeited = "0"
	}
	fields := []struct {
		text string
		dst  *uint64
	}{
		{row.AmountRaw, &receipt.AmountRaw},
		{row.RewardRaw, &receipt.RewardRaw},
		{row.StakedAfterRaw, &receipt.StakedAfterRaw},
		{row.TotalHarvestedRaw, &receipt.TotalHarvestedRaw},
		{forfeited, &receipt.ForfeitedRaw},
	}
	for _, field := range fields {
		value, err := strconv.ParseUint(field.text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("history: settlement %s: %w", row.SettlementID, err)
		}
		*field.dst = value
	}
	return receipt, nil
}
