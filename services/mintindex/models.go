package mintindex

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"
)

// EraStart records a (re)started claim era.
type EraStart struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RecordKey  string    `gorm:"size:64;uniqueIndex"`
	Account    string    `gorm:"size:64;index"`
	ClaimEra   uint8     `gorm:"not null"`
	StartBlock uint64    `gorm:"not null"`
	CreatedAt  time.Time
}

// Claim records one awarded badge.
type Claim struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RecordKey string    `gorm:"size:64;uniqueIndex"`
	Account   string    `gorm:"size:64;index"`
	Badges    uint8     `gorm:"not null"`
	Height    uint64    `gorm:"index"`
	CreatedAt time.Time
}

// Mint records a confirmed Wizard mint.
type Mint struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	RecordKey string    `gorm:"size:64;uniqueIndex"`
	Account   string    `gorm:"size:64;uniqueIndex"`
	TokenID   string    `gorm:"size:80;index"`
	Mode      string    `gorm:"size:16"`
	Height    uint64    `gorm:"index"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EraStart{}, &Claim{}, &Mint{})
}

// Open connects to the index database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("mintindex: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("mintindex: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("mintindex: migrate: %w", err)
	}
	return db, nil
}

// recordKey derives a stable key from an event's type and attributes so
// replays of the same event are stored once.
func recordKey(eventType string, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := blake3.New(32, nil)
	h.Write([]byte(eventType))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(attrs[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
