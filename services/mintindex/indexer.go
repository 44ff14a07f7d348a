// Package mintindex stores committed magink events in SQL for reporting.
package mintindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"magink/core"
	"magink/native/magink"
)

// Indexer consumes committed events into the database.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewIndexer(db *gorm.DB, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, logger: logger.With("component", "mintindex")}
}

// Run indexes the retained backlog and then live events until ctx ends. A
// lagging subscription is resumed from the last indexed cursor.
func (i *Indexer) Run(ctx context.Context, source core.Subscriber) error {
	err := core.Follow(ctx, source, "", func(update core.EventUpdate) {
		if err := i.Apply(ctx, update); err != nil {
			i.logger.Error("index event", "cursor", update.Cursor, "error", err)
		}
	}, func(from, to uint64) {
		i.logger.Warn("events expired before indexing", "from", from, "to", to)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mintindex: follow events: %w", err)
	}
	return err
}

// Apply stores one event. Events the index does not track are ignored and
// replays are absorbed by the record key.
func (i *Indexer) Apply(ctx context.Context, update core.EventUpdate) error {
	attrs := update.Event.Attributes
	key := recordKey(update.Event.Type, attrs)
	var record interface{}
	switch update.Event.Type {
	case magink.EventTypeEraStarted:
		era, err := parseUint(attrs["claimEra"], 8)
		if err != nil {
			return err
		}
		start, err := parseUint(attrs["startBlock"], 64)
		if err != nil {
			return err
		}
		record = &EraStart{ID: uuid.New(), RecordKey: key, Account: attrs["account"], ClaimEra: uint8(era), StartBlock: start}
	case magink.EventTypeBadgeClaimed:
		badges, err := parseUint(attrs["badges"], 8)
		if err != nil {
			return err
		}
		record = &Claim{ID: uuid.New(), RecordKey: key, Account: attrs["account"], Badges: uint8(badges), Height: update.Height}
	case magink.EventTypeWizardMinted:
		record = &Mint{
			ID:        uuid.New(),
			RecordKey: key,
			Account:   attrs["account"],
			TokenID:   attrs["tokenId"],
			Mode:      attrs["mode"],
			Height:    update.Height,
		}
	default:
		return nil
	}
	err := i.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
	if err != nil {
		return fmt.Errorf("mintindex: store %s: %w", update.Event.Type, err)
	}
	return nil
}

// Mints returns every recorded mint ordered by height.
func (i *Indexer) Mints(ctx context.Context) ([]Mint, error) {
	var mints []Mint
	if err := i.db.WithContext(ctx).Order("height asc, token_id asc").Find(&mints).Error; err != nil {
		return nil, err
	}
	return mints, nil
}

// MintFor returns the mint recorded for account.
func (i *Indexer) MintFor(ctx context.Context, account string) (*Mint, bool, error) {
	var mint Mint
	err := i.db.WithContext(ctx).Where("account = ?", account).First(&mint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &mint, true, nil
}

// ClaimsFor returns the badges claimed by account in order.
func (i *Indexer) ClaimsFor(ctx context.Context, account string) ([]Claim, error) {
	var claims []Claim
	err := i.db.WithContext(ctx).Where("account = ?", account).Order("height asc, badges asc").Find(&claims).Error
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func parseUint(value string, bits int) (uint64, error) {
	parsed, err := strconv.ParseUint(value, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("mintindex: invalid attribute %q: %w", value, err)
	}
	return parsed, nil
}
