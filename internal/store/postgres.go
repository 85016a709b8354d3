package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketpipe/internal/record"
)

// row is the market_records table layout.
type row struct {
	Symbol         string  `gorm:"primaryKey;size:32"`
	ObservedAt     int64   `gorm:"primaryKey;autoIncrement:false"`
	PriceUSD       float64 `gorm:"column:price_usd"`
	MarketCap      float64
	Volume24h      float64 `gorm:"column:volume_24h"`
	PriceChange24h float64 `gorm:"column:price_change_24h"`
	CapturedAt     string  `gorm:"size:40"`
	Source         string  `gorm:"size:64"`
}

func (row) TableName() string { return "market_records" }

func toRow(r record.CanonicalRecord) row {
	return row{
		Symbol:         r.Symbol,
		ObservedAt:     r.ObservedAt,
		PriceUSD:       r.PriceUSD,
		MarketCap:      r.MarketCap,
		Volume24h:      r.Volume24h,
		PriceChange24h: r.PriceChange24h,
		CapturedAt:     r.CapturedAt,
		Source:         r.Source,
	}
}

func (r row) record() record.CanonicalRecord {
	return record.CanonicalRecord{
		Symbol:         r.Symbol,
		PriceUSD:       r.PriceUSD,
		MarketCap:      r.MarketCap,
		Volume24h:      r.Volume24h,
		PriceChange24h: r.PriceChange24h,
		ObservedAt:     r.ObservedAt,
		CapturedAt:     r.CapturedAt,
		Source:         r.Source,
	}
}

// Postgres is the Durable backed by a market_records table.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates or updates the market_records table.
func (p *Postgres) Migrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&row{})
}

func (p *Postgres) Put(ctx context.Context, rec record.CanonicalRecord) error {
	r := toRow(rec)
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "observed_at"}},
			UpdateAll: true,
		}).
		Create(&r).Error
	if err != nil {
		return fmt.Errorf("upsert %s@%d: %w", rec.Symbol, rec.ObservedAt, err)
	}
	return nil
}

func (p *Postgres) Latest(ctx context.Context, symbol string) (record.CanonicalRecord, bool, error) {
	var rows []row
	err := p.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("observed_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return record.CanonicalRecord{}, false, fmt.Errorf("latest %s: %w", symbol, err)
	}
	if len(rows) == 0 {
		return record.CanonicalRecord{}, false, nil
	}
	return rows[0].record(), true, nil
}

func (p *Postgres) Range(ctx context.Context, symbol string, from, to time.Time, limit int) ([]record.CanonicalRecord, error) {
	var rows []row
	err := p.db.WithContext(ctx).
		Where("symbol = ? AND observed_at BETWEEN ? AND ?", symbol, from.Unix(), to.Unix()).
		Order("observed_at DESC").
		Limit(clampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", symbol, err)
	}
	out := make([]record.CanonicalRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// Ping checks the connection pool.
func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
