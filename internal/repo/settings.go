package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tikiti/models"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

type SettingsRepo struct {
	db dbx.Builder
}

func NewSettingsRepo(db dbx.Builder) *SettingsRepo {
	return &SettingsRepo{db: db}
}

type settingsRow struct {
	ID         string          `db:"id"`
	Rate       decimal.Decimal `db:"rate"`
	MinimumFee decimal.Decimal `db:"minimum_fee"`
	MaximumFee decimal.Decimal `db:"maximum_fee"`
	Active     bool            `db:"active"`
}

// Current returns the commission settings record. A missing record behaves
// like inactive settings (no fee).
func (r *SettingsRepo) Current(ctx context.Context) (*models.CommissionSettings, error) {
	var row settingsRow
	err := r.db.Select("id", "rate", "minimum_fee", "maximum_fee", "active").
		From("commission_settings").
		Limit(1).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.CommissionSettings{Active: false}, nil
		}
		return nil, fmt.Errorf("settingsRepo.Current: %w", err)
	}

	return &models.CommissionSettings{
		ID:         row.ID,
		Rate:       row.Rate,
		MinimumFee: row.MinimumFee,
		MaximumFee: row.MaximumFee,
		Active:     row.Active,
	}, nil
}

// EnsureDefault seeds the singleton settings record on first boot.
func (r *SettingsRepo) EnsureDefault(ctx context.Context, s *models.CommissionSettings) error {
	var n int
	err := r.db.Select("COUNT(*)").From("commission_settings").WithContext(ctx).Row(&n)
	if err != nil {
		return fmt.Errorf("settingsRepo.EnsureDefault: %w", err)
	}
	if n > 0 {
		return nil
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err = r.db.Insert("commission_settings", dbx.Params{
		"id":          s.ID,
		"rate":        s.Rate.String(),
		"minimum_fee": s.MinimumFee.String(),
		"maximum_fee": s.MaximumFee.String(),
		"active":      s.Active,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("settingsRepo.EnsureDefault: insert: %w", err)
	}

	return nil
}

// Update replaces the fee configuration. Completed bookings keep the
// breakdown persisted at their completion time.
func (r *SettingsRepo) Update(ctx context.Context, s *models.CommissionSettings) error {
	if s.ID == "" {
		current, err := r.Current(ctx)
		if err != nil {
			return err
		}
		if current.ID == "" {
			return r.EnsureDefault(ctx, s)
		}
		s.ID = current.ID
	}

	_, err := r.db.Update("commission_settings", dbx.Params{
		"rate":        s.Rate.String(),
		"minimum_fee": s.MinimumFee.String(),
		"maximum_fee": s.MaximumFee.String(),
		"active":      s.Active,
	}, dbx.HashExp{"id": s.ID}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("settingsRepo.Update: %w", err)
	}

	return nil
}
