package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("system settings not found")

type Settings struct {
	CommissionRate float64   `json:"commissionRate" db:"commission_rate"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

type SettingsUp struct {
	CommissionRate *float64 `json:"commissionRate" validate:"required,gte=0,lte=100"`
}

func Fetch(ctx context.Context, db sqlx.QueryerContext) (Settings, error) {
	const q = `SELECT commission_rate, updated_at FROM system_settings WHERE settings_id = 1`

	var s Settings
	if err := sqlx.GetContext(ctx, db, &s, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Settings{}, ErrNotFound
		}
		return Settings{}, fmt.Errorf("selecting settings: %w", err)
	}
	return s, nil
}

// CommissionRate returns the platform's cut of an order, in percent.
func CommissionRate(ctx context.Context, db sqlx.QueryerContext) (float64, error) {
	s, err := Fetch(ctx, db)
	if err != nil {
		return 0, err
	}
	return s.CommissionRate, nil
}

func Update(ctx context.Context, db sqlx.ExtContext, rate float64, now time.Time) (Settings, error) {
	const q = `
	INSERT INTO system_settings (settings_id, commission_rate, updated_at)
	VALUES (1, $1, $2)
	ON CONFLICT (settings_id) DO UPDATE
	SET commission_rate = EXCLUDED.commission_rate, updated_at = EXCLUDED.updated_at
	RETURNING commission_rate, updated_at`

	var s Settings
	if err := sqlx.GetContext(ctx, db, &s, q, rate, now); err != nil {
		return Settings{}, fmt.Errorf("updating settings: %w", err)
	}
	return s, nil
}
