package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tikiti/internal/status"
	"tikiti/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

// EventRepo is the inventory ledger. Reserve and Release are the only writers
// of an event's remaining counter.
type EventRepo struct {
	db dbx.Builder
}

func NewEventRepo(db dbx.Builder) *EventRepo {
	return &EventRepo{db: db}
}

type eventRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Description string          `db:"description"`
	Venue       string          `db:"venue"`
	TotalSeats  int             `db:"total_seats"`
	Remaining   int             `db:"remaining"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Status      string          `db:"status"`
	Organizer   string          `db:"organizer_phone"`
}

func (r *EventRepo) Get(ctx context.Context, id string) (*models.Event, error) {
	var row eventRow
	err := r.db.Select("id", "name", "description", "venue", "total_seats", "remaining", "unit_price", "status", "organizer_phone").
		From("events").
		Where(dbx.HashExp{"id": id}).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrUnknownEvent
		}
		return nil, fmt.Errorf("eventRepo.Get: %w", err)
	}

	return &models.Event{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Venue:       row.Venue,
		TotalSeats:  row.TotalSeats,
		Remaining:   row.Remaining,
		UnitPrice:   row.UnitPrice,
		Status:      row.Status,

		OrganizerPhone: row.Organizer,
	}, nil
}

// Reserve atomically decrements remaining capacity. The availability check
// and the decrement are one conditional UPDATE, so two concurrent bookings
// can never both take the last seat.
func (r *EventRepo) Reserve(ctx context.Context, eventID string, quantity int) error {
	if quantity <= 0 {
		return status.ErrInvalidQuantity
	}

	res, err := r.db.NewQuery(`
		UPDATE events
		SET remaining = remaining - {:qty}
		WHERE id = {:id} AND remaining >= {:qty}
	`).Bind(dbx.Params{"qty": quantity, "id": eventID}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("eventRepo.Reserve: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("eventRepo.Reserve: RowsAffected: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, eventID); err != nil {
			return err
		}
		return status.ErrInsufficientInventory
	}

	return nil
}

// Release returns a reservation to the pool, capped at total capacity.
func (r *EventRepo) Release(ctx context.Context, eventID string, quantity int) error {
	if quantity <= 0 {
		return status.ErrInvalidQuantity
	}

	_, err := r.db.NewQuery(`
		UPDATE events
		SET remaining = MIN(total_seats, remaining + {:qty})
		WHERE id = {:id}
	`).Bind(dbx.Params{"qty": quantity, "id": eventID}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("eventRepo.Release: %w", err)
	}

	return nil
}
