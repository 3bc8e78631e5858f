package repo

import (
	"context"
	"fmt"
	"time"

	"tikiti/models"

	"github.com/pocketbase/dbx"
)

type TicketRepo struct {
	db dbx.Builder
}

func NewTicketRepo(db dbx.Builder) *TicketRepo {
	return &TicketRepo{db: db}
}

type ticketRow struct {
	ID        string `db:"id"`
	BookingID string `db:"booking_id"`
	EventID   string `db:"event_id"`
	Seq       int    `db:"seq"`
	Code      string `db:"code"`
	Scanned   bool   `db:"scanned"`
	ScannedAt string `db:"scanned_at"`
	ScannedBy string `db:"scanned_by"`
	Created   string `db:"created"`
}

func (row *ticketRow) toModel() (*models.Ticket, error) {
	created, err := time.Parse(timeLayout, row.Created)
	if err != nil {
		return nil, fmt.Errorf("ticketRow: parse created: %w", err)
	}

	t := &models.Ticket{
		ID:        row.ID,
		BookingID: row.BookingID,
		EventID:   row.EventID,
		Seq:       row.Seq,
		Code:      row.Code,
		Scanned:   row.Scanned,
		ScannedBy: row.ScannedBy,
		CreatedAt: created,
	}
	if row.ScannedAt != "" {
		scannedAt, err := time.Parse(timeLayout, row.ScannedAt)
		if err != nil {
			return nil, fmt.Errorf("ticketRow: parse scanned_at: %w", err)
		}
		t.ScannedAt = &scannedAt
	}

	return t, nil
}

func (r *TicketRepo) Create(ctx context.Context, t *models.Ticket) error {
	_, err := r.db.Insert("tickets", dbx.Params{
		"id":         t.ID,
		"booking_id": t.BookingID,
		"event_id":   t.EventID,
		"seq":        t.Seq,
		"code":       t.Code,
		"scanned":    t.Scanned,
		"scanned_at": "",
		"scanned_by": t.ScannedBy,
		"created":    t.CreatedAt.UTC().Format(timeLayout),
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("ticketRepo.Create: %w", err)
	}

	return nil
}

// ListByBooking returns a booking's tickets in sequence order.
func (r *TicketRepo) ListByBooking(ctx context.Context, bookingID string) ([]*models.Ticket, error) {
	var rows []ticketRow
	err := r.db.Select("id", "booking_id", "event_id", "seq", "code", "scanned", "scanned_at", "scanned_by", "created").
		From("tickets").
		Where(dbx.HashExp{"booking_id": bookingID}).
		OrderBy("seq ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("ticketRepo.ListByBooking: %w", err)
	}

	tickets := make([]*models.Ticket, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}

	return tickets, nil
}

// CodeExists reports whether a scan code is already taken.
func (r *TicketRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := r.db.Select("COUNT(*)").
		From("tickets").
		Where(dbx.HashExp{"code": code}).
		WithContext(ctx).
		Row(&n)
	if err != nil {
		return false, fmt.Errorf("ticketRepo.CodeExists: %w", err)
	}

	return n > 0, nil
}
