package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tikiti/internal/status"
	"tikiti/models"

	"github.com/pocketbase/dbx"
	"github.com/shopspring/decimal"
)

// BookingRepo persists bookings. Status changes go through compare-and-set
// updates; the payment status column is the single source of truth for the
// reconciliation race.
type BookingRepo struct {
	db dbx.Builder
}

func NewBookingRepo(db dbx.Builder) *BookingRepo {
	return &BookingRepo{db: db}
}

const timeLayout = time.RFC3339Nano

type bookingRow struct {
	ID              string          `db:"id"`
	EventID         string          `db:"event_id"`
	CustomerName    string          `db:"customer_name"`
	CustomerEmail   string          `db:"customer_email"`
	CustomerPhone   string          `db:"customer_phone"`
	Quantity        int             `db:"quantity"`
	TotalPrice      decimal.Decimal `db:"total_price"`
	PaymentStatus   string          `db:"payment_status"`
	PaymentMethod   string          `db:"payment_method"`
	ProviderRef     string          `db:"provider_ref"`
	CommissionFee   decimal.Decimal `db:"commission_fee"`
	OrganizerAmount decimal.Decimal `db:"organizer_amount"`
	CommissionRate  decimal.Decimal `db:"commission_rate"`
	PayoutStatus    string          `db:"payout_status"`
	PayoutRef       string          `db:"payout_ref"`
	Created         string          `db:"created"`
	Completed       string          `db:"completed"`
}

func (row *bookingRow) toModel() (*models.Booking, error) {
	created, err := time.Parse(timeLayout, row.Created)
	if err != nil {
		return nil, fmt.Errorf("bookingRow: parse created: %w", err)
	}

	b := &models.Booking{
		ID:              row.ID,
		EventID:         row.EventID,
		CustomerName:    row.CustomerName,
		CustomerEmail:   row.CustomerEmail,
		CustomerPhone:   row.CustomerPhone,
		Quantity:        row.Quantity,
		TotalPrice:      row.TotalPrice,
		PaymentStatus:   row.PaymentStatus,
		PaymentMethod:   row.PaymentMethod,
		ProviderRef:     row.ProviderRef,
		CommissionFee:   row.CommissionFee,
		OrganizerAmount: row.OrganizerAmount,
		CommissionRate:  row.CommissionRate,
		PayoutStatus:    row.PayoutStatus,
		PayoutRef:       row.PayoutRef,
		CreatedAt:       created,
	}
	if row.Completed != "" {
		completed, err := time.Parse(timeLayout, row.Completed)
		if err != nil {
			return nil, fmt.Errorf("bookingRow: parse completed: %w", err)
		}
		b.CompletedAt = &completed
	}

	return b, nil
}

var bookingCols = []string{
	"id", "event_id", "customer_name", "customer_email", "customer_phone",
	"quantity", "total_price", "payment_status", "payment_method",
	"provider_ref", "commission_fee", "organizer_amount", "commission_rate",
	"payout_status", "payout_ref", "created", "completed",
}

func (r *BookingRepo) Create(ctx context.Context, b *models.Booking) error {
	_, err := r.db.Insert("bookings", dbx.Params{
		"id":               b.ID,
		"event_id":         b.EventID,
		"customer_name":    b.CustomerName,
		"customer_email":   b.CustomerEmail,
		"customer_phone":   b.CustomerPhone,
		"quantity":         b.Quantity,
		"total_price":      b.TotalPrice.String(),
		"payment_status":   b.PaymentStatus,
		"payment_method":   b.PaymentMethod,
		"provider_ref":     b.ProviderRef,
		"commission_fee":   b.CommissionFee.String(),
		"organizer_amount": b.OrganizerAmount.String(),
		"commission_rate":  b.CommissionRate.String(),
		"payout_status":    b.PayoutStatus,
		"payout_ref":       b.PayoutRef,
		"created":          b.CreatedAt.UTC().Format(timeLayout),
		"completed":        "",
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("bookingRepo.Create: %w", err)
	}

	return nil
}

func (r *BookingRepo) get(ctx context.Context, where dbx.Expression) (*models.Booking, error) {
	var row bookingRow
	err := r.db.Select(bookingCols...).
		From("bookings").
		Where(where).
		WithContext(ctx).
		One(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, status.ErrBookingNotFound
		}
		return nil, fmt.Errorf("bookingRepo.get: %w", err)
	}

	return row.toModel()
}

func (r *BookingRepo) Get(ctx context.Context, id string) (*models.Booking, error) {
	return r.get(ctx, dbx.HashExp{"id": id})
}

// GetByProviderRef matches a webhook's correlation id to its booking.
func (r *BookingRepo) GetByProviderRef(ctx context.Context, ref string) (*models.Booking, error) {
	return r.get(ctx, dbx.HashExp{"provider_ref": ref})
}

// GetByPayoutRef matches a payout result callback to its booking.
func (r *BookingRepo) GetByPayoutRef(ctx context.Context, ref string) (*models.Booking, error) {
	return r.get(ctx, dbx.HashExp{"payout_ref": ref})
}

// MarkProcessing records the correlation id and moves pending -> processing.
func (r *BookingRepo) MarkProcessing(ctx context.Context, id, providerRef string) error {
	applied, err := r.cas(ctx, `
		UPDATE bookings
		SET payment_status = {:to}, provider_ref = {:ref}
		WHERE id = {:id} AND payment_status = {:from}
	`, dbx.Params{
		"to": models.PaymentProcessing, "ref": providerRef,
		"id": id, "from": models.PaymentPending,
	})
	if err != nil {
		return fmt.Errorf("bookingRepo.MarkProcessing: %w", err)
	}
	if !applied {
		return fmt.Errorf("bookingRepo.MarkProcessing: booking %s not pending", id)
	}

	return nil
}

// MarkInitiationFailed moves pending -> failed, used when the provider
// rejects initiation outright.
func (r *BookingRepo) MarkInitiationFailed(ctx context.Context, id string) error {
	applied, err := r.cas(ctx, `
		UPDATE bookings
		SET payment_status = {:to}
		WHERE id = {:id} AND payment_status = {:from}
	`, dbx.Params{"to": models.PaymentFailed, "id": id, "from": models.PaymentPending})
	if err != nil {
		return fmt.Errorf("bookingRepo.MarkInitiationFailed: %w", err)
	}
	if !applied {
		return fmt.Errorf("bookingRepo.MarkInitiationFailed: booking %s not pending", id)
	}

	return nil
}

// CompleteCAS transitions processing -> completed together with the
// commission breakdown and completion timestamp, in one conditional UPDATE.
// It returns false when the booking already left processing: the caller is
// holding a duplicate signal and must discard it.
func (r *BookingRepo) CompleteCAS(ctx context.Context, id string, fee, organizer, rate decimal.Decimal, completedAt time.Time) (bool, error) {
	applied, err := r.cas(ctx, `
		UPDATE bookings
		SET payment_status = {:to},
		    commission_fee = {:fee},
		    organizer_amount = {:organizer},
		    commission_rate = {:rate},
		    completed = {:completed}
		WHERE id = {:id} AND payment_status = {:from}
	`, dbx.Params{
		"to":        models.PaymentCompleted,
		"fee":       fee.String(),
		"organizer": organizer.String(),
		"rate":      rate.String(),
		"completed": completedAt.UTC().Format(timeLayout),
		"id":        id,
		"from":      models.PaymentProcessing,
	})
	if err != nil {
		return false, fmt.Errorf("bookingRepo.CompleteCAS: %w", err)
	}

	return applied, nil
}

// FailCAS transitions processing -> failed. Same duplicate-signal contract as
// CompleteCAS.
func (r *BookingRepo) FailCAS(ctx context.Context, id string) (bool, error) {
	applied, err := r.cas(ctx, `
		UPDATE bookings
		SET payment_status = {:to}
		WHERE id = {:id} AND payment_status = {:from}
	`, dbx.Params{"to": models.PaymentFailed, "id": id, "from": models.PaymentProcessing})
	if err != nil {
		return false, fmt.Errorf("bookingRepo.FailCAS: %w", err)
	}

	return applied, nil
}

// SetPayoutPending attaches a payout attempt to a completed booking.
func (r *BookingRepo) SetPayoutPending(ctx context.Context, id, payoutRef string) error {
	_, err := r.db.NewQuery(`
		UPDATE bookings
		SET payout_status = {:st}, payout_ref = {:ref}
		WHERE id = {:id} AND payment_status = {:completed}
	`).Bind(dbx.Params{
		"st": models.PayoutPending, "ref": payoutRef,
		"id": id, "completed": models.PaymentCompleted,
	}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("bookingRepo.SetPayoutPending: %w", err)
	}

	return nil
}

// ResolvePayoutCAS settles a pending payout exactly once.
func (r *BookingRepo) ResolvePayoutCAS(ctx context.Context, id, payoutStatus string) (bool, error) {
	applied, err := r.cas(ctx, `
		UPDATE bookings
		SET payout_status = {:to}
		WHERE id = {:id} AND payout_status = {:from}
	`, dbx.Params{"to": payoutStatus, "id": id, "from": models.PayoutPending})
	if err != nil {
		return false, fmt.Errorf("bookingRepo.ResolvePayoutCAS: %w", err)
	}

	return applied, nil
}

// MarkPayoutFailed forces payout_failed regardless of current payout state,
// used when payout initiation itself errors.
func (r *BookingRepo) MarkPayoutFailed(ctx context.Context, id string) error {
	_, err := r.db.NewQuery(`
		UPDATE bookings SET payout_status = {:st} WHERE id = {:id}
	`).Bind(dbx.Params{"st": models.PayoutFailed, "id": id}).WithContext(ctx).Execute()
	if err != nil {
		return fmt.Errorf("bookingRepo.MarkPayoutFailed: %w", err)
	}

	return nil
}

// ListProcessing returns bookings awaiting reconciliation, oldest first. Used
// to restart poll watchers after a crash.
func (r *BookingRepo) ListProcessing(ctx context.Context) ([]*models.Booking, error) {
	bookings, err := r.listByStatus(ctx, models.PaymentProcessing)
	if err != nil {
		return nil, fmt.Errorf("bookingRepo.ListProcessing: %w", err)
	}
	return bookings, nil
}

// ListPending returns bookings that never recorded a processing transition,
// oldest first. The startup sweep uses it to find bookings stranded between
// initiation and the correlation-id write.
func (r *BookingRepo) ListPending(ctx context.Context) ([]*models.Booking, error) {
	bookings, err := r.listByStatus(ctx, models.PaymentPending)
	if err != nil {
		return nil, fmt.Errorf("bookingRepo.ListPending: %w", err)
	}
	return bookings, nil
}

func (r *BookingRepo) listByStatus(ctx context.Context, paymentStatus string) ([]*models.Booking, error) {
	var rows []bookingRow
	err := r.db.Select(bookingCols...).
		From("bookings").
		Where(dbx.HashExp{"payment_status": paymentStatus}).
		OrderBy("created ASC").
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, err
	}

	bookings := make([]*models.Booking, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}

	return bookings, nil
}

func (r *BookingRepo) cas(ctx context.Context, query string, params dbx.Params) (bool, error) {
	res, err := r.db.NewQuery(query).Bind(params).WithContext(ctx).Execute()
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}
