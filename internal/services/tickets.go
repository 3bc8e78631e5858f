package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tikiti/models"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v3"
)

// TicketStore is the persistence surface the issuer needs.
type TicketStore interface {
	Create(ctx context.Context, t *models.Ticket) error
	ListByBooking(ctx context.Context, bookingID string) ([]*models.Ticket, error)
	CodeExists(ctx context.Context, code string) (bool, error)
}

type TicketService struct {
	tickets TicketStore
	logger  *slog.Logger
}

func NewTicketService(tickets TicketStore, logger *slog.Logger) *TicketService {
	return &TicketService{tickets: tickets, logger: logger}
}

// IssueTickets creates one ticket per paid seat, sequence 1..quantity, each
// with a fresh globally unique scan code. Idempotent at the booking level: an
// earlier full or partial issuance is detected and topped up, never
// duplicated.
func (s *TicketService) IssueTickets(ctx context.Context, booking *models.Booking) ([]*models.Ticket, error) {
	existing, err := s.tickets.ListByBooking(ctx, booking.ID)
	if err != nil {
		return nil, fmt.Errorf("issueTickets: %w", err)
	}
	if len(existing) >= booking.Quantity {
		if len(existing) > booking.Quantity {
			s.logger.Error("booking has more tickets than seats",
				"bookingId", booking.ID, "tickets", len(existing), "quantity", booking.Quantity)
		}
		return existing, nil
	}

	if len(existing) > 0 {
		s.logger.Warn("resuming partial ticket issuance",
			"bookingId", booking.ID, "have", len(existing), "want", booking.Quantity)
	}

	issued := existing
	for seq := len(existing) + 1; seq <= booking.Quantity; seq++ {
		code, err := s.freshCode(ctx)
		if err != nil {
			return issued, fmt.Errorf("issueTickets: %w", err)
		}

		t := &models.Ticket{
			ID:        uuid.NewString(),
			BookingID: booking.ID,
			EventID:   booking.EventID,
			Seq:       seq,
			Code:      code,
			CreatedAt: time.Now(),
		}
		if err := s.tickets.Create(ctx, t); err != nil {
			return issued, fmt.Errorf("issueTickets: seq %d: %w", seq, err)
		}
		issued = append(issued, t)
	}

	return issued, nil
}

// freshCode draws scan codes until one is unused. Collisions are practically
// impossible but cheap to rule out.
func (s *TicketService) freshCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code := shortuuid.New()

		taken, err := s.tickets.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}

		s.logger.Warn("scan code collision, retrying", "attempt", attempt+1)
	}

	return "", fmt.Errorf("freshCode: exhausted attempts")
}
