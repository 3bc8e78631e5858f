package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PaymentAttempt is the transient reconciliation state of one initiated
// payment. It lives in redis for the payment window only; the booking record
// remains the durable source of truth.
type PaymentAttempt struct {
	BookingID string
	Provider  string
	Ref       string
	StartedAt time.Time
	Polls     int
}

type AttemptStore struct {
	redis *redis.Client
}

func NewAttemptStore(redisClient *redis.Client) *AttemptStore {
	return &AttemptStore{redis: redisClient}
}

// attemptTTL outlives any realistic payment window; Finish removes the key
// well before this fires.
const attemptTTL = 24 * time.Hour

func attemptKey(bookingID string) string {
	return fmt.Sprintf("attempt:%s", bookingID)
}

func (s *AttemptStore) Start(ctx context.Context, bookingID, provider, ref string) error {
	key := attemptKey(bookingID)

	if err := s.redis.HSet(ctx, key,
		"booking_id", bookingID,
		"provider", provider,
		"ref", ref,
		"started_at", strconv.FormatInt(time.Now().Unix(), 10),
		"polls", "0",
	).Err(); err != nil {
		return fmt.Errorf("attemptStore.Start: %w", err)
	}
	if err := s.redis.Expire(ctx, key, attemptTTL).Err(); err != nil {
		return fmt.Errorf("attemptStore.Start: expire: %w", err)
	}

	return nil
}

// IncrPolls bumps the poll counter and returns the new value.
func (s *AttemptStore) IncrPolls(ctx context.Context, bookingID string) (int64, error) {
	n, err := s.redis.HIncrBy(ctx, attemptKey(bookingID), "polls", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("attemptStore.IncrPolls: %w", err)
	}
	return n, nil
}

func (s *AttemptStore) Get(ctx context.Context, bookingID string) (*PaymentAttempt, error) {
	data, err := s.redis.HGetAll(ctx, attemptKey(bookingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("attemptStore.Get: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	attempt := &PaymentAttempt{
		BookingID: data["booking_id"],
		Provider:  data["provider"],
		Ref:       data["ref"],
	}
	if ts, err := strconv.ParseInt(data["started_at"], 10, 64); err == nil {
		attempt.StartedAt = time.Unix(ts, 0)
	}
	if polls, err := strconv.Atoi(data["polls"]); err == nil {
		attempt.Polls = polls
	}

	return attempt, nil
}

// Finish drops the attempt once the booking reached a terminal status.
func (s *AttemptStore) Finish(ctx context.Context, bookingID string) error {
	if err := s.redis.Del(ctx, attemptKey(bookingID)).Err(); err != nil {
		return fmt.Errorf("attemptStore.Finish: %w", err)
	}
	return nil
}

func statusCacheKey(bookingID string) string {
	return fmt.Sprintf("booking_status:%s", bookingID)
}

// CacheStatus absorbs UI status polling with a short-lived redis entry.
func (s *AttemptStore) CacheStatus(ctx context.Context, bookingID, paymentStatus string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, statusCacheKey(bookingID), paymentStatus, ttl).Err(); err != nil {
		return fmt.Errorf("attemptStore.CacheStatus: %w", err)
	}
	return nil
}

// CachedStatus returns the cached payment status, or "" on a miss.
func (s *AttemptStore) CachedStatus(ctx context.Context, bookingID string) (string, error) {
	val, err := s.redis.Get(ctx, statusCacheKey(bookingID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("attemptStore.CachedStatus: %w", err)
	}
	return val, nil
}

// InvalidateStatus drops the cached status after a transition so the UI sees
// terminal states immediately.
func (s *AttemptStore) InvalidateStatus(ctx context.Context, bookingID string) error {
	if err := s.redis.Del(ctx, statusCacheKey(bookingID)).Err(); err != nil {
		return fmt.Errorf("attemptStore.InvalidateStatus: %w", err)
	}
	return nil
}
