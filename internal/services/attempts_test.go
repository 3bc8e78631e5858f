package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAttemptStore() (*AttemptStore, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewAttemptStore(db), mock
}

func TestAttemptStore_Start(t *testing.T) {
	store, mock := setupAttemptStore()
	defer mock.ClearExpect()

	mock.Regexp().ExpectHSet("attempt:bk1",
		"booking_id", "bk1",
		"provider", "mpesa",
		"ref", "ws_CO_123",
		"started_at", `^\d+$`,
		"polls", "0",
	).SetVal(5)
	mock.ExpectExpire("attempt:bk1", 24*time.Hour).SetVal(true)

	err := store.Start(context.Background(), "bk1", "mpesa", "ws_CO_123")

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptStore_IncrPolls(t *testing.T) {
	store, mock := setupAttemptStore()
	defer mock.ClearExpect()

	mock.ExpectHIncrBy("attempt:bk1", "polls", 1).SetVal(3)

	n, err := store.IncrPolls(context.Background(), "bk1")

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptStore_Get(t *testing.T) {
	store, mock := setupAttemptStore()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("attempt:bk1").SetVal(map[string]string{
		"booking_id": "bk1",
		"provider":   "pesapal",
		"ref":        "track-42",
		"started_at": "1700000000",
		"polls":      "4",
	})

	attempt, err := store.Get(context.Background(), "bk1")

	require.NoError(t, err)
	require.NotNil(t, attempt)
	assert.Equal(t, "pesapal", attempt.Provider)
	assert.Equal(t, "track-42", attempt.Ref)
	assert.Equal(t, 4, attempt.Polls)
	assert.Equal(t, int64(1700000000), attempt.StartedAt.Unix())
}

func TestAttemptStore_Get_Missing(t *testing.T) {
	store, mock := setupAttemptStore()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("attempt:gone").SetVal(map[string]string{})

	attempt, err := store.Get(context.Background(), "gone")

	require.NoError(t, err)
	assert.Nil(t, attempt)
}

func TestAttemptStore_Finish(t *testing.T) {
	store, mock := setupAttemptStore()
	defer mock.ClearExpect()

	mock.ExpectDel("attempt:bk1").SetVal(1)

	assert.NoError(t, store.Finish(context.Background(), "bk1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptStore_StatusCache(t *testing.T) {
	store, mock := setupAttemptStore()
	defer mock.ClearExpect()

	mock.ExpectSet("booking_status:bk1", "processing", 2*time.Second).SetVal("OK")
	mock.ExpectGet("booking_status:bk1").SetVal("processing")
	mock.ExpectDel("booking_status:bk1").SetVal(1)
	mock.ExpectGet("booking_status:bk1").RedisNil()

	require.NoError(t, store.CacheStatus(context.Background(), "bk1", "processing", 2*time.Second))

	val, err := store.CachedStatus(context.Background(), "bk1")
	require.NoError(t, err)
	assert.Equal(t, "processing", val)

	require.NoError(t, store.InvalidateStatus(context.Background(), "bk1"))

	val, err = store.CachedStatus(context.Background(), "bk1")
	require.NoError(t, err)
	assert.Equal(t, "", val, "cache miss reads as empty, not an error")

	assert.NoError(t, mock.ExpectationsWereMet())
}
