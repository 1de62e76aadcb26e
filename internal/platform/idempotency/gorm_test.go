package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/houseofkezura/backend-sub000/internal/platform/config"
	"github.com/houseofkezura/backend-sub000/internal/platform/database"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(ctx, config.DatabaseConfig{
		Driver:       database.DriverSQLite,
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	store := NewGormStore(db)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestGormStoreReserveLifecycle(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key-1|user-1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State)
	require.Equal(t, StatusPending, res.Record.Status)

	res, err = store.Reserve(ctx, "key-1|user-1", "fp-1", fixedTime.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, "key-1|user-1", "fp-other", fixedTime, time.Hour)
	require.ErrorIs(t, err, ErrFingerprintMismatch)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", "11")
	require.NoError(t, store.SaveResponse(ctx, "key-1|user-1", "fp-1", Response{
		Status:  http.StatusCreated,
		Headers: header,
		Body:    []byte(`{"ok":true}`),
	}, fixedTime.Add(time.Minute), time.Hour))

	res, err = store.Reserve(ctx, "key-1|user-1", "fp-1", fixedTime.Add(2*time.Minute), time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateCompleted, res.State)
	require.Equal(t, http.StatusCreated, res.Record.ResponseStatus)
	require.Equal(t, `{"ok":true}`, string(res.Record.ResponseBody))
	require.Equal(t, []string{"application/json"}, res.Record.ResponseHeaders["Content-Type"])
	require.NotContains(t, res.Record.ResponseHeaders, "Content-Length")

	// Expired records are reserved afresh.
	res, err = store.Reserve(ctx, "key-1|user-1", "fp-1", fixedTime.Add(3*time.Hour), time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State)
}

func TestGormStoreReleaseAndCleanup(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Reserve(ctx, fmt.Sprintf("key-%d", i), "fp", fixedTime, time.Duration(i+1)*time.Hour)
		require.NoError(t, err)
	}

	require.NoError(t, store.Release(ctx, "key-0", "fp"))
	res, err := store.Reserve(ctx, "key-0", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.Equal(t, ReservationStateNew, res.State)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	cleaner := NewCleaner(store, time.Minute, 10, nil)
	cleaner.clock = func() time.Time { return fixedTime.Add(4 * time.Hour) }
	require.Equal(t, 1, cleaner.RunOnce(ctx))
}

func TestGormStoreBacksMiddleware(t *testing.T) {
	store := newTestGormStore(t)
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"01H"}`))
	}))

	for i := 0; i < 2; i++ {
		req := newCheckoutRequest(`{"email":"ada@example.com"}`, "checkout-key")
		rr := newRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
		require.JSONEq(t, `{"order_id":"01H"}`, rr.Body.String())
	}
	require.Equal(t, 1, calls)
}
