package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/deal-chat/internal/badgerdb"
	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/presence"
	"github.com/cwrk-planet/deal-chat/internal/service"
)

type env struct {
	store    *service.RoomStore
	presence *presence.Memory
	clock    time.Time
}

func setup(t *testing.T, listings ...string) *env {
	t.Helper()
	repo, err := badgerdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	ls := make([]domain.Listing, 0, len(listings))
	for _, id := range listings {
		ls = append(ls, domain.Listing{ID: id, SellerID: "seller"})
	}
	require.NoError(t, repo.Seed(context.Background(), ls, nil))

	e := &env{presence: presence.NewMemory(), clock: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	e.store = service.NewRoomStore(repo, nil, nil, service.Options{Now: func() time.Time { return e.clock }})
	return e
}

func (e *env) reaper(cfg Config) *Reaper {
	r := New(e.store, e.presence, cfg)
	r.now = func() time.Time { return e.clock }
	return r
}

func Test_Sweep_Closes_Only_Idle(t *testing.T) {
	req := require.New(t)
	e := setup(t, "old", "fresh")
	ctx := context.Background()

	old, _, err := e.store.GetOrCreate(ctx, "old", "buyer")
	req.NoError(err)
	e.clock = e.clock.Add(4 * time.Minute)
	fresh, _, err := e.store.GetOrCreate(ctx, "fresh", "buyer")
	req.NoError(err)

	e.clock = e.clock.Add(2 * time.Minute) // old: 6m, fresh: 2m
	res, err := e.reaper(Config{IdleTimeout: 5 * time.Minute}).Sweep(ctx, e.clock)
	req.NoError(err)
	req.Equal(1, res.Closed)
	req.Len(res.Candidates, 1)
	req.Equal(ActionClosed, res.Candidates[0].Action)

	got, err := e.store.Authorize(ctx, old.ID, "buyer")
	req.NoError(err)
	req.Equal(domain.RoomClosed, got.Status)
	req.Equal(domain.SystemActor, *got.ClosedBy)

	got, err = e.store.Authorize(ctx, fresh.ID, "buyer")
	req.NoError(err)
	req.Equal(domain.RoomActive, got.Status)
}

func Test_Sweep_Seller_Activity_Does_Not_Count(t *testing.T) {
	req := require.New(t)
	e := setup(t, "lst")
	ctx := context.Background()

	r, _, err := e.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	e.clock = e.clock.Add(4 * time.Minute)
	_, err = e.store.AppendMessage(ctx, r.ID, "seller", service.SendInput{Content: "still there?"})
	req.NoError(err)

	e.clock = e.clock.Add(2 * time.Minute)
	res, err := e.reaper(Config{}).Sweep(ctx, e.clock)
	req.NoError(err)
	req.Equal(1, res.Closed)
}

func Test_Sweep_Skips_Online_Buyer(t *testing.T) {
	req := require.New(t)
	e := setup(t, "lst")
	ctx := context.Background()

	r, _, err := e.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	e.presence.Join(r.ID, "buyer")

	e.clock = e.clock.Add(time.Hour)
	res, err := e.reaper(Config{}).Sweep(ctx, e.clock)
	req.NoError(err)
	req.Zero(res.Closed)
	req.Equal(ActionBuyerOnline, res.Candidates[0].Action)

	// присутствие продлило активность: следующий проход комнату не видит
	res, err = e.reaper(Config{}).Sweep(ctx, e.clock)
	req.NoError(err)
	req.Empty(res.Candidates)
}

func Test_Sweep_DryRun(t *testing.T) {
	req := require.New(t)
	e := setup(t, "lst")
	ctx := context.Background()

	r, _, err := e.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	e.clock = e.clock.Add(time.Hour)

	res, err := e.reaper(Config{DryRun: true}).Sweep(ctx, e.clock)
	req.NoError(err)
	req.Zero(res.Closed)
	req.Equal(ActionWouldClose, res.Candidates[0].Action)
	req.Equal(time.Hour, res.Candidates[0].Idle)

	got, err := e.store.Authorize(ctx, r.ID, "buyer")
	req.NoError(err)
	req.Equal(domain.RoomActive, got.Status)
}

type racingStore struct {
	Store
}

// CloseIdle имитирует покупателя, написавшего между выборкой и закрытием.
func (s racingStore) CloseIdle(ctx context.Context, roomID string, cutoff time.Time) (*domain.Room, bool, error) {
	if err := s.Store.TouchActivity(ctx, roomID, "buyer"); err != nil {
		return nil, false, err
	}
	return s.Store.CloseIdle(ctx, roomID, cutoff)
}

func Test_Sweep_Defers_On_Race(t *testing.T) {
	req := require.New(t)
	e := setup(t, "lst")
	ctx := context.Background()

	r, _, err := e.store.GetOrCreate(ctx, "lst", "buyer")
	req.NoError(err)
	e.clock = e.clock.Add(time.Hour)

	rp := New(racingStore{Store: e.store}, nil, Config{})
	rp.now = func() time.Time { return e.clock }
	res, err := rp.Sweep(ctx, e.clock)
	req.NoError(err)
	req.Zero(res.Closed)
	req.Equal(ActionBuyerActive, res.Candidates[0].Action)

	got, err := e.store.Authorize(ctx, r.ID, "buyer")
	req.NoError(err)
	req.Equal(domain.RoomActive, got.Status)
}

func Test_Run_Stops_On_Cancel(t *testing.T) {
	e := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.reaper(Config{Interval: 10 * time.Millisecond}).Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
