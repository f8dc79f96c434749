package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/metrics"
	"github.com/cwrk-planet/deal-chat/pkg/logger"
)

const (
	DefaultIdleTimeout = 5 * time.Minute
	DefaultInterval    = 30 * time.Second
	DefaultBatchSize   = 500
)

// Store — часть RoomStore, нужная reaper'у.
type Store interface {
	IdleCandidates(ctx context.Context, cutoff time.Time, limit int) ([]domain.Room, error)
	CloseIdle(ctx context.Context, roomID string, cutoff time.Time) (*domain.Room, bool, error)
	TouchActivity(ctx context.Context, roomID, userID string) error
}

// Presence — живое присутствие считается активностью покупателя.
type Presence interface {
	IsOnline(roomID, userID string) bool
}

type Config struct {
	IdleTimeout time.Duration
	Interval    time.Duration
	BatchSize   int
	// DryRun — только отчёт, без закрытия.
	DryRun bool
}

type Action string

const (
	ActionClosed      Action = "closed"
	ActionWouldClose  Action = "would_close"
	ActionBuyerOnline Action = "skipped_online"
	ActionBuyerActive Action = "skipped_active"
	ActionCloseFailed Action = "failed"
)

type Candidate struct {
	Room   domain.Room
	Idle   time.Duration
	Action Action
}

// Result — отчёт одного прохода.
type Result struct {
	Cutoff     time.Time
	Candidates []Candidate
	Closed     int
}

// Reaper закрывает активные комнаты, где покупатель молчит дольше IdleTimeout.
type Reaper struct {
	store    Store
	presence Presence
	cfg      Config
	now      func() time.Time
	log      *slog.Logger
}

// presence может быть nil (одноразовый запуск из CLI: живых соединений нет).
func New(store Store, presence Presence, cfg Config) *Reaper {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Reaper{
		store:    store,
		presence: presence,
		cfg:      cfg,
		now:      time.Now,
		log:      logger.Component("reaper"),
	}
}

// Run выполняет Sweep каждые Interval до отмены ctx.
func (r *Reaper) Run(ctx context.Context) error {
	r.log.Info("started", "interval", r.cfg.Interval, "idle_timeout", r.cfg.IdleTimeout, "dry_run", r.cfg.DryRun)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("stopped")
			return nil
		case <-ticker.C:
			res, err := r.Sweep(ctx, r.now())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				r.log.Error("sweep failed", "err", err)
				continue
			}
			if res.Closed > 0 {
				r.log.Info("idle rooms closed", "count", res.Closed)
			}
		}
	}
}

// Sweep — один проход. Закрытие условное: комната, где покупатель успел
// проявить активность после выборки, остаётся открытой до следующего прохода.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (Result, error) {
	now = now.UTC()
	cutoff := now.Add(-r.cfg.IdleTimeout)
	res := Result{Cutoff: cutoff}

	rooms, err := r.store.IdleCandidates(ctx, cutoff, r.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	for _, room := range rooms {
		c := Candidate{Room: room, Idle: now.Sub(room.BuyerLastActivity)}

		switch {
		case r.presence != nil && r.presence.IsOnline(room.ID, room.BuyerID):
			c.Action = ActionBuyerOnline
			metrics.ReaperSkipped.WithLabelValues(string(c.Action)).Inc()
			if !r.cfg.DryRun {
				if err := r.store.TouchActivity(ctx, room.ID, room.BuyerID); err != nil {
					r.log.Warn("touch online buyer", "room", room.ID, "err", err)
				}
			}

		case r.cfg.DryRun:
			c.Action = ActionWouldClose

		default:
			closed, changed, err := r.store.CloseIdle(ctx, room.ID, cutoff)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return res, ctx.Err()
				}
				c.Action = ActionCloseFailed
				r.log.Warn("close idle room", "room", room.ID, "err", err)
			case changed:
				c.Action = ActionClosed
				c.Room = *closed
				res.Closed++
				metrics.ReaperClosed.Inc()
				r.log.Info("room closed for inactivity", "room", room.ID, "buyer", room.BuyerID, "idle", c.Idle)
			default:
				c.Action = ActionBuyerActive
				metrics.ReaperSkipped.WithLabelValues(string(c.Action)).Inc()
				r.log.Debug("room deferred to next sweep", "room", room.ID)
			}
		}
		res.Candidates = append(res.Candidates, c)
	}

	metrics.ReaperSweeps.Inc()
	return res, nil
}
