package chat

import (
	"context"
	"fmt"
	"time"

	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
)

// DefaultReapInterval 是过期扫描的默认间隔。
const DefaultReapInterval = 60 * time.Second

// Reaper 周期性地删除过期房间，并先向房间广播 room_expired。
type Reaper struct {
	store    *Store
	bc       Broadcaster
	interval time.Duration
}

func NewReaper(store *Store, bc Broadcaster, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{store: store, bc: bc, interval: interval}
}

// Run 立即扫描一次，之后按间隔扫描，直到 ctx 结束。单次扫描失败只记录日志。
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", r.interval).Msg("reaper started")
	for {
		r.tick()
		select {
		case <-ctx.Done():
			log.Info().Msg("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reaper) tick() {
	if _, err := r.Sweep(r.store.Now()); err != nil {
		metrics.ReaperTickErrorsTotal.Inc()
		log.Error().Err(err).Msg("expiry sweep")
	}
}

// Sweep 删除 now 时刻已过期的房间，返回被删除的房间 ID。
func (r *Reaper) Sweep(now time.Time) (expired []string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sweep panic: %v", p)
		}
	}()
	err = r.store.Update(func(tx *Tx) error {
		expired = tx.ListExpired(now)
		for _, roomID := range expired {
			r.bc.Publish(roomID, roomExpired())
			if err := tx.Delete(roomID); err != nil {
				return fmt.Errorf("delete room %s: %w", roomID, err)
			}
			r.bc.Drop(roomID)
			metrics.RoomsExpiredTotal.Inc()
			log.Info().Str("room_id", roomID).Msg("room expired")
		}
		return nil
	})
	return expired, err
}
