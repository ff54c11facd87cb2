// Package retention deletes participant data once it is older than the
// configured maximum age.
package retention

import (
	"context"
	"time"

	"github.com/bondly/bondly/internal/bondlysrv/db"
	"github.com/bondly/bondly/internal/bondlysrv/db/dbmanager"
	"github.com/bondly/bondly/internal/bondlysrv/db/sqlstore"
	"github.com/bondly/bondly/internal/bondlysrv/metrics"
	"github.com/bondly/bondly/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

// Deleted counts removed rows per table.
type Deleted struct {
	Sessions  int64 `json:"sessions"`
	Responses int64 `json:"responses"`
	Advice    int64 `json:"advice"`
}

func (d *Deleted) add(table sqlstore.Table, n int64) {
	switch table {
	case sqlstore.TableSessions:
		d.Sessions += n
	case sqlstore.TableResponses:
		d.Responses += n
	case sqlstore.TableAdvice:
		d.Advice += n
	}
}

// Result describes one sweep.
type Result struct {
	Deleted   Deleted
	Cutoff    time.Time
	Timestamp time.Time
}

// Sweeper deletes rows older than the retention window.
type Sweeper struct {
	pool    dbmanager.ScopedDb
	maxAge  time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSweeper(pool dbmanager.ScopedDb, maxAge time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		pool:    pool,
		maxAge:  maxAge,
		metrics: m,
		now:     time.Now,
	}
}

// Sweep deletes every row created before now minus the maximum age. Tables are
// purged independently; running it again or concurrently is harmless. It uses
// the connection in ctx, or checks one out from the pool.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, apperrors.Error) {
	var res *Result
	var aerr apperrors.Error
	run := func(ctx context.Context) error {
		res, aerr = s.sweep(ctx)
		return nil
	}
	if db.HasConn(ctx) {
		_ = run(ctx)
	} else if err := db.WithConn(ctx, s.pool, run); err != nil {
		aerr = ErrCleanupFailed.MsgErr(err.Error(), err)
	}
	if aerr != nil {
		s.metrics.Sweep("error")
		log.Ctx(ctx).Error().Err(aerr).Msg("retention sweep failed")
		return nil, aerr
	}
	s.metrics.Sweep("ok")
	return res, nil
}

func (s *Sweeper) sweep(ctx context.Context) (*Result, apperrors.Error) {
	store := db.DB(ctx)
	if store == nil {
		return nil, ErrCleanupFailed.Msg("no database connection")
	}
	restore, err := db.Privileged(ctx)
	if err != nil {
		return nil, ErrCleanupFailed.Err(err)
	}
	defer restore()

	now := s.now().UTC()
	res := &Result{Cutoff: now.Add(-s.maxAge)}
	for _, table := range sqlstore.Tables {
		n, aerr := store.DeleteCreatedBefore(ctx, table, res.Cutoff)
		if aerr != nil {
			return nil, ErrCleanupFailed.MsgErr(aerr.Error(), aerr)
		}
		res.Deleted.add(table, n)
		s.metrics.RetentionDeleted(string(table), n)
	}
	res.Timestamp = s.now().UTC()
	log.Ctx(ctx).Info().
		Int64("sessions", res.Deleted.Sessions).
		Int64("responses", res.Deleted.Responses).
		Int64("advice", res.Deleted.Advice).
		Time("cutoff", res.Cutoff).
		Msg("retention sweep complete")
	return res, nil
}
