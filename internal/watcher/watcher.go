// Package watcher waits for a session's advice to become ready. It follows the
// server's event stream and polls the status endpoint at the same time; the
// first of the two to see the advice wins.
package watcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bondly/bondly/pkg/api"
	"github.com/rs/zerolog/log"
)

const DefaultPollInterval = 2 * time.Second

// Source is the part of the bondly API a watch needs.
type Source interface {
	GetSessionStatus(ctx context.Context, sessionID string) (*api.SessionStatus, error)
	GetAdviceID(ctx context.Context, sessionID string, isCreator bool) (string, bool, error)
	Events(ctx context.Context, sessionID string) (<-chan api.SessionEvent, error)
}

type Options struct {
	// Role is api.RoleCreator, api.RolePartner or "" to use the role the
	// server reports for the caller. When neither is known, the advice of both
	// roles is checked.
	Role         string
	PollInterval time.Duration
	// DisablePush watches by polling alone.
	DisablePush bool
	// OnState is called on every state change, in order, ending with
	// api.StateReady exactly once.
	OnState func(state string)
}

// Via values of a Result.
const (
	ViaPush = "push"
	ViaPoll = "poll"
)

// Result is what Watch found once advice was ready.
type Result struct {
	// AdviceID is the advice for Role.
	AdviceID        string
	Role            string
	CreatorAdviceID string
	PartnerAdviceID string
	Via             string
}

// ErrSessionGone is returned when the session no longer exists, usually
// because it expired.
var ErrSessionGone = errors.New("session not found or expired")

type watch struct {
	src       Source
	sessionID string
	opts      Options

	latch  atomic.Bool
	result chan *Result
	errs   chan error

	mu    sync.Mutex
	state string
	// reportedRole is the caller's role as reported by the status endpoint.
	reportedRole string
}

// Watch blocks until advice is ready, ctx is done, or the session is gone.
// Both loops stop before it returns.
func Watch(ctx context.Context, src Source, sessionID string, opts Options) (*Result, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := &watch{
		src:       src,
		sessionID: sessionID,
		opts:      opts,
		result:    make(chan *Result, 1),
		errs:      make(chan error, 1),
	}

	var wg sync.WaitGroup
	if !opts.DisablePush {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.push(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.poll(ctx)
	}()

	var (
		res *Result
		err error
	)
	select {
	case res = <-w.result:
	case err = <-w.errs:
	case <-ctx.Done():
		err = ctx.Err()
	}
	cancel()
	wg.Wait()
	return res, err
}

func (w *watch) poll(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		st, err := w.src.GetSessionStatus(ctx, w.sessionID)
		switch {
		case err == nil:
			w.learnRole(st.Role)
			w.evaluate(ctx, ViaPoll, st.Status)
		case api.IsNotFound(err):
			w.fail(ErrSessionGone)
			return
		case ctx.Err() == nil:
			log.Ctx(ctx).Debug().Err(err).Msg("status poll failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// push follows the event stream, reconnecting after the poll interval when it
// drops. A stream the server refuses is left to the poll loop.
func (w *watch) push(ctx context.Context) {
	for {
		events, err := w.src.Events(ctx, w.sessionID)
		if err != nil {
			var apiErr *api.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
				log.Ctx(ctx).Debug().Err(err).Msg("event stream refused")
				return
			}
			log.Ctx(ctx).Debug().Err(err).Msg("event stream unavailable")
		} else {
			for ev := range events {
				w.evaluate(ctx, ViaPush, ev.Status)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

func stateFor(status string) string {
	switch status {
	case api.StatusAnalyzed:
		return api.StateReady
	case api.StatusCompleted:
		return api.StateProcessing
	}
	return api.StateWaiting
}

func rank(state string) int {
	switch state {
	case api.StateWaiting:
		return 1
	case api.StateProcessing:
		return 2
	case api.StateReady:
		return 3
	}
	return 0
}

// evaluate moves the watch forward for an observed status. Once both
// participants have answered the advice rows are checked directly, since the
// status may lag behind them.
func (w *watch) evaluate(ctx context.Context, via, status string) {
	if w.latch.Load() {
		return
	}
	state := stateFor(status)
	if state == api.StateWaiting {
		w.advance(state)
		return
	}
	w.advance(api.StateProcessing)

	res, ok := w.resolve(ctx)
	if !ok {
		return
	}
	if !w.latch.CompareAndSwap(false, true) {
		return
	}
	res.Via = via
	w.advance(api.StateReady)
	w.result <- res
}

// resolve looks up the advice for the watched role, or for both roles when
// neither the options nor the server name one.
func (w *watch) resolve(ctx context.Context) (*Result, bool) {
	res := &Result{}
	lookup := func(isCreator bool) bool {
		id, found, err := w.src.GetAdviceID(ctx, w.sessionID, isCreator)
		if err != nil {
			if ctx.Err() == nil {
				log.Ctx(ctx).Debug().Err(err).Bool("is_creator", isCreator).Msg("advice lookup failed")
			}
			return false
		}
		if isCreator {
			res.CreatorAdviceID = id
		} else {
			res.PartnerAdviceID = id
		}
		return found
	}

	switch w.role() {
	case api.RoleCreator:
		if !lookup(true) {
			return nil, false
		}
		res.Role, res.AdviceID = api.RoleCreator, res.CreatorAdviceID
	case api.RolePartner:
		if !lookup(false) {
			return nil, false
		}
		res.Role, res.AdviceID = api.RolePartner, res.PartnerAdviceID
	default:
		creator := lookup(true)
		partner := lookup(false)
		switch {
		case creator:
			res.Role, res.AdviceID = api.RoleCreator, res.CreatorAdviceID
		case partner:
			res.Role, res.AdviceID = api.RolePartner, res.PartnerAdviceID
		default:
			return nil, false
		}
	}
	return res, true
}

func (w *watch) learnRole(role string) {
	if role != api.RoleCreator && role != api.RolePartner {
		return
	}
	w.mu.Lock()
	w.reportedRole = role
	w.mu.Unlock()
}

// role is the configured role, else the one the server reported, else "".
func (w *watch) role() string {
	if w.opts.Role != "" {
		return w.opts.Role
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reportedRole
}

// advance reports state if it is further along than the current one.
func (w *watch) advance(state string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rank(state) <= rank(w.state) {
		return
	}
	if state == api.StateReady || !w.latch.Load() {
		w.state = state
		if w.opts.OnState != nil {
			w.opts.OnState(state)
		}
	}
}

func (w *watch) fail(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
