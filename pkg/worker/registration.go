package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/webpro-offline/pkg/network"
	"github.com/Sternrassler/webpro-offline/pkg/notify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Registration hosts the manager versions of one origin. It installs new
// versions, promotes them once they may activate and routes events to the
// version in control.
type Registration struct {
	fetcher network.Fetcher

	mu      sync.Mutex
	active  *Manager
	waiting *Manager

	// promoteMu serializes promotions with each other and with installs.
	promoteMu sync.Mutex

	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// NewRegistration creates a registration with no manager. Until one is
// active, fetches go straight to fetcher.
func NewRegistration(fetcher network.Fetcher) *Registration {
	life, cancel := context.WithCancel(context.Background())
	return &Registration{
		fetcher: fetcher,
		life:    life,
		cancel:  cancel,
		logger:  log.With().Str("component", "registration").Logger(),
	}
}

// Update installs m as the next version.
//
// When install fails the current controller keeps serving, m stays
// installing and Update may be called again with it. Otherwise m becomes the
// waiting version and is activated right away if it requested skip-waiting
// or nothing controls the origin. A waiting version is promoted later by
// Release or a SKIP_WAITING message.
//
// Install and the waiting swap run under promoteMu, so an activation in
// progress never sees, and deletes, the generations of a version installed
// next to it.
func (r *Registration) Update(ctx context.Context, m *Manager) error {
	r.promoteMu.Lock()
	if err := m.Install(ctx).Wait(context.WithoutCancel(ctx)); err != nil {
		r.promoteMu.Unlock()
		r.logger.Warn().
			Err(err).
			Str("static_cache", m.StaticCache()).
			Msg("Update failed, keeping current version")
		return err
	}

	r.mu.Lock()
	replaced := r.waiting
	r.waiting = m
	immediate := r.active == nil || m.skipRequested()
	r.mu.Unlock()
	r.promoteMu.Unlock()

	if replaced != nil && replaced != m {
		replaced.Close(ctx)
	}

	if immediate {
		return r.promote(ctx, m)
	}

	r.logger.Info().Str("static_cache", m.StaticCache()).Msg("New version waiting")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-m.SkipWaitingRequested():
			if err := r.promote(r.life, m); err != nil {
				r.logger.Warn().Err(err).Msg("Promotion after skip-waiting failed")
			}
		case <-m.life.Done():
		case <-r.life.Done():
		}
	}()
	return nil
}

// Release tells the registration that the pages controlled by the current
// version are gone, so the waiting version may activate.
func (r *Registration) Release(ctx context.Context) error {
	r.mu.Lock()
	m := r.waiting
	r.mu.Unlock()

	if m == nil {
		return nil
	}
	return r.promote(ctx, m)
}

// promote activates m if it is still the waiting version and retires the
// previous controller.
//
// The previous controller is quiesced first: it keeps answering fetches but
// starts no cache writes, and the writes already running finish before m
// deletes the stale generations. A failed activation hands control back.
func (r *Registration) promote(ctx context.Context, m *Manager) error {
	r.promoteMu.Lock()
	defer r.promoteMu.Unlock()

	r.mu.Lock()
	if r.waiting != m || m.State() == StateRedundant {
		r.mu.Unlock()
		return nil
	}
	old := r.active
	r.mu.Unlock()

	if old != nil {
		if err := old.quiesce(ctx); err != nil {
			return fmt.Errorf("quiesce %s: %w", old.StaticCache(), err)
		}
	}

	// The activation task is bound to ctx, so waiting without cancellation
	// still returns promptly and reports what activation actually did.
	if err := m.Activate(ctx).Wait(context.WithoutCancel(ctx)); err != nil {
		if old != nil {
			old.unquiesce()
		}
		return err
	}

	r.mu.Lock()
	if r.waiting != m || m.State() != StateActive {
		r.mu.Unlock()
		if old != nil {
			old.unquiesce()
		}
		return fmt.Errorf("%w: %s was superseded during activation", ErrInvalidState, m.StaticCache())
	}
	r.active = m
	r.waiting = nil
	r.mu.Unlock()

	r.logger.Info().
		Str("static_cache", m.StaticCache()).
		Msg("Version activated")

	if old != nil {
		if err := old.Close(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Previous version did not settle")
		}
	}
	return nil
}

// Controller returns the active manager or nil.
func (r *Registration) Controller() *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting returns the installed manager waiting to activate or nil.
func (r *Registration) Waiting() *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Fetch routes req to the active manager, or to the network when nothing
// controls the origin.
func (r *Registration) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	if m := r.Controller(); m != nil {
		return m.Fetch(ctx, req)
	}

	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	fetchTotal.WithLabelValues(string(SourcePassthrough)).Inc()
	return &Response{Response: resp.Response, Source: SourcePassthrough}, nil
}

// Message routes a control message. SKIP_WAITING goes to the waiting
// version when there is one; everything else goes to the controller.
func (r *Registration) Message(ctx context.Context, data []byte) *Task {
	r.mu.Lock()
	active, waiting := r.active, r.waiting
	r.mu.Unlock()

	target := active
	if msg, ok := ParseMessage(data); ok && msg.Type == MessageSkipWaiting && waiting != nil {
		target = waiting
	}
	if target == nil {
		target = waiting
	}
	if target == nil {
		return finishedTask("message", ErrNoController)
	}
	return target.Message(ctx, data)
}

// Sync routes a background sync event to the controller.
func (r *Registration) Sync(ctx context.Context, tag string) *Task {
	m := r.Controller()
	if m == nil {
		return finishedTask("sync", ErrNoController)
	}
	return m.Sync(ctx, tag)
}

// Push routes a push message to the controller.
func (r *Registration) Push(ctx context.Context, payload []byte) *Task {
	m := r.Controller()
	if m == nil {
		return finishedTask("push", ErrNoController)
	}
	return m.Push(ctx, payload)
}

// NotificationClick routes a notification click to the controller.
func (r *Registration) NotificationClick(ctx context.Context, action string, n notify.Notification) *Task {
	m := r.Controller()
	if m == nil {
		return finishedTask("notificationclick", ErrNoController)
	}
	return m.NotificationClick(ctx, action, n)
}

// Close tears down every version, waiting for in-flight tasks until ctx ends.
func (r *Registration) Close(ctx context.Context) error {
	r.cancel()
	r.wg.Wait()

	r.promoteMu.Lock()
	defer r.promoteMu.Unlock()

	r.mu.Lock()
	active, waiting := r.active, r.waiting
	r.active, r.waiting = nil, nil
	r.mu.Unlock()

	var errs []error
	for _, m := range []*Manager{waiting, active} {
		if m != nil {
			errs = append(errs, m.Close(ctx))
		}
	}
	return errors.Join(errs...)
}
