package poller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stylistio/tryon-backend/internal/apierr"
	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/services"
	"github.com/stylistio/tryon-backend/internal/types"
)

// Fetcher retrieves the current generation record, typically over HTTP.
type Fetcher func(ctx context.Context, id uuid.UUID) (*types.Generation, error)

// Update is delivered to the consumer after every fetch attempt.
type Update struct {
	Generation *types.Generation
	View       *services.StatusView
	Err        error
	Terminal   bool
}

type Config struct {
	BaseInterval         time.Duration
	FastInterval         time.Duration
	MaxFailures          int
	MaxBackoffFactor     int
	ProcessingAccelAfter time.Duration
	Clock                Clock
	Log                  *logger.Logger
}

func DefaultConfig() Config {
	return Config{
		BaseInterval:         3 * time.Second,
		FastInterval:         1 * time.Second,
		MaxFailures:          3,
		MaxBackoffFactor:     4,
		ProcessingAccelAfter: 30 * time.Second,
	}
}

// Poller follows one generation until it reaches a terminal status. One
// instance per target; instances share no state. All record/view mutation
// happens on the poll goroutine, so consumers see updates in order.
type Poller struct {
	cfg      Config
	fetch    Fetcher
	id       uuid.UUID
	onUpdate func(Update)

	failures          int
	firstProcessingAt time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	refreshCh chan struct{}
	done      chan struct{}
}

func New(cfg Config, id uuid.UUID, fetch Fetcher, onUpdate func(Update)) *Poller {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultConfig().BaseInterval
	}
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = DefaultConfig().FastInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.MaxBackoffFactor <= 0 {
		cfg.MaxBackoffFactor = DefaultConfig().MaxBackoffFactor
	}
	if cfg.ProcessingAccelAfter <= 0 {
		cfg.ProcessingAccelAfter = DefaultConfig().ProcessingAccelAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	return &Poller{
		cfg:       cfg,
		fetch:     fetch,
		id:        id,
		onUpdate:  onUpdate,
		refreshCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start begins polling with an immediate first fetch. Safe to call once.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)
	})
}

// Refresh runs a fetch immediately, bypassing the current schedule. The
// fetch outcome still drives the failure counter as usual.
func (p *Poller) Refresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Stop aborts any in-flight fetch and pending timer. After Stop returns no
// further updates are delivered.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			close(p.done)
			return
		}
		p.cancel()
		<-p.done
	})
}

func (p *Poller) Done() <-chan struct{} { return p.done }

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	for {
		terminal := p.pollOnce(ctx)
		if terminal {
			return
		}
		if ctx.Err() != nil {
			return
		}

		delay := p.nextDelay()
		timer := p.cfg.Clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C():
		}
	}
}

// pollOnce runs a single fetch and delivers the update. Returns true when
// polling must stop (terminal status or terminal error).
func (p *Poller) pollOnce(ctx context.Context) bool {
	gen, err := p.fetch(ctx, p.id)
	if ctx.Err() != nil {
		// Cancelled mid-flight; deliver nothing.
		return true
	}
	if err != nil {
		if isTerminalFetchError(err) {
			p.deliver(Update{Err: err, Terminal: true})
			return true
		}
		if p.failures < p.cfg.MaxFailures {
			p.failures++
		}
		p.deliver(Update{Err: err})
		return false
	}

	p.failures = 0
	p.trackProcessing(gen)

	view := services.BuildStatusView(gen, services.BuildOptions{Now: p.cfg.Clock.Now()})
	terminal := view != nil && types.TerminalStatus(view.Status)
	p.deliver(Update{Generation: gen, View: view, Terminal: terminal})
	return terminal
}

func (p *Poller) trackProcessing(gen *types.Generation) {
	if gen == nil || gen.Status != types.GenerationStatusProcessing {
		return
	}
	if gen.StartedAt != nil {
		p.firstProcessingAt = *gen.StartedAt
		return
	}
	if p.firstProcessingAt.IsZero() {
		p.firstProcessingAt = p.cfg.Clock.Now()
	}
}

// nextDelay applies the acceleration rule first: a long-running processing
// job polls at the fast interval regardless of backoff state.
func (p *Poller) nextDelay() time.Duration {
	if !p.firstProcessingAt.IsZero() &&
		p.cfg.Clock.Now().Sub(p.firstProcessingAt) >= p.cfg.ProcessingAccelAfter {
		return p.cfg.FastInterval
	}

	factor := 1
	for i := 0; i < p.failures; i++ {
		factor *= 2
		if factor >= p.cfg.MaxBackoffFactor {
			factor = p.cfg.MaxBackoffFactor
			break
		}
	}
	return p.cfg.BaseInterval * time.Duration(factor)
}

func (p *Poller) deliver(u Update) {
	if p.onUpdate != nil {
		p.onUpdate(u)
	}
}

// isTerminalFetchError: unauthorized, not-found and gone stop polling;
// network errors and 5xx responses are retriable.
func isTerminalFetchError(err error) bool {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		switch ae.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
			return true
		}
		return false
	}
	return false
}
