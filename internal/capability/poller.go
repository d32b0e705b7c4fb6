package capability

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"rcsd/internal/contact"
	"rcsd/internal/metrics"
)

// ContactLister enumerates every contact known to the address book. The
// set is re-read on each polling cycle.
type ContactLister interface {
	AllContacts() ([]contact.ID, error)
}

// Poller periodically walks the known contacts and dispatches capability
// refresh requests according to the refresh policy. The timer is
// self-rescheduling: the next cycle is armed only after the previous
// enumeration finishes, so a slow pass delays the next one by its own
// duration instead of piling up.
type Poller struct {
	period   time.Duration
	expiry   int64 // seconds
	contacts ContactLister
	store    *Store
	direct   Requester
	presence Requester
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() int64

	mu      sync.Mutex
	running bool
	timer   *time.Timer
}

// NewPoller creates a poller. A period of 0 disables polling.
func NewPoller(period time.Duration, expirySeconds int64, contacts ContactLister, store *Store, direct, presence Requester, m *metrics.Metrics, logger *zap.Logger) *Poller {
	return &Poller{
		period:   period,
		expiry:   expirySeconds,
		contacts: contacts,
		store:    store,
		direct:   direct,
		presence: presence,
		metrics:  m,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Start arms the polling timer. With a zero period polling is disabled
// by configuration: Start logs and leaves the poller stopped.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	if p.period <= 0 {
		p.logger.Info("capability polling disabled by configuration")
		return
	}
	p.running = true
	p.timer = time.AfterFunc(p.period, p.fire)
	p.logger.Info("capability polling started", zap.Duration("period", p.period))
}

// Stop cancels the timer. Idempotent. An enumeration already in flight
// finishes its pass but does not re-arm.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
	}
	p.logger.Info("capability polling stopped")
}

// Running reports whether the polling timer is armed.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) fire() {
	p.pollOnce()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.timer = time.AfterFunc(p.period, p.fire)
	}
}

// pollOnce walks the full contact set once. Per-contact failures are
// logged and skipped; only Stop ends the polling loop.
func (p *Poller) pollOnce() {
	ids, err := p.contacts.AllContacts()
	if err != nil {
		p.logger.Error("capability poll: listing contacts failed", zap.Error(err))
		return
	}
	now := p.now()
	for _, id := range ids {
		rec, ok, err := p.store.ContactCapabilities(id)
		if err != nil {
			// The cache entry is already evicted; degrade to
			// "capabilities unknown" and probe directly.
			p.logger.Warn("capability poll: lookup failed",
				zap.Error(err), zap.String("contact", id.String()))
			p.direct.RequestCapabilities(id)
			continue
		}
		if !ok {
			// Never queried: probe directly, unconditionally.
			p.direct.RequestCapabilities(id)
			continue
		}
		if !RefreshRequired(rec.TimestampOfLastRefresh, now, p.expiry) {
			continue
		}
		switch SelectChannel(rec) {
		case ChannelPresence:
			p.presence.RequestCapabilities(id)
		default:
			p.direct.RequestCapabilities(id)
		}
	}
	if p.metrics != nil {
		p.metrics.PollCycles.Inc()
	}
	p.logger.Debug("capability poll cycle complete", zap.Int("contacts", len(ids)))
}
