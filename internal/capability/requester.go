package capability

import (
	"context"

	"go.uber.org/zap"

	"rcsd/internal/contact"
	"rcsd/internal/metrics"
)

// Requester issues a fire-and-forget capability probe for a contact.
type Requester interface {
	RequestCapabilities(id contact.ID)
}

// ProbeFunc is the signaling transport hook that emits the actual probe.
// A nil probe means no transport is attached; requests are still stamped
// and counted so the bookkeeping stays truthful.
type ProbeFunc func(ctx context.Context, id contact.ID) error

const requestQueueSize = 64

// Dispatcher is a queue-backed Requester: requests are buffered and
// consumed by a single worker that stamps the request time and invokes
// the probe. Probe failures are logged and never stop the worker.
type Dispatcher struct {
	channel Channel
	probe   ProbeFunc
	store   *Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	jobs    chan contact.ID
	cancel  context.CancelFunc
}

// NewDispatcher creates a dispatcher for one refresh channel.
func NewDispatcher(channel Channel, probe ProbeFunc, store *Store, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		channel: channel,
		probe:   probe,
		store:   store,
		metrics: m,
		logger:  logger,
		jobs:    make(chan contact.ID, requestQueueSize),
	}
}

// RequestCapabilities enqueues a probe for the contact. The queue is
// bounded; when full the request is dropped — the next polling cycle
// retries contacts that still need a refresh.
func (d *Dispatcher) RequestCapabilities(id contact.ID) {
	select {
	case d.jobs <- id:
	default:
		d.logger.Warn("capability request queue full, dropping",
			zap.String("channel", string(d.channel)),
			zap.String("contact", id.String()))
	}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
}

// Stop stops the worker.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		select {
		case id := <-d.jobs:
			d.process(ctx, id)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, id contact.ID) {
	if err := d.store.RecordRequest(id); err != nil {
		d.logger.Warn("failed to stamp capability request time",
			zap.Error(err), zap.String("contact", id.String()))
	}
	if d.metrics != nil {
		d.metrics.CapabilityRequests.WithLabelValues(string(d.channel)).Inc()
	}
	if d.probe == nil {
		d.logger.Debug("no signaling transport attached, probe skipped",
			zap.String("channel", string(d.channel)),
			zap.String("contact", id.String()))
		return
	}
	if err := d.probe(ctx, id); err != nil {
		d.logger.Error("capability probe failed", zap.Error(err),
			zap.String("channel", string(d.channel)),
			zap.String("contact", id.String()))
	}
}

// Requesters bundles the dispatchers for the two refresh channels.
type Requesters struct {
	Direct   *Dispatcher
	Presence *Dispatcher
}

// NewRequesters builds the direct (OPTIONS-style) and presence
// (anonymous-fetch) dispatchers over their transport probes.
func NewRequesters(directProbe, presenceProbe ProbeFunc, store *Store, m *metrics.Metrics, logger *zap.Logger) *Requesters {
	return &Requesters{
		Direct:   NewDispatcher(ChannelDirect, directProbe, store, m, logger),
		Presence: NewDispatcher(ChannelPresence, presenceProbe, store, m, logger),
	}
}

// Start launches both workers.
func (r *Requesters) Start(ctx context.Context) {
	r.Direct.Start(ctx)
	r.Presence.Start(ctx)
}

// Stop stops both workers.
func (r *Requesters) Stop() {
	r.Direct.Stop()
	r.Presence.Stop()
}
