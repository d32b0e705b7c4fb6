package sharing

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"rcsd/internal/bus"
	"rcsd/internal/contact"
	"rcsd/internal/metrics"
	"rcsd/internal/registry"
	"rcsd/internal/store"
)

// CallOracle reports whether a circuit-switched or IP call is currently
// connected with a contact.
type CallOracle interface {
	IsCallConnectedWith(id contact.ID) bool
}

// ContactDirectory answers blocking queries against the address book.
type ContactDirectory interface {
	IsBlocked(id contact.ID) (bool, error)
}

// History persists the initial sharing-log rows. Later state and
// progress updates are journaled from bus events by the recorder.
type History interface {
	AddSharing(s *store.Sharing) error
}

// StateChange is the payload of "sharing.state_changed" events.
type StateChange struct {
	SharingID string
	State     string
	Reason    string
}

// Progress is the payload of "sharing.progress" events.
type Progress struct {
	SharingID   string
	Transferred int64
}

// RejectedInvitation is the payload of "sharing.invitation_rejected"
// events.
type RejectedInvitation struct {
	Contact contact.ID
	Kind    Kind
	Reason  string
}

// Options collects the service's collaborators.
type Options struct {
	Calls    CallOracle
	Contacts ContactDirectory
	History  History
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Remover  *registry.Remover
	Logger   *zap.Logger
	// MaxImageSize is the outbound image size limit in bytes; 0 means
	// unlimited.
	MaxImageSize int64
}

// Service is the content-sharing admission controller. It owns one
// session table per content kind plus a ledger spanning all kinds, all
// guarded by a single operation lock: every admission check, insert and
// lookup happens with the lock held, so concurrent invitations can
// never both slip past the pair limit.
type Service struct {
	calls        CallOracle
	contacts     ContactDirectory
	history      History
	bus          *bus.Bus
	metrics      *metrics.Metrics
	logger       *zap.Logger
	maxImageSize int64
	now          func() int64

	mu     sync.Mutex
	tables map[Kind]*registry.Table[string, *Session]
	ledger *registry.Table[string, *Session]
}

// NewService creates the sharing service.
func NewService(opts Options) *Service {
	s := &Service{
		calls:        opts.Calls,
		contacts:     opts.Contacts,
		history:      opts.History,
		bus:          opts.Bus,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		maxImageSize: opts.MaxImageSize,
		now:          func() int64 { return time.Now().UnixMilli() },
	}
	s.ledger = registry.New[string, *Session](&s.mu, nil)
	s.tables = make(map[Kind]*registry.Table[string, *Session], 3)
	for _, kind := range []Kind{KindImage, KindVideo, KindGeoloc} {
		kind := kind
		tbl := registry.New[string, *Session](&s.mu, opts.Remover)
		tbl.OnAdd = func(sess *Session) {
			s.ledger.Add(sess.SharingID, sess)
			if s.metrics != nil {
				s.metrics.SharingSessions.WithLabelValues(string(kind)).Inc()
			}
		}
		tbl.OnDelete = func(sess *Session) {
			s.ledger.Delete(sess.SharingID)
			if s.metrics != nil {
				s.metrics.SharingSessions.WithLabelValues(string(kind)).Dec()
			}
		}
		s.tables[kind] = tbl
	}
	return s
}

// InitiateImageSharing admits an outbound image transfer. On success it
// returns an ORIGINATING session that is not yet registered; the caller
// registers it with Register once the transport has started the
// transfer.
func (s *Service) InitiateImageSharing(remote contact.ID, content Content) (*Session, error) {
	if !s.calls.IsCallConnectedWith(remote) {
		return nil, fmt.Errorf("initiate image sharing with %s: %w", remote, ErrCallNotEstablished)
	}
	if s.maxImageSize > 0 && content.Size > s.maxImageSize {
		return nil, fmt.Errorf("initiate image sharing with %s: %d bytes over the %d byte limit: %w",
			remote, content.Size, s.maxImageSize, ErrSizeExceeded)
	}
	sess, err := s.initiate(KindImage, remote, content)
	if err != nil {
		return nil, fmt.Errorf("initiate image sharing with %s: %w", remote, err)
	}
	return sess, nil
}

// InitiateVideoSharing admits an outbound live-video share.
func (s *Service) InitiateVideoSharing(remote contact.ID, content Content) (*Session, error) {
	if !s.calls.IsCallConnectedWith(remote) {
		return nil, fmt.Errorf("initiate video sharing with %s: %w", remote, ErrCallNotEstablished)
	}
	sess, err := s.initiate(KindVideo, remote, content)
	if err != nil {
		return nil, fmt.Errorf("initiate video sharing with %s: %w", remote, err)
	}
	return sess, nil
}

// InitiateGeolocSharing admits an outbound geolocation push.
func (s *Service) InitiateGeolocSharing(remote contact.ID, content Content) (*Session, error) {
	if !s.calls.IsCallConnectedWith(remote) {
		return nil, fmt.Errorf("initiate geoloc sharing with %s: %w", remote, ErrCallNotEstablished)
	}
	sess, err := s.initiate(KindGeoloc, remote, content)
	if err != nil {
		return nil, fmt.Errorf("initiate geoloc sharing with %s: %w", remote, err)
	}
	return sess, nil
}

func (s *Service) initiate(kind Kind, remote contact.ID, content Content) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.admit(kind, Originating, remote); err != nil {
		return nil, err
	}
	return &Session{
		SharingID: uuid.NewString(),
		Remote:    remote,
		Direction: Originating,
		Kind:      kind,
		Content:   content,
		State:     StateInitiating,
		CreatedAt: s.now(),
	}, nil
}

// Register adds a started session to its kind table and the ledger and
// writes its history row. The quota is re-checked under the lock:
// sessions admitted concurrently through initiate cannot both register
// past the pair limit.
func (s *Service) Register(sess *Session) error {
	s.mu.Lock()
	if _, ok := s.tables[sess.Kind].Get(sess.SharingID); ok {
		s.mu.Unlock()
		return fmt.Errorf("register sharing %s: already registered", sess.SharingID)
	}
	if err := s.admit(sess.Kind, sess.Direction, sess.Remote); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("register sharing %s: %w", sess.SharingID, err)
	}
	s.tables[sess.Kind].Add(sess.SharingID, sess)
	s.mu.Unlock()

	s.writeHistory(sess)
	s.logger.Info("sharing session registered",
		zap.String("sharing_id", sess.SharingID),
		zap.String("kind", string(sess.Kind)),
		zap.String("direction", string(sess.Direction)),
		zap.String("contact", sess.Remote.String()))
	return nil
}

// ReceiveImageSharingInvitation runs the inbound admission pipeline for
// an image transfer INVITE.
func (s *Service) ReceiveImageSharingInvitation(inv Invitation) {
	s.receive(KindImage, inv)
}

// ReceiveVideoSharingInvitation runs the inbound admission pipeline for
// a live-video INVITE.
func (s *Service) ReceiveVideoSharingInvitation(inv Invitation) {
	s.receive(KindVideo, inv)
}

// ReceiveGeolocSharingInvitation runs the inbound admission pipeline
// for a geolocation push INVITE.
func (s *Service) ReceiveGeolocSharingInvitation(inv Invitation) {
	s.receive(KindGeoloc, inv)
}

func (s *Service) receive(kind Kind, inv Invitation) {
	remote, err := contact.Parse(inv.AssertedIdentity)
	if err != nil {
		// The remote has no valid channel to answer on; drop without a
		// response.
		s.logger.Debug("dropping sharing invitation with unparsable identity",
			zap.String("identity", inv.AssertedIdentity), zap.String("kind", string(kind)))
		return
	}
	if !s.calls.IsCallConnectedWith(remote) {
		s.logger.Info("rejecting sharing invitation without an established call",
			zap.String("contact", remote.String()), zap.String("kind", string(kind)))
		s.respond(kind, inv, RejectNotAcceptable, "call_not_established")
		return
	}
	blocked, err := s.contacts.IsBlocked(remote)
	if err != nil {
		s.logger.Warn("blocked-contact lookup failed, treating contact as not blocked",
			zap.Error(err), zap.String("contact", remote.String()))
	}
	if blocked {
		s.logger.Info("declining sharing invitation from blocked contact",
			zap.String("contact", remote.String()), zap.String("kind", string(kind)))
		s.respond(kind, inv, RejectDecline, "blocked")
		return
	}

	sharingID := inv.SharingID
	if sharingID == "" {
		sharingID = uuid.NewString()
	}

	s.mu.Lock()
	if err := s.admit(kind, Terminating, remote); err != nil {
		s.mu.Unlock()
		s.respond(kind, inv, RejectBusyHere, "max_sessions")
		s.publish("sharing.invitation_rejected", RejectedInvitation{
			Contact: remote,
			Kind:    kind,
			Reason:  ReasonMaxSessions,
		})
		s.writeRejectedHistory(sharingID, remote, kind, inv.Content)
		s.logger.Info("rejecting sharing invitation over session quota",
			zap.String("contact", remote.String()), zap.String("kind", string(kind)))
		return
	}
	sess := &Session{
		SharingID: sharingID,
		Remote:    remote,
		Direction: Terminating,
		Kind:      kind,
		Content:   inv.Content,
		State:     StateInvited,
		CreatedAt: s.now(),
	}
	s.tables[kind].Add(sess.SharingID, sess)
	s.mu.Unlock()

	s.writeHistory(sess)
	s.publish("sharing.invitation", *sess)
	s.logger.Info("sharing invitation accepted",
		zap.String("sharing_id", sess.SharingID),
		zap.String("contact", remote.String()),
		zap.String("kind", string(kind)))
}

// admit applies the session quota for one kind. Caller holds s.mu.
//
// At most one ORIGINATING and one TERMINATING session may exist per
// kind; a second session is admitted only when it completes a
// bidirectional pair with the same remote contact.
func (s *Service) admit(kind Kind, dir Direction, remote contact.ID) error {
	tbl := s.tables[kind]
	if tbl.IsBidirectionallyOccupied() {
		return ErrMaxSessions
	}
	if tbl.IsUnidirectionallyOccupied() {
		current, ok := tbl.AnyOne()
		if !ok {
			return nil
		}
		if current.Direction == dir {
			return ErrMaxSessions
		}
		if remote.IsZero() || current.Remote != remote {
			return ErrMaxSessions
		}
	}
	return nil
}

// HandleSessionStarted marks a session as started once the transport
// reports the transfer running.
func (s *Service) HandleSessionStarted(sharingID string) {
	s.mu.Lock()
	sess, ok := s.ledger.Get(sharingID)
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("started report for unknown sharing session",
			zap.String("sharing_id", sharingID))
		return
	}
	sess.State = StateStarted
	s.mu.Unlock()
	s.publish("sharing.state_changed", StateChange{SharingID: sharingID, State: StateStarted})
}

// HandleTransferProgress records transferred bytes for a session.
func (s *Service) HandleTransferProgress(sharingID string, transferred int64) {
	s.mu.Lock()
	sess, ok := s.ledger.Get(sharingID)
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.Transferred = transferred
	s.mu.Unlock()
	s.publish("sharing.progress", Progress{SharingID: sharingID, Transferred: transferred})
}

// HandleTransferComplete ends a session successfully and schedules its
// removal.
func (s *Service) HandleTransferComplete(sharingID string) {
	s.end(sharingID, StateTransferred, "")
}

// HandleSessionAborted ends a session the local or remote side tore
// down.
func (s *Service) HandleSessionAborted(sharingID, reason string) {
	s.end(sharingID, StateAborted, reason)
}

// HandleSessionRejectedByRemote ends an originating session the remote
// side declined.
func (s *Service) HandleSessionRejectedByRemote(sharingID string) {
	s.end(sharingID, StateRejected, "")
}

// HandleSessionFailed ends a session after a transport failure.
func (s *Service) HandleSessionFailed(sharingID string, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	s.end(sharingID, StateFailed, reason)
}

// end moves a session to a terminal state and schedules the deferred
// removal. Until the remover runs, the session still counts toward the
// quota and can still be looked up by in-flight readers.
func (s *Service) end(sharingID, state, reason string) {
	s.mu.Lock()
	sess, ok := s.ledger.Get(sharingID)
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("termination report for unknown sharing session",
			zap.String("sharing_id", sharingID), zap.String("state", state))
		return
	}
	sess.State = state
	s.tables[sess.Kind].Remove(sharingID)
	s.mu.Unlock()
	s.publish("sharing.state_changed", StateChange{SharingID: sharingID, State: state, Reason: reason})
}

// AbortAll force-terminates every active session, e.g. on shutdown or
// IMS deregistration.
func (s *Service) AbortAll(reason string) {
	s.mu.Lock()
	sessions := s.ledger.Values()
	for _, sess := range sessions {
		sess.State = StateAborted
		s.tables[sess.Kind].Remove(sess.SharingID)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		s.publish("sharing.state_changed", StateChange{
			SharingID: sess.SharingID, State: StateAborted, Reason: reason,
		})
	}
	if len(sessions) > 0 {
		s.logger.Info("aborted all sharing sessions",
			zap.Int("count", len(sessions)), zap.String("reason", reason))
	}
}

// HandleCallEnded aborts the contact's sessions when their last call
// drops; content sharing does not outlive the call it rides on.
func (s *Service) HandleCallEnded(remote contact.ID) {
	s.mu.Lock()
	var ended []*Session
	for _, sess := range s.ledger.Values() {
		if sess.Remote != remote {
			continue
		}
		sess.State = StateAborted
		s.tables[sess.Kind].Remove(sess.SharingID)
		ended = append(ended, sess)
	}
	s.mu.Unlock()

	for _, sess := range ended {
		s.publish("sharing.state_changed", StateChange{
			SharingID: sess.SharingID, State: StateAborted, Reason: "call ended",
		})
	}
	if len(ended) > 0 {
		s.logger.Info("aborted sharing sessions after call end",
			zap.Int("count", len(ended)), zap.String("contact", remote.String()))
	}
}

// ActiveSessions returns value snapshots of every registered session.
func (s *Service) ActiveSessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, s.ledger.Count())
	for _, sess := range s.ledger.Values() {
		out = append(out, *sess)
	}
	return out
}

// GetSession returns a value snapshot of one session.
func (s *Service) GetSession(sharingID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.ledger.Get(sharingID)
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// SessionCount returns the number of registered sessions of one kind.
func (s *Service) SessionCount(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[kind].Count()
}

func (s *Service) respond(kind Kind, inv Invitation, code RejectCode, reason string) {
	if inv.Responder != nil {
		inv.Responder.Respond(code)
	}
	if s.metrics != nil {
		s.metrics.SharingRejections.WithLabelValues(string(kind), reason).Inc()
	}
}

func (s *Service) writeHistory(sess *Session) {
	if s.history == nil {
		return
	}
	err := s.history.AddSharing(&store.Sharing{
		SharingID:   sess.SharingID,
		Contact:     sess.Remote.String(),
		Kind:        string(sess.Kind),
		Direction:   string(sess.Direction),
		State:       sess.State,
		ContentName: sess.Content.Name,
		ContentMime: sess.Content.Mime,
		ContentSize: sess.Content.Size,
		CreatedAt:   sess.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("failed to write sharing history row",
			zap.Error(err), zap.String("sharing_id", sess.SharingID))
	}
}

func (s *Service) writeRejectedHistory(sharingID string, remote contact.ID, kind Kind, content Content) {
	if s.history == nil {
		return
	}
	err := s.history.AddSharing(&store.Sharing{
		SharingID:   sharingID,
		Contact:     remote.String(),
		Kind:        string(kind),
		Direction:   string(Terminating),
		State:       StateRejected,
		Reason:      ReasonMaxSessions,
		ContentName: content.Name,
		ContentMime: content.Mime,
		ContentSize: content.Size,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to write rejected sharing history row",
			zap.Error(err), zap.String("sharing_id", sharingID))
	}
}

func (s *Service) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
