package chat

import (
	"context"
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

// RegistrationGate answers whether the platform registration is active.
type RegistrationGate interface {
	IsRegistered() bool
}

// ContactNamer updates cached display names in the address book.
type ContactNamer interface {
	SetDisplayName(id contact.ID, name string) error
}

// History is the chat-log surface the directory and its handles write
// through.
type History interface {
	AddGroupChat(gc *store.GroupChat) error
	SetGroupChatState(chatID, state, reason string) error
	GetGroupChat(chatID string) (*store.GroupChat, error)
	AddMessage(m *store.Message) error
	Messages(chatID string, limit int) ([]store.Message, error)
}

// Launcher asks the transport to create the protocol session for an
// outbound group chat. It must not block on conference setup; that
// happens later in GroupSession.Start.
type Launcher func(ctx context.Context, participants []contact.ID, subject string) (GroupSession, error)

// InvitationEvent is the payload of "chat.invitation" and
// "chat.group_invitation" events.
type InvitationEvent struct {
	Contact contact.ID
	ChatID  string // group invitations only
	Subject string // group invitations only
}

// MessageEvent is the payload of "chat.message" events.
type MessageEvent struct {
	Contact contact.ID
	ChatID  string // empty for one-to-one chats
	Kind    string
	Message IncomingMessage
}

// StateChange is the payload of "chat.state_changed" events.
type StateChange struct {
	Contact contact.ID
	ChatID  string
	State   string
	Reason  string
}

// Options collects the directory's collaborators.
type Options struct {
	Registration RegistrationGate
	Contacts     ContactNamer
	History      History
	Launcher     Launcher
	Bus          *bus.Bus
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Directory tracks the live chat handles: one per contact for
// one-to-one chats, one per chat id for group chats. A new invitation
// replaces any prior handle for the same key. Group chat initiation is
// two-phase: the history row is written synchronously, the conference
// setup runs on a tracked background goroutine.
type Directory struct {
	registration RegistrationGate
	contacts     ContactNamer
	history      History
	launcher     Launcher
	bus          *bus.Bus
	metrics      *metrics.Metrics
	logger       *zap.Logger
	now          func() int64

	mu       sync.Mutex
	oneToOne *registry.Table[contact.ID, *OneToOneChat]
	groups   *registry.Table[string, *GroupChat]

	wg sync.WaitGroup
}

// NewDirectory creates the chat session directory.
func NewDirectory(opts Options) *Directory {
	d := &Directory{
		registration: opts.Registration,
		contacts:     opts.Contacts,
		history:      opts.History,
		launcher:     opts.Launcher,
		bus:          opts.Bus,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		now:          func() int64 { return time.Now().UnixMilli() },
	}
	d.oneToOne = registry.New[contact.ID, *OneToOneChat](&d.mu, nil)
	d.groups = registry.New[string, *GroupChat](&d.mu, nil)
	if d.metrics != nil {
		d.oneToOne.OnAdd = func(*OneToOneChat) { d.metrics.OneToOneChats.Inc() }
		d.oneToOne.OnDelete = func(*OneToOneChat) { d.metrics.OneToOneChats.Dec() }
		d.groups.OnAdd = func(*GroupChat) { d.metrics.GroupChats.Inc() }
		d.groups.OnDelete = func(*GroupChat) { d.metrics.GroupChats.Dec() }
	}
	return d
}

// ReceiveOneToOneInvitation registers a handle for an inbound two-party
// invitation, replacing any prior handle for the contact, and
// rebroadcasts the message carried inside the invitation. A carried
// message with a MIME type outside the chat set is a defect at this
// entry point and surfaces as an error.
func (d *Directory) ReceiveOneToOneInvitation(sess OneToOneSession) error {
	remote, err := contact.Parse(sess.RemoteIdentity())
	if err != nil {
		return fmt.Errorf("one-to-one chat invitation: %w", err)
	}
	d.setDisplayName(remote, sess.RemoteDisplayName())

	handle := &OneToOneChat{directory: d, remote: remote}
	d.mu.Lock()
	// Delete before Add so the replaced handle passes through the gauge
	// hook; Add alone replaces silently.
	d.oneToOne.Delete(remote)
	d.oneToOne.Add(remote, handle)
	d.mu.Unlock()
	handle.bind(sess)

	d.publish("chat.invitation", InvitationEvent{Contact: remote})
	d.logger.Info("one-to-one chat invitation", zap.String("contact", remote.String()))

	if first := sess.FirstMessage(); first != nil {
		kind, err := ClassifyMime(first.Mime)
		if err != nil {
			return fmt.Errorf("one-to-one chat invitation from %s: %w", remote, err)
		}
		d.publish("chat.message", MessageEvent{Contact: remote, Kind: kind, Message: *first})
	}
	return nil
}

// GetOrCreateOneToOneChat returns the handle registered for a contact,
// creating an unbound one if none exists.
func (d *Directory) GetOrCreateOneToOneChat(remote contact.ID) *OneToOneChat {
	d.mu.Lock()
	defer d.mu.Unlock()
	if handle, ok := d.oneToOne.Get(remote); ok {
		return handle
	}
	handle := &OneToOneChat{directory: d, remote: remote}
	d.oneToOne.Add(remote, handle)
	return handle
}

// GetOneToOneChat returns the handle registered for a contact.
func (d *Directory) GetOneToOneChat(remote contact.ID) (*OneToOneChat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oneToOne.Get(remote)
}

// HandleOneToOneSessionInitiation binds an outbound protocol session to
// the contact's handle, creating the handle if needed.
func (d *Directory) HandleOneToOneSessionInitiation(sess OneToOneSession) (*OneToOneChat, error) {
	remote, err := contact.Parse(sess.RemoteIdentity())
	if err != nil {
		return nil, fmt.Errorf("one-to-one chat initiation: %w", err)
	}
	handle := d.GetOrCreateOneToOneChat(remote)
	handle.bind(sess)
	return handle, nil
}

// ReceiveGroupChatInvitation registers a handle for an inbound group
// invitation. A chat id never seen before gets its history row written
// here; re-invitations to a known chat only refresh the handle.
func (d *Directory) ReceiveGroupChatInvitation(sess GroupSession) (*GroupChat, error) {
	inviter, err := contact.Parse(sess.RemoteIdentity())
	if err != nil {
		return nil, fmt.Errorf("group chat invitation: %w", err)
	}
	d.setDisplayName(inviter, sess.RemoteDisplayName())

	chatID := sess.ChatID()
	handle := &GroupChat{
		directory:      d,
		chatID:         chatID,
		contributionID: sess.ContributionID(),
		subject:        sess.Subject(),
		inviter:        inviter,
		participants:   append([]string(nil), sess.Participants()...),
		storage:        &GroupStorage{chatID: chatID, history: d.history},
	}
	d.mu.Lock()
	_, known := d.groups.Get(chatID)
	d.groups.Delete(chatID)
	d.groups.Add(chatID, handle)
	d.mu.Unlock()
	handle.bind(sess)

	if !known {
		existing, err := d.history.GetGroupChat(chatID)
		if err != nil {
			d.logger.Warn("group chat lookup failed",
				zap.Error(err), zap.String("chat_id", chatID))
		}
		if existing == nil {
			d.writeGroupRow(handle, directionTerminating, StateInitiating, "")
		}
	}

	d.publish("chat.group_invitation", InvitationEvent{
		Contact: inviter,
		ChatID:  chatID,
		Subject: sess.Subject(),
	})
	d.logger.Info("group chat invitation",
		zap.String("chat_id", chatID), zap.String("contact", inviter.String()))
	return handle, nil
}

// InitiateGroupChat starts an outbound group chat. The INITIATING
// history row is written synchronously before the conference setup
// starts on a background goroutine, so a crash mid-setup still leaves
// an auditable record. Every failure leaves a REJECTED row instead; an
// initiation never ends without a history row.
func (d *Directory) InitiateGroupChat(ctx context.Context, participants []contact.ID, subject string) (*GroupChat, error) {
	if !d.registration.IsRegistered() {
		d.writeRejectedRow(participants, subject)
		return nil, fmt.Errorf("initiate group chat: %w", ErrNotRegistered)
	}
	sess, err := d.launcher(ctx, participants, subject)
	if err != nil {
		d.writeRejectedRow(participants, subject)
		return nil, fmt.Errorf("initiate group chat: %w: %v", ErrInitiationFailed, err)
	}

	chatID := sess.ChatID()
	handle := &GroupChat{
		directory:      d,
		chatID:         chatID,
		contributionID: sess.ContributionID(),
		subject:        subject,
		participants:   contactStrings(participants),
		storage:        &GroupStorage{chatID: chatID, history: d.history},
	}
	d.writeGroupRow(handle, directionOriginating, StateInitiating, "")

	d.mu.Lock()
	d.groups.Delete(chatID)
	d.groups.Add(chatID, handle)
	d.mu.Unlock()
	handle.bind(sess)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := sess.Start(ctx); err != nil {
			d.logger.Error("group chat session start failed",
				zap.Error(err), zap.String("chat_id", chatID))
			if err := d.history.SetGroupChatState(chatID, StateFailed, err.Error()); err != nil {
				d.logger.Warn("failed to update group chat state",
					zap.Error(err), zap.String("chat_id", chatID))
			}
			d.mu.Lock()
			d.groups.Delete(chatID)
			d.mu.Unlock()
			d.publish("chat.state_changed", StateChange{
				ChatID: chatID, State: StateFailed, Reason: err.Error(),
			})
			return
		}
		d.publish("chat.state_changed", StateChange{ChatID: chatID, State: StateStarted})
	}()

	d.logger.Info("group chat initiated",
		zap.String("chat_id", chatID), zap.Int("participants", len(participants)))
	return handle, nil
}

// GetGroupChat returns the registered handle for a chat id.
func (d *Directory) GetGroupChat(chatID string) (*GroupChat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.groups.Get(chatID)
}

// OneToOneCount returns the number of registered one-to-one handles.
func (d *Directory) OneToOneCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oneToOne.Count()
}

// GroupCount returns the number of registered group handles.
func (d *Directory) GroupCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.groups.Count()
}

// Wait blocks until every background session start has finished. Called
// on shutdown after the launcher context is cancelled.
func (d *Directory) Wait() {
	d.wg.Wait()
}

// NewContributionID derives a fresh contribution id grouping the
// protocol exchanges of one logical group chat.
func NewContributionID() string {
	return uuid.NewString()
}

func (d *Directory) setDisplayName(id contact.ID, name string) {
	if name == "" || d.contacts == nil {
		return
	}
	if err := d.contacts.SetDisplayName(id, name); err != nil {
		d.logger.Warn("failed to update display name",
			zap.Error(err), zap.String("contact", id.String()))
	}
}

func (d *Directory) broadcastMessage(from contact.ID, chatID string, msg IncomingMessage) {
	kind, err := ClassifyMime(msg.Mime)
	if err != nil {
		d.logger.Warn("dropping message with unsupported mime type",
			zap.String("mime", msg.Mime), zap.String("contact", from.String()))
		return
	}
	d.publish("chat.message", MessageEvent{Contact: from, ChatID: chatID, Kind: kind, Message: msg})
}

func (d *Directory) writeGroupRow(handle *GroupChat, direction, state, reason string) {
	err := d.history.AddGroupChat(&store.GroupChat{
		ChatID:         handle.chatID,
		ContributionID: handle.contributionID,
		Contact:        handle.inviter.String(),
		Subject:        handle.subject,
		Participants:   handle.Participants(),
		Direction:      direction,
		State:          state,
		Reason:         reason,
		CreatedAt:      d.now(),
	})
	if err != nil {
		d.logger.Warn("failed to write group chat row",
			zap.Error(err), zap.String("chat_id", handle.chatID))
	}
}

// writeRejectedRow leaves the auditable trail for a failed initiation:
// a REJECTED row with the participants the caller asked for and a
// freshly derived contribution id.
func (d *Directory) writeRejectedRow(participants []contact.ID, subject string) {
	err := d.history.AddGroupChat(&store.GroupChat{
		ChatID:         uuid.NewString(),
		ContributionID: NewContributionID(),
		Subject:        subject,
		Participants:   contactStrings(participants),
		Direction:      directionOriginating,
		State:          StateRejected,
		Reason:         ReasonMaxChats,
		CreatedAt:      d.now(),
	})
	if err != nil {
		d.logger.Warn("failed to write rejected group chat row", zap.Error(err))
	}
}

func (d *Directory) publish(kind string, payload any) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func contactStrings(ids []contact.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
