package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"rcsd/internal/bus"
	"rcsd/internal/contact"
	"rcsd/internal/store"
)

// fakeHistory is an in-memory chat log recording every call.
type fakeHistory struct {
	mu       sync.Mutex
	groups   map[string]*store.GroupChat
	order    []string
	messages []store.Message
	addErr   error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{groups: make(map[string]*store.GroupChat)}
}

func (h *fakeHistory) AddGroupChat(gc *store.GroupChat) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.addErr != nil {
		return h.addErr
	}
	cp := *gc
	if _, ok := h.groups[gc.ChatID]; !ok {
		h.order = append(h.order, gc.ChatID)
	}
	h.groups[gc.ChatID] = &cp
	return nil
}

func (h *fakeHistory) SetGroupChatState(chatID, state, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gc, ok := h.groups[chatID]; ok {
		gc.State = state
		gc.Reason = reason
	}
	return nil
}

func (h *fakeHistory) GetGroupChat(chatID string) (*store.GroupChat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gc, ok := h.groups[chatID]
	if !ok {
		return nil, nil
	}
	cp := *gc
	return &cp, nil
}

func (h *fakeHistory) AddMessage(m *store.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, *m)
	return nil
}

func (h *fakeHistory) Messages(chatID string, limit int) ([]store.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []store.Message
	for _, m := range h.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *fakeHistory) rows() []store.GroupChat {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]store.GroupChat, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, *h.groups[id])
	}
	return out
}

type fakeRegistration struct{ registered bool }

func (f *fakeRegistration) IsRegistered() bool { return f.registered }

type fakeNamer struct {
	mu    sync.Mutex
	names map[string]string
}

func (f *fakeNamer) SetDisplayName(id contact.ID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.names == nil {
		f.names = make(map[string]string)
	}
	f.names[id.String()] = name
	return nil
}

func (f *fakeNamer) nameOf(id contact.ID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[id.String()]
}

type fakeOneToOneSession struct {
	id       string
	remote   string
	display  string
	first    *IncomingMessage
	listener Listener
}

func (f *fakeOneToOneSession) ID() string                     { return f.id }
func (f *fakeOneToOneSession) RemoteIdentity() string         { return f.remote }
func (f *fakeOneToOneSession) RemoteDisplayName() string      { return f.display }
func (f *fakeOneToOneSession) Attach(l Listener)              { f.listener = l }
func (f *fakeOneToOneSession) FirstMessage() *IncomingMessage { return f.first }

type fakeGroupSession struct {
	chatID         string
	contributionID string
	subject        string
	remote         string
	display        string
	participants   []string
	startErr       error
	release        chan struct{} // Start blocks until closed, when non-nil
	listener       Listener
}

func (f *fakeGroupSession) ID() string                { return f.chatID }
func (f *fakeGroupSession) RemoteIdentity() string    { return f.remote }
func (f *fakeGroupSession) RemoteDisplayName() string { return f.display }
func (f *fakeGroupSession) Attach(l Listener)         { f.listener = l }
func (f *fakeGroupSession) ChatID() string            { return f.chatID }
func (f *fakeGroupSession) ContributionID() string    { return f.contributionID }
func (f *fakeGroupSession) Subject() string           { return f.subject }
func (f *fakeGroupSession) Participants() []string    { return f.participants }

func (f *fakeGroupSession) Start(context.Context) error {
	if f.release != nil {
		<-f.release
	}
	return f.startErr
}

type directoryFixture struct {
	dir     *Directory
	history *fakeHistory
	namer   *fakeNamer
	reg     *fakeRegistration
	bus     *bus.Bus
	events  <-chan bus.Event
}

func newFixture(t *testing.T, launcher Launcher) *directoryFixture {
	t.Helper()
	f := &directoryFixture{
		history: newFakeHistory(),
		namer:   &fakeNamer{},
		reg:     &fakeRegistration{registered: true},
		bus:     bus.New(),
	}
	ch, unsub := f.bus.Subscribe("chat.", 32)
	t.Cleanup(unsub)
	f.events = ch
	f.dir = NewDirectory(Options{
		Registration: f.reg,
		Contacts:     f.namer,
		History:      f.history,
		Launcher:     launcher,
		Bus:          f.bus,
		Logger:       zap.NewNop(),
	})
	return f
}

func (f *directoryFixture) waitEvent(t *testing.T, kind string) bus.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-f.events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s event", kind)
		}
	}
}

func TestReceiveOneToOneInvitation(t *testing.T) {
	f := newFixture(t, nil)
	sess := &fakeOneToOneSession{
		id: "sess1", remote: "tel:+33601020304", display: "Alice",
		first: &IncomingMessage{MessageID: "m1", Mime: MimeText, Body: "hi"},
	}

	if err := f.dir.ReceiveOneToOneInvitation(sess); err != nil {
		t.Fatal(err)
	}

	remote := contact.MustParse("+33601020304")
	if got := f.namer.nameOf(remote); got != "Alice" {
		t.Errorf("display name = %q, want Alice", got)
	}
	handle, ok := f.dir.GetOneToOneChat(remote)
	if !ok {
		t.Fatal("handle not registered")
	}
	if sess.listener != Listener(handle) {
		t.Error("handle not attached as session listener")
	}

	evt := f.waitEvent(t, "chat.invitation")
	if evt.Payload.(InvitationEvent).Contact != remote {
		t.Errorf("invitation contact = %v, want %v", evt.Payload, remote)
	}
	msg := f.waitEvent(t, "chat.message")
	me := msg.Payload.(MessageEvent)
	if me.Kind != MessageKindText || me.Message.Body != "hi" {
		t.Errorf("message event = %+v, want text/hi", me)
	}
}

func TestReceiveOneToOneInvitationGeolocMessage(t *testing.T) {
	f := newFixture(t, nil)
	sess := &fakeOneToOneSession{
		id: "sess1", remote: "+33601020304",
		first: &IncomingMessage{MessageID: "m1", Mime: MimeGeoloc, Body: "<geoloc/>"},
	}
	if err := f.dir.ReceiveOneToOneInvitation(sess); err != nil {
		t.Fatal(err)
	}
	me := f.waitEvent(t, "chat.message").Payload.(MessageEvent)
	if me.Kind != MessageKindGeoloc {
		t.Errorf("message kind = %q, want %q", me.Kind, MessageKindGeoloc)
	}
}

func TestReceiveOneToOneInvitationUnsupportedMime(t *testing.T) {
	f := newFixture(t, nil)
	sess := &fakeOneToOneSession{
		id: "sess1", remote: "+33601020304",
		first: &IncomingMessage{MessageID: "m1", Mime: "application/octet-stream"},
	}
	err := f.dir.ReceiveOneToOneInvitation(sess)
	if !errors.Is(err, ErrUnsupportedMime) {
		t.Fatalf("error = %v, want ErrUnsupportedMime", err)
	}
}

func TestReceiveOneToOneInvitationUnparsableIdentity(t *testing.T) {
	f := newFixture(t, nil)
	err := f.dir.ReceiveOneToOneInvitation(&fakeOneToOneSession{id: "s", remote: "not-a-number"})
	if err == nil {
		t.Fatal("want error for unparsable identity")
	}
	if f.dir.OneToOneCount() != 0 {
		t.Error("no handle must be registered for an unparsable identity")
	}
}

// TestOneToOneInvitationReplacesHandle verifies that a new invitation
// from the same contact replaces the prior handle instead of stacking a
// second one.
func TestOneToOneInvitationReplacesHandle(t *testing.T) {
	f := newFixture(t, nil)
	remote := contact.MustParse("+33601020304")

	first := &fakeOneToOneSession{id: "s1", remote: remote.String()}
	second := &fakeOneToOneSession{id: "s2", remote: remote.String()}
	if err := f.dir.ReceiveOneToOneInvitation(first); err != nil {
		t.Fatal(err)
	}
	if err := f.dir.ReceiveOneToOneInvitation(second); err != nil {
		t.Fatal(err)
	}

	if f.dir.OneToOneCount() != 1 {
		t.Fatalf("handle count = %d, want 1", f.dir.OneToOneCount())
	}
	handle, _ := f.dir.GetOneToOneChat(remote)
	if handle.Session() != OneToOneSession(second) {
		t.Error("handle must be bound to the newest session")
	}
}

func TestReceiveGroupChatInvitation(t *testing.T) {
	f := newFixture(t, nil)
	sess := &fakeGroupSession{
		chatID: "g1", contributionID: "c1", subject: "standup",
		remote: "+33601020304", display: "Alice",
		participants: []string{"+33601020304", "+33605060708"},
	}

	handle, err := f.dir.ReceiveGroupChatInvitation(sess)
	if err != nil {
		t.Fatal(err)
	}
	if handle.ChatID() != "g1" || handle.Subject() != "standup" {
		t.Errorf("handle = %s/%s, want g1/standup", handle.ChatID(), handle.Subject())
	}
	if handle.Storage().ChatID() != "g1" {
		t.Error("storage accessor not scoped to the chat id")
	}
	if _, ok := f.dir.GetGroupChat("g1"); !ok {
		t.Fatal("handle not registered")
	}

	rows := f.history.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d history rows, want 1", len(rows))
	}
	if rows[0].State != StateInitiating || rows[0].Direction != directionTerminating {
		t.Errorf("row = %s/%s, want INITIATING/TERMINATING", rows[0].State, rows[0].Direction)
	}

	f.waitEvent(t, "chat.group_invitation")
}

// TestGroupChatReinvitationKeepsHistory verifies a re-invitation to an
// already recorded chat refreshes the handle without writing a second
// history row.
func TestGroupChatReinvitationKeepsHistory(t *testing.T) {
	f := newFixture(t, nil)
	sess := &fakeGroupSession{chatID: "g1", contributionID: "c1", remote: "+33601020304"}

	if _, err := f.dir.ReceiveGroupChatInvitation(sess); err != nil {
		t.Fatal(err)
	}
	if _, err := f.dir.ReceiveGroupChatInvitation(sess); err != nil {
		t.Fatal(err)
	}

	if got := len(f.history.rows()); got != 1 {
		t.Errorf("history rows = %d, want 1", got)
	}
	if f.dir.GroupCount() != 1 {
		t.Errorf("group handles = %d, want 1", f.dir.GroupCount())
	}
}

func TestInitiateGroupChat(t *testing.T) {
	release := make(chan struct{})
	sess := &fakeGroupSession{chatID: "g1", contributionID: "c1", release: release}
	f := newFixture(t, func(context.Context, []contact.ID, string) (GroupSession, error) {
		return sess, nil
	})

	participants := []contact.ID{contact.MustParse("+33601020304"), contact.MustParse("+33605060708")}
	handle, err := f.dir.InitiateGroupChat(context.Background(), participants, "standup")
	if err != nil {
		t.Fatal(err)
	}

	// The INITIATING row must exist before conference setup finishes:
	// Start is still blocked on release here.
	rows := f.history.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d history rows before session start, want 1", len(rows))
	}
	if rows[0].State != StateInitiating || rows[0].Direction != directionOriginating {
		t.Errorf("row = %s/%s, want INITIATING/ORIGINATING", rows[0].State, rows[0].Direction)
	}
	if len(rows[0].Participants) != 2 {
		t.Errorf("participants = %v, want 2 entries", rows[0].Participants)
	}
	if _, ok := f.dir.GetGroupChat("g1"); !ok {
		t.Fatal("handle not registered")
	}
	if handle.ContributionID() != "c1" {
		t.Errorf("contribution id = %q, want c1", handle.ContributionID())
	}

	close(release)
	evt := f.waitEvent(t, "chat.state_changed")
	sc := evt.Payload.(StateChange)
	if sc.ChatID != "g1" || sc.State != StateStarted {
		t.Errorf("state change = %+v, want g1 STARTED", sc)
	}
	f.dir.Wait()
}

// TestInitiateGroupChatLauncherFailure verifies the §auditable-trail
// contract: a core-level initiation failure leaves a REJECTED row with
// reason REJECTED_MAX_CHATS, the requested participants and a freshly
// generated contribution id, and registers no handle.
func TestInitiateGroupChatLauncherFailure(t *testing.T) {
	f := newFixture(t, func(context.Context, []contact.ID, string) (GroupSession, error) {
		return nil, errors.New("core: max chats reached")
	})

	participants := []contact.ID{contact.MustParse("+33601020304")}
	_, err := f.dir.InitiateGroupChat(context.Background(), participants, "standup")
	if !errors.Is(err, ErrInitiationFailed) {
		t.Fatalf("error = %v, want ErrInitiationFailed", err)
	}

	rows := f.history.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d history rows, want 1", len(rows))
	}
	row := rows[0]
	if row.State != StateRejected || row.Reason != ReasonMaxChats {
		t.Errorf("row = %s/%s, want REJECTED/%s", row.State, row.Reason, ReasonMaxChats)
	}
	if row.ContributionID == "" {
		t.Error("rejected row must carry a freshly generated contribution id")
	}
	if len(row.Participants) != 1 || row.Participants[0] != "+33601020304" {
		t.Errorf("participants = %v, want the requested contact", row.Participants)
	}
	if f.dir.GroupCount() != 0 {
		t.Error("no handle may be registered for a failed initiation")
	}

	// A second failed attempt gets its own contribution id.
	_, _ = f.dir.InitiateGroupChat(context.Background(), participants, "standup")
	rows = f.history.rows()
	if len(rows) != 2 {
		t.Fatalf("got %d history rows after second attempt, want 2", len(rows))
	}
	if rows[1].ContributionID == rows[0].ContributionID {
		t.Error("each rejected attempt must derive a fresh contribution id")
	}
}

func TestInitiateGroupChatNotRegistered(t *testing.T) {
	f := newFixture(t, func(context.Context, []contact.ID, string) (GroupSession, error) {
		t.Fatal("launcher must not run without a registration")
		return nil, nil
	})
	f.reg.registered = false

	_, err := f.dir.InitiateGroupChat(context.Background(),
		[]contact.ID{contact.MustParse("+33601020304")}, "")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("error = %v, want ErrNotRegistered", err)
	}
	rows := f.history.rows()
	if len(rows) != 1 || rows[0].State != StateRejected {
		t.Fatalf("a rejected initiation must still leave a history row, got %+v", rows)
	}
}

// TestInitiateGroupChatStartFailure verifies a conference setup failure
// after the synchronous phase downgrades the row to FAILED and drops
// the handle.
func TestInitiateGroupChatStartFailure(t *testing.T) {
	sess := &fakeGroupSession{chatID: "g1", contributionID: "c1", startErr: errors.New("setup refused")}
	f := newFixture(t, func(context.Context, []contact.ID, string) (GroupSession, error) {
		return sess, nil
	})

	_, err := f.dir.InitiateGroupChat(context.Background(),
		[]contact.ID{contact.MustParse("+33601020304")}, "")
	if err != nil {
		t.Fatal(err)
	}
	evt := f.waitEvent(t, "chat.state_changed")
	sc := evt.Payload.(StateChange)
	if sc.State != StateFailed {
		t.Fatalf("state change = %+v, want FAILED", sc)
	}
	f.dir.Wait()

	if f.dir.GroupCount() != 0 {
		t.Error("failed chat handle must be dropped")
	}
	row, _ := f.history.GetGroupChat("g1")
	if row == nil || row.State != StateFailed {
		t.Errorf("history row = %+v, want FAILED", row)
	}
}

// TestGroupMessageJournaledThroughStorage verifies a group handle
// journals incoming messages through its scoped accessor before the
// broadcast.
func TestGroupMessageJournaledThroughStorage(t *testing.T) {
	f := newFixture(t, nil)
	sess := &fakeGroupSession{chatID: "g1", contributionID: "c1", remote: "+33601020304"}
	handle, err := f.dir.ReceiveGroupChatInvitation(sess)
	if err != nil {
		t.Fatal(err)
	}

	sess.listener.OnMessage(IncomingMessage{
		MessageID: "m1", From: "+33605060708", Mime: MimeText, Body: "hello", Timestamp: 1000,
	})

	msgs, err := handle.Storage().Messages(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Contact != "+33605060708" || msgs[0].Body != "hello" {
		t.Fatalf("journaled messages = %+v, want one from +33605060708", msgs)
	}
	me := f.waitEvent(t, "chat.message").Payload.(MessageEvent)
	if me.ChatID != "g1" || me.Contact != contact.MustParse("+33605060708") {
		t.Errorf("message event = %+v, want g1 from +33605060708", me)
	}
}

func TestNewContributionID(t *testing.T) {
	a, b := NewContributionID(), NewContributionID()
	if a == "" || a == b {
		t.Errorf("contribution ids must be unique and non-empty, got %q and %q", a, b)
	}
}
