package chat

import (
	"sync"

	"go.uber.org/zap"

	"rcsd/internal/contact"
	"rcsd/internal/store"
)

// OneToOneChat is the application-facing handle for a two-party chat.
// It doubles as the listener attached to the underlying protocol
// session; callbacks are turned into bus broadcasts for the recorder
// and the application layer.
type OneToOneChat struct {
	directory *Directory
	remote    contact.ID

	mu      sync.Mutex
	session OneToOneSession
}

// Remote returns the peer contact.
func (c *OneToOneChat) Remote() contact.ID {
	return c.remote
}

// Session returns the protocol session currently bound to the handle,
// nil when the chat has no live session.
func (c *OneToOneChat) Session() OneToOneSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *OneToOneChat) bind(sess OneToOneSession) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	if sess != nil {
		sess.Attach(c)
	}
}

// OnMessage implements Listener.
func (c *OneToOneChat) OnMessage(msg IncomingMessage) {
	c.directory.broadcastMessage(c.remote, "", msg)
}

// OnStateChanged implements Listener.
func (c *OneToOneChat) OnStateChanged(state, reason string) {
	c.directory.publish("chat.state_changed", StateChange{
		Contact: c.remote,
		State:   state,
		Reason:  reason,
	})
}

// GroupChat is the application-facing handle for a multi-party chat. It
// carries a chat-log accessor scoped to its chat id and journals
// incoming messages through it before rebroadcasting them.
type GroupChat struct {
	directory      *Directory
	chatID         string
	contributionID string
	subject        string
	inviter        contact.ID
	participants   []string
	storage        *GroupStorage

	mu      sync.Mutex
	session GroupSession
}

func (g *GroupChat) ChatID() string         { return g.chatID }
func (g *GroupChat) ContributionID() string { return g.contributionID }
func (g *GroupChat) Subject() string        { return g.subject }

// Participants returns the participant identities the chat was created
// with.
func (g *GroupChat) Participants() []string {
	return append([]string(nil), g.participants...)
}

// Storage returns the chat-log accessor scoped to this chat.
func (g *GroupChat) Storage() *GroupStorage {
	return g.storage
}

// Session returns the protocol session currently bound to the handle.
func (g *GroupChat) Session() GroupSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

func (g *GroupChat) bind(sess GroupSession) {
	g.mu.Lock()
	g.session = sess
	g.mu.Unlock()
	if sess != nil {
		sess.Attach(g)
	}
}

// OnMessage implements Listener. Group messages are journaled through
// the scoped accessor before the broadcast; the message-id/chat-id
// unique key makes a duplicate journal write from the recorder a no-op.
func (g *GroupChat) OnMessage(msg IncomingMessage) {
	from := g.inviter
	if msg.From != "" {
		id, err := contact.Parse(msg.From)
		if err != nil {
			g.directory.logger.Warn("group message with unparsable sender",
				zap.String("from", msg.From), zap.String("chat_id", g.chatID))
		} else {
			from = id
		}
	}
	if err := g.storage.AddMessage(from.String(), msg); err != nil {
		g.directory.logger.Warn("failed to journal group message",
			zap.Error(err), zap.String("chat_id", g.chatID))
	}
	g.directory.broadcastMessage(from, g.chatID, msg)
}

// OnStateChanged implements Listener.
func (g *GroupChat) OnStateChanged(state, reason string) {
	g.directory.publish("chat.state_changed", StateChange{
		Contact: g.inviter,
		ChatID:  g.chatID,
		State:   state,
		Reason:  reason,
	})
}

// GroupStorage is a chat-log accessor scoped to one group chat.
type GroupStorage struct {
	chatID  string
	history History
}

// ChatID returns the chat this accessor is scoped to.
func (s *GroupStorage) ChatID() string {
	return s.chatID
}

// AddMessage journals an incoming message under the accessor's chat id.
func (s *GroupStorage) AddMessage(from string, msg IncomingMessage) error {
	return s.history.AddMessage(&store.Message{
		MessageID: msg.MessageID,
		ChatID:    s.chatID,
		Contact:   from,
		Direction: store.MessageIncoming,
		MimeType:  msg.Mime,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	})
}

// Messages returns the chat's message log, oldest first.
func (s *GroupStorage) Messages(limit int) ([]store.Message, error) {
	return s.history.Messages(s.chatID, limit)
}
