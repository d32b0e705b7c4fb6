package recorder

import (
	"context"

	"go.uber.org/zap"

	"rcsd/internal/bus"
	"rcsd/internal/chat"
	"rcsd/internal/sharing"
	"rcsd/internal/store"
)

// Engine journals sharing and chat events from the bus into the store.
// It subscribes to "sharing." and "chat." events and applies the state,
// progress and message updates asynchronously, so services never block
// on a history write after the initial row.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a recorder engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to sharing and chat events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	sharingCh, unsubSharing := e.bus.Subscribe("sharing.", 256)
	chatCh, unsubChat := e.bus.Subscribe("chat.", 256)

	go func() {
		defer close(e.done)
		defer unsubSharing()
		defer unsubChat()
		for {
			select {
			case evt := <-sharingCh:
				e.handleSharing(evt)
			case evt := <-chatCh:
				e.handleChat(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
}

func (e *Engine) handleSharing(evt bus.Event) {
	switch evt.Kind {
	case "sharing.state_changed":
		sc, ok := evt.Payload.(sharing.StateChange)
		if !ok {
			return
		}
		if err := e.db.SetSharingState(sc.SharingID, sc.State, sc.Reason); err != nil {
			e.logger.Error("failed to journal sharing state", zap.Error(err),
				zap.String("sharing_id", sc.SharingID), zap.String("state", sc.State))
		}
	case "sharing.progress":
		pr, ok := evt.Payload.(sharing.Progress)
		if !ok {
			return
		}
		if err := e.db.SetSharingProgress(pr.SharingID, pr.Transferred); err != nil {
			e.logger.Error("failed to journal sharing progress", zap.Error(err),
				zap.String("sharing_id", pr.SharingID))
		}
	}
}

func (e *Engine) handleChat(evt bus.Event) {
	switch evt.Kind {
	case "chat.state_changed":
		sc, ok := evt.Payload.(chat.StateChange)
		if !ok || sc.ChatID == "" {
			// One-to-one chats have no persisted lifecycle row.
			return
		}
		if err := e.db.SetGroupChatState(sc.ChatID, sc.State, sc.Reason); err != nil {
			e.logger.Error("failed to journal group chat state", zap.Error(err),
				zap.String("chat_id", sc.ChatID), zap.String("state", sc.State))
		}
	case "chat.message":
		me, ok := evt.Payload.(chat.MessageEvent)
		if !ok {
			return
		}
		// One-to-one messages are logged under the peer's number; the
		// unique (message id, chat id) key deduplicates messages already
		// journaled by a group handle.
		chatID := me.ChatID
		if chatID == "" {
			chatID = me.Contact.String()
		}
		err := e.db.AddMessage(&store.Message{
			MessageID: me.Message.MessageID,
			ChatID:    chatID,
			Contact:   me.Contact.String(),
			Direction: store.MessageIncoming,
			MimeType:  me.Message.Mime,
			Body:      me.Message.Body,
			Timestamp: me.Message.Timestamp,
		})
		if err != nil {
			e.logger.Error("failed to journal chat message", zap.Error(err),
				zap.String("chat_id", chatID), zap.String("message_id", me.Message.MessageID))
		}
	}
}
