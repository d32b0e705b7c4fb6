package webserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"rcsd/internal/metrics"
	"rcsd/internal/registration"
	"rcsd/internal/sharing"
	"rcsd/internal/store"
)

// SessionSource exposes the live content-sharing sessions.
type SessionSource interface {
	ActiveSessions() []sharing.Session
}

// ChatSource exposes the live chat handle counts.
type ChatSource interface {
	OneToOneCount() int
	GroupCount() int
}

// Server is the HTTP observability surface: prometheus metrics plus a
// small read-only JSON API over the live session state and the history
// store. It never mutates anything.
type Server struct {
	addr     string
	logger   *zap.Logger
	srv      *http.Server
	ln       net.Listener
	metrics  *metrics.Metrics
	sessions SessionSource
	chats    ChatSource
	reg      *registration.Machine
	db       *store.DB
	started  time.Time
}

// New creates a server bound to addr once Start is called.
func New(addr string, m *metrics.Metrics, sessions SessionSource, chats ChatSource, reg *registration.Machine, db *store.DB, logger *zap.Logger) *Server {
	s := &Server{
		addr:     addr,
		logger:   logger,
		metrics:  m,
		sessions: sessions,
		chats:    chats,
		reg:      reg,
		db:       db,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /api/v1/sessions", s.serveSessions)
	mux.HandleFunc("GET /api/v1/chats", s.serveChats)
	mux.HandleFunc("GET /api/v1/stats", s.serveStats)

	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background. A bind failure
// is returned synchronously so the daemon fails fast on a taken port.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.started = time.Now()
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

type sessionView struct {
	SharingID   string `json:"sharing_id"`
	Contact     string `json:"contact"`
	Kind        string `json:"kind"`
	Direction   string `json:"direction"`
	State       string `json:"state"`
	ContentName string `json:"content_name,omitempty"`
	ContentMime string `json:"content_mime,omitempty"`
	ContentSize int64  `json:"content_size,omitempty"`
	Transferred int64  `json:"transferred,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func (s *Server) serveSessions(w http.ResponseWriter, _ *http.Request) {
	active := s.sessions.ActiveSessions()
	views := make([]sessionView, 0, len(active))
	for _, sess := range active {
		views = append(views, sessionView{
			SharingID:   sess.SharingID,
			Contact:     sess.Remote.String(),
			Kind:        string(sess.Kind),
			Direction:   string(sess.Direction),
			State:       sess.State,
			ContentName: sess.Content.Name,
			ContentMime: sess.Content.Mime,
			ContentSize: sess.Content.Size,
			Transferred: sess.Transferred,
			CreatedAt:   sess.CreatedAt,
		})
	}
	s.writeJSON(w, struct {
		Sessions []sessionView `json:"sessions"`
	}{Sessions: views})
}

func (s *Server) serveChats(w http.ResponseWriter, _ *http.Request) {
	recent, err := s.db.GroupChats(20)
	if err != nil {
		s.logger.Error("group chat listing failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	type groupView struct {
		ChatID  string `json:"chat_id"`
		Subject string `json:"subject,omitempty"`
		State   string `json:"state"`
		Reason  string `json:"reason,omitempty"`
	}
	groups := make([]groupView, 0, len(recent))
	for _, gc := range recent {
		groups = append(groups, groupView{
			ChatID:  gc.ChatID,
			Subject: gc.Subject,
			State:   gc.State,
			Reason:  gc.Reason,
		})
	}
	s.writeJSON(w, struct {
		OneToOne int         `json:"one_to_one"`
		Groups   int         `json:"groups"`
		Recent   []groupView `json:"recent_group_chats"`
	}{
		OneToOne: s.chats.OneToOneCount(),
		Groups:   s.chats.GroupCount(),
		Recent:   groups,
	})
}

func (s *Server) serveStats(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	contacts, _ := s.db.ContactCount()
	sharings, _ := s.db.SharingCount()
	groupChats, _ := s.db.GroupChatCount()
	messages, _ := s.db.MessageCount()

	s.writeJSON(w, struct {
		UptimeSeconds int64  `json:"uptime_seconds"`
		Registration  string `json:"registration"`
		Goroutines    int    `json:"goroutines"`
		AllocMB       uint64 `json:"alloc_mb"`
		SysMB         uint64 `json:"sys_mb"`
		GCCycles      uint32 `json:"gc_cycles"`
		Contacts      int64  `json:"contacts"`
		SharingRows   int64  `json:"sharing_rows"`
		GroupChatRows int64  `json:"group_chat_rows"`
		Messages      int64  `json:"messages"`
	}{
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Registration:  string(s.reg.Current()),
		Goroutines:    runtime.NumGoroutine(),
		AllocMB:       m.Alloc / 1000 / 1000,
		SysMB:         m.Sys / 1000 / 1000,
		GCCycles:      m.NumGC,
		Contacts:      contacts,
		SharingRows:   sharings,
		GroupChatRows: groupChats,
		Messages:      messages,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write response", zap.Error(err))
	}
}
