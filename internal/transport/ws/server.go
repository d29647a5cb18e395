package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/chat-service/internal/domain"
	"github.com/cwrk-planet/chat-service/internal/event"
	"github.com/cwrk-planet/chat-service/internal/registry"
	"github.com/cwrk-planet/chat-service/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type ChatSvc interface {
	Save(ctx context.Context, roomID, userID int64, text string) (*domain.StoredMessage, error)
	History(ctx context.Context, roomID int64) ([]domain.StoredMessage, error)
}

type PresenceSvc interface {
	MarkOnline(ctx context.Context, userID int64) (bool, error)
	MarkOffline(ctx context.Context, userID int64) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, e event.Event) error
}

type Options struct {
	PingEvery        time.Duration
	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  int64
	AnnounceJoins    bool
	CheckOrigin      func(r *http.Request) bool
}

func (o *Options) setDefaults() {
	if o.PingEvery <= 0 {
		o.PingEvery = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 2 * o.PingEvery
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 16
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
}

type Server struct {
	upgrader websocket.Upgrader
	reg      *registry.Registry
	chatSvc  ChatSvc
	presence PresenceSvc
	pub      Publisher
	opts     Options

	mu       sync.Mutex
	closing  bool
	live     map[*wsConn]struct{}
	sessions sync.WaitGroup
}

func NewServer(reg *registry.Registry, chat ChatSvc, presence PresenceSvc, pub Publisher, opts Options) *Server {
	opts.setDefaults()
	return &Server{
		reg:      reg,
		chatSvc:  chat,
		presence: presence,
		pub:      pub,
		opts:     opts,
		live:     make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.HandshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin:      opts.CheckOrigin,
		},
	}
}

// WS endpoint: GET /ws/chat/{room_id}/{user_id}?recipient_id=...&username=...
func (s *Server) HandleRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := parseID(chi.URLParam(r, "room_id"))
	if err != nil {
		http.Error(w, "invalid room_id", http.StatusBadRequest)
		return
	}
	userID, err := parseID(chi.URLParam(r, "user_id"))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	q := r.URL.Query()
	var recipientID int64
	if raw := strings.TrimSpace(q.Get("recipient_id")); raw != "" {
		if recipientID, err = parseID(raw); err != nil {
			http.Error(w, "invalid recipient_id", http.StatusBadRequest)
			return
		}
	}
	username := strings.TrimSpace(q.Get("username"))
	if username == "" {
		username = "user" + strconv.FormatInt(userID, 10)
	}
	if s.isClosing() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		slog.Warn("ws upgrade failed", "room", roomID, "user", userID, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newWsConn(conn, userID, s.opts.WriteTimeout)
	if !s.track(c) {
		_ = c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(c)

	scope := registry.Room(roomID)
	log := logger.With(ctx, "room", roomID, "user", userID, "conn", c.id)

	// live frames wait until history is out
	c.hold()
	s.reg.Connect(c, scope)
	c.advance(StateConnected)
	log.Info("ws room connected")

	defer func() {
		c.advance(StateClosing)
		s.reg.DisconnectConn(c, scope)
		if s.opts.AnnounceJoins {
			leftCtx, leftCancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
			s.publish(leftCtx, log, event.RoomMessage{RoomID: roomID, SenderID: userID, Text: username + leftSuffix})
			leftCancel()
		}
		if err := c.Close(); err != nil {
			log.Debug("ws close failed", "err", err)
		}
		c.advance(StateClosed)
		log.Info("ws room closed")
	}()

	replayed, err := s.replay(ctx, c, roomID)
	if err != nil {
		log.Warn("ws history replay failed", "err", err)
		if errors.Is(err, errReplaySend) {
			return
		}
	}
	if err := c.release(func(f any) bool {
		rf, ok := f.(domain.RoomFrame)
		if !ok || rf.MessageID == 0 {
			return false
		}
		_, seen := replayed[rf.MessageID]
		return seen
	}); err != nil {
		log.Debug("ws held frames not delivered", "err", err)
		return
	}
	if s.opts.AnnounceJoins {
		s.publish(ctx, log, event.RoomMessage{RoomID: roomID, SenderID: userID, Text: username + joinedSuffix})
	}

	go s.pingLoop(ctx, c)
	s.readLoop(c, log, func(data []byte) {
		var in ChatIn
		if err := json.Unmarshal(data, &in); err != nil {
			log.Debug("ws malformed frame dropped", "err", err)
			return
		}
		s.handleChat(ctx, log, roomID, userID, recipientID, username, in.Text)
	})
}

// WS endpoint: GET /ws/notifications/{user_id}
func (s *Server) HandleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "user_id"))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	if s.isClosing() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "user", userID, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newWsConn(conn, userID, s.opts.WriteTimeout)
	if !s.track(c) {
		_ = c.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(c)

	log := logger.With(ctx, "user", userID, "conn", c.id)

	s.reg.Connect(c, registry.Global)
	c.advance(StateConnected)

	if _, err := s.presence.MarkOnline(ctx, userID); err != nil {
		log.Error("ws presence mark online failed", "err", err)
		c.advance(StateClosing)
		s.reg.DisconnectConn(c, registry.Global)
		_ = c.closeWith(websocket.CloseInternalServerErr, "presence unavailable")
		c.advance(StateClosed)
		return
	}
	log.Info("ws notifications connected")

	defer func() {
		c.advance(StateClosing)
		s.reg.DisconnectConn(c, registry.Global)
		offCtx, offCancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.WriteTimeout)
		if _, err := s.presence.MarkOffline(offCtx, userID); err != nil {
			log.Error("ws presence mark offline failed", "err", err)
		}
		offCancel()
		if err := c.Close(); err != nil {
			log.Debug("ws close failed", "err", err)
		}
		c.advance(StateClosed)
		log.Info("ws notifications closed")
	}()

	go s.pingLoop(ctx, c)
	// push-only stream: client frames are read to observe close and pongs
	s.readLoop(c, log, func([]byte) {})
}

var errReplaySend = errors.New("replay send failed")

// replay writes the room history straight to c, bypassing the hold, and
// returns the ids it sent.
func (s *Server) replay(ctx context.Context, c *wsConn, roomID int64) (map[int64]struct{}, error) {
	msgs, err := s.chatSvc.History(ctx, roomID)
	if err != nil {
		return nil, err
	}
	sent := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if err := c.write(domain.NewRoomFrame(m.Content, m.SenderID, c.userID, "")); err != nil {
			return sent, errors.Join(errReplaySend, err)
		}
		sent[m.ID] = struct{}{}
	}
	return sent, nil
}

func (s *Server) handleChat(ctx context.Context, log *slog.Logger, roomID, userID, recipientID int64, username, raw string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return
	}

	var messageID int64
	stored, err := s.chatSvc.Save(ctx, roomID, userID, text)
	switch {
	case err == nil:
		messageID = stored.ID
	case errors.Is(err, domain.ErrEmptyMessage), errors.Is(err, domain.ErrMessageTooLong):
		log.Debug("ws chat message rejected", "err", err)
		return
	default:
		// history is best-effort, live delivery still goes out
		log.Warn("ws chat save failed", "err", err)
	}

	s.publish(ctx, log, event.RoomMessage{
		RoomID:    roomID,
		SenderID:  userID,
		Text:      text,
		Author:    username,
		MessageID: messageID,
	})

	// only this instance's registry is consulted; a recipient connected to
	// another instance still gets a notification
	if recipientID == 0 || recipientID == userID || s.reg.HasRoomMember(roomID, recipientID) {
		return
	}
	notice, err := event.NewMessageNotice(recipientID, userID, username, text)
	if err != nil {
		log.Error("ws build notification failed", "err", err)
		return
	}
	s.publish(ctx, log, notice)
}

// Shutdown refuses new sessions, closes every open one with 1001 and waits
// for their teardown (deregistration, leave notices, MarkOffline) until ctx
// is done. It must run before the broker and presence store are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	open := make([]*wsConn, 0, len(s.live))
	for c := range s.live {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		_ = c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[c] = struct{}{}
	s.sessions.Add(1)
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
	s.sessions.Done()
}

func (s *Server) publish(ctx context.Context, log *slog.Logger, e event.Event) {
	if err := s.pub.Publish(ctx, e); err != nil {
		log.Error("ws publish failed", "event", e.Type(), "err", err)
	}
}

func (s *Server) readLoop(c *wsConn, log *slog.Logger, onFrame func([]byte)) {
	c.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read ended", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		onFrame(data)
	}
}

func (s *Server) pingLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.opts.PingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
