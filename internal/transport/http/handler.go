package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/chat-service/internal/domain"
)

type OnlineLister interface {
	Snapshot(ctx context.Context) ([]int64, error)
}

type HistoryLister interface {
	History(ctx context.Context, roomID int64) ([]domain.StoredMessage, error)
}

// Readiness reports whether the broker subscription is live.
type Readiness interface {
	Serving() bool
}

type Handler struct {
	presence OnlineLister
	chatSvc  HistoryLister
	ready    Readiness
}

func NewHandler(presence OnlineLister, chat HistoryLister, ready Readiness) *Handler {
	return &Handler{presence: presence, chatSvc: chat, ready: ready}
}

type OnlineUsersResponse struct {
	OnlineUsers []int64 `json:"online_users"`
}

type ChatMessageItem struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatHistoryResponse struct {
	Items []ChatMessageItem `json:"items"`
}

// GET /online-users
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	ids, err := h.presence.Snapshot(r.Context())
	if err != nil {
		slog.Error("handler.OnlineUsers:", "err", err)
		writeError(w, statusFor(err), "presence unavailable")
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, OnlineUsersResponse{OnlineUsers: ids})
}

// GET /rooms/{room_id}/chat
func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(chi.URLParam(r, "room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		writeError(w, statusFor(domain.ErrInvalidID), "invalid room_id")
		return
	}
	msgs, err := h.chatSvc.History(r.Context(), roomID)
	if err != nil {
		slog.Error("handler.ChatHistory:", "room", roomID, "err", err)
		writeError(w, statusFor(err), "history unavailable")
		return
	}
	resp := ChatHistoryResponse{Items: make([]ChatMessageItem, 0, len(msgs))}
	for _, m := range msgs {
		resp.Items = append(resp.Items, ChatMessageItem{
			ID:        m.ID,
			RoomID:    m.RoomID,
			SenderID:  m.SenderID,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.Truncate(time.Millisecond),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil && !h.ready.Serving() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "broker unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
