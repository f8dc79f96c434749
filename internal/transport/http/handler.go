package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
	"github.com/cwrk-planet/deal-chat/internal/service"
	httpmw "github.com/cwrk-planet/deal-chat/internal/transport/http/middleware"
	"github.com/cwrk-planet/deal-chat/internal/transport/httputil"
)

type Rooms interface {
	GetOrCreate(ctx context.Context, listingID, buyerID string) (*domain.Room, domain.RoomOutcome, error)
	Authorize(ctx context.Context, roomID, userID string) (*domain.Room, error)
	Get(ctx context.Context, roomID, userID string) (*domain.RoomSummary, error)
	ListForUser(ctx context.Context, userID string, limit int, cursor string) ([]domain.RoomSummary, string, error)
	TotalUnread(ctx context.Context, userID string) (int, error)
	Messages(ctx context.Context, roomID, userID string, page domain.MessagePage) ([]domain.ChatMessage, error)
	AppendMessage(ctx context.Context, roomID, senderID string, in service.SendInput) (*domain.ChatMessage, error)
	EditMessage(ctx context.Context, roomID, messageID, actorID, content string) (*domain.ChatMessage, error)
	DeleteMessage(ctx context.Context, roomID, messageID, actorID string) (*domain.ChatMessage, error)
	MarkRead(ctx context.Context, roomID, userID string) (time.Time, error)
	Close(ctx context.Context, roomID, actorID string) (*domain.Room, bool, error)
	TouchActivity(ctx context.Context, roomID, userID string) error
}

type Notifications interface {
	List(ctx context.Context, userID string, page domain.NotificationPage) (*service.NotificationList, error)
	MarkRead(ctx context.Context, userID, notificationID string) (*domain.Notification, error)
}

type Presence interface {
	IsOnline(roomID, userID string) bool
}

type Handler struct {
	rooms    Rooms
	notes    Notifications
	presence Presence
}

func NewHandler(rooms Rooms, notes Notifications, presence Presence) *Handler {
	return &Handler{rooms: rooms, notes: notes, presence: presence}
}

// POST /listings/{id}/room
func (h *Handler) OpenRoom(w http.ResponseWriter, r *http.Request) {
	room, outcome, err := h.rooms.GetOrCreate(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if outcome == domain.OutcomeCreated {
		status = http.StatusCreated
	}
	httputil.JSON(w, status, OpenRoomResponse{Room: room, Outcome: outcome.String()})
}

// GET /rooms?limit=&cursor=
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	items, next, err := h.rooms.ListForUser(r.Context(), httpmw.UserIDFromCtx(r), limit, r.URL.Query().Get("cursor"))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if items == nil {
		items = []domain.RoomSummary{}
	}
	httputil.JSON(w, http.StatusOK, RoomsListResponse{Items: items, NextCursor: next})
}

// GET /rooms/unread
func (h *Handler) TotalUnread(w http.ResponseWriter, r *http.Request) {
	n, err := h.rooms.TotalUnread(r.Context(), httpmw.UserIDFromCtx(r))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, UnreadResponse{UnreadCount: n})
}

// GET /rooms/{id}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	sum, err := h.rooms.Get(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, sum)
}

// GET /rooms/{id}/messages?after=&since=&limit=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := domain.MessagePage{AfterID: q.Get("after")}
	var err error
	if page.Limit, err = queryInt(r, "limit"); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if s := q.Get("since"); s != "" {
		since, perr := time.Parse(time.RFC3339Nano, s)
		if perr != nil {
			httputil.Fail(r.Context(), w, domain.Invalidf("since must be RFC3339"))
			return
		}
		page.Since = &since
	}

	items, err := h.rooms.Messages(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r), page)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if items == nil {
		items = []domain.ChatMessage{}
	}
	httputil.JSON(w, http.StatusOK, MessagesResponse{Items: items})
}

// POST /rooms/{id}/messages — тот же путь, что send_message в live-протоколе.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req protocol.SendMessage
	if err := httputil.Decode(r, &req); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if err := protocol.Validate(&req); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	msg, err := h.rooms.AppendMessage(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r), service.SendInput{
		Content:    req.Content,
		Kind:       req.Kind,
		Attachment: req.Attachment,
	})
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, msg)
}

// PATCH /rooms/{id}/messages/{msgID}
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req EditMessageRequest
	if err := httputil.Decode(r, &req); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if err := protocol.Validate(&req); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	msg, err := h.rooms.EditMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "msgID"), httpmw.UserIDFromCtx(r), req.Content)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, msg)
}

// DELETE /rooms/{id}/messages/{msgID}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.rooms.DeleteMessage(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "msgID"), httpmw.UserIDFromCtx(r))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, msg)
}

// POST /rooms/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	at, err := h.rooms.MarkRead(r.Context(), roomID, httpmw.UserIDFromCtx(r))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, ReadResponse{RoomID: roomID, ReadAt: at})
}

// POST /rooms/{id}/close
func (h *Handler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	room, changed, err := h.rooms.Close(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, CloseResponse{Room: room, Changed: changed})
}

// GET /rooms/{id}/presence
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.Authorize(r.Context(), chi.URLParam(r, "id"), httpmw.UserIDFromCtx(r))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, PresenceResponse{
		RoomID: room.ID,
		Online: map[string]bool{
			room.BuyerID:  h.presence.IsOnline(room.ID, room.BuyerID),
			room.SellerID: h.presence.IsOnline(room.ID, room.SellerID),
		},
	})
}

// GET /notifications?limit=&cursor=&unread=
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := domain.NotificationPage{Cursor: q.Get("cursor")}
	var err error
	if page.Limit, err = queryInt(r, "limit"); err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	if s := q.Get("unread"); s != "" {
		if page.UnreadOnly, err = strconv.ParseBool(s); err != nil {
			httputil.Fail(r.Context(), w, domain.Invalidf("unread must be a boolean"))
			return
		}
	}
	list, err := h.notes.List(r.Context(), httpmw.UserIDFromCtx(r), page)
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, list)
}

// POST /notifications/{id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.notes.MarkRead(r.Context(), httpmw.UserIDFromCtx(r), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Fail(r.Context(), w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, n)
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, domain.Invalidf("%s must be a non-negative integer", key)
	}
	return n, nil
}
