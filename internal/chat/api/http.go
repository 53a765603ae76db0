package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/whistleline/platform/internal/chat/broker"
	chat "github.com/whistleline/platform/internal/chat/domain"
	"github.com/whistleline/platform/internal/rbac"
	"github.com/whistleline/platform/internal/shared/auth"
	"github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/types"
)

// Handler provides HTTP handlers for case chat rooms
type Handler struct {
	broker *broker.Broker
	log    zerolog.Logger
}

// NewHandler creates a new chat handler
func NewHandler(b *broker.Broker, log zerolog.Logger) *Handler {
	return &Handler{broker: b, log: log.With().Str("component", "chat-api").Logger()}
}

// Routes registers the room routes. They expect auth.Middleware in front of
// them.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.With(auth.RequirePermission("messages", "relay")).Post("/relay", h.Relay)

	r.Route("/{roomID}", func(r chi.Router) {
		r.Get("/access", h.CheckAccess)
		r.Get("/messages", h.ListMessages)
		r.Post("/messages", h.SendMessage)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRoles(rbac.SuperAdmin, rbac.ExternalAdmin))
			r.Post("/lock", h.LockRoom)
			r.Post("/archive", h.ArchiveRoom)
		})
	})

	return r
}

// --- Request/Response types ---

type SendMessageRequest struct {
	Content string `json:"content"`
}

type RelayRequest struct {
	FromRoomID types.ID `json:"from_room_id"`
	ToRoomID   types.ID `json:"to_room_id"`
	MessageID  types.ID `json:"message_id"`
	Note       string   `json:"note,omitempty"`
}

type MessagesResponse struct {
	RoomID   types.ID               `json:"room_id"`
	Messages []broker.MessageResult `json:"messages"`
}

// --- Handlers ---

// CheckAccess handles GET /rooms/{roomID}/access
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	room, user, ok := h.authorize(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":   true,
		"room_id":   room.ID,
		"room_type": room.Type,
		"status":    room.Status,
		"role":      user.Role,
	})
}

// ListMessages handles GET /rooms/{roomID}/messages
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	room, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, h.log, errors.BadRequest("invalid limit"))
			return
		}
		limit = n
	}

	msgs, err := h.broker.ListMessages(r.Context(), room.ID, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{RoomID: room.ID, Messages: msgs})
}

// SendMessage handles POST /rooms/{roomID}/messages. The sender is always the
// authenticated caller.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	room, user, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, errors.BadRequest("invalid request body"))
		return
	}

	msg, err := h.broker.Send(r.Context(), broker.SendParams{
		RoomID:     room.ID,
		SenderRole: user.Role,
		SenderID:   user.ID,
		Content:    req.Content,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Relay handles POST /rooms/relay
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, h.log, errors.Unauthorized("authentication required"))
		return
	}

	var req RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, errors.BadRequest("invalid request body"))
		return
	}
	if req.FromRoomID.IsZero() || req.ToRoomID.IsZero() || req.MessageID.IsZero() {
		writeError(w, h.log, errors.Validation("from_room_id, to_room_id and message_id are required", nil))
		return
	}

	msg, err := h.broker.Relay(r.Context(), broker.RelayParams{
		FromRoomID:     req.FromRoomID,
		ToRoomID:       req.ToRoomID,
		MessageID:      req.MessageID,
		RelayingUserID: user.ID,
		Note:           req.Note,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// LockRoom handles POST /rooms/{roomID}/lock
func (h *Handler) LockRoom(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.broker.Lock)
}

// ArchiveRoom handles POST /rooms/{roomID}/archive
func (h *Handler) ArchiveRoom(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.broker.Archive)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id types.ID) error) {
	roomID, err := types.ParseID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, h.log, errors.BadRequest("invalid room ID"))
		return
	}
	if err := apply(r.Context(), roomID); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize resolves the room for the caller. A missing room and a forbidden
// one get the same response; the broker has already logged the reason.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (*chat.Room, *auth.User, bool) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, h.log, errors.Unauthorized("authentication required"))
		return nil, nil, false
	}

	roomID, err := types.ParseID(chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, h.log, errors.BadRequest("invalid room ID"))
		return nil, nil, false
	}

	room, err := h.broker.Authorize(r.Context(), roomID, broker.Caller{
		UserID:   user.ID,
		Role:     user.Role,
		ClientID: user.ClientID,
	})
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrForbidden) {
			writeError(w, h.log, errors.Forbidden("access denied"))
			return nil, nil, false
		}
		writeError(w, h.log, err)
		return nil, nil, false
	}
	return room, user, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus < http.StatusInternalServerError {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	log.Error().Err(err).Msg("request failed")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
