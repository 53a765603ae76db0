package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whistleline/platform/internal/chat/broker"
	"github.com/whistleline/platform/internal/memory"
	"github.com/whistleline/platform/internal/rbac"
	report "github.com/whistleline/platform/internal/report/domain"
	"github.com/whistleline/platform/internal/shared/auth"
	"github.com/whistleline/platform/internal/shared/types"
)

type testEnv struct {
	router http.Handler
	user   *auth.User
	report *report.Report
	rooms  *broker.CaseRooms
}

// newTestEnv mounts the routes behind a stub that authenticates as env.user.
func newTestEnv(t *testing.T, status report.Status) *testEnv {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	rep := &report.Report{
		ID:          types.NewID(),
		TicketID:    "WLB-2026-CHATTEST",
		Type:        report.ReportTypeEthics,
		Status:      status,
		ClientID:    types.NewID(),
		SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Reports().Save(ctx, rep))

	b := broker.New(store.Chat(), nil, zerolog.Nop())
	rooms, err := b.CreateCaseRooms(ctx, rep.ClientID, rep.ID)
	require.NoError(t, err)

	env := &testEnv{report: rep, rooms: rooms}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithUser(req.Context(), env.user)))
		})
	})
	r.Mount("/rooms", NewHandler(b, zerolog.Nop()).Routes())
	env.router = r
	return env
}

func (e *testEnv) as(role rbac.Role, clientID types.ID) {
	e.user = &auth.User{ID: types.NewID(), Role: role, ClientID: clientID}
}

func (e *testEnv) asReporter() {
	e.user = &auth.User{ID: e.report.ID, Role: rbac.Reporter}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) send(t *testing.T, roomID types.ID, content string) broker.MessageResult {
	t.Helper()
	w := e.do(http.MethodPost, "/rooms/"+roomID.String()+"/messages", `{"content":"`+content+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var msg broker.MessageResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	return msg
}

func (e *testEnv) list(t *testing.T, roomID types.ID) []broker.MessageResult {
	t.Helper()
	w := e.do(http.MethodGet, "/rooms/"+roomID.String()+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Messages
}

func TestReporterConversation(t *testing.T) {
	e := newTestEnv(t, report.StatusSubmitted)

	e.asReporter()
	sent := e.send(t, e.rooms.ReporterRoomID, "hello")
	assert.Equal(t, rbac.Reporter, sent.SenderRole)
	assert.Equal(t, e.report.ID, sent.SenderID)

	e.as(rbac.ExternalAdmin, "")
	msgs := e.list(t, e.rooms.ReporterRoomID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].IsInternal)
}

func TestRoomAccessIsUniform(t *testing.T) {
	e := newTestEnv(t, report.StatusValidated)

	tests := []struct {
		name   string
		setup  func()
		roomID types.ID
		status int
	}{
		{"reporter own room", e.asReporter, e.rooms.ReporterRoomID, http.StatusOK},
		{"reporter internal room", e.asReporter, e.rooms.InternalRoomID, http.StatusForbidden},
		{"other reporter", func() { e.as(rbac.Reporter, "") }, e.rooms.ReporterRoomID, http.StatusForbidden},
		{"internal admin", func() { e.as(rbac.InternalAdmin, e.report.ClientID) }, e.rooms.InternalRoomID, http.StatusOK},
		{"internal admin other client", func() { e.as(rbac.InternalAdmin, types.NewID()) }, e.rooms.InternalRoomID, http.StatusForbidden},
		{"company admin reporter room", func() { e.as(rbac.CompanyAdmin, e.report.ClientID) }, e.rooms.ReporterRoomID, http.StatusForbidden},
		{"unknown room", func() { e.as(rbac.SuperAdmin, "") }, types.NewID(), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			w := e.do(http.MethodGet, "/rooms/"+tt.roomID.String()+"/access", "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusForbidden {
				assert.JSONEq(t, `{"error":"access denied","code":"FORBIDDEN","details":null}`, w.Body.String())
			}
		})
	}
}

func TestInternalRoomRequiresValidation(t *testing.T) {
	e := newTestEnv(t, report.StatusSubmitted)

	e.as(rbac.InternalAdmin, e.report.ClientID)
	w := e.do(http.MethodPost, "/rooms/"+e.rooms.InternalRoomID.String()+"/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRelayRoute(t *testing.T) {
	e := newTestEnv(t, report.StatusValidated)

	e.as(rbac.InternalAdmin, e.report.ClientID)
	original := e.send(t, e.rooms.InternalRoomID, "status update")

	body := `{"from_room_id":"` + e.rooms.InternalRoomID.String() +
		`","to_room_id":"` + e.rooms.ReporterRoomID.String() +
		`","message_id":"` + original.ID.String() + `","note":"fyi"}`

	// Only roles holding messages:relay reach the handler.
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, "/rooms/relay", body).Code)

	e.as(rbac.ExternalAdmin, "")
	w := e.do(http.MethodPost, "/rooms/relay", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	e.asReporter()
	msgs := e.list(t, e.rooms.ReporterRoomID)
	require.Len(t, msgs, 1)
	assert.Equal(t, rbac.ExternalAdmin, msgs[0].SenderRole)
	assert.Contains(t, msgs[0].Content, "status update")

	e.as(rbac.ExternalAdmin, "")
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodPost, "/rooms/relay", `{}`).Code)
}

func TestLockRoom(t *testing.T) {
	e := newTestEnv(t, report.StatusSubmitted)
	path := "/rooms/" + e.rooms.ReporterRoomID.String() + "/lock"

	e.as(rbac.CompanyAdmin, e.report.ClientID)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPost, path, "").Code)

	e.as(rbac.ExternalAdmin, "")
	assert.Equal(t, http.StatusNoContent, e.do(http.MethodPost, path, "").Code)
	assert.Equal(t, http.StatusConflict, e.do(http.MethodPost, path, "").Code)

	e.asReporter()
	w := e.do(http.MethodPost, "/rooms/"+e.rooms.ReporterRoomID.String()+"/messages", `{"content":"anyone?"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
