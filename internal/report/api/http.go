package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/whistleline/platform/internal/report/domain"
	"github.com/whistleline/platform/internal/report/service"
	"github.com/whistleline/platform/internal/shared/auth"
	"github.com/whistleline/platform/internal/shared/errors"
	"github.com/whistleline/platform/internal/shared/middleware"
	"github.com/whistleline/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the report module
type Handler struct {
	svc *service.Service
	log zerolog.Logger
}

// NewHandler creates a new report handler
func NewHandler(svc *service.Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Routes registers the report routes. Submission is anonymous; everything
// else runs behind authn.
func (h *Handler) Routes(authn func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Submit)

	r.Group(func(r chi.Router) {
		r.Use(authn)
		r.Get("/", h.ListReports)
		r.Post("/{reportID}/status", h.AdvanceStatus)
	})

	return r
}

// --- Request/Response types ---

type AuthenticateRequest struct {
	TicketID string `json:"ticket_id"`
	PIN      string `json:"pin"`
}

type AdvanceStatusRequest struct {
	Status domain.Status `json:"status"`
}

type ListReportsResponse struct {
	Reports []*domain.Report `json:"reports"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// --- Handlers ---

// Submit handles POST /reports. No authentication: the response carries the
// ticket and PIN the reporter uses from then on.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, errors.BadRequest("invalid request body"))
		return
	}

	res, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Authenticate handles POST /auth/reporter
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, errors.BadRequest("invalid request body"))
		return
	}

	res, err := h.svc.Authenticate(r.Context(), service.AuthenticateRequest{
		TicketID:  req.TicketID,
		PIN:       req.PIN,
		IPAddress: middleware.ClientIP(r),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListReports handles GET /reports
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, h.log, errors.Unauthorized("authentication required"))
		return
	}

	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	reports, err := h.svc.ListReports(r.Context(), user.Identity(), filter)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if reports == nil {
		reports = []*domain.Report{}
	}
	writeJSON(w, http.StatusOK, ListReportsResponse{
		Reports: reports,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// AdvanceStatus handles POST /reports/{reportID}/status
func (h *Handler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, h.log, errors.Unauthorized("authentication required"))
		return
	}

	reportID, err := types.ParseID(chi.URLParam(r, "reportID"))
	if err != nil {
		writeError(w, h.log, errors.BadRequest("invalid report ID"))
		return
	}

	var req AdvanceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, errors.BadRequest("invalid request body"))
		return
	}

	rep, err := h.svc.AdvanceStatus(r.Context(), user.Identity(), reportID, req.Status)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return filter, errors.BadRequest("invalid limit")
		}
		filter.Limit = min(n, 200)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.BadRequest("invalid offset")
		}
		filter.Offset = n
	}
	if v := q.Get("client_id"); v != "" {
		id, err := types.ParseID(v)
		if err != nil {
			return filter, errors.BadRequest("invalid client ID")
		}
		filter.ClientID = id
	}
	if v := q.Get("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st := domain.Status(strings.TrimSpace(s))
			if !st.Valid() {
				return filter, errors.BadRequest("invalid status")
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if v := q.Get("type"); v != "" {
		t := domain.ReportType(v)
		if !t.Valid() {
			return filter, errors.BadRequest("invalid type")
		}
		filter.Type = t
	}
	return filter, nil
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
