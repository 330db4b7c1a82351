package task

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/carefront/platform/internal/shared/auth"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the task module
type Handler struct {
	service *Service
}

// NewHandler creates a new task handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the task routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListTasks)
	r.With(auth.RequireRoles(auth.RoleAdmin, auth.RoleNurse, auth.RoleDoctor)).
		Post("/", h.CreateTask)
	r.Get("/{taskID}", h.GetTask)
	r.Put("/{taskID}/status", h.UpdateStatus)
	r.Patch("/{taskID}/status", h.UpdateStatus)

	return r
}

type UpdateStatusRequest struct {
	Status Status `json:"status"`
}

// ListTasks lists tasks. mine=true narrows to the caller's roster entry.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Type:       Type(q.Get("type")),
		AgentRole:  q.Get("role"),
		Status:     Status(q.Get("status")),
		AssignedTo: q.Get("assigned_to"),
		BedID:      q.Get("bed_id"),
		OpenOnly:   q.Get("open") == "true",
		Limit:      intParam(r, "limit", 50),
		Offset:     intParam(r, "offset", 0),
	}

	if filter.Type != "" && !filter.Type.Valid() {
		writeError(w, errors.BadRequest("invalid type"))
		return
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, errors.BadRequest("invalid status"))
		return
	}

	if patientID := q.Get("patient_id"); patientID != "" {
		id, err := types.ParseID(patientID)
		if err != nil {
			writeError(w, errors.BadRequest("invalid patient_id"))
			return
		}
		filter.PatientID = &id
	}

	if q.Get("mine") == "true" {
		user := auth.GetUser(r.Context())
		if user == nil || user.StaffID == "" {
			writeError(w, errors.BadRequest("mine=true needs an account linked to a staff member"))
			return
		}
		filter.AssignedTo = user.StaffID
	}

	tasks, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*Task{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  tasks,
		"total": total,
	})
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	t, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskParam(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := taskParam(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	t, err := h.service.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// --- Helpers ---

func taskParam(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid task ID"))
		return "", false
	}
	return id, true
}

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := errors.As(err); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
