package intake

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/auth"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// Handler exposes the admission workflow over HTTP
type Handler struct {
	service *Service
}

// NewHandler creates a new intake handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the intake routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/assignments", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.With(auth.RequireRoles(auth.RoleAdmin, auth.RoleNurse, auth.RoleDoctor)).
			Post("/{decisionID}/confirm", h.Confirm)
	})

	r.Route("/patients/{patientID}", func(r chi.Router) {
		r.Get("/assignment", h.GetActive)
		r.Get("/assignments", h.GetHistory)
		r.With(auth.RequireRoles(auth.RoleAdmin, auth.RoleNurse)).
			Post("/discharge", h.Discharge)
	})

	r.Route("/resources", func(r chi.Router) {
		r.Get("/snapshot", h.GetSnapshot)
		r.Get("/{kind}", h.ListResources)
		r.With(auth.RequireRoles(auth.RoleAdmin)).
			Put("/{kind}/{resourceID}/availability", h.SetAvailability)
	})

	r.Post("/beds/{bedID}/cleaned", h.CompleteCleaning)

	return r
}

// --- Request/Response types ---

type ConfirmRequest struct {
	NurseID  *string `json:"nurse_id,omitempty"`
	DoctorID *string `json:"doctor_id,omitempty"`
	BedID    *string `json:"bed_id,omitempty"`
}

type SetAvailabilityRequest struct {
	Availability domain.Availability `json:"availability"`
}

// --- Handlers ---

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	sub, err := h.service.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if sub.Decision.Status == domain.StatusRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, sub)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "decisionID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid decision ID"))
		return
	}

	// The body is optional; no body confirms the proposal as is.
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	result, err := h.service.Confirm(r.Context(), id, &Overrides{
		NurseID:  req.NurseID,
		DoctorID: req.DoctorID,
		BedID:    req.BedID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Decision.Status == domain.StatusRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (h *Handler) GetActive(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}

	d, err := h.service.Active(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}
	if d == nil {
		writeError(w, errors.NotFound("active assignment", patientID.String()))
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}

	history, err := h.service.History(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []domain.Decision{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  history,
		"total": len(history),
	})
}

func (h *Handler) Discharge(w http.ResponseWriter, r *http.Request) {
	patientID, ok := patientParam(w, r)
	if !ok {
		return
	}

	d, err := h.service.Discharge(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	pool, err := h.service.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	resources, err := h.service.Roster(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if resources == nil {
		resources = []domain.Resource{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  resources,
		"total": len(resources),
	})
}

func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	var req SetAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	res, err := h.service.SetAvailability(r.Context(), kind, chi.URLParam(r, "resourceID"), req.Availability)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CompleteCleaning(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.CompleteCleaning(r.Context(), chi.URLParam(r, "bedID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

func patientParam(w http.ResponseWriter, r *http.Request) (types.ID, bool) {
	id, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return "", false
	}
	return id, true
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
