package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carefront/platform/internal/shared/auth"
	"github.com/carefront/platform/internal/shared/errors"
	"github.com/carefront/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the audit module
type Handler struct {
	log *Log
}

// NewHandler creates a new audit handler
func NewHandler(log *Log) *Handler {
	return &Handler{log: log}
}

// Routes registers the audit routes. All of them are admin only.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireRoles(auth.RoleAdmin))

	r.Get("/", h.ListEntries)
	r.Get("/verify", h.VerifyChain)
	r.Get("/patient/{patientID}", h.GetByPatient)
	r.Get("/decision/{decisionID}", h.GetByDecision)

	// Entry by ID (must be after /verify to avoid conflicts)
	r.Get("/{entryID}", h.GetEntry)

	return r
}

// ListEntries lists audit entries with filters
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListEntriesFilter{
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		Limit:        intParam(r, "limit", 50),
		Offset:       intParam(r, "offset", 0),
		Ascending:    q.Get("order") == "asc",
	}

	if actorType := q.Get("actor_type"); actorType != "" {
		at := ActorType(actorType)
		filter.ActorType = &at
	}

	if resourceID := q.Get("resource_id"); resourceID != "" {
		id, err := types.ParseID(resourceID)
		if err != nil {
			writeError(w, errors.BadRequest("invalid resource_id"))
			return
		}
		filter.ResourceID = &id
	}

	if patientID := q.Get("patient_id"); patientID != "" {
		id, err := types.ParseID(patientID)
		if err != nil {
			writeError(w, errors.BadRequest("invalid patient_id"))
			return
		}
		filter.PatientID = &id
	}

	if startTime := q.Get("start_time"); startTime != "" {
		t, err := time.Parse(time.RFC3339, startTime)
		if err != nil {
			writeError(w, errors.BadRequest("start_time must be RFC3339"))
			return
		}
		filter.StartTime = &t
	}

	if endTime := q.Get("end_time"); endTime != "" {
		t, err := time.Parse(time.RFC3339, endTime)
		if err != nil {
			writeError(w, errors.BadRequest("end_time must be RFC3339"))
			return
		}
		filter.EndTime = &t
	}

	entries, total, err := h.log.Repository().List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  nonNil(entries),
		"total": total,
	})
}

// GetEntry gets an audit entry by ID
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid entry ID"))
		return
	}

	entry, err := h.log.Repository().FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// VerifyChain verifies the integrity of the audit chain
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	includeDetails := r.URL.Query().Get("details") == "true"

	result, err := h.log.Repository().VerifyChain(r.Context(), intParam(r, "limit", 100), includeDetails)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetByPatient returns the patient's decision trail, oldest first
func (h *Handler) GetByPatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid patient ID"))
		return
	}

	entries, err := h.log.ForPatient(r.Context(), patientID, intParam(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  nonNil(entries),
		"total": len(entries),
	})
}

// GetByDecision returns every entry recorded for one decision
func (h *Handler) GetByDecision(w http.ResponseWriter, r *http.Request) {
	decisionID, err := types.ParseID(chi.URLParam(r, "decisionID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid decision ID"))
		return
	}

	entries, err := h.log.ForDecision(r.Context(), decisionID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  nonNil(entries),
		"total": len(entries),
	})
}

// --- Helpers ---

func intParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

func nonNil(entries []*AuditEntry) []*AuditEntry {
	if entries == nil {
		return []*AuditEntry{}
	}
	return entries
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
