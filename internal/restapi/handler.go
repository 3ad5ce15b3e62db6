// Package restapi serves a read-only view of the workspace over HTTP:
// subject status, event history, a plan preview and past runs.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gusmmm/theparser/internal/eventlog"
	"github.com/gusmmm/theparser/internal/plan"
	"github.com/gusmmm/theparser/internal/report"
	"github.com/gusmmm/theparser/internal/repository"
	"github.com/gusmmm/theparser/internal/subject"
	"github.com/gusmmm/theparser/internal/workspace"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler holds dependencies for REST endpoints.
type Handler struct {
	scanner   *workspace.Scanner
	repo      repository.Repository
	db        Pinger
	reportDir string
	logger    *slog.Logger
}

// NewHandler creates a new REST handler. repo and db may be nil when no
// index is configured.
func NewHandler(
	scanner *workspace.Scanner,
	repo repository.Repository,
	db Pinger,
	reportDir string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		scanner:   scanner,
		repo:      repo,
		db:        db,
		reportDir: reportDir,
		logger:    logger,
	}
}

// RegisterRoutes attaches all REST routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.HandleFunc("GET /subjects", h.listSubjects)
	mux.HandleFunc("GET /subjects/{id}", h.getSubject)
	mux.HandleFunc("GET /subjects/{id}/events", h.listEvents)
	mux.HandleFunc("GET /plan", h.previewPlan)
	mux.HandleFunc("GET /runs", h.listRuns)
}

func (h *Handler) requestLogger() *slog.Logger {
	return h.logger.With(slog.String("request_id", uuid.New().String()))
}

// ---------- GET /subjects ----------

type subjectSummary struct {
	ID          string            `json:"id"`
	Year        int               `json:"year"`
	Sources     int               `json:"sources"`
	Documents   int               `json:"documents"`
	Outputs     plan.Outputs      `json:"outputs"`
	Stale       bool              `json:"stale"`
	Invalidated map[string]string `json:"invalidated,omitempty"`
}

func (h *Handler) listSubjects(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()

	statuses, err := h.scanner.Scan(r.Context())
	if err != nil {
		logger.Error("scan workspace", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]subjectSummary, 0, len(statuses))
	for _, st := range statuses {
		sum := subjectSummary{
			ID:        st.ID,
			Year:      st.Year,
			Sources:   len(st.Sources),
			Documents: st.Documents,
			Outputs:   st.Snapshot.Outputs,
			Stale:     st.Staleness.Stale,
		}
		if len(st.Snapshot.Invalidated) > 0 {
			sum.Invalidated = make(map[string]string, len(st.Snapshot.Invalidated))
			for stage, why := range st.Snapshot.Invalidated {
				sum.Invalidated[string(stage)] = why
			}
		}
		out = append(out, sum)
	}
	logger.Info("list subjects", slog.Int("count", len(out)))
	writeJSON(w, http.StatusOK, out)
}

// ---------- GET /subjects/{id} ----------

func (h *Handler) getSubject(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	id := r.PathValue("id")

	st, err := h.scanner.Lookup(id)
	if err != nil {
		h.lookupError(w, logger, id, err)
		return
	}
	folders, err := workspace.FolderNames(st.Dir)
	if err != nil {
		logger.Error("list folders", slog.String("subject", id), slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  st,
		"folders": folders,
	})
}

// ---------- GET /subjects/{id}/events ----------

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	id := r.PathValue("id")

	if r.URL.Query().Get("source") == "index" {
		if h.repo == nil {
			http.Error(w, "no index configured", http.StatusNotFound)
			return
		}
		recs, err := h.repo.ListEvents(r.Context(), id)
		if err != nil {
			logger.Error("list indexed events", slog.String("subject", id), slog.String("error", err.Error()))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, recs)
		return
	}

	s, err := subject.New(h.scanner.Root, id)
	if err == nil {
		_, err = os.Stat(s.Dir)
	}
	if err != nil {
		h.lookupError(w, logger, id, err)
		return
	}
	events := eventlog.Load(s.Dir).Events
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ---------- GET /plan ----------

func (h *Handler) previewPlan(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()
	q := r.URL.Query()

	flags := plan.DefaultFlags()
	mode, err := plan.ParseMode(q.Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flags.Mode = mode
	if flags.Force, err = boolParam(q.Get("force"), false); err != nil {
		http.Error(w, "invalid force parameter", http.StatusBadRequest)
		return
	}
	if flags.SkipExisting, err = boolParam(q.Get("skip_existing"), true); err != nil {
		http.Error(w, "invalid skip_existing parameter", http.StatusBadRequest)
		return
	}

	statuses, err := h.scanner.Scan(r.Context())
	if err != nil {
		logger.Error("scan workspace", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	p := plan.Build(flags, workspace.Snapshots(statuses))
	logger.Info("plan preview",
		slog.String("mode", string(mode)),
		slog.Int("decisions", len(p.Decisions)),
	)
	writeJSON(w, http.StatusOK, p)
}

// ---------- GET /runs ----------

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger()

	if h.repo != nil {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit parameter", http.StatusBadRequest)
				return
			}
			limit = n
		}
		runs, err := h.repo.ListRuns(r.Context(), limit)
		if err != nil {
			logger.Error("list runs", slog.String("error", err.Error()))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, runs)
		return
	}

	index, err := report.ReadIndex(h.reportDir)
	if err != nil {
		logger.Error("read report index", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if index == nil {
		index = []report.IndexEntry{}
	}
	writeJSON(w, http.StatusOK, index)
}

// ---------- GET /healthz ----------

// healthz verifies the root is readable and, when configured, the index.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	result := map[string]string{"status": "ok"}
	httpStatus := http.StatusOK

	if _, err := os.Stat(h.scanner.Root); err != nil {
		result["status"] = "degraded"
		result["root"] = "inaccessible: " + err.Error()
		httpStatus = http.StatusServiceUnavailable
	} else {
		result["root"] = "ok"
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			result["status"] = "degraded"
			result["index"] = "unreachable: " + err.Error()
			httpStatus = http.StatusServiceUnavailable
		} else {
			result["index"] = "connected"
		}
	}

	writeJSON(w, httpStatus, result)
}

// lookupError maps subject lookup failures to HTTP status codes.
func (h *Handler) lookupError(w http.ResponseWriter, logger *slog.Logger, id string, err error) {
	switch {
	case errors.Is(err, subject.ErrInvalidID):
		http.Error(w, "invalid subject id", http.StatusBadRequest)
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "subject not found", http.StatusNotFound)
	default:
		logger.Error("lookup subject", slog.String("subject", id), slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func boolParam(v string, fallback bool) (bool, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
