package collector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/FauxFaux/facto-exporter/pkg/record"
)

// Server wires the History store to the HTTP surface from spec §4.8/§6.
type Server struct {
	history *History
	log     *slog.Logger
}

// NewServer returns a Server answering queries against history.
func NewServer(history *History, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{history: history, log: log}
}

// Router builds the chi router exposing every collector endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/healthcheck", s.handleHealthcheck)
	r.Get("/metrics/raw", s.handleMetricsRaw)
	r.Post("/exp/store", s.handleStore)
	r.Get("/api/query", s.handleQuery)
	r.Get("/api/last", s.handleLast)
	r.Get("/api/long", s.handleLong)
	r.Get("/api/bulk-status", s.handleBulkStatus)
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("facto-exporter"))
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	obs, err := record.Unpack(r.Body)
	if err != nil {
		s.log.Warn("store: failed to parse observation", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.history.Append(obs)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleMetricsRaw(w http.ResponseWriter, _ *http.Request) {
	latest, ok := s.history.last()
	if !ok {
		return
	}
	for _, c := range latest.Units {
		fmt.Fprintf(w, "facto_products_complete{unit=\"%d\"} %d\n", c.UnitNumber, c.ProductsComplete)
		fmt.Fprintf(w, "# %s\nfacto_status{unit=\"%d\"} %d\n", StatusName(c.Status), c.UnitNumber, c.Status)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	units, err := ParseUnits(q.Get("units"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid units")
		return
	}

	steps := 30
	if v := q.Get("steps"); v != "" {
		steps, err = strconv.Atoi(v)
		if err != nil || steps <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid steps")
			return
		}
	}

	gap := int64(60)
	if v := q.Get("gap"); v != "" {
		gap, err = strconv.ParseInt(v, 10, 64)
		if err != nil || gap <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid gap")
			return
		}
	}

	end := time.Now().Unix()
	if v := q.Get("end"); v != "" {
		end, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid end")
			return
		}
	}

	result, err := s.history.Query(steps, gap, end, units)
	if err != nil {
		s.log.Error("query failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, map[string]any{
		"units":    result.Units,
		"times":    result.Times,
		"deltas":   result.Deltas,
		"statuses": result.Statuses,
	})
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	units, err := ParseUnits(r.URL.Query().Get("units"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid units")
		return
	}

	changes, err := s.history.Last(units)
	if err != nil {
		s.log.Error("last failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, map[string]any{"changes": changesToJSON(changes)})
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, _ *http.Request) {
	changes, err := s.history.BulkStatus()
	if err != nil {
		s.log.Error("bulk-status failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	units := make([]uint32, 0, len(changes))
	for u := range changes {
		units = append(units, u)
	}
	// stable ordering for a reproducible response body
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })

	statuses := make([][]any, 0, len(units))
	for _, u := range units {
		c := changes[u]
		statuses = append(statuses, []any{u, []any{c.ProducedChange, c.LastStatusChange, c.LastStatus, c.PreviousStatus}})
	}
	writeJSON(w, map[string]any{"statuses": statuses})
}

func (s *Server) handleLong(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	units, err := ParseUnits(q.Get("units"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid units")
		return
	}

	steps, err := strconv.Atoi(q.Get("steps"))
	if err != nil || steps <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid steps")
		return
	}

	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid start")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid end")
		return
	}

	result, err := s.history.Long(units, steps, start, end)
	if err != nil {
		s.log.Error("long failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stepsOut := make([][]map[string]any, len(result.Steps))
	for i, row := range result.Steps {
		out := make([]map[string]any, len(row))
		for j, cell := range row {
			out[j] = map[string]any{"s": cell.Statuses, "p": cell.Products}
		}
		stepsOut[i] = out
	}

	summaryOut := make([]map[string]any, len(result.Summary))
	for i, sm := range result.Summary {
		summaryOut[i] = map[string]any{"o": sm.Observations, "ds": sm.Dates}
	}

	writeJSON(w, map[string]any{"units": result.Units, "summary": summaryOut, "steps": stepsOut})
}

func changesToJSON(changes map[uint32]UnitChange) map[string]any {
	out := make(map[string]any, len(changes))
	for u, c := range changes {
		out[strconv.FormatUint(uint64(u), 10)] = map[string]any{
			"producedChange":   c.ProducedChange,
			"lastStatus":       c.LastStatus,
			"lastStatusChange": c.LastStatusChange,
			"previousStatus":   c.PreviousStatus,
		}
	}
	return out
}
