package expenses

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"disclosure_pipeline/pkg/core/calc"
	"disclosure_pipeline/pkg/models"
	"disclosure_pipeline/pkg/platform/logger"
	"disclosure_pipeline/pkg/platform/metrics"
)

// Paging defaults for the entity list.
const (
	DefaultPage  = 1
	DefaultLimit = 50
	MaxLimit     = 100
)

// Handler serves the query routes from a Holder.
type Handler struct {
	holder  *Holder
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewHandler creates a Handler. m and log may be nil.
func NewHandler(holder *Holder, m *metrics.Metrics, log *zap.Logger) *Handler {
	return &Handler{holder: holder, metrics: m, log: logger.OrNop(log).With(zap.String("component", "api"))}
}

// Register mounts the query routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/operadoras", h.handleList)
		r.Get("/operadoras/{registry_id}", h.handleDetail)
		r.Get("/operadoras/{registry_id}/despesas", h.handleHistory)
		r.Get("/estatisticas", h.handleStatistics)
		r.Get("/estatisticas/crescimento", h.handleGrowth)
		r.Get("/estatisticas/regioes", h.handleRegions)
		r.Get("/estatisticas/acima-media", h.handleAboveMean)
	})
}

// NewRouter builds the full API router: CORS, request metrics, the query
// routes, /healthz and /metrics.
func NewRouter(h *Handler, allowedOrigins []string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS(allowedOrigins))
	r.Use(h.instrument)

	h.Register(r)
	r.Get("/healthz", h.handleHealth)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// =============================================================================
// ENTITIES
// =============================================================================

type listResponse struct {
	Data  []Entity `json:"data"`
	Total int      `json:"total"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}

	page, err := intParam(r, "page", DefaultPage)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := intParam(r, "limit", DefaultLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	data, total := snap.Search(r.URL.Query().Get("q"), page, limit)
	writeJSON(w, http.StatusOK, listResponse{Data: data, Total: total, Page: page, Limit: limit})
}

type detailResponse struct {
	Entity
	Aggregate *models.AggregatedRecord `json:"aggregate,omitempty"`
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	id, ok := registryID(w, r)
	if !ok {
		return
	}

	e, found := snap.Entity(id)
	if !found {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	resp := detailResponse{Entity: e}
	if a, ok := snap.Aggregate(id); ok {
		resp.Aggregate = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	id, ok := registryID(w, r)
	if !ok {
		return
	}

	history, found := snap.History(id)
	if !found {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// =============================================================================
// STATISTICS
// =============================================================================

func (h *Handler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	summary, err := snap.Summary()
	if !h.checkStat(w, err) {
		return
	}
	if summary.Top == nil {
		summary.Top = []models.AggregatedRecord{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleGrowth(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	growth, err := snap.Growth()
	if !h.checkStat(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(growth))
}

func (h *Handler) handleRegions(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	regions, err := snap.Regions()
	if !h.checkStat(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(regions))
}

func (h *Handler) handleAboveMean(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.snapshot(w)
	if !ok {
		return
	}
	limit, err := intParam(r, "limit", calc.DefaultTopN)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	rows, err := snap.AboveMean(limit)
	if !h.checkStat(w, err) {
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(rows))
}

type healthResponse struct {
	Status   string    `json:"status"`
	Entities int       `json:"entities"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := h.holder.Current()
	if snap == nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "loading"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Entities: snap.Len(), LoadedAt: snap.LoadedAt()})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) snapshot(w http.ResponseWriter) (*Snapshot, bool) {
	snap := h.holder.Current()
	if snap == nil {
		h.log.Error("request served without a snapshot", zap.Error(ErrNotLoaded))
		writeError(w, http.StatusInternalServerError, "data not loaded")
		return nil, false
	}
	return snap, true
}

func (h *Handler) checkStat(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	h.log.Error("statistic not servable", zap.Error(err))
	msg := "internal error"
	if errors.Is(err, ErrNonFinite) {
		msg = "statistic unavailable"
	}
	writeError(w, http.StatusInternalServerError, msg)
	return false
}

// instrument records route latency and status codes by route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveRequest(route, status, time.Since(start))
	})
}

// CORS allows cross-origin GETs from the listed origins. "*" allows any.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && (allowed["*"] || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func registryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "registry_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "registry_id must be an integer")
		return 0, false
	}
	return id, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func orEmpty[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
