package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eigerco/dispersal/internal/core"
	"github.com/eigerco/dispersal/internal/paymentstate"
	"github.com/eigerco/dispersal/internal/store"
	"github.com/eigerco/dispersal/pkg/log"
)

const shutdownTimeout = 5 * time.Second

type metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispersal_status_requests_total",
			Help: "Status HTTP requests, by endpoint and status code",
		}, []string{"method", "endpoint", "status"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispersal_status_request_duration_seconds",
			Help:    "Status HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method", "endpoint"}),
	}
}

// Handler exposes the payment session and the dispersal journal over HTTP.
type Handler struct {
	session *paymentstate.Session
	journal *store.Dispersals
	metrics *metrics
	router  *mux.Router
	logger  zerolog.Logger
}

// NewHandler builds the router. journal may be nil. Request metrics are
// registered on reg and served together with everything else gathered from it.
func NewHandler(session *paymentstate.Session, journal *store.Dispersals, reg *prometheus.Registry) *Handler {
	h := &Handler{
		session: session,
		journal: journal,
		metrics: newMetrics(reg),
		router:  mux.NewRouter(),
		logger:  log.Root.With().Str("component", "status").Logger(),
	}
	h.router.Use(h.instrument)

	h.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	h.router.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1 := h.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/payment", h.payment).Methods(http.MethodGet)
	v1.HandleFunc("/quorums/{id:[0-9]+}/periods", h.periods).Methods(http.MethodGet)
	v1.HandleFunc("/dispersals", h.dispersals).Methods(http.MethodGet)
	v1.HandleFunc("/dispersals/{key}", h.dispersal).Methods(http.MethodGet)
	v1.HandleFunc("/dispersals/{key}", h.deleteDispersal).Methods(http.MethodDelete)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records latency and status of every matched route, labelled by its path template.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		timer := prometheus.NewTimer(h.metrics.latency.WithLabelValues(r.Method, endpoint))
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		h.metrics.requests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.code)).Inc()
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status":       "ok",
		"payment_type": h.session.Mode().String(),
	})
}

func (h *Handler) payment(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.session.Info())
}

type periodRecord struct {
	Index uint64 `json:"index"`
	Usage uint64 `json:"usage"`
}

type periodsResponse struct {
	Quorum      core.QuorumID             `json:"quorum"`
	Reservation core.ReservedPayment      `json:"reservation"`
	Pricing     *core.PaymentQuorumConfig `json:"pricing,omitempty"`
	Periods     []periodRecord            `json:"periods"`
}

func (h *Handler) periods(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 8)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid quorum id")
		return
	}
	q := core.QuorumID(id)

	advanced := h.session.Advanced()
	if advanced == nil {
		h.respondError(w, http.StatusNotFound, "no per-quorum reservations loaded")
		return
	}
	if !advanced.HasReservation(q) {
		h.respondError(w, http.StatusNotFound, "no reservation for quorum")
		return
	}

	records := advanced.GetPeriodRecords(q)
	resp := periodsResponse{
		Quorum:      q,
		Reservation: advanced.Reservations()[q],
		Periods:     make([]periodRecord, len(records)),
	}
	if pricing, ok := advanced.QuorumPaymentConfig(q); ok {
		resp.Pricing = &pricing
	}
	for i, rec := range records {
		resp.Periods[i] = periodRecord{Index: rec.Index, Usage: rec.Usage}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) dispersals(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		h.respondError(w, http.StatusNotFound, "journal disabled")
		return
	}
	records, err := h.journal.ListDispersals()
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []store.DispersalRecord{}
	}
	h.respondJSON(w, http.StatusOK, records)
}

// journalRecord resolves the {key} route variable to an existing journal entry. It writes
// the error response itself and reports false when there is none.
func (h *Handler) journalRecord(w http.ResponseWriter, r *http.Request) (store.DispersalRecord, bool) {
	if h.journal == nil {
		h.respondError(w, http.StatusNotFound, "journal disabled")
		return store.DispersalRecord{}, false
	}
	key, err := core.BlobKeyFromHex(mux.Vars(r)["key"])
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid blob key")
		return store.DispersalRecord{}, false
	}
	rec, err := h.journal.GetDispersal(key)
	if errors.Is(err, store.ErrDispersalNotFound) {
		h.respondError(w, http.StatusNotFound, "dispersal not found")
		return store.DispersalRecord{}, false
	}
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return store.DispersalRecord{}, false
	}
	return rec, true
}

func (h *Handler) dispersal(w http.ResponseWriter, r *http.Request) {
	if rec, ok := h.journalRecord(w, r); ok {
		h.respondJSON(w, http.StatusOK, rec)
	}
}

// deleteDispersal drops a journal entry. Payment state is unaffected.
func (h *Handler) deleteDispersal(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.journalRecord(w, r)
	if !ok {
		return
	}
	if err := h.journal.DeleteDispersal(rec.BlobKey); err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn().Err(err).Msg("failed to write response")
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg string) {
	h.respondJSON(w, code, map[string]string{"error": msg})
}

// Server runs a Handler on a TCP address.
type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

func NewServer(addr string, h *Handler) *Server {
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: h.logger,
	}
}

// Start listens and serves in the background. It returns the bound address.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
	return ln.Addr(), nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
