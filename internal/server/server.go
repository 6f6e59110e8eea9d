package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"veilperp/internal/ingestion"
	"veilperp/internal/observability"
	"veilperp/internal/persistence"
	"veilperp/internal/query"
)

// Server hosts the HTTP/JSON query surface, the admin injection routes, and
// a gRPC endpoint carrying health and reflection services.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	querySvc      *query.Service
	injector      *ingestion.AdminInjector
	snapshotMgr   *persistence.SnapshotManager
	metrics       *observability.Metrics
}

// Deps holds everything the server serves from.
type Deps struct {
	QueryService  *query.Service
	Injector      *ingestion.AdminInjector
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

func New(grpcAddr, httpAddr string, deps *Deps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		querySvc:      deps.QueryService,
		injector:      deps.Injector,
		snapshotMgr:   deps.SnapshotMgr,
		metrics:       deps.Metrics,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON server (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return fmt.Errorf("register routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/traders/{trader}/positions", s.instrument(s.handleTraderPositions)},
		{"GET", "/v1/traders/{trader}/orders", s.instrument(s.handleTraderOrders)},
		{"GET", "/v1/traders/{trader}/balance", s.instrument(s.handleTraderBalance)},
		{"GET", "/v1/traders/{trader}/journal", s.instrument(s.handleTraderJournal)},
		{"GET", "/v1/positions/open", s.instrument(s.handleOpenPositions)},
		{"GET", "/v1/orders/pending", s.instrument(s.handlePendingOrders)},
		{"GET", "/v1/instruments", s.instrument(s.handleListInstruments)},
		{"GET", "/v1/instruments/{key}", s.instrument(s.handleGetInstrument)},
		{"GET", "/v1/integrity", s.instrument(s.handleIntegrity)},
		{"GET", "/v1/status", s.instrument(s.handleStatus)},
		{"POST", "/v1/admin/prices", s.instrument(s.handleAdminPrice)},
		{"POST", "/v1/admin/instruments", s.instrument(s.handleAdminInstrument)},
		{"POST", "/v1/admin/fees", s.instrument(s.handleAdminFees)},
		{"POST", "/v1/admin/pause", s.instrument(s.handleAdminPause)},
		{"POST", "/v1/admin/owner", s.instrument(s.handleAdminOwner)},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("%s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

// instrument wraps a handler with request metrics.
func (s *Server) instrument(h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)
		if s.metrics != nil {
			endpoint := r.Method + " " + r.URL.Path
			s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleTraderPositions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	trader, ok := parseUUIDParam(w, pathParams, "trader")
	if !ok {
		return
	}
	positions, err := s.querySvc.GetTraderPositions(r.Context(), trader, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *Server) handleTraderOrders(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	trader, ok := parseUUIDParam(w, pathParams, "trader")
	if !ok {
		return
	}
	orders, err := s.querySvc.GetTraderOrders(r.Context(), trader, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Server) handleTraderBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	trader, ok := parseUUIDParam(w, pathParams, "trader")
	if !ok {
		return
	}
	balance, err := s.querySvc.GetTraderBalance(r.Context(), trader)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleTraderJournal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	trader, ok := parseUUIDParam(w, pathParams, "trader")
	if !ok {
		return
	}

	var afterSequence *int64
	if cursor := r.URL.Query().Get("after_sequence"); cursor != "" {
		seq, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after_sequence: %w", err))
			return
		}
		afterSequence = &seq
	}

	entries, err := s.querySvc.GetJournalHistory(r.Context(), trader, parseLimit(r), afterSequence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journal": entries})
}

func (s *Server) handleOpenPositions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	positions, err := s.querySvc.ListOpenPositions(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	orders, err := s.querySvc.ListPendingOrders(r.Context(), parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	instruments, err := s.querySvc.ListInstruments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"instruments": instruments})
}

func (s *Server) handleGetInstrument(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	key := pathParams["key"]
	if key == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("instrument key is required"))
		return
	}
	inst, err := s.querySvc.GetInstrument(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if inst == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("instrument %s not found", key))
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.querySvc.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp := map[string]interface{}{
		"ready": s.healthChecker != nil && s.healthChecker.IsReady(),
	}
	if s.snapshotMgr != nil {
		seq, err := s.snapshotMgr.GetLatestSequence(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp["persisted_sequence"] = seq
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Admin routes ---
// These inject events through the command channel; the engine still applies
// its own owner gating, so a compromised HTTP surface cannot bypass it.

func (s *Server) handleAdminPrice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.injector == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("admin injection disabled"))
		return
	}
	var req struct {
		Instrument    string `json:"instrument"`
		Price         int64  `json:"price"`
		PriceSequence int64  `json:"price_sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.injector.InjectTrustedPrice(r.Context(), req.Instrument, req.Price, req.PriceSequence); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAdminInstrument(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.injector == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("admin injection disabled"))
		return
	}
	var req struct {
		Instrument         string `json:"instrument"`
		Active             bool   `json:"active"`
		MaxLeverage        int64  `json:"max_leverage"`
		MaxDeviationBP     int64  `json:"max_deviation_bp"`
		MaxStalenessMicros int64  `json:"max_staleness_us"`
		MaxOpenInterest    int64  `json:"max_open_interest"`
		MinCollateral      int64  `json:"min_collateral"`
		MaxCollateral      int64  `json:"max_collateral"`
		OpenFeeBP          int64  `json:"open_fee_bp"`
		CloseFeeBP         int64  `json:"close_fee_bp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.injector.InjectInstrumentUpdate(r.Context(), req.Instrument, req.Active,
		req.MaxLeverage, req.MaxDeviationBP, req.MaxStalenessMicros,
		req.MaxOpenInterest, req.MinCollateral, req.MaxCollateral,
		req.OpenFeeBP, req.CloseFeeBP)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAdminFees(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.injector == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("admin injection disabled"))
		return
	}
	var req struct {
		MaintenanceMarginBP int64 `json:"maintenance_margin_bp"`
		LiquidationBonusBP  int64 `json:"liquidation_bonus_bp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.injector.InjectFeeParams(r.Context(), req.MaintenanceMarginBP, req.LiquidationBonusBP); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAdminPause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.injector == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("admin injection disabled"))
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.injector.InjectPause(r.Context(), req.Paused); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleAdminOwner(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if s.injector == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("admin injection disabled"))
		return
	}
	var req struct {
		NewOwner string `json:"new_owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	newOwner, err := uuid.Parse(req.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid new_owner: %w", err))
		return
	}
	if err := s.injector.InjectOwnershipTransfer(r.Context(), newOwner); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// --- helpers ---

func parseUUIDParam(w http.ResponseWriter, pathParams map[string]string, name string) (uuid.UUID, bool) {
	raw := pathParams[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s: %w", name, err))
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(r *http.Request) int {
	const defaultLimit = 100
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return defaultLimit
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
