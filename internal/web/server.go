package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"photo-press-go/internal/compressor"
	"photo-press-go/internal/config"
	"photo-press-go/internal/logger"
	"photo-press-go/internal/metadata"
	"photo-press-go/internal/payload"
	"photo-press-go/internal/runner"
	"photo-press-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	compressor compressor.Compressor
	limiter    *ipLimiter
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current run state
	operationMutex sync.RWMutex
	isRunning      bool
	cancelRun      context.CancelFunc
	runDone        chan struct{}
	currentStats   *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type CompressRequest struct {
	Image  payload.Image      `json:"image"`
	Config *compressor.Config `json:"config,omitempty"`
}

// BatchRequest carries data URIs as plain strings so that one malformed entry
// does not reject the whole batch.
type BatchRequest struct {
	Images []string           `json:"images"`
	Config *compressor.Config `json:"config,omitempty"`
}

// BatchItem is one batch result. CompressedImage is the output data URI, or
// the submitted string unchanged when the entry could not be parsed.
type BatchItem struct {
	compressor.CompressionResult
	CompressedImage string `json:"compressedImage"`
}

type RunRequest struct {
	SourceDirectory string `json:"source_directory"`
	TargetDirectory string `json:"target_directory,omitempty"`
	DryRun          bool   `json:"dry_run"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, comp compressor.Compressor) *Server {
	s := &Server{
		cfg:        cfg,
		log:        log,
		router:     mux.NewRouter(),
		compressor: comp,
		limiter:    newIPLimiter(cfg.Server.RatePerSecond, cfg.Server.RateBurst),
		wsClients:  make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // API is meant for local tooling
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.limitBody)
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/config", s.handleConfig).Methods("GET")
	api.HandleFunc("/probe", s.handleProbe).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")
	api.Handle("/compress", s.rateLimit(s.handleCompress)).Methods("POST")
	api.Handle("/compress/batch", s.rateLimit(s.handleCompressBatch)).Methods("POST")
	api.HandleFunc("/run", s.handleRun).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.cancelCurrentRun()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	maxBytes := int64(s.cfg.Server.MaxBodyMB) << 20
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"compression":          s.cfg.CompressorConfig(),
			"resampler":            s.cfg.Compression.Resampler,
			"batch_size":           s.cfg.Performance.BatchSize,
			"supported_extensions": s.cfg.SupportedExtensions,
			"max_body_mb":          s.cfg.Server.MaxBodyMB,
		},
	})
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	supported := s.compressor.SupportsCompactFormat(r.Context())
	format := compressor.FormatJPEG
	if supported {
		format = compressor.FormatWebP
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"webp":           supported,
			"default_format": format,
		},
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"counters": stats.Snapshot(),
			"formats":  stats.GetFormatBreakdown(),
			"errors":   stats.GetErrorSummary(),
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req CompressRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Image.Data) == 0 {
		s.writeError(w, "Image is required", http.StatusBadRequest)
		return
	}

	res, err := s.compressor.CompressImage(r.Context(), req.Image, s.requestConfig(req.Config))
	if err != nil {
		logger.WithOperation(s.log, "api_compress").Warnf("Compression failed: %v", err)
		s.writeError(w, err.Error(), errorStatus(err))
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    res,
	})
}

func (s *Server) handleCompressBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	items := make([]BatchItem, len(req.Images))
	images := make([]payload.Image, 0, len(req.Images))
	positions := make([]int, 0, len(req.Images))
	for i, raw := range req.Images {
		img, err := payload.ParseDataURI(raw)
		if err != nil {
			logger.WithImage(s.log, "api_compress_batch", i, int64(len(raw))).Warnf("Rejected entry: %v", err)
			items[i] = rejectedItem(raw, err)
			continue
		}
		images = append(images, img)
		positions = append(positions, i)
	}

	results := s.compressor.CompressBatch(r.Context(), images, s.requestConfig(req.Config))
	for j, res := range results {
		items[positions[j]] = BatchItem{
			CompressionResult: res,
			CompressedImage:   res.CompressedImage.DataURI(),
		}
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: fmt.Sprintf("%d images processed", len(items)),
		Data:    items,
	})
}

// rejectedItem echoes an unparseable entry back with zero dimensions and
// no savings.
func rejectedItem(raw string, err error) BatchItem {
	size := int64(len(raw))
	return BatchItem{
		CompressionResult: compressor.CompressionResult{
			OriginalSize:   size,
			CompressedSize: size,
			Error:          err.Error(),
		},
		CompressedImage: raw,
	}
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if req.SourceDirectory == "" {
		s.writeError(w, "Source directory is required", http.StatusBadRequest)
		return
	}
	if info, err := os.Stat(req.SourceDirectory); err != nil || !info.IsDir() {
		s.writeError(w, "Source directory does not exist", http.StatusBadRequest)
		return
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Operation already in progress", http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.isRunning = true
	s.cancelRun = cancel
	s.runDone = make(chan struct{})
	s.currentStats = statistics.NewStatistics()
	stats, done := s.currentStats, s.runDone
	s.operationMutex.Unlock()

	go s.runAsync(ctx, req, stats, done)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Compression run started",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.cancelCurrentRun() {
		s.writeJSON(w, APIResponse{
			Success: true,
			Message: "No operation in progress",
		})
		return
	}

	s.broadcastWSMessage("run_stopped", map[string]interface{}{
		"message": "Operation stopped by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopped",
	})
}

func (s *Server) cancelCurrentRun() bool {
	s.operationMutex.RLock()
	defer s.operationMutex.RUnlock()
	if !s.isRunning || s.cancelRun == nil {
		return false
	}
	s.cancelRun()
	return true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runAsync(ctx context.Context, req RunRequest, stats *statistics.Statistics, done chan struct{}) {
	defer close(done)
	defer func() {
		s.operationMutex.Lock()
		s.isRunning = false
		s.cancelRun()
		s.cancelRun = nil
		s.operationMutex.Unlock()
	}()

	s.broadcastWSMessage("run_started", map[string]interface{}{
		"source_directory": req.SourceDirectory,
		"target_directory": req.TargetDirectory,
		"dry_run":          req.DryRun,
	})

	// Per-run copy of the config
	cfg := *s.cfg
	cfg.SourceDirectory = req.SourceDirectory
	if req.TargetDirectory != "" {
		target := req.TargetDirectory
		cfg.TargetDirectory = &target
	}
	cfg.Security.DryRun = req.DryRun

	marker := metadata.NewEXIFMarker(s.log, cfg.Processing.Mark)
	var stamper metadata.Stamper
	if cfg.Processing.StampOutput && !cfg.Security.DryRun {
		st, err := metadata.NewExiftoolStamper(cfg.Processing.Mark)
		if err != nil {
			s.log.Warnf("Output stamping disabled: %v", err)
		} else {
			defer st.Close()
			stamper = st
		}
	}

	logHook := func(level, message string) {
		s.broadcastWSMessage("log", map[string]interface{}{
			"level":   level,
			"message": message,
		})
	}
	run := runner.NewRunnerWithLogHook(&cfg, s.log, stats, s.compressor, marker, stamper, logHook)

	if err := run.Run(ctx); err != nil {
		s.broadcastWSMessage("run_error", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	s.broadcastWSMessage("run_completed", map[string]interface{}{
		"statistics": stats.Snapshot(),
	})
}

// requestConfig overlays the non-zero fields of a request config on the
// server defaults.
func (s *Server) requestConfig(override *compressor.Config) compressor.Config {
	cfg := s.cfg.CompressorConfig()
	if override == nil {
		return cfg
	}
	if override.MaxWidth != 0 {
		cfg.MaxWidth = override.MaxWidth
	}
	if override.MaxHeight != 0 {
		cfg.MaxHeight = override.MaxHeight
	}
	if override.Quality != 0 {
		cfg.Quality = override.Quality
	}
	if override.MaxSizeMB != 0 {
		cfg.MaxSizeMB = override.MaxSizeMB
	}
	if override.Format != "" {
		cfg.Format = override.Format
	}
	return cfg
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, compressor.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, compressor.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes are serialized; a websocket.Conn supports one writer at a time.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
