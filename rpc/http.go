package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"magink/core"
	"magink/crypto"
	"magink/native/magink"
	"magink/observability"
	"magink/rpc/middleware"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeDomainError    = -32010
)

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	JWTSecret         string
	JWTIssuer         string
	RateLimit         middleware.RateLimit
	AllowedOrigins    []string
	LogRequests       bool
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
}

type Server struct {
	node    *core.Node
	logger  *slog.Logger
	cfg     ServerConfig
	auth    *middleware.Authenticator
	limiter *middleware.RateLimiter
	obs     *middleware.Observability

	serverMu   sync.Mutex
	httpServer *http.Server
}

func NewServer(node *core.Node, logger *slog.Logger, cfg ServerConfig) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	return &Server{
		node:    node,
		logger:  logger,
		cfg:     cfg,
		auth:    middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, logger),
		limiter: middleware.NewRateLimiter(cfg.RateLimit, logger),
		obs:     middleware.NewObservability(cfg.LogRequests, logger),
	}
}

// Router returns the HTTP routes: JSON-RPC on /, the event stream on /ws,
// prometheus metrics and a health probe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(middleware.CORSConfig{AllowedOrigins: s.cfg.AllowedOrigins}))
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.obs.MetricsHandler())
	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Use(s.limiter.Middleware)
		r.With(s.obs.Middleware("rpc")).Post("/", s.handle)
		r.With(s.obs.Middleware("ws")).Get("/ws", s.handleEventsWS)
	})
	return otelhttp.NewHandler(r, "magink.rpc")
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()

	s.logger.Info("serving JSON-RPC", "addr", listener.Addr().String())
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Start listens on addr and serves.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// codeRecorder remembers the JSON-RPC error code written for metrics.
type codeRecorder struct {
	http.ResponseWriter
	code int
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if rec, ok := w.(*codeRecorder); ok {
		rec.code = code
	}
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeNodeError maps node errors onto JSON-RPC errors. Domain errors carry
// their taxonomy name in data.
func writeNodeError(w http.ResponseWriter, id interface{}, err error) {
	if name := magink.ErrorName(err); name != "" {
		writeError(w, http.StatusOK, id, codeDomainError, err.Error(), name)
		return
	}
	switch {
	case errors.Is(err, magink.ErrNoMetadata), errors.Is(err, core.ErrNativeIssuerRequired):
		writeError(w, http.StatusNotFound, id, codeServerError, err.Error(), nil)
	case errors.Is(err, core.ErrAborted):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, "operation aborted", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal error", err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"height": s.node.Height(),
	})
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	rec := &codeRecorder{ResponseWriter: w}
	started := time.Now()
	defer func() {
		observability.ModuleMetrics().Observe(moduleOf(req.Method), req.Method, rec.code, time.Since(started))
	}()

	switch req.Method {
	case "magink_start":
		s.handleMaginkStart(rec, r, req)
	case "magink_claim":
		s.handleMaginkClaim(rec, r, req)
	case "magink_mintWizard":
		s.handleMaginkMintWizard(rec, r, req)
	case "magink_getRemaining":
		s.handleMaginkGetRemaining(rec, r, req)
	case "magink_getRemainingFor":
		s.handleMaginkGetRemainingFor(rec, r, req)
	case "magink_getBadges":
		s.handleMaginkGetBadges(rec, r, req)
	case "magink_getBadgesFor":
		s.handleMaginkGetBadgesFor(rec, r, req)
	case "magink_getProfile":
		s.handleMaginkGetProfile(rec, r, req)
	case "magink_getAccountProfile":
		s.handleMaginkGetAccountProfile(rec, r, req)
	case "magink_getNextId":
		s.handleMaginkGetNextID(rec, r, req)
	case "magink_getIsAlreadyMinted":
		s.handleMaginkGetIsAlreadyMinted(rec, r, req)
	case "magink_getTokenImage":
		s.handleMaginkGetTokenImage(rec, r, req)
	case "chain_blockNumber":
		writeResult(rec, req.ID, s.node.Height())
	case "wizard_owner":
		s.handleWizardOwner(rec, r, req)
	case "wizard_ownerOf":
		s.handleWizardOwnerOf(rec, r, req)
	default:
		writeError(rec, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// requireCaller returns the authenticated caller or writes an error.
func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request, req *RPCRequest) (crypto.Address, bool) {
	if !s.auth.Enabled() {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "RPC authentication not configured", nil)
		return crypto.Address{}, false
	}
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing bearer token", nil)
		return crypto.Address{}, false
	}
	return caller, true
}

func moduleOf(method string) string {
	for i := 0; i < len(method); i++ {
		if method[i] == '_' {
			return method[:i]
		}
	}
	return "unknown"
}
