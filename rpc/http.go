package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"p2plend/core"
	"p2plend/native/lending"
	"p2plend/observability"
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
	codeServerError    = -32000
	// codeLendingError carries a module validation failure; the stable
	// lending error code rides in the error's data field.
	codeLendingError = -32100
)

// Server exposes the lending program over JSON-RPC 2.0.
type Server struct {
	node       *core.Node
	logger     *slog.Logger
	metrics    *observability.ModuleMetrics
	limiter    *rate.Limiter
	authSecret []byte
}

func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:    node,
		logger:  logger,
		metrics: observability.Metrics(),
	}
}

// SetAuthSecret enables bearer-token verification for operator-only methods.
func (s *Server) SetAuthSecret(secret string) {
	if secret == "" {
		s.authSecret = nil
		return
	}
	s.authSecret = []byte(secret)
}

// SetRateLimit caps inbound requests per second. Zero removes the limit.
func (s *Server) SetRateLimit(perSecond float64) {
	if perSecond <= 0 {
		s.limiter = nil
		return
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Router assembles the HTTP surface: the JSON-RPC endpoint plus health and
// metrics probes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start blocks serving the RPC surface on the given address.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
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

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
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

// writeModuleError maps an instruction failure onto the wire. Lending
// validation failures keep their stable numeric code in the data field so
// clients can translate them without string matching.
func (s *Server) writeModuleError(w http.ResponseWriter, req *RPCRequest, err error) {
	var le *lending.Error
	if errors.As(err, &le) {
		s.metrics.ObserveError(req.Method, strconv.FormatUint(uint64(le.Code), 10))
		writeError(w, http.StatusBadRequest, req.ID, codeLendingError, le.Error(), map[string]interface{}{
			"code": le.Code,
		})
		return
	}
	s.metrics.ObserveError(req.Method, "internal")
	writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeServerError, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "failed to read request body", nil)
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "request body too large", nil)
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", nil)
		return
	}

	start := time.Now()
	outcome := "ok"
	switch req.Method {
	case "lend_sendTransaction":
		outcome = s.handleSendTransaction(w, &req)
	case "lend_getAccount":
		outcome = s.handleGetAccount(w, &req)
	case "lend_listLoans":
		outcome = s.handleListLoans(w, &req)
	case "lend_getBalance":
		outcome = s.handleGetBalance(w, &req)
	case "lend_credit":
		outcome = s.handleCredit(w, r, &req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		outcome = "unknown_method"
	}
	s.metrics.ObserveRequest(req.Method, outcome, time.Since(start))
	s.logger.Debug("rpc request",
		slog.String("requestId", requestID),
		slog.String("method", req.Method),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(start)))
}
