package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticketsale/core/types"
	"ticketsale/indexer"
	"ticketsale/native/tickets"
	"ticketsale/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	requestIDHeader = "X-Request-ID"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeInvalidPayment    = -32030
	codeInvalidTicketID   = -32031
	codeTicketUnavailable = -32032
	codeAlreadyOwns       = -32033
	codeNoTicketOwned     = -32034
	codeTargetNoTicket    = -32035
	codeNoMatchingOffer   = -32036
	codeNotTicketOwner    = -32037

	codeInsufficientFunds = -32040
	codeValueNotAccepted  = -32041
)

// Ledger is the node surface used by the RPC server.
type Ledger interface {
	Apply(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Pool() (*tickets.Pool, error)
	Ticket(id uint64) (*tickets.Ticket, error)
	TicketOf(addr [20]byte) (uint64, error)
	GetAccount(addr [20]byte) (*types.Account, error)
	Height() uint64
}

// HistorySource serves committed events per ticket.
type HistorySource interface {
	History(ctx context.Context, ticketID uint64, limit int) ([]indexer.TicketEvent, error)
}

// Config configures the RPC server.
type Config struct {
	Auth               AuthConfig
	RateLimitPerMinute int
	RateLimitBurst     int
}

// Server exposes the ticket ledger over JSON-RPC 2.0.
type Server struct {
	ledger  Ledger
	history HistorySource
	auth    *Authenticator
	limiter *sourceLimiter
	logger  *slog.Logger
	metrics interface {
		Observe(method string, code int, duration time.Duration)
		RecordThrottle(reason string)
	}
}

// NewServer builds a server over ledger. history may be nil, in which case
// ticket_history reports an error.
func NewServer(ledger Ledger, history HistorySource, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:  ledger,
		history: history,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newSourceLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		logger:  logger,
		metrics: observability.ModuleMetrics(),
	}
}

// Router returns the HTTP handler serving JSON-RPC on POST /, liveness on
// GET /healthz and Prometheus metrics on GET /metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
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

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

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

// statusRecorder captures the JSON-RPC error code written for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

type handlerFunc func(w *statusRecorder, r *http.Request, req *RPCRequest)

func (w *statusRecorder) fail(status int, id interface{}, code int, message string, data interface{}) {
	w.code = code
	writeError(w.ResponseWriter, status, id, code, message, data)
}

func (w *statusRecorder) failRPC(status int, id interface{}, rpcErr *RPCError) {
	w.fail(status, id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
}

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

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		s.metrics.Observe(req.Method, rec.code, time.Since(start))
	}()

	handler, write := s.route(req.Method)
	if handler == nil {
		rec.fail(http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if write {
		if !s.limiter.allow(clientSource(r)) {
			s.metrics.RecordThrottle("rate_limit")
			rec.fail(http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", nil)
			return
		}
	}
	handler(rec, r, req)
}

func (s *Server) route(method string) (handlerFunc, bool) {
	switch method {
	case "ticket_buy":
		return s.handleBuy, true
	case "ticket_offerSwap":
		return s.handleOfferSwap, true
	case "ticket_acceptSwap":
		return s.handleAcceptSwap, true
	case "ticket_return":
		return s.handleReturn, true
	case "ticket_get":
		return s.handleGetTicket, false
	case "ticket_getTicketOf":
		return s.handleGetTicketOf, false
	case "ticket_pool":
		return s.handlePool, false
	case "ticket_getBalance":
		return s.handleGetBalance, false
	case "ticket_history":
		return s.handleHistory, false
	default:
		return nil, false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"height": s.ledger.Height(),
	})
}

// decodeParams unmarshals the first positional parameter into dst.
func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) == 0 {
		return errors.New("parameter object required")
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseValue(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value %q", raw)
	}
	return value, nil
}
