package rpc

import (
	"errors"
	"log/slog"
	"net/http"

	"ticketsale/core"
	"ticketsale/core/types"
	"ticketsale/crypto"
	"ticketsale/native/tickets"
	"ticketsale/observability/logging"
)

type ticketIDParams struct {
	TicketID uint64 `json:"ticketId"`
	Value    string `json:"value,omitempty"`
}

type offerSwapParams struct {
	Target string `json:"target"`
}

type acceptSwapParams struct {
	Proposer string `json:"proposer"`
}

type addressParams struct {
	Address string `json:"address"`
}

type historyParams struct {
	TicketID uint64 `json:"ticketId"`
	Limit    int    `json:"limit,omitempty"`
}

// ledgerErrorCodes maps ledger rejections to stable JSON-RPC codes.
var ledgerErrorCodes = []struct {
	err  error
	code int
}{
	{tickets.ErrInvalidPayment, codeInvalidPayment},
	{tickets.ErrInvalidTicketID, codeInvalidTicketID},
	{tickets.ErrTicketUnavailable, codeTicketUnavailable},
	{tickets.ErrAlreadyOwnsTicket, codeAlreadyOwns},
	{tickets.ErrNoTicketOwned, codeNoTicketOwned},
	{tickets.ErrTargetHasNoTicket, codeTargetNoTicket},
	{tickets.ErrNoMatchingOffer, codeNoMatchingOffer},
	{tickets.ErrNotTicketOwner, codeNotTicketOwner},
	{core.ErrInsufficientFunds, codeInsufficientFunds},
	{core.ErrValueNotAccepted, codeValueNotAccepted},
}

func (s *Server) writeLedgerError(w *statusRecorder, id interface{}, err error) {
	for _, entry := range ledgerErrorCodes {
		if errors.Is(err, entry.err) {
			w.fail(http.StatusConflict, id, entry.code, err.Error(), nil)
			return
		}
	}
	if errors.Is(err, core.ErrUnknownTransaction) {
		w.fail(http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
		return
	}
	s.logger.Error("ledger operation failed", slog.Any("error", err))
	w.fail(http.StatusInternalServerError, id, codeServerError, "internal error", nil)
}

func (s *Server) submit(w *statusRecorder, r *http.Request, req *RPCRequest, tx *types.Transaction) {
	receipt, err := s.ledger.Apply(r.Context(), tx)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, receipt)
}

func (s *Server) authenticate(w *statusRecorder, r *http.Request, req *RPCRequest) ([20]byte, bool) {
	caller, authErr := s.auth.Authenticate(r)
	if authErr != nil {
		s.logger.Debug("rpc authentication rejected",
			slog.String("method", req.Method),
			slog.String("remote", clientSource(r)),
			logging.MaskField("authorization", r.Header.Get("Authorization")),
			slog.String("error", authErr.Message))
		w.failRPC(http.StatusUnauthorized, req.ID, authErr)
		return caller, false
	}
	return caller, true
}

func (s *Server) handleBuy(w *statusRecorder, r *http.Request, req *RPCRequest) {
	caller, ok := s.authenticate(w, r, req)
	if !ok {
		return
	}
	var params ticketIDParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	value, err := parseValue(params.Value)
	if err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.submit(w, r, req, &types.Transaction{
		Type:     types.TxTypeBuyTicket,
		Caller:   caller,
		TicketID: params.TicketID,
		Value:    value,
	})
}

func (s *Server) handleOfferSwap(w *statusRecorder, r *http.Request, req *RPCRequest) {
	caller, ok := s.authenticate(w, r, req)
	if !ok {
		return
	}
	var params offerSwapParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	target, err := crypto.ParseAccount(params.Target)
	if err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid target address", err.Error())
		return
	}
	s.submit(w, r, req, &types.Transaction{
		Type:         types.TxTypeOfferSwap,
		Caller:       caller,
		Counterparty: target,
	})
}

func (s *Server) handleAcceptSwap(w *statusRecorder, r *http.Request, req *RPCRequest) {
	caller, ok := s.authenticate(w, r, req)
	if !ok {
		return
	}
	var params acceptSwapParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	proposer, err := crypto.ParseAccount(params.Proposer)
	if err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid proposer address", err.Error())
		return
	}
	s.submit(w, r, req, &types.Transaction{
		Type:         types.TxTypeAcceptSwap,
		Caller:       caller,
		Counterparty: proposer,
	})
}

func (s *Server) handleReturn(w *statusRecorder, r *http.Request, req *RPCRequest) {
	caller, ok := s.authenticate(w, r, req)
	if !ok {
		return
	}
	var params ticketIDParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	value, err := parseValue(params.Value)
	if err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	s.submit(w, r, req, &types.Transaction{
		Type:     types.TxTypeReturn,
		Caller:   caller,
		TicketID: params.TicketID,
		Value:    value,
	})
}

func (s *Server) handleGetTicket(w *statusRecorder, _ *http.Request, req *RPCRequest) {
	var params ticketIDParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	ticket, err := s.ledger.Ticket(params.TicketID)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newTicketResult(ticket))
}

func (s *Server) handleGetTicketOf(w *statusRecorder, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := crypto.ParseAccount(params.Address)
	if err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	id, err := s.ledger.TicketOf(addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, TicketOfResult{Address: crypto.FromRaw(addr).String(), TicketID: id})
}

func (s *Server) handlePool(w *statusRecorder, _ *http.Request, req *RPCRequest) {
	pool, err := s.ledger.Pool()
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	result := PoolResult{Price: pool.Price.String(), Count: pool.Count, Height: s.ledger.Height()}
	if pool.Owner != ([20]byte{}) {
		result.Owner = crypto.FromRaw(pool.Owner).String()
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetBalance(w *statusRecorder, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, err := crypto.ParseAccount(params.Address)
	if err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	account, err := s.ledger.GetAccount(addr)
	if err != nil {
		s.writeLedgerError(w, req.ID, err)
		return
	}
	account = account.EnsureDefaults()
	writeResult(w, req.ID, BalanceResult{
		Address: crypto.FromRaw(addr).String(),
		Balance: account.Balance.String(),
		Nonce:   account.Nonce,
	})
}

func (s *Server) handleHistory(w *statusRecorder, r *http.Request, req *RPCRequest) {
	if s.history == nil {
		w.fail(http.StatusServiceUnavailable, req.ID, codeServerError, "event history not enabled", nil)
		return
	}
	var params historyParams
	if err := decodeParams(req, &params); err != nil {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	if params.TicketID == 0 {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "ticketId must be positive", nil)
		return
	}
	if params.Limit < 0 {
		w.fail(http.StatusBadRequest, req.ID, codeInvalidParams, "limit must not be negative", nil)
		return
	}
	rows, err := s.history.History(r.Context(), params.TicketID, params.Limit)
	if err != nil {
		s.logger.Error("history query failed", slog.Any("error", err))
		w.fail(http.StatusInternalServerError, req.ID, codeServerError, "internal error", nil)
		return
	}
	writeResult(w, req.ID, HistoryResult{TicketID: params.TicketID, Events: rows})
}
