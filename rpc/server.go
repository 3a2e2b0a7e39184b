package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"lendpool/native/lending"
	"lendpool/observability/metrics"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server exposes the lending engine over HTTP.
type Server struct {
	engine *lending.Engine
	log    *slog.Logger
}

// NewServer wires the engine behind the HTTP handlers.
func NewServer(engine *lending.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: engine, log: log}
}

// Mount registers the pool routes on the supplied router. Authentication and
// logging middleware are applied by the caller.
func (s *Server) Mount(r chi.Router) {
	r.Get("/v1/pool", s.getPool)
	r.Get("/v1/pool/positions/{address}", s.getPosition)
	r.Post("/v1/pool/accrue", s.accrue)
	r.Post("/v1/pool/supply", s.supply)
	r.Post("/v1/pool/withdraw", s.withdraw)
	r.Post("/v1/pool/borrow", s.borrow)
	r.Post("/v1/pool/repay", s.repay)
	r.Post("/v1/pool/collect-fees", s.collectFees)
	r.Post("/v1/pool/params/rate-model", s.setRateModel)
	r.Post("/v1/pool/params/performance-fee", s.setPerformanceFee)
}

type amountRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type sharesRequest struct {
	Account string `json:"account"`
	Shares  string `json:"shares"`
}

type collectorRequest struct {
	Collector string `json:"collector"`
}

type rateModelRequest struct {
	Caller             string `json:"caller"`
	OptimalUtilization string `json:"optimalUtilization"`
	Slope1             string `json:"slope1"`
	Slope2             string `json:"slope2"`
	MaxRatePerSecond   string `json:"maxRatePerSecond"`
}

type performanceFeeRequest struct {
	Caller string `json:"caller"`
	Fee    string `json:"fee"`
}

type poolResponse struct {
	CashBalance          string `json:"cashBalance"`
	AvailableCash        string `json:"availableCash"`
	TotalBorrowed        string `json:"totalBorrowed"`
	TotalPendingFees     string `json:"totalPendingFees"`
	TotalSupplyShares    string `json:"totalSupplyShares"`
	TotalDebtProportion  string `json:"totalDebtProportion"`
	Utilization          string `json:"utilization"`
	BorrowRatePerSecond  string `json:"borrowRatePerSecond"`
	ExchangeRate         string `json:"exchangeRate"`
	DebtProportionRate   string `json:"debtProportionRate"`
	LastAccrualTimestamp uint64 `json:"lastAccrualTimestamp"`
}

type positionResponse struct {
	Address string `json:"address"`
	Owed    string `json:"owed"`
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.engine.Snapshot()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	refreshGauges(snapshot)
	writeJSON(w, http.StatusOK, poolResponse{
		CashBalance:          snapshot.CashBalance.Dec(),
		AvailableCash:        snapshot.AvailableCash.Dec(),
		TotalBorrowed:        snapshot.TotalBorrowed.Dec(),
		TotalPendingFees:     snapshot.TotalPendingFees.Dec(),
		TotalSupplyShares:    snapshot.TotalSupplyShares.Dec(),
		TotalDebtProportion:  snapshot.TotalDebtProportion.Dec(),
		Utilization:          lending.FormatWad(snapshot.Utilization),
		BorrowRatePerSecond:  lending.FormatWad(snapshot.BorrowRatePerSecond),
		ExchangeRate:         lending.FormatWad(snapshot.ExchangeRate),
		DebtProportionRate:   lending.FormatWad(snapshot.DebtProportionRate),
		LastAccrualTimestamp: snapshot.LastAccrualTimestamp,
	})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owed, err := s.engine.BorrowerDebt(addr)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Address: addr.Hex(), Owed: owed.Dec()})
}

func (s *Server) accrue(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Accrue()
	metrics.Lending().ObserveOperation("accrue", err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	snapshot, err := s.engine.Snapshot()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"totalBorrowed":        snapshot.TotalBorrowed.Dec(),
		"totalPendingFees":     snapshot.TotalPendingFees.Dec(),
		"lastAccrualTimestamp": snapshot.LastAccrualTimestamp,
	})
}

func (s *Server) supply(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shares, err := s.engine.Supply(account, amount)
	metrics.Lending().ObserveOperation("supply", err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.Dec()})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, shares, err := parseAccountAmount(req.Account, req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payout, err := s.engine.Withdraw(account, shares)
	metrics.Lending().ObserveOperation("withdraw", err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": payout.Dec()})
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err = s.engine.Borrow(account, amount)
	metrics.Lending().ObserveOperation("borrow", err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrowed": amount.Dec()})
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, amount, err := parseAccountAmount(req.Account, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	charged, err := s.engine.Repay(account, amount)
	metrics.Lending().ObserveOperation("repay", err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"repaid": charged.Dec()})
}

func (s *Server) collectFees(w http.ResponseWriter, r *http.Request) {
	var req collectorRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	collector, err := parseAddress(req.Collector)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := s.engine.CollectFees(collector)
	metrics.Lending().ObserveOperation("collect_fees", err)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collected": amount.Dec()})
}

func (s *Server) setRateModel(w http.ResponseWriter, r *http.Request) {
	var req rateModelRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	optimal, err := lending.ParseWad(req.OptimalUtilization)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("optimalUtilization: %w", err))
		return
	}
	slope1, err := lending.ParseWad(req.Slope1)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("slope1: %w", err))
		return
	}
	slope2, err := lending.ParseWad(req.Slope2)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("slope2: %w", err))
		return
	}
	maxRate, err := lending.ParseWad(req.MaxRatePerSecond)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("maxRatePerSecond: %w", err))
		return
	}
	model := lending.NewRateModel(optimal, slope1, slope2, maxRate)
	if err := s.engine.SetRateModel(caller, model); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) setPerformanceFee(w http.ResponseWriter, r *http.Request) {
	var req performanceFeeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := lending.ParseWad(req.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("fee: %w", err))
		return
	}
	if err := s.engine.SetPerformanceFee(caller, fee); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func refreshGauges(snapshot *lending.PoolSnapshot) {
	const wadScale = 1e18
	reg := metrics.Lending()
	reg.SetTotalBorrowed(metrics.AmountFloat(snapshot.TotalBorrowed))
	reg.SetPendingFees(metrics.AmountFloat(snapshot.TotalPendingFees))
	reg.SetUtilization(metrics.AmountFloat(snapshot.Utilization) / wadScale)
	reg.SetBorrowRate(metrics.AmountFloat(snapshot.BorrowRatePerSecond) / wadScale)
	reg.SetExchangeRate(metrics.AmountFloat(snapshot.ExchangeRate) / wadScale)
}

func decodeRequest(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, requestBodyLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAccountAmount(account, amount string) (common.Address, *uint256.Int, error) {
	addr, err := parseAddress(account)
	if err != nil {
		return common.Address{}, nil, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return common.Address{}, nil, err
	}
	return addr, value, nil
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount is required")
	}
	parsed, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("pool operation failed", "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err)
}
