package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/pricer"
	"github.com/vadiminshakov/papertrade/internal/services/pricesync"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type searchResponse struct {
	Asset pricesync.AssetView `json:"asset"`
	Token *pricer.TokenInfo   `json:"token,omitempty"`
}

type portfolioResponse struct {
	Valuation ledger.Valuation                    `json:"valuation"`
	Prices    map[string]pricesync.PortfolioPrice `json:"prices"`
	IsSyncing bool                                `json:"is_syncing"`
	LastSync  *time.Time                          `json:"last_sync,omitempty"`
}

type tradeRequest struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
}

type resetResponse struct {
	Balance  decimal.Decimal `json:"balance"`
	Warnings []string        `json:"warnings,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleSearch selects the asset named by ?q=. A failed token lookup still selects the
// bare address.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseQuery(r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, token := pricer.Describe(r.Context(), s.svc.Resolvers, id)
	fallback := decimal.Zero
	if token != nil {
		fallback = token.Price
	}

	if err := s.svc.Asset.Select(id, fallback); err != nil {
		s.logger.Error("select asset", zap.Stringer("asset", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to select asset")
		return
	}

	view, _ := s.svc.Asset.View()
	writeJSON(w, http.StatusOK, searchResponse{Asset: view, Token: token})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	view, ok := s.svc.Asset.View()
	if !ok {
		writeError(w, http.StatusNotFound, "no asset selected")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAssetSync(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.svc.Asset.Current(); !ok {
		writeError(w, http.StatusNotFound, "no asset selected")
		return
	}
	if !s.svc.Asset.Sync(r.Context()) {
		writeError(w, http.StatusConflict, "sync already in progress")
		return
	}
	view, _ := s.svc.Asset.View()
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) portfolio() portfolioResponse {
	resp := portfolioResponse{
		Valuation: s.svc.Account.Valuation(),
		Prices:    s.svc.Portfolio.Prices(),
		IsSyncing: s.svc.Portfolio.IsSyncing(),
	}
	if last := s.svc.Portfolio.LastSyncTime(); !last.IsZero() {
		resp.LastSync = &last
	}
	return resp
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.portfolio())
}

func (s *Server) handlePortfolioSync(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Portfolio.SyncAll(r.Context()) {
		writeError(w, http.StatusConflict, "portfolio sweep already running")
		return
	}
	writeJSON(w, http.StatusOK, s.portfolio())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	txs := s.svc.Account.Transactions()
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// handleTrade trades the selected asset at its current trusted price.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tradeType, err := domain.ParseTradeType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, ok := s.svc.Asset.Current()
	if !ok {
		writeError(w, http.StatusConflict, "no asset selected")
		return
	}
	st, ok := s.svc.Asset.State()
	if !ok || !st.Tradable() {
		writeError(w, http.StatusConflict, "price not available yet")
		return
	}

	receipt, err := s.svc.Account.Execute(r.Context(), ledger.TradeRequest{
		Type:            tradeType,
		Asset:           id.Key(),
		ContractAddress: id.ContractAddress,
		Amount:          req.Amount,
		Price:           st.TrustedPrice,
	})
	if err != nil {
		if ledger.IsTradeError(err) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:  err.Error(),
				Reason: errors.Cause(err).Error(),
			})
			return
		}
		s.logger.Error("execute trade", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "trade failed")
		return
	}

	s.trackPositions()
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	warnings := s.svc.Account.Reset(r.Context())
	s.trackPositions()
	writeJSON(w, http.StatusOK, resetResponse{Balance: s.svc.Account.Balance(), Warnings: warnings})
}

// trackPositions points the portfolio synchronizer at the currently held assets.
func (s *Server) trackPositions() {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()

	tracked, invalid := pricesync.TrackPositions(s.svc.Account.Positions())
	if len(invalid) > 0 {
		s.logger.Warn("positions not tracked", zap.Strings("assets", invalid))
	}
	if err := s.svc.Portfolio.SetAssets(tracked); err != nil {
		s.logger.Warn("update tracked assets", zap.Error(err))
	}
}
