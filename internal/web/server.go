package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vadiminshakov/papertrade/internal/observability"
	"github.com/vadiminshakov/papertrade/internal/services/ledger"
	"github.com/vadiminshakov/papertrade/internal/services/pricer"
	"github.com/vadiminshakov/papertrade/internal/services/pricesync"
	"github.com/vadiminshakov/papertrade/internal/storage/tradejournal"
	"go.uber.org/zap"
)

const (
	journalPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
	wsWriteTimeout      = 5 * time.Second
	wsQueueSize         = 64
)

type tradeJournalReader interface {
	EntriesAfter(index uint64) ([]tradejournal.Entry, error)
}

// Services are the collaborators behind the HTTP surface. Journal, Resolvers and
// Metrics are optional.
type Services struct {
	Asset     *pricesync.AssetSync
	Portfolio *pricesync.PortfolioSync
	Account   *ledger.Account
	Journal   tradeJournalReader
	Resolvers []pricer.Resolver
	Metrics   *observability.Metrics
}

// Server exposes the JSON API, the trade stream and the live price socket.
type Server struct {
	Addr string

	svc      Services
	logger   *zap.Logger
	upgrader websocket.Upgrader

	// trackMu orders position snapshots with the tracked set they produce.
	trackMu sync.Mutex
}

func NewServer(addr string, svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:   addr,
		svc:    svc,
		logger: logger.With(zap.String("component", "web")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)

	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/asset", s.handleAsset)
	mux.HandleFunc("POST /api/asset/sync", s.handleAssetSync)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("POST /api/portfolio/sync", s.handlePortfolioSync)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("POST /api/trades", s.handleTrade)
	mux.HandleFunc("POST /api/account/reset", s.handleReset)

	mux.HandleFunc("GET /trades/stream", s.handleTradeStream)
	mux.HandleFunc("GET /ws/prices", s.handlePriceSocket)

	if s.svc.Metrics != nil {
		mux.Handle("GET /metrics", s.svc.Metrics.Handler())
	}

	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	if s.svc.Journal == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "trade journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendTrades := func() error {
		entries, err := s.svc.Journal.EntriesAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			payload, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: trade\n")
			fmt.Fprintf(w, "id: %d\n", entry.Index)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = entry.Index
		}
		return nil
	}

	if err := sendTrades(); err != nil {
		http.Error(w, "failed to load trades", http.StatusInternalServerError)
		s.logger.Warn("trade stream initial load", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendTrades(); err != nil {
				s.logger.Warn("trade stream poll", zap.Error(err))
			}
		}
	}
}
