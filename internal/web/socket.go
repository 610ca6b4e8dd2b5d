package web

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"go.uber.org/zap"
)

// priceMessage is one frame of the /ws/prices stream.
type priceMessage struct {
	Scope string                 `json:"scope"`
	State domain.AssetPriceState `json:"state"`
}

// handlePriceSocket pushes every state change of both synchronizers. A slow client
// loses frames instead of stalling the synchronizers.
func (s *Server) handlePriceSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	queue := make(chan priceMessage, wsQueueSize)
	var dropped atomic.Int64
	push := func(scope string) func(domain.AssetPriceState) {
		return func(st domain.AssetPriceState) {
			select {
			case queue <- priceMessage{Scope: scope, State: st}:
			default:
				dropped.Add(1)
			}
		}
	}

	if st, ok := s.svc.Asset.State(); ok {
		push("asset")(st)
	}
	for _, id := range s.svc.Portfolio.Assets() {
		if st, ok := s.svc.Portfolio.State(id.Key()); ok {
			push("portfolio")(st)
		}
	}

	unsubAsset := s.svc.Asset.Subscribe(push("asset"))
	defer unsubAsset()
	unsubPortfolio := s.svc.Portfolio.Subscribe(push("portfolio"))
	defer unsubPortfolio()

	// the read loop only notices the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case msg := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write", zap.Error(err))
				return
			}
		case <-heartbeat.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
			if n := dropped.Swap(0); n > 0 {
				s.logger.Debug("price frames dropped", zap.Int64("count", n))
			}
		}
	}
}
