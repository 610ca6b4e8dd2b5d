package main

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// counters are shared by all clients of one run.
type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64
}

// followSSE holds one /trades/stream connection open and counts trade events.
func followSSE(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				c.streamErrs.Add(1)
			}
			return
		}
		// heartbeats and blank separators are not events
		if strings.HasPrefix(line, "event:") {
			c.events.Add(1)
		}
	}
}

// followWS holds one /ws/prices socket open and counts price frames.
func followWS(ctx context.Context, dialer *websocket.Dialer, url string, c *counters) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer conn.Close()
	c.connected.Add(1)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if ctx.Err() == nil {
				c.streamErrs.Add(1)
			}
			return
		}
		c.events.Add(1)
	}
}

// wsURL turns an http(s) base into the price socket address.
func wsURL(base string) (string, error) {
	switch {
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws/prices", nil
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws/prices", nil
	default:
		return "", errors.Errorf("base url %q must start with http:// or https://", base)
	}
}
