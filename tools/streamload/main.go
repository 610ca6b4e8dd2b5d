// Command streamload opens many concurrent clients against a running papertrade
// server, on the trade stream or the price socket, and reports what they receive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		baseURL     string
		mode        string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "papertrade base URL")
	flag.StringVar(&mode, "mode", "sse", "sse (trade stream) or ws (price socket)")
	flag.IntVar(&connections, "conns", 500, "number of concurrent clients")
	flag.DurationVar(&duration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread client starts across this window")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	var follow func(ctx context.Context, c *counters)
	switch mode {
	case "sse":
		client := &http.Client{Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		}}
		url := baseURL + "/trades/stream"
		follow = func(ctx context.Context, c *counters) { followSSE(ctx, client, url, c) }
	case "ws":
		url, err := wsURL(baseURL)
		if err != nil {
			log.Fatal(err)
		}
		dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		follow = func(ctx context.Context, c *counters) { followWS(ctx, dialer, url, c) }
	default:
		log.Fatalf("unknown mode %q", mode)
	}

	log.Printf("starting load: url=%s mode=%s conns=%d duration=%s ramp=%s", baseURL, mode, connections, duration, rampUp)

	var (
		c     counters
		wg    sync.WaitGroup
		start = time.Now()
		step  = rampUp / time.Duration(connections)
	)

	go report(ctx, &c, start)

	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && step > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(step):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			follow(ctx, &c)
		}()
	}

	wg.Wait()

	elapsed := max(time.Since(start), time.Millisecond)
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d events=%d elapsed=%s events/s=%.2f\n",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.events.Load(),
		elapsed.Truncate(time.Millisecond), float64(c.events.Load())/elapsed.Seconds())
}

func report(ctx context.Context, c *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("status: connected=%d connect_errs=%d stream_errs=%d events=%d elapsed=%s",
				c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.events.Load(),
				time.Since(start).Truncate(time.Second))
		}
	}
}
