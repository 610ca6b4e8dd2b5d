package pricer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const maxPayloadBytes = 4 << 20

// httpFeed is the transport shared by the REST adapters: one client, one limiter,
// and a hard per-request deadline.
type httpFeed struct {
	name    string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	headers map[string]string
	now     func() time.Time
}

func newHTTPFeed(name string, client *http.Client, timeout time.Duration, perMinute int) *httpFeed {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	return &httpFeed{
		name:    name,
		client:  client,
		limiter: newLimiter(perMinute),
		timeout: timeout,
		headers: map[string]string{"Accept": "application/json"},
		now:     time.Now,
	}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 60
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// getJSON performs a GET and decodes the body into out. 404 and undecodable bodies
// are NotFound; other non-2xx codes are Transport. The feed timeout can only shorten
// a deadline already on ctx, never extend it.
func (f *httpFeed) getJSON(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return &FetchError{Provider: f.name, Kind: KindTimeout, Err: errors.Wrap(err, "rate limit wait")}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &FetchError{Provider: f.name, Kind: KindTransport, Err: errors.Wrap(err, "build request")}
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return classify(ctx, f.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return notFound(f.name, "%s returned 404", url)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
		return &FetchError{Provider: f.name, Kind: KindTransport, Err: errors.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPayloadBytes)).Decode(out); err != nil {
		if ctx.Err() != nil {
			return classify(ctx, f.name, err)
		}
		return &FetchError{Provider: f.name, Kind: KindNotFound, Err: errors.Wrap(err, "decode payload")}
	}

	return nil
}
