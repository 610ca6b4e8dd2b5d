package pricer

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Kind classifies a failed fetch.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindTimeout
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	default:
		return "transport"
	}
}

var (
	ErrTimeout   = errors.New("price fetch timed out")
	ErrTransport = errors.New("price feed unreachable")
	ErrNotFound  = errors.New("price not found")
)

// FetchError is returned by every adapter. Match it with errors.Is against
// ErrTimeout, ErrTransport or ErrNotFound.
type FetchError struct {
	Provider string
	Kind     Kind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// KindOf extracts the failure kind, defaulting to transport for foreign errors.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransport
}

func notFound(provider, format string, args ...any) error {
	return &FetchError{Provider: provider, Kind: KindNotFound, Err: errors.Errorf(format, args...)}
}

// classify maps a transport-level failure into a FetchError, using ctx to tell
// deadline expiry apart from other failures.
func classify(ctx context.Context, provider string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}

	kind := KindTransport
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}

	return &FetchError{Provider: provider, Kind: kind, Err: err}
}
