package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a supplier failure at the call site so callers can decide on
// retries without inspecting error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindConnection
	KindServer
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Fault is a classified supplier error.
type Fault struct {
	Kind       Kind
	Code       string
	StatusCode int
	Err        error
}

func (f *Fault) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s fault (%d %s): %v", f.Kind, f.StatusCode, f.Code, f.Err)
	}
	if f.Code != "" {
		return fmt.Sprintf("%s fault (%s): %v", f.Kind, f.Code, f.Err)
	}
	return fmt.Sprintf("%s fault: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func Timeout(err error) *Fault { return &Fault{Kind: KindTimeout, Err: err} }

func ConnectionFailure(err error) *Fault { return &Fault{Kind: KindConnection, Err: err} }

func ServerError(status int, code string, err error) *Fault {
	return &Fault{Kind: KindServer, StatusCode: status, Code: code, Err: err}
}

func ValidationError(code string, err error) *Fault {
	return &Fault{Kind: KindValidation, Code: code, Err: err}
}

// Classify returns the Kind of err. Unclassified errors are KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return KindConnection
	}
	return KindUnknown
}

// IsRetryable reports whether another attempt may succeed. Validation faults are
// permanent; everything else, including unknown failures, is retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return Classify(err) != KindValidation
}
