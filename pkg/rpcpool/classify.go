package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
)

// FailureClass buckets an RPC error by what it says about the endpoint.
type FailureClass int

const (
	// FailureNone means no error, or an error carrying no signal about
	// endpoint health (caller cancellation).
	FailureNone FailureClass = iota

	// FailureInfrastructure means the endpoint itself misbehaved:
	// unreachable, timed out, rate limited, or served a 5xx. The pool
	// cools the endpoint and the call is worth retrying elsewhere.
	FailureInfrastructure

	// FailureApplication means the endpoint answered properly and
	// rejected the request on its merits. Retrying elsewhere cannot
	// help, and the endpoint stays healthy.
	FailureApplication
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureInfrastructure:
		return "infrastructure"
	case FailureApplication:
		return "application"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// JSON-RPC 2.0 reserves -32000..-32099 for server errors; providers use
// this range for overload and rate-limit signals.
const (
	jsonRPCServerErrorMax = -32000
	jsonRPCServerErrorMin = -32099
)

// Classify buckets err for cooldown decisions.
//
// A structured JSON-RPC error means the endpoint parsed the request and
// answered, so it classifies as an application failure unless the code
// sits in the reserved server-error range. HTTP 429 and 5xx, timeouts and
// transport-level errors classify as infrastructure failures. Anything
// else that reaches this layer is transport-shaped and treated as
// infrastructure: rotating away from an endpoint we cannot read is the
// recoverable choice.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}

	// Caller cancellation says nothing about the endpoint
	if errors.Is(err, context.Canceled) {
		return FailureNone
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500 {
			return FailureInfrastructure
		}
		return FailureApplication
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		code := rpcErr.ErrorCode()
		if code <= jsonRPCServerErrorMax && code >= jsonRPCServerErrorMin {
			return FailureInfrastructure
		}
		return FailureApplication
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureInfrastructure
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureInfrastructure
	}

	return FailureInfrastructure
}
