package chainerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
)

// Kind classifies failures seen at the provider boundary.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransientNetwork is a connectivity failure; pollers retry on the next tick.
	KindTransientNetwork
	// KindResolution means a descriptor could not be bound to the current network.
	KindResolution
	// KindRejected means the signer declined to authorize a submission.
	KindRejected
	// KindReverted means the call was mined with failure status.
	KindReverted
	// KindMalformedResponse means a probe or query result could not be decoded.
	KindMalformedResponse
	// KindInsufficientFunds means the sender cannot cover value plus gas.
	KindInsufficientFunds
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindResolution:
		return "resolution"
	case KindRejected:
		return "rejected"
	case KindReverted:
		return "reverted"
	case KindMalformedResponse:
		return "malformed_response"
	case KindInsufficientFunds:
		return "insufficient_funds"
	default:
		return "unknown"
	}
}

// Retryable reports whether a scheduler should simply try again on its next tick.
func (k Kind) Retryable() bool {
	return k == KindTransientNetwork || k == KindMalformedResponse
}

var (
	// ErrRejected is returned by signers when the user declines a request.
	ErrRejected = errors.New("request rejected by signer")
	// ErrMalformed marks a response that could not be decoded.
	ErrMalformed = errors.New("malformed response")
)

// Error is a classified failure. Receipt is set for reverted transactions.
type Error struct {
	Kind    Kind
	Op      string
	Receipt *types.Receipt
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Resolution builds a KindResolution error from a formatted message.
func Resolution(op string, format string, args ...any) *Error {
	return &Error{Kind: KindResolution, Op: op, Err: fmt.Errorf(format, args...)}
}

// Reverted builds a KindReverted error carrying the mined receipt.
func Reverted(op string, receipt *types.Receipt, reason string) *Error {
	msg := "execution reverted"
	if reason != "" {
		msg = msg + ": " + reason
	}
	return &Error{Kind: KindReverted, Op: op, Receipt: receipt, Err: errors.New(msg)}
}

// Wrap classifies err and wraps it. Errors already carrying a kind keep it.
func Wrap(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Op == "" {
			return &Error{Kind: ce.Kind, Op: op, Receipt: ce.Receipt, Err: ce.Err}
		}
		return ce
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// KindOf returns the kind of a classified error, or classifies a raw one.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Classify(err)
}

var rejectionMarkers = []string{
	"user denied",
	"user rejected",
	"rejected by user",
	"request rejected",
	"authentication needed",
}

var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"eof",
	"too many requests",
	"503 service unavailable",
	"502 bad gateway",
}

var malformedMarkers = []string{
	"abi: ",
	"cannot unmarshal",
	"invalid character",
	"unexpected end of json",
}

// Classify maps a raw provider/signer error onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrMalformed):
		return KindMalformedResponse
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransientNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransientNetwork
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") {
		return KindInsufficientFunds
	}
	if strings.Contains(msg, "execution reverted") {
		return KindReverted
	}
	for _, m := range rejectionMarkers {
		if strings.Contains(msg, m) {
			return KindRejected
		}
	}
	for _, m := range malformedMarkers {
		if strings.Contains(msg, m) {
			return KindMalformedResponse
		}
	}
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return KindTransientNetwork
		}
	}
	return KindUnknown
}
