// Package hiperr defines the error taxonomy shared by the control-plane
// state machine, the puzzle engine, the SA manager and the
// ESP-protection engine. Every error the core produces carries one of
// these kinds so callers can decide drop/notify/panic behavior without
// string-matching.
package hiperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the propagation policy it requires.
// Handlers switch on Kind, never on the wrapped message.
type Kind int

const (
	// KindMalformed: packet failed structural validation. Drop silently;
	// optionally emit NOTIFY(INVALID_SYNTAX).
	KindMalformed Kind = iota
	// KindAuthFailed: HMAC/signature/puzzle rejected. Drop; state unchanged.
	KindAuthFailed
	// KindUnsupportedCritical: unknown critical TLV or unsupported transform.
	// Drop; emit NOTIFY.
	KindUnsupportedCritical
	// KindDowngrade: DH group list mismatch (HIPv2). Drop and tear down
	// any partial HA.
	KindDowngrade
	// KindReplayWindow: ESP seq outside window. Drop; anchor unchanged.
	KindReplayWindow
	// KindResourceExhausted: R1 cache empty, SA table full. Log; drop;
	// for SA exhaustion fall back to ESP-protection UNUSED.
	KindResourceExhausted
	// KindTransient: sendto returned EAGAIN. Re-queue via retransmission.
	KindTransient
	// KindFatal: programming invariant violated. Never sent to the peer;
	// caller should panic/abort the handler chain, not the process.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindAuthFailed:
		return "auth_failed"
	case KindUnsupportedCritical:
		return "unsupported_critical"
	case KindDowngrade:
		return "downgrade"
	case KindReplayWindow:
		return "replay_window"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified error. It wraps an underlying cause so %w chains
// keep working with errors.Is/As.
type Error struct {
	Kind  Kind
	Op    string // component/operation, e.g. "wire.Parse", "statemachine.I2"
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("hip: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("hip: %s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindFatal for
// unclassified errors so callers never silently treat an unknown error
// as safe to continue on.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFatal
}
