// Package errkind defines the error taxonomy shared by every provider and
// workflow step in the harness. Errors carry an explicit Kind so that retry
// decisions are made on classification, not on message contents. A legacy
// string-matching shim is kept for errors that arrive from provider SDKs
// without a Kind attached.
package errkind

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for retry and reporting decisions.
type Kind int

const (
	Unknown Kind = iota
	// NotFound: the resource does not exist. Never retried internally.
	NotFound
	// Unauthorized: authentication failed. Non-retryable.
	Unauthorized
	// Forbidden: authenticated but not allowed. Non-retryable.
	Forbidden
	// InvalidConfig: missing env vars, malformed plan. Non-retryable.
	InvalidConfig
	// RateLimited: provider throttling; retried honouring Retry-After.
	RateLimited
	// TransientNetwork: connection resets, DNS hiccups. Retried.
	TransientNetwork
	// TransientProvider: 5xx and other recoverable provider failures. Retried.
	TransientProvider
	// PipelineFailed: terminal test assertion, logs attached by the caller.
	PipelineFailed
	// SyncFailed: GitOps sync did not reach the expected revision.
	SyncFailed
	// Timeout: a bounded wait elapsed.
	Timeout
	// UnsupportedStrategy: no strategy exists for a (CI, Git) pair.
	// Programming error, non-retryable.
	UnsupportedStrategy
	// Conflict: a ref moved underneath a commit. Callers retry explicitly.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case InvalidConfig:
		return "InvalidConfig"
	case RateLimited:
		return "RateLimited"
	case TransientNetwork:
		return "TransientNetwork"
	case TransientProvider:
		return "TransientProvider"
	case PipelineFailed:
		return "PipelineFailed"
	case SyncFailed:
		return "SyncFailed"
	case Timeout:
		return "Timeout"
	case UnsupportedStrategy:
		return "UnsupportedStrategy"
	case Conflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// Retryable reports whether errors of this kind may be retried internally.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, TransientNetwork, TransientProvider, Conflict:
		return true
	default:
		return false
	}
}

// Error is the kinded error type. It wraps an optional cause so that
// provider status codes stay reachable through errors.As.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and context to an existing error. Returns nil when
// err is nil.
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, walking the wrap chain. Errors without
// a kinded ancestor report Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is lets errors.Is match against a bare kinded error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// nonRetryablePatterns is the legacy message classification, kept as a
// compatibility shim for errors that arrive from SDKs without a Kind.
var nonRetryablePatterns = []string{
	"unauthorized",
	"forbidden",
	"401",
	"authentication failed",
	"invalid token",
	"template not found",
	"invalid template",
	"permission denied",
	"missing env var",
}

// Classify maps an unkinded error message onto the taxonomy. It only
// distinguishes retryable from non-retryable classes; precise kinds come
// from the provider wrappers.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(msg, pattern) {
			switch pattern {
			case "unauthorized", "401", "authentication failed", "invalid token":
				return Unauthorized
			case "forbidden", "permission denied":
				return Forbidden
			case "template not found", "invalid template", "missing env var":
				return InvalidConfig
			}
		}
	}
	return TransientProvider
}

// Retryable reports whether err may be retried. Kinded errors use their
// Kind; everything else goes through the legacy classifier.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if kind := KindOf(err); kind != Unknown {
		return kind.Retryable()
	}
	return Classify(err).Retryable()
}
