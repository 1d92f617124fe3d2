package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes provider errors for fallback decision-making.
type Kind string

const (
	// KindUnconfigured means the provider is missing credentials. The chain
	// advances without counting this as a data failure.
	KindUnconfigured Kind = "UNCONFIGURED"

	// KindRateLimited means the upstream throttled us (429, quota).
	KindRateLimited Kind = "RATE_LIMITED"

	// KindNotFound means this provider has no data for the requested entity.
	// Another provider in the chain may still know it.
	KindNotFound Kind = "NOT_FOUND"

	// KindTransient covers timeouts, connection resets and 5xx responses.
	KindTransient Kind = "TRANSIENT"

	// KindFatal means the request itself is invalid. Retrying on another
	// provider cannot help, so the chain aborts.
	KindFatal Kind = "FATAL"
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Msg      string
	Wrapped  error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Msg, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func newError(kind Kind, providerName, msg string, wrapped error) *Error {
	return &Error{Kind: kind, Provider: providerName, Msg: msg, Wrapped: wrapped}
}

func Unconfigured(providerName, msg string) *Error {
	return newError(KindUnconfigured, providerName, msg, nil)
}

func RateLimited(providerName, msg string, wrapped error) *Error {
	return newError(KindRateLimited, providerName, msg, wrapped)
}

func NotFoundErr(providerName, msg string) *Error {
	return newError(KindNotFound, providerName, msg, nil)
}

func TransientErr(providerName, msg string, wrapped error) *Error {
	return newError(KindTransient, providerName, msg, wrapped)
}

func FatalErr(providerName, msg string, wrapped error) *Error {
	return newError(KindFatal, providerName, msg, wrapped)
}

// KindOf returns the Kind for any error. Tagged errors report their own kind;
// everything else is classified from the message. Unknown errors default to
// transient so the chain keeps advancing.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "too many requests") {
		return KindRateLimited
	}

	if strings.Contains(msg, "api key") ||
		strings.Contains(msg, "access_key") ||
		strings.Contains(msg, "missing credential") ||
		strings.Contains(msg, "unconfigured") {
		return KindUnconfigured
	}

	if strings.Contains(msg, "404") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no data") ||
		strings.Contains(msg, "unknown entity") {
		return KindNotFound
	}

	if strings.Contains(msg, "400") ||
		strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "bad request") {
		return KindFatal
	}

	return KindTransient
}

// Advances reports whether the chain should try the next provider after this
// error. Everything except fatal advances.
func Advances(err error) bool {
	return KindOf(err) != KindFatal
}
