package engine

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors of the dispatch layer. Callers branch on these with
// errors.Is; the embedding application maps them to user-facing responses
// (queue full / no healthy target → "temporarily unavailable", timeout →
// a distinguishable timeout response).
var (
	ErrQueueFull             = errors.New("request queue full")
	ErrNoHealthyWorkers      = errors.New("no healthy workers available")
	ErrDispatchTimeout       = errors.New("request timeout")
	ErrCircuitOpen           = errors.New("circuit breaker is open")
	ErrAllEndpointsExhausted = errors.New("all RPC endpoints exhausted")
	ErrRateLimited           = errors.New("rpc endpoint rate limited")
	ErrShuttingDown          = errors.New("dispatcher is shutting down")
	ErrWorkerNotFound        = errors.New("worker not registered")
	ErrChannelClosed         = errors.New("worker channel closed")
)

// ErrorClass is the closed set of failure kinds the RPC failover layer
// distinguishes. Classification happens exactly once, at the transport
// boundary; everything past that point branches on the class, never on
// error text.
type ErrorClass int

const (
	// ClassOperation is a business-logic failure (e.g. reverted tx).
	// Never retried, never transformed.
	ClassOperation ErrorClass = iota
	// ClassRateLimited means the endpoint throttled us; it goes into a
	// fixed cooldown and the next endpoint is tried after a short delay.
	ClassRateLimited
	// ClassNetwork is a transient transport failure; the next endpoint
	// is tried after linear backoff.
	ClassNetwork
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassNetwork:
		return "network"
	default:
		return "operation"
	}
}

// rateLimitMarkers 限流错误的启发式匹配模式
//
// Substring matching is inherently heuristic and transport-dependent:
// providers disagree on how they report throttling (HTTP 429 bodies,
// JSON-RPC error messages, plain text). The patterns live here and only
// here, see ClassifyRPCError.
var rateLimitMarkers = []string{
	"rate limit",
	"too many requests",
	"429",
	"limit exceeded",
	"quota exceeded",
}

var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"timeout",
	"broken pipe",
	"eof",
	"tls handshake",
	"network is unreachable",
}

// ClassifyRPCError maps a transport error into the closed ErrorClass set.
// Typed checks run first; the substring heuristics are the fallback for
// providers that only surface stringly-typed JSON-RPC errors.
func ClassifyRPCError(err error) ErrorClass {
	if err == nil {
		return ClassOperation
	}

	if errors.Is(err, ErrRateLimited) {
		return ClassRateLimited
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassNetwork
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return ClassNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return ClassRateLimited
		}
	}
	for _, marker := range networkMarkers {
		if strings.Contains(msg, marker) {
			return ClassNetwork
		}
	}

	return ClassOperation
}
