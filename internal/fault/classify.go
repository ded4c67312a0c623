package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// ErrNoConnection can be returned (or wrapped) by gateways that detect a
// missing network before dialing.
var ErrNoConnection = errors.New("no network connection")

// StatusError is a protocol-level fault carrying an HTTP status code.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("weather API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("weather API error (status %d): %s", e.StatusCode, e.Message)
}

type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuth
	KindNotFound
	KindRateLimit
	KindServer
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityError:
		return "error"
	default:
		return "warning"
	}
}

const (
	MsgNoConnection = "No internet connection. Check your network."
	MsgTimeout      = "The request timed out. Try again later."
	MsgUnreachable  = "Cannot reach the weather server. Check your internet connection."
	MsgAuth         = "Authorization failed. Check the API key."
	MsgNotFound     = "Location not found. Check the city name."
	MsgRateLimited  = "Too many requests. Try again later."
	MsgServer       = "Server error. Try again later."
	MsgUnavailable  = "The server is temporarily unavailable. Try again later."
	MsgUnknown      = "Unknown error. Try again later."
)

// Classification is the user-facing view of a fault.
type Classification struct {
	Kind       Kind
	Severity   Severity
	Message    string
	StatusCode int
	Retryable  bool
}

func (c Classification) IsNetwork() bool { return c.Kind == KindNetwork }
func (c Classification) IsAuth() bool    { return c.Kind == KindAuth }
func (c Classification) IsServer() bool  { return c.Kind == KindServer }

// IsClient reports 4xx faults that have no kind of their own; auth, 404 and
// 429 are classified separately.
func (c Classification) IsClient() bool { return c.Kind == KindClient }

// Classify maps err to a Classification. It has no state, so equal faults
// always classify the same way.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Severity: SeverityWarning, Message: MsgUnknown}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode)
	}

	if msg, ok := networkMessage(err); ok {
		return Classification{
			Kind:      KindNetwork,
			Severity:  SeverityWarning,
			Message:   msg,
			Retryable: true,
		}
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = MsgUnknown
	}
	return Classification{Kind: KindUnknown, Severity: SeverityError, Message: msg}
}

func classifyStatus(code int) Classification {
	c := Classification{StatusCode: code}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		c.Kind, c.Severity, c.Message = KindAuth, SeverityCritical, MsgAuth
	case code == http.StatusNotFound:
		c.Kind, c.Severity, c.Message = KindNotFound, SeverityWarning, MsgNotFound
	case code == http.StatusTooManyRequests:
		c.Kind, c.Severity, c.Message, c.Retryable = KindRateLimit, SeverityWarning, MsgRateLimited, true
	case code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout:
		c.Kind, c.Severity, c.Message, c.Retryable = KindServer, SeverityError, MsgUnavailable, true
	case code == http.StatusInternalServerError:
		c.Kind, c.Severity, c.Message, c.Retryable = KindServer, SeverityError, MsgServer, true
	case code >= 500 && code <= 599:
		c.Kind, c.Severity, c.Retryable = KindServer, SeverityError, true
		c.Message = fmt.Sprintf("Server error: %d", code)
	case code >= 400 && code <= 499:
		c.Kind, c.Severity = KindClient, SeverityError
		c.Message = fmt.Sprintf("Request failed: %d", code)
	default:
		c.Kind, c.Severity = KindUnknown, SeverityError
		c.Message = fmt.Sprintf("Unexpected response: %d", code)
	}
	return c
}

func networkMessage(err error) (string, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout, true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return MsgTimeout, true
		}
		return MsgUnreachable, true
	}

	if errors.Is(err, ErrNoConnection) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return MsgNoConnection, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return MsgTimeout, true
		}
		return MsgNoConnection, true
	}
	return "", false
}

// RetryDelay returns how long to wait before retry number attempt (1-based).
// Rate-limit faults back off exponentially, other retryable faults linearly.
// Non-retryable faults return 0.
func RetryDelay(c Classification, attempt int, base time.Duration) time.Duration {
	if !c.Retryable || attempt < 1 {
		return 0
	}
	if c.Kind == KindRateLimit {
		shift := attempt
		if shift > 10 {
			shift = 10
		}
		return base * time.Duration(1<<shift)
	}
	return base * time.Duration(attempt)
}
