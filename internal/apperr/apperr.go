package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a turn failure.
type Kind string

const (
	NetworkFailure     Kind = "NETWORK_FAILURE"
	AuthFailure        Kind = "AUTH_FAILURE"
	ModelNotFound      Kind = "MODEL_NOT_FOUND"
	EmptyResponse      Kind = "EMPTY_RESPONSE"
	ProviderError      Kind = "PROVIDER_ERROR"
	ToolExecutionError Kind = "TOOL_EXECUTION"
	NoRouteAvailable   Kind = "NO_ROUTE_AVAILABLE"
	ToolRoundsExceeded Kind = "TOOL_ROUNDS_EXCEEDED"
	RequestCancelled   Kind = "REQUEST_CANCELLED"
)

var defaultUserMessages = map[Kind]string{
	NetworkFailure:     "Network request failed",
	AuthFailure:        "Request denied",
	ModelNotFound:      "Model not found",
	EmptyResponse:      "Empty response from provider",
	ProviderError:      "Provider request failed",
	ToolExecutionError: "Tool execution failed",
	NoRouteAvailable:   "No route available",
	ToolRoundsExceeded: "Stopped after too many tool-call rounds",
	RequestCancelled:   "Request cancelled",
}

// Error is a classified failure carrying provider detail for logs and a short
// message for users.
type Error struct {
	Kind        Kind
	Message     string
	Err         error
	Status      int
	Route       string
	UserMessage string
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithStatus records the HTTP status behind the failure.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithRoute records the transport the failure came from.
func (e *Error) WithRoute(route string) *Error {
	e.Route = route
	return e
}

// WithUserMessage overrides the user-facing message.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Kind, e.Message))
	if e.Route != "" || e.Status != 0 {
		sb.WriteString(fmt.Sprintf(" {route: %s, status: %d}", e.Route, e.Status))
	}
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether any error in err's chain is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage returns a short classified message for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Request failed"
	}
	if e.UserMessage != "" {
		return e.UserMessage
	}
	if msg, ok := defaultUserMessages[e.Kind]; ok {
		return msg
	}
	return "Request failed"
}
