package nats

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/plaenen/cartflow/pkg/actor"
	"github.com/plaenen/cartflow/pkg/command"
	"github.com/plaenen/cartflow/pkg/executor"
	"github.com/plaenen/cartflow/pkg/validators"
)

// SubjectPrefix is the first token of every subject served here.
const SubjectPrefix = "cartflow"

// QueueGroup spreads requests over every node serving a service.
const QueueGroup = "cartflow"

// Operations exposed per service.
const (
	OpProcess  = "process"
	OpComplete = "complete"
	OpExecute  = "execute"
	OpStatus   = "status"
)

// Reply codes.
const (
	CodeUnknownService  = "unknown_service"
	CodeInvalidArgument = "invalid_argument"
	CodeUnavailable     = "unavailable"
	CodeInternal        = "internal"
)

// ErrInvalidRequest is matched by remote errors caused by a bad request.
var ErrInvalidRequest = errors.New("invalid request")

// Subject returns the subject for op on service, e.g.
// cartflow.CartExecutor.execute.
func Subject(service, op string) string {
	return SubjectPrefix + "." + service + "." + op
}

type request struct {
	Address  actor.Address    `json:"address"`
	Command  *command.Command `json:"command,omitempty"`
	Callback actor.Address    `json:"callback,omitzero"`
}

type reply struct {
	OK     bool             `json:"ok"`
	Code   string           `json:"code,omitempty"`
	Error  string           `json:"error,omitempty"`
	Status *executor.Status `json:"status,omitempty"`
}

func codeOf(err error) string {
	switch {
	case errors.Is(err, actor.ErrUnknownService):
		return CodeUnknownService
	case errors.Is(err, actor.ErrInvalidAddress),
		errors.Is(err, actor.ErrWrongType),
		errors.Is(err, command.ErrEmptyID),
		errors.Is(err, command.ErrEmptyName),
		errors.Is(err, validators.ErrInvalid):
		return CodeInvalidArgument
	case errors.Is(err, actor.ErrHostClosed):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// RemoteError is an error reported by the serving node.
type RemoteError struct {
	Subject string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Subject, e.Code, e.Message)
}

// Unwrap maps the reply code back to the matching sentinel error.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeUnknownService:
		return actor.ErrUnknownService
	case CodeInvalidArgument:
		return ErrInvalidRequest
	case CodeUnavailable:
		return actor.ErrHostClosed
	default:
		return nil
	}
}

// headerCarrier adapts NATS headers to propagation.TextMapCarrier.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

func (c headerCarrier) Set(key, value string) {
	nats.Header(c).Set(key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func microCarrier(h micro.Headers) headerCarrier {
	return headerCarrier(h)
}
