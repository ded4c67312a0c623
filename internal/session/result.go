package session

import (
	"encoding/json"

	"github.com/gometeo/skycast/internal/fault"
)

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// Result holds exactly one of Idle, Loading, Success(value) or Error(fault).
// The zero value is Idle.
type Result[T any] struct {
	status Status
	value  T
	fault  fault.Classification
}

func Idle[T any]() Result[T] { return Result[T]{} }

func Loading[T any]() Result[T] { return Result[T]{status: StatusLoading} }

func Success[T any](value T) Result[T] { return Result[T]{status: StatusSuccess, value: value} }

func Failure[T any](c fault.Classification) Result[T] { return Result[T]{status: StatusError, fault: c} }

func (r Result[T]) Status() Status { return r.status }

func (r Result[T]) IsIdle() bool    { return r.status == StatusIdle }
func (r Result[T]) IsLoading() bool { return r.status == StatusLoading }
func (r Result[T]) IsSuccess() bool { return r.status == StatusSuccess }
func (r Result[T]) IsError() bool   { return r.status == StatusError }

// Value returns the payload of a Success.
func (r Result[T]) Value() (T, bool) {
	if r.status != StatusSuccess {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Fault returns the classification of an Error.
func (r Result[T]) Fault() (fault.Classification, bool) {
	if r.status != StatusError {
		return fault.Classification{}, false
	}
	return r.fault, true
}

type resultJSON[T any] struct {
	Status   string `json:"status"`
	Data     *T     `json:"data,omitempty"`
	Error    string `json:"error,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Severity string `json:"severity,omitempty"`
}

func (r Result[T]) MarshalJSON() ([]byte, error) {
	out := resultJSON[T]{Status: r.status.String()}
	switch r.status {
	case StatusSuccess:
		v := r.value
		out.Data = &v
	case StatusError:
		out.Error = r.fault.Message
		out.Kind = r.fault.Kind.String()
		out.Severity = r.fault.Severity.String()
	}
	return json.Marshal(out)
}
