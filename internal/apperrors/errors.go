// Package apperrors contains the error kinds returned by the analysisweb services.
// HTTP handlers look for the types defined in this file (using errors.As) and map
// them to a status code, so a wrapped error keeps its kind across layers.
//
// If several cleanup steps fail alongside a primary error, the caller should
// aggregate them with github.com/hashicorp/go-multierror; KindOf inspects the
// first classified error it finds.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-multierror"
)

// ErrInvalidInput is returned for malformed, missing or out-of-range request data.
type ErrInvalidInput struct {
	Message string
}

func (err *ErrInvalidInput) Error() string {
	return err.Message
}

// ErrNotFound is returned whenever a referenced entity does not exist.
// Type and Value are omitted from the message if not provided.
type ErrNotFound struct {
	Type    string // e.g. "job" or "measurement"
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	switch {
	case err.Type != "" && err.Value != "":
		s = fmt.Sprintf("%s %q not found", err.Type, err.Value)
	case err.Type != "":
		s = fmt.Sprintf("%s not found", err.Type)
	default:
		s = "not found"
	}
	if err.Message != "" {
		s = s + "; " + err.Message
	}
	return
}

// ErrForbidden is returned for structurally valid requests that violate a
// business invariant, e.g. deleting a measurement that is referenced by a job.
type ErrForbidden struct {
	Message string
}

func (err *ErrForbidden) Error() string {
	return err.Message
}

// InvalidInput builds an *ErrInvalidInput with a formatted message.
func InvalidInput(format string, args ...any) error {
	return &ErrInvalidInput{Message: fmt.Sprintf(format, args...)}
}

// NotFound builds an *ErrNotFound for the given entity type and id.
func NotFound(typ, value string) error {
	return &ErrNotFound{Type: typ, Value: value}
}

// Forbidden builds an *ErrForbidden with a formatted message.
func Forbidden(format string, args ...any) error {
	return &ErrForbidden{Message: fmt.Sprintf(format, args...)}
}

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

// KindOf returns the kind of the first classified error in err's chain.
// Errors aggregated in a *multierror.Error are inspected in order.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			if k := KindOf(e); k != KindInternal {
				return k
			}
		}
		return KindInternal
	}

	var invalid *ErrInvalidInput
	var notFound *ErrNotFound
	var forbidden *ErrForbidden
	switch {
	case errors.As(err, &invalid):
		return KindInvalidInput
	case errors.As(err, &notFound):
		return KindNotFound
	case errors.As(err, &forbidden):
		return KindForbidden
	default:
		return KindInternal
	}
}

// HTTPStatus maps err to the status code the API reports for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the message that is safe to show to API clients.
// Unclassified errors are not exposed.
func Message(err error) string {
	if KindOf(err) == KindInternal {
		return "Internal server error"
	}

	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			if KindOf(e) != KindInternal {
				return Message(e)
			}
		}
	}

	var invalid *ErrInvalidInput
	var notFound *ErrNotFound
	var forbidden *ErrForbidden
	switch {
	case errors.As(err, &invalid):
		return invalid.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &forbidden):
		return forbidden.Error()
	}
	return err.Error()
}
