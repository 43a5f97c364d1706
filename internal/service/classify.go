package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/Strob0t/flowgate/internal/domain"
	"github.com/Strob0t/flowgate/internal/domain/tool"
	"github.com/Strob0t/flowgate/internal/port/backend"
	"github.com/Strob0t/flowgate/internal/resilience"
)

// Classify maps any handler error onto the caller-facing taxonomy and tags
// it with the tool. The mapping depends only on the error chain.
func Classify(err error, d tool.Descriptor) *domain.Error {
	var se *domain.StepError
	if errors.As(err, &se) {
		out := Classify(se.Err, d)
		out.Err = err
		if out.Detail == "" {
			out.Detail = se.Done
		} else {
			out.Detail = se.Done + ": " + out.Detail
		}
		return out
	}

	var de *domain.Error
	if errors.As(err, &de) && de.Kind != "" {
		out := *de
		if out.Tool == "" {
			out.Tool = d.Name
			out.Category = string(d.Category)
		}
		return &out
	}

	name := backend.BackendOf(err)
	e := &domain.Error{Tool: d.Name, Category: string(d.Category), Backend: string(name), Err: err}
	label := string(name)
	if label == "" {
		label = "backend"
	}

	var ce *backend.CallError
	switch {
	case errors.Is(err, backend.ErrNotConfigured):
		e.Kind = domain.KindBackendUnavailable
		e.Detail = label + " not configured"
	case errors.Is(err, resilience.ErrCircuitOpen):
		e.Kind = domain.KindBackendUnavailable
		e.Detail = label + " circuit open after repeated failures"
	case errors.As(err, &ce):
		e.Status = ce.Status
		e.Detail = ce.Body
		switch ce.Status {
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			e.Kind = domain.KindValidationFailed
		default:
			e.Kind = domain.KindBackendError
		}
		if e.Detail == "" {
			e.Detail = fmt.Sprintf("%s answered %d", label, ce.Status)
		}
	case errors.Is(err, domain.ErrValidation):
		e.Kind = domain.KindValidationFailed
		e.Detail = err.Error()
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		e.Kind = domain.KindBackendTimeout
		e.Detail = label + " did not answer in time"
	case errors.Is(err, syscall.ECONNREFUSED) || isDialError(err):
		e.Kind = domain.KindBackendUnavailable
		e.Detail = label + " unreachable"
	case errors.Is(err, context.Canceled):
		e.Kind = domain.KindBackendError
		e.Detail = "call canceled"
	default:
		if k := domain.KindOf(err); k != "" {
			e.Kind = k
			e.Detail = err.Error()
		} else {
			e.Kind = domain.KindBackendError
		}
	}
	return e
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isDialError(err error) bool {
	var oe *net.OpError
	if errors.As(err, &oe) {
		return oe.Op == "dial"
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
