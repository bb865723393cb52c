package api

import (
	"net/http"

	"github.com/juju/errors"
	"github.com/labstack/echo/v4"

	"github.com/warriorguo/ensemble/types"
)

type ErrorResponse struct {
	Message ErrorMessage `json:"message"`
}

type ErrorMessage struct {
	Reason string `json:"reason"`
	// Field is the definition path of a malformed value.
	Field string `json:"field,omitempty"`
	// Tasks names the tasks involved in a dependency error.
	Tasks []string `json:"tasks,omitempty"`
}

// httpError converts an orchestrator error into the echo error pipeline.
func httpError(err error) *echo.HTTPError {
	msg := ErrorMessage{Reason: err.Error()}
	code := http.StatusInternalServerError

	var (
		malformed *types.MalformedDefinitionError
		cyclic    *types.CyclicDependencyError
		unknown   *types.UnknownDependencyError
		duplicate *types.DuplicateTaskError
	)
	switch {
	case errors.As(err, &malformed):
		code = http.StatusBadRequest
		msg.Field = malformed.Field
	case errors.As(err, &cyclic):
		code = http.StatusBadRequest
		msg.Tasks = cyclic.Tasks
	case errors.As(err, &unknown):
		code = http.StatusBadRequest
		msg.Tasks = []string{unknown.Task, unknown.Dependency}
	case errors.As(err, &duplicate):
		code = http.StatusBadRequest
		msg.Tasks = []string{duplicate.Task}
	case errors.Is(err, errors.NotFound):
		code = http.StatusNotFound
	case errors.Is(err, errors.AlreadyExists):
		code = http.StatusConflict
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, errors.MethodNotAllowed):
		code = http.StatusServiceUnavailable
	}

	return echo.NewHTTPError(code, ErrorResponse{Message: msg}).SetInternal(err)
}
