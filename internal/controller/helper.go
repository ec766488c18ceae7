package controller

import (
	"errors"
	"net/http"

	"github.com/sharetube/classroom/internal/audio"
	"github.com/sharetube/classroom/internal/backend"
	"github.com/sharetube/classroom/internal/session"
	"github.com/sharetube/classroom/pkg/eventloop"
	"github.com/sharetube/classroom/pkg/rest"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrPermissionDenied), errors.Is(err, backend.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, session.ErrTerminated), errors.Is(err, eventloop.ErrStopped):
		return http.StatusGone
	case errors.Is(err, session.ErrNotReady), errors.Is(err, audio.ErrNoAudioSelected):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, audio.ErrInvalidSpeed),
		errors.Is(err, backend.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// readRequest decodes and validates the body into req. It writes the error
// response itself and reports whether the handler may continue.
func (c controller) readRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := rest.ReadJSON(r, req); err != nil {
		c.logger.DebugContext(r.Context(), "failed to read request", "error", err)
		rest.WriteError(w, http.StatusUnprocessableEntity, err.Error(), nil)
		return false
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.DebugContext(r.Context(), "invalid request", "errors", validationErrors)
		rest.WriteError(w, http.StatusBadRequest, "validation failed", validationErrors)
		return false
	}

	return true
}

// reply writes 204 on success and maps err to a status otherwise.
func (c controller) reply(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.logger.WarnContext(r.Context(), "session action failed", "error", err)
	} else {
		c.logger.DebugContext(r.Context(), "session action rejected", "error", err)
	}
	rest.WriteError(w, status, err.Error(), nil)
}
