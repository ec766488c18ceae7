package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/pkg/ctxlogger"
	"github.com/sharetube/classroom/pkg/rest"
)

const requestIdHeader = "X-Request-Id"

func (c controller) requestIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestId := r.Header.Get(requestIdHeader)
		if requestId == "" {
			requestId = uuid.NewString()
		}
		w.Header().Set(requestIdHeader, requestId)

		ctx := ctxlogger.AppendCtx(r.Context(), slog.String("request_id", requestId))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c controller) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		c.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"url", r.URL.String(),
			"remote_addr", r.RemoteAddr,
			"status", ww.Status(),
			"processing_time_us", time.Since(start).Microseconds(),
		)
	})
}

func (c controller) participantIdMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		participantId, err := domain.ParseParticipantID(chi.URLParam(r, "participant-id"))
		if err != nil {
			rest.WriteError(w, http.StatusNotFound, "participant not found", nil)
			return
		}

		ctx := context.WithValue(r.Context(), participantIdCtxKey, participantId)
		ctx = ctxlogger.AppendCtx(ctx, slog.Int64("target_participant_id", int64(participantId)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
