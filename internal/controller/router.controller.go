package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (c controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(c.requestIdMw)
	r.Use(c.requestLoggingMw)
	r.Use(cors.AllowAll().Handler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		r.Route("/session", func(r chi.Router) {
			r.Get("/", c.getSession)
			r.Post("/mute", c.setMuted)
			r.Post("/hand", c.setHand)
			r.Post("/chat", c.sendChat)
			r.Post("/end", c.endSession)
			r.Route("/participants/{participant-id}", func(r chi.Router) {
				r.Use(c.participantIdMw)
				r.Delete("/", c.kickParticipant)
				r.Post("/mute", c.muteParticipant(true))
				r.Delete("/mute", c.muteParticipant(false))
			})
			r.Route("/audio", func(r chi.Router) {
				r.Post("/select", c.selectAudio)
				r.Post("/play", c.play)
				r.Post("/pause", c.pause)
				r.Post("/seek", c.seek)
				r.Post("/speed", c.setSpeed)
			})
		})
	})

	return r
}
