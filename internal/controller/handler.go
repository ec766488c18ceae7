package controller

import (
	"net/http"

	"github.com/sharetube/classroom/internal/domain"
	"github.com/sharetube/classroom/pkg/rest"
)

func (c controller) getSession(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, rest.Envelope{Data: c.session.View()})
}

type setMutedRequest struct {
	Mute *bool `json:"mute" validate:"required"`
}

func (c controller) setMuted(w http.ResponseWriter, r *http.Request) {
	var req setMutedRequest
	if !c.readRequest(w, r, &req) {
		return
	}

	c.reply(w, r, c.session.SetMuted(r.Context(), *req.Mute))
}

type setHandRequest struct {
	Raised *bool `json:"raised" validate:"required"`
}

func (c controller) setHand(w http.ResponseWriter, r *http.Request) {
	var req setHandRequest
	if !c.readRequest(w, r, &req) {
		return
	}

	if *req.Raised {
		c.reply(w, r, c.session.RaiseHand(r.Context()))
		return
	}
	c.reply(w, r, c.session.LowerHand(r.Context()))
}

type sendChatRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

func (c controller) sendChat(w http.ResponseWriter, r *http.Request) {
	var req sendChatRequest
	if !c.readRequest(w, r, &req) {
		return
	}

	c.reply(w, r, c.session.SendChat(r.Context(), req.Text))
}

func (c controller) endSession(w http.ResponseWriter, r *http.Request) {
	c.reply(w, r, c.session.EndSession(r.Context()))
}

func (c controller) kickParticipant(w http.ResponseWriter, r *http.Request) {
	target := c.getParticipantIdFromCtx(r.Context())
	c.reply(w, r, c.session.KickParticipant(r.Context(), target))
}

func (c controller) muteParticipant(mute bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := c.getParticipantIdFromCtx(r.Context())
		c.reply(w, r, c.session.MuteParticipant(r.Context(), target, mute))
	}
}

type selectAudioRequest struct {
	AudioID domain.AudioID `json:"audio_id" validate:"required,gte=1"`
}

func (c controller) selectAudio(w http.ResponseWriter, r *http.Request) {
	var req selectAudioRequest
	if !c.readRequest(w, r, &req) {
		return
	}

	c.reply(w, r, c.session.SelectAudio(r.Context(), req.AudioID))
}

func (c controller) play(w http.ResponseWriter, r *http.Request) {
	c.reply(w, r, c.session.Play(r.Context()))
}

func (c controller) pause(w http.ResponseWriter, r *http.Request) {
	c.reply(w, r, c.session.Pause(r.Context()))
}

type seekRequest struct {
	Position *float64 `json:"position" validate:"required,gte=0"`
}

func (c controller) seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !c.readRequest(w, r, &req) {
		return
	}

	c.reply(w, r, c.session.Seek(r.Context(), *req.Position))
}

type setSpeedRequest struct {
	Speed float64 `json:"speed" validate:"required,gte=0.25,lte=3"`
}

func (c controller) setSpeed(w http.ResponseWriter, r *http.Request) {
	var req setSpeedRequest
	if !c.readRequest(w, r, &req) {
		return
	}

	c.reply(w, r, c.session.SetSpeed(r.Context(), req.Speed))
}
