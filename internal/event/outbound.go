package event

import "github.com/sharetube/classroom/internal/domain"

// Action is one outbound fire-and-forget message.
type Action map[string]any

func (a Action) Type() string {
	t, _ := a["type"].(string)
	return t
}

func MuteSelf(mute bool) Action {
	return Action{"type": ActionMuteSelf, "mute": mute}
}

func RaiseHand() Action {
	return Action{"type": ActionRaiseHand}
}

func LowerHand() Action {
	return Action{"type": ActionLowerHand}
}

func SendChat(text string) Action {
	return Action{"type": ActionChat, "text": text}
}

func MuteParticipant(target domain.ParticipantID) Action {
	return Action{"type": ActionMuteParticipant, "target_participant_id": target}
}

func UnmuteParticipant(target domain.ParticipantID) Action {
	return Action{"type": ActionUnmuteParticipant, "target_participant_id": target}
}

func KickParticipant(target domain.ParticipantID) Action {
	return Action{"type": ActionKickParticipant, "target_participant_id": target}
}

func EndSession() Action {
	return Action{"type": ActionEndSession}
}

func Signal(target domain.ParticipantID, payload any) Action {
	return Action{"type": ActionWebRTCSignal, "target_participant_id": target, "payload": payload}
}
