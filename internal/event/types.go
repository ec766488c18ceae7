package event

// Inbound event types.
const (
	TypeConnected                 = "connected"
	TypeSessionState              = "session_state"
	TypeParticipantJoined         = "participant_joined"
	TypeParticipantAdded          = "participant_added"
	TypeParticipantAlreadyPresent = "participant_already_present"
	TypeParticipantLeft           = "participant_left"
	TypeParticipantKicked         = "participant_kicked"
	TypeParticipantMuted          = "participant_muted"
	TypeHandRaised                = "hand_raised"
	TypeHandLowered               = "hand_lowered"
	TypeChat                      = "chat"
	TypeKicked                    = "kicked"
	TypeSessionEnding             = "session_ending"
	TypeSessionEnded              = "session_ended"
	TypeDisconnected              = "disconnected"
	TypeWebRTCSignal              = "webrtc_signal"
	TypeAudioSelected             = "audio_selected"
	TypeAudioPlay                 = "audio_play"
	TypeAudioPause                = "audio_pause"
	TypeAudioSeek                 = "audio_seek"
	TypeAudioSpeedChange          = "audio_speed_change"
	TypeError                     = "error"
)

// Outbound action types.
const (
	ActionMuteSelf          = "mute_self"
	ActionRaiseHand         = "raise_hand"
	ActionLowerHand         = "lower_hand"
	ActionChat              = "chat"
	ActionMuteParticipant   = "mute_participant"
	ActionUnmuteParticipant = "unmute_participant"
	ActionKickParticipant   = "kick_participant"
	ActionEndSession        = "end_session"
	ActionWebRTCSignal      = "webrtc_signal"
)
