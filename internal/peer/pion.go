package peer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sharetube/classroom/internal/domain"
)

type PionConfig struct {
	ICEServers []string `json:"ice_servers"`
}

// RemoteTrackHandler receives audio arriving from a remote participant.
type RemoteTrackHandler func(remote domain.ParticipantID, track *webrtc.TrackRemote)

// PionFactory builds audio-only pion peer connections with the local
// capture tracks attached.
type PionFactory struct {
	api     *webrtc.API
	config  webrtc.Configuration
	tracks  []webrtc.TrackLocal
	onTrack RemoteTrackHandler
	logger  *slog.Logger
}

func NewPionFactory(cfg PionConfig, tracks []webrtc.TrackLocal, onTrack RemoteTrackHandler, logger *slog.Logger) (*PionFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	config := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	if onTrack == nil {
		onTrack = func(domain.ParticipantID, *webrtc.TrackRemote) {}
	}

	return &PionFactory{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(interceptorRegistry)),
		config:  config,
		tracks:  tracks,
		onTrack: onTrack,
		logger:  logger,
	}, nil
}

func (f *PionFactory) NewConnection(remote domain.ParticipantID, cb Callbacks) (Connection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pion peer connection: %w", err)
	}

	if err := f.attachTracks(pc); err != nil {
		return nil, errors.Join(err, pc.Close())
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil || cb.OnCandidate == nil {
			return
		}

		init := c.ToJSON()
		cb.OnCandidate(Candidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if cb.OnStateChange != nil {
			cb.OnStateChange(ConnectionState(s.String()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		f.onTrack(remote, track)
	})

	return &pionConnection{pc: pc}, nil
}

func (f *PionFactory) attachTracks(pc *webrtc.PeerConnection) error {
	if len(f.tracks) == 0 {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			return fmt.Errorf("failed to add audio transceiver: %w", err)
		}
		return nil
	}

	for _, track := range f.tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("failed to add local track: %w", err)
		}

		// RTCP must be read for the interceptors to work
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	return nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func fromPion(d webrtc.SessionDescription) SessionDescription {
	return SessionDescription{Type: d.Type.String(), SDP: d.SDP}
}

func toPion(d SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(d.Type), SDP: d.SDP}
}

func (c *pionConnection) CreateOffer() (SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, err
	}

	return fromPion(offer), nil
}

func (c *pionConnection) CreateAnswer() (SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, err
	}

	return fromPion(answer), nil
}

func (c *pionConnection) SetLocalDescription(d SessionDescription) error {
	return c.pc.SetLocalDescription(toPion(d))
}

func (c *pionConnection) SetRemoteDescription(d SessionDescription) error {
	return c.pc.SetRemoteDescription(toPion(d))
}

func (c *pionConnection) AddICECandidate(candidate Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (c *pionConnection) Close() error {
	return c.pc.Close()
}
