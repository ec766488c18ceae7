package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var ErrCaptureUnavailable = errors.New("audio capture unavailable")

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

type CaptureConfig struct {
	Enabled bool          `json:"enabled"`
	Frame   time.Duration `json:"frame"`
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{Enabled: true, Frame: 20 * time.Millisecond}
}

// Capture is the local outgoing audio. Headless clients have no
// microphone, so it produces Opus silence while unmuted.
type Capture struct {
	logger *slog.Logger
	track  *webrtc.TrackLocalStaticSample
	frame  time.Duration
	muted  atomic.Bool
	frames atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func OpenCapture(ctx context.Context, cfg CaptureConfig, logger *slog.Logger) (*Capture, error) {
	if !cfg.Enabled {
		return nil, ErrCaptureUnavailable
	}
	if cfg.Frame <= 0 {
		cfg.Frame = 20 * time.Millisecond
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "classroom-capture")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	c := &Capture{
		logger: logger,
		track:  track,
		frame:  cfg.Frame,
	}

	ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()

	return c, nil
}

func (c *Capture) run(ctx context.Context) {
	ticker := time.NewTicker(c.frame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.muted.Load() {
				continue
			}

			if err := c.track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: c.frame}); err != nil {
				c.logger.WarnContext(ctx, "failed to write capture sample", "error", err)
				continue
			}
			c.frames.Add(1)
		}
	}
}

func (c *Capture) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{c.track}
}

func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
}

func (c *Capture) Muted() bool {
	return c.muted.Load()
}

// Frames counts samples written so far.
func (c *Capture) Frames() uint64 {
	return c.frames.Load()
}

func (c *Capture) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
	})

	return nil
}
