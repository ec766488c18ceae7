package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type Progress struct {
	Position float64
	Duration float64
}

// Engine is the local playback engine.
type Engine interface {
	// Play starts streaming url from position zero.
	Play(ctx context.Context, url string, rate float64) error
	Seek(position float64) error
	Pause() error
	Stop() error
	SetRate(rate float64) error
	Position() float64
	OnProgress(fn func(Progress))
	OnFault(fn func(error))
}

const durationHeader = "X-Content-Duration"

// ClockEngine plays by downloading the stream and advancing a clock at the
// playback rate. It reports the duration when the server announces it.
type ClockEngine struct {
	client *http.Client
	logger *slog.Logger
	tick   time.Duration
	now    func() time.Time

	mu         sync.Mutex
	playing    bool
	base       float64
	anchor     time.Time
	rate       float64
	duration   float64
	gen        uint64
	cancel     context.CancelFunc
	onProgress func(Progress)
	onFault    func(error)
}

func NewClockEngine(client *http.Client, tick time.Duration, logger *slog.Logger) *ClockEngine {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}

	return &ClockEngine{
		client:     client,
		logger:     logger,
		tick:       tick,
		now:        time.Now,
		rate:       1,
		onProgress: func(Progress) {},
		onFault:    func(error) {},
	}
}

func (e *ClockEngine) OnProgress(fn func(Progress)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onProgress = fn
}

func (e *ClockEngine) OnFault(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.onFault = fn
}

func (e *ClockEngine) positionLocked() float64 {
	pos := e.base
	if e.playing {
		pos += e.now().Sub(e.anchor).Seconds() * e.rate
	}
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}

	return pos
}

func (e *ClockEngine) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.positionLocked()
}

func (e *ClockEngine) haltLocked() {
	e.base = e.positionLocked()
	e.playing = false
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *ClockEngine) Play(ctx context.Context, url string, rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.haltLocked()
	e.base = 0
	e.duration = 0
	e.rate = rate
	e.anchor = e.now()
	e.playing = true

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	go e.stream(streamCtx, e.gen, url)

	return nil
}

func (e *ClockEngine) Seek(position float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.base = position
	e.anchor = e.now()

	return nil
}

func (e *ClockEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.haltLocked()

	return nil
}

func (e *ClockEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.haltLocked()
	e.base = 0

	return nil
}

func (e *ClockEngine) SetRate(rate float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.base = e.positionLocked()
	e.anchor = e.now()
	e.rate = rate

	return nil
}

func (e *ClockEngine) stream(ctx context.Context, gen uint64, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		e.fault(gen, fmt.Errorf("failed to build stream request: %w", err))
		return
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.fault(gen, fmt.Errorf("failed to fetch audio stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.fault(gen, fmt.Errorf("failed to fetch audio stream: status %d", resp.StatusCode))
		return
	}

	if d, err := strconv.ParseFloat(resp.Header.Get(durationHeader), 64); err == nil && d > 0 {
		e.mu.Lock()
		if e.gen == gen {
			e.duration = d
		}
		e.mu.Unlock()
	}

	downloaded := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		downloaded <- err
	}()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-downloaded:
			if err != nil && ctx.Err() == nil {
				e.fault(gen, fmt.Errorf("failed to read audio stream: %w", err))
				return
			}
			downloaded = nil
		case <-ticker.C:
			if !e.report(gen) {
				return
			}
		}
	}
}

// report emits progress and reports whether playback continues.
func (e *ClockEngine) report(gen uint64) bool {
	e.mu.Lock()
	if e.gen != gen || !e.playing {
		e.mu.Unlock()
		return false
	}

	p := Progress{Position: e.positionLocked(), Duration: e.duration}
	ended := e.duration > 0 && p.Position >= e.duration
	if ended {
		e.haltLocked()
	}
	onProgress := e.onProgress
	e.mu.Unlock()

	onProgress(p)

	return !ended
}

func (e *ClockEngine) fault(gen uint64, err error) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.haltLocked()
	onFault := e.onFault
	e.mu.Unlock()

	e.logger.Warn("playback fault", "error", err)
	onFault(err)
}
