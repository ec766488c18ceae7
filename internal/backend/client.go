package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sharetube/classroom/internal/audio"
	"github.com/sharetube/classroom/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrBadRequest = errors.New("bad request")
)

// StatusError carries the backend's detail text for a non-2xx reply.
type StatusError struct {
	Code   int
	Detail string
	kind   error
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}

	return fmt.Sprintf("unexpected status code: %d: %s", e.Code, e.Detail)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000",
		Timeout: 10 * time.Second,
	}
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
	}
}

type AudioFile struct {
	ID          domain.AudioID `json:"audio_id"`
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	MimeType    string         `json:"mime_type"`
	Duration    *float64       `json:"duration"`
	UploadedAt  time.Time      `json:"uploaded_at"`
}

type SelectedAudio struct {
	ID    domain.AudioID `json:"audio_id"`
	Title string         `json:"title"`
}

type PlaybackState struct {
	AudioID  *domain.AudioID `json:"audio_id"`
	Title    *string         `json:"title"`
	Status   string          `json:"status"`
	Speed    float64         `json:"speed"`
	Position float64         `json:"position"`
	Duration *float64        `json:"duration"`
}

func (p PlaybackState) IsPlaying() bool {
	return p.Status == "playing"
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.BaseURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("failed to parse backend url: %w", err)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

func userQuery(user domain.UserID) url.Values {
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(int64(user), 10))
	return q
}

// StreamURL is the playback endpoint of an audio file.
func (c *Client) StreamURL(id domain.AudioID) string {
	return fmt.Sprintf("%s/audio/%d/stream", strings.TrimRight(c.cfg.BaseURL, "/"), id)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Detail any `json:"detail"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	serr := &StatusError{Code: resp.StatusCode}
	switch d := body.Detail.(type) {
	case string:
		serr.Detail = d
	case nil:
	default:
		b, _ := json.Marshal(d)
		serr.Detail = string(b)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		serr.kind = ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		serr.kind = ErrForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		serr.kind = ErrBadRequest
	}

	return serr
}

// Join registers the user as a session participant and returns the
// server-assigned participant id.
func (c *Client) Join(ctx context.Context, session domain.SessionID, user domain.UserID) (domain.ParticipantID, error) {
	target, err := c.endpoint(fmt.Sprintf("/sessions/%d/join", session), userQuery(user))
	if err != nil {
		return 0, err
	}

	form := url.Values{}
	form.Set("user_id", strconv.FormatInt(int64(user), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, fmt.Errorf("failed to build join request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		ParticipantID *domain.ParticipantID `json:"participant_id"`
	}
	if err := c.do(req, &out); err != nil {
		return 0, fmt.Errorf("failed to join session: %w", err)
	}
	if out.ParticipantID == nil {
		return 0, errors.New("failed to join session: no participant id in response")
	}

	return *out.ParticipantID, nil
}

func (c *Client) SelectAudio(ctx context.Context, session domain.SessionID, user domain.UserID, id domain.AudioID) (SelectedAudio, error) {
	q := userQuery(user)
	q.Set("audio_id", strconv.FormatInt(int64(id), 10))

	target, err := c.endpoint(fmt.Sprintf("/sessions/%d/audio/select", session), q)
	if err != nil {
		return SelectedAudio{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return SelectedAudio{}, fmt.Errorf("failed to build select request: %w", err)
	}

	var out SelectedAudio
	if err := c.do(req, &out); err != nil {
		return SelectedAudio{}, fmt.Errorf("failed to select audio: %w", err)
	}

	return out, nil
}

func (c *Client) PostAudioControl(ctx context.Context, session domain.SessionID, user domain.UserID, control audio.ControlRequest) error {
	if err := control.Validate(ctx); err != nil {
		return fmt.Errorf("invalid audio control: %w", err)
	}

	target, err := c.endpoint(fmt.Sprintf("/sessions/%d/audio/control", session), userQuery(user))
	if err != nil {
		return err
	}

	body, err := json.Marshal(control)
	if err != nil {
		return fmt.Errorf("failed to encode audio control: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build control request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("failed to post audio control: %w", err)
	}

	return nil
}

func (c *Client) PlaybackState(ctx context.Context, session domain.SessionID, user domain.UserID) (PlaybackState, error) {
	target, err := c.endpoint(fmt.Sprintf("/sessions/%d/audio/state", session), userQuery(user))
	if err != nil {
		return PlaybackState{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return PlaybackState{}, fmt.Errorf("failed to build state request: %w", err)
	}

	var out PlaybackState
	if err := c.do(req, &out); err != nil {
		return PlaybackState{}, fmt.Errorf("failed to get playback state: %w", err)
	}

	return out, nil
}

func (c *Client) ListAudio(ctx context.Context, user domain.UserID) ([]AudioFile, error) {
	target, err := c.endpoint("/audio/list", userQuery(user))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}

	var out []AudioFile
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("failed to list audio: %w", err)
	}

	return out, nil
}

// AudioInfo resolves title and duration of one file through the list
// endpoint.
func (c *Client) AudioInfo(ctx context.Context, user domain.UserID, id domain.AudioID) (AudioFile, error) {
	files, err := c.ListAudio(ctx, user)
	if err != nil {
		return AudioFile{}, err
	}

	for _, f := range files {
		if f.ID == id {
			return f, nil
		}
	}

	return AudioFile{}, fmt.Errorf("audio %d: %w", id, ErrNotFound)
}

// SessionClient binds the client to one session and user.
type SessionClient struct {
	*Client
	session domain.SessionID
	user    domain.UserID
}

var _ audio.ControlPoster = (*SessionClient)(nil)

func (c *Client) ForSession(session domain.SessionID, user domain.UserID) *SessionClient {
	return &SessionClient{
		Client:  c,
		session: session,
		user:    user,
	}
}

func (s *SessionClient) PostAudioControl(ctx context.Context, req audio.ControlRequest) error {
	return s.Client.PostAudioControl(ctx, s.session, s.user, req)
}

func (s *SessionClient) SelectAudio(ctx context.Context, id domain.AudioID) error {
	selected, err := s.Client.SelectAudio(ctx, s.session, s.user, id)
	if err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "audio selected", "audio_id", selected.ID, "title", selected.Title)

	return nil
}

func (s *SessionClient) Join(ctx context.Context) (domain.ParticipantID, error) {
	return s.Client.Join(ctx, s.session, s.user)
}

func (s *SessionClient) PlaybackState(ctx context.Context) (PlaybackState, error) {
	return s.Client.PlaybackState(ctx, s.session, s.user)
}

func (s *SessionClient) AudioInfo(ctx context.Context, id domain.AudioID) (AudioFile, error) {
	return s.Client.AudioInfo(ctx, s.user, id)
}
