package dunehd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultPort is the HTTP port of the IP control interface.
	DefaultPort = 80
	// DefaultTimeout bounds every request when no timeout is configured.
	DefaultTimeout = 5 * time.Second

	controlPath     = "/cgi-bin/do"
	maxResponseBody = 1 << 20
)

// Client issues IP control requests. It holds no per-device state; every
// call is a single HTTP exchange bounded by the client timeout, without retries.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: timeout}).DialContext,
				// The player's web server handles few sockets; a poll and a
				// command may overlap but no more.
				MaxConnsPerHost:     2,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Status fetches the player status.
func (c *Client) Status(ctx context.Context, ep Endpoint) (*Status, error) {
	return c.Do(ctx, ep, CommandStatus, nil)
}

// UIState fetches the player status together with the on-screen UI state.
func (c *Client) UIState(ctx context.Context, ep Endpoint) (*Status, error) {
	return c.Do(ctx, ep, CommandUIState, nil)
}

// SendIRCode emulates a remote-control key press.
func (c *Client) SendIRCode(ctx context.Context, ep Endpoint, code IRCode) (*Status, error) {
	wire, err := code.Wire()
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, ep, CommandIRCode, url.Values{"ir_code": {wire}})
}

// Standby puts the player into standby.
func (c *Client) Standby(ctx context.Context, ep Endpoint) (*Status, error) {
	return c.Do(ctx, ep, CommandStandby, nil)
}

// MainScreen returns the player to the main menu.
func (c *Client) MainScreen(ctx context.Context, ep Endpoint) (*Status, error) {
	return c.Do(ctx, ep, CommandMainScreen, nil)
}

// BlackScreen blanks the output.
func (c *Client) BlackScreen(ctx context.Context, ep Endpoint) (*Status, error) {
	return c.Do(ctx, ep, CommandBlackScreen, nil)
}

// SetVolume sets the playback volume, 0 to 100.
func (c *Client) SetVolume(ctx context.Context, ep Endpoint, level int) (*Status, error) {
	return c.Do(ctx, ep, CommandSetPlaybackState, url.Values{"volume": {strconv.Itoa(level)}})
}

// SetMute mutes or unmutes playback.
func (c *Client) SetMute(ctx context.Context, ep Endpoint, mute bool) (*Status, error) {
	value := "0"
	if mute {
		value = "1"
	}
	return c.Do(ctx, ep, CommandSetPlaybackState, url.Values{"mute": {value}})
}

// Seek jumps to an absolute position in seconds.
func (c *Client) Seek(ctx context.Context, ep Endpoint, position int) (*Status, error) {
	return c.Do(ctx, ep, CommandSetPlaybackState, url.Values{"position": {strconv.Itoa(position)}})
}

// LaunchMediaURL starts playback of a URL the player can open.
func (c *Client) LaunchMediaURL(ctx context.Context, ep Endpoint, mediaURL string) (*Status, error) {
	return c.Do(ctx, ep, CommandLaunchMediaURL, url.Values{"media_url": {mediaURL}})
}

// FileURL returns the get_file URL the hub can load artwork from.
func FileURL(ep Endpoint, path string) string {
	if path == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "http",
		Host:     ep.Address(),
		Path:     controlPath,
		RawQuery: url.Values{"cmd": {string(CommandGetFile)}, "path": {path}}.Encode(),
	}
	return u.String()
}

// Do sends one command and decodes the Status the player answers with.
func (c *Client) Do(ctx context.Context, ep Endpoint, cmd Command, params url.Values) (*Status, error) {
	query := url.Values{}
	for key, values := range params {
		query[key] = values
	}
	query.Set("cmd", string(cmd))
	query.Set("result_syntax", "json")

	target := url.URL{
		Scheme:   "http",
		Host:     ep.Address(),
		Path:     controlPath,
		RawQuery: query.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build dune request %s: %w", cmd, err)
	}
	req.Header.Set("Accept", "application/json")
	if ep.Username != "" {
		req.SetBasicAuth(ep.Username, ep.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnreachableError{Command: cmd, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &UnreachableError{Command: cmd, Timeout: isTimeout(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RejectedError{Command: cmd, Result: ResultFailed, HTTPStatus: resp.StatusCode}
	}

	status, err := parseStatus(cmd, payload)
	if err != nil {
		return nil, err
	}

	switch status.CommandStatus {
	case ResultFailed, ResultTimeout:
		return nil, &RejectedError{
			Command:     cmd,
			Result:      status.CommandStatus,
			Kind:        status.ErrorKind,
			Description: status.ErrorDescription,
			Status:      status,
		}
	}

	if status.PlayerState == "" {
		return nil, &MalformedResponseError{Command: cmd, Reason: "missing player_state"}
	}
	return status, nil
}

func parseStatus(cmd Command, payload []byte) (*Status, error) {
	if len(payload) == 0 {
		return nil, &MalformedResponseError{Command: cmd, Reason: "empty body"}
	}
	var status Status
	if err := json.Unmarshal(payload, &status); err != nil {
		return nil, &MalformedResponseError{Command: cmd, Reason: "invalid json", Err: err}
	}
	return &status, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
