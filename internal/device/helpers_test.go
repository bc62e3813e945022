package device

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
	"github.com/strefethen/dunehd-driver-go/internal/logging"
)

// fakeClient records calls and answers from scripted results.
type fakeClient struct {
	mu      sync.Mutex
	calls   []string
	status  *dunehd.Status
	pollErr []error // consumed one per ui_state call before falling back to status
	errs    map[string]error
}

func newFakeClient(status *dunehd.Status) *fakeClient {
	return &fakeClient{status: status, errs: map[string]error{}}
}

func (f *fakeClient) setStatus(status *dunehd.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeClient) failPolls(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollErr = append(f.pollErr, errs...)
}

func (f *fakeClient) failCall(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[name] = err
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeClient) answer(name string) (*dunehd.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	if name == "ui_state" && len(f.pollErr) > 0 {
		err := f.pollErr[0]
		f.pollErr = f.pollErr[1:]
		return nil, err
	}
	if f.status == nil {
		return &dunehd.Status{CommandStatus: dunehd.ResultOK, PlayerState: dunehd.PlayerStateNavigator}, nil
	}
	copied := *f.status
	return &copied, nil
}

func (f *fakeClient) UIState(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return f.answer("ui_state")
}

func (f *fakeClient) SendIRCode(ctx context.Context, ep dunehd.Endpoint, code dunehd.IRCode) (*dunehd.Status, error) {
	return f.answer("ir:" + string(code))
}

func (f *fakeClient) Standby(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return f.answer("standby")
}

func (f *fakeClient) MainScreen(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return f.answer("main_screen")
}

func (f *fakeClient) BlackScreen(ctx context.Context, ep dunehd.Endpoint) (*dunehd.Status, error) {
	return f.answer("black_screen")
}

func (f *fakeClient) SetVolume(ctx context.Context, ep dunehd.Endpoint, level int) (*dunehd.Status, error) {
	return f.answer(fmt.Sprintf("volume:%d", level))
}

func (f *fakeClient) SetMute(ctx context.Context, ep dunehd.Endpoint, mute bool) (*dunehd.Status, error) {
	return f.answer(fmt.Sprintf("mute:%t", mute))
}

func (f *fakeClient) Seek(ctx context.Context, ep dunehd.Endpoint, position int) (*dunehd.Status, error) {
	return f.answer(fmt.Sprintf("seek:%d", position))
}

func (f *fakeClient) LaunchMediaURL(ctx context.Context, ep dunehd.Endpoint, mediaURL string) (*dunehd.Status, error) {
	return f.answer("launch:" + mediaURL)
}

// recordingPublisher captures every push.
type recordingPublisher struct {
	mu     sync.Mutex
	pushes []Attributes
}

func (p *recordingPublisher) PublishAttributes(entityID string, attrs Attributes) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, attrs)
}

func (p *recordingPublisher) Pushes() []Attributes {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Attributes(nil), p.pushes...)
}

func (p *recordingPublisher) countState(state EntityState) int {
	n := 0
	for _, attrs := range p.Pushes() {
		if attrs.State == state {
			n++
		}
	}
	return n
}

// recordingObserver captures transitions and command outcomes.
type recordingObserver struct {
	NopObserver
	mu          sync.Mutex
	transitions []Transition
	commands    []error
	dropped     int
}

func (o *recordingObserver) ConnectionChanged(entityID string, t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, t)
}

func (o *recordingObserver) CommandCompleted(ctx context.Context, entityID, command string, err error, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = append(o.commands, err)
}

func (o *recordingObserver) PollDropped(entityID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *recordingObserver) Transitions() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Transition(nil), o.transitions...)
}

func (o *recordingObserver) count(from, to ConnectionState) int {
	n := 0
	for _, t := range o.Transitions() {
		if t.From == from && t.To == to {
			n++
		}
	}
	return n
}

type harness struct {
	device    *Device
	client    *fakeClient
	publisher *recordingPublisher
	observer  *recordingObserver
}

func newHarness(t *testing.T, status *dunehd.Status) *harness {
	t.Helper()
	h := &harness{
		client:    newFakeClient(status),
		publisher: &recordingPublisher{},
		observer:  &recordingObserver{},
	}
	h.device = New(Config{
		EntityID: "dune-1",
		Name:     "Living Room",
		Endpoint: dunehd.Endpoint{Host: "192.168.1.20", Port: 80},
	}, Options{
		Client:           h.client,
		Publisher:        h.publisher,
		Observer:         h.observer,
		Logger:           logging.Discard(),
		PollInterval:     time.Hour,
		RequestTimeout:   time.Second,
		FailureThreshold: 3,
		WakeDelay:        0,
	})
	return h
}

// poll runs one poll synchronously, as the poller would.
func (h *harness) poll() {
	h.device.pollOnce(context.Background())
}

func playingStatus(position int) *dunehd.Status {
	return &dunehd.Status{
		CommandStatus:    dunehd.ResultOK,
		PlayerState:      dunehd.PlayerStateFilePlayback,
		PlaybackState:    dunehd.PlaybackStatePlaying,
		PlaybackCaption:  "Big Buck Bunny",
		PlaybackDuration: dunehd.Int(600),
		PlaybackPosition: dunehd.Int(position),
		PlaybackVolume:   dunehd.Int(40),
		PlaybackMute:     dunehd.Bool(false),
	}
}

func standbyStatus() *dunehd.Status {
	return &dunehd.Status{
		CommandStatus:  dunehd.ResultOK,
		PlayerState:    dunehd.PlayerStateStandby,
		PlaybackVolume: dunehd.Int(40),
		PlaybackMute:   dunehd.Bool(false),
	}
}

func timeoutErr() error {
	return &dunehd.UnreachableError{Command: dunehd.CommandUIState, Timeout: true, Err: context.DeadlineExceeded}
}
