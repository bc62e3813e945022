package device

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/dunehd-driver-go/internal/apperrors"
	"github.com/strefethen/dunehd-driver-go/internal/dunehd"
)

// connect drives the harness device to Connected with one poll.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.poll()
	require.Equal(t, ConnConnected, h.device.Connection().State)
}

func (h *harness) command(cmd string, params map[string]any) *apperrors.AppError {
	err := h.device.HandleCommand(context.Background(), CommandRequest{Command: cmd, Params: params})
	if err == nil {
		return nil
	}
	return apperrors.EnsureAppError(err)
}

func TestFirstPollConnectsAndPublishes(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)

	require.Equal(t, 1, h.observer.count(ConnDisconnected, ConnConnecting))
	require.Equal(t, 1, h.observer.count(ConnConnecting, ConnConnected))
	require.Len(t, h.publisher.Pushes(), 1)
	require.Equal(t, StatePlaying, h.publisher.Pushes()[0].State)

	attrs, ok := h.device.Attributes()
	require.True(t, ok)
	require.Equal(t, 10, attrs.Position)
}

func TestUnchangedAttributesAreNotRepublished(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.poll()
	h.poll()
	require.Len(t, h.publisher.Pushes(), 1)

	h.client.setStatus(playingStatus(11))
	h.poll()
	require.Len(t, h.publisher.Pushes(), 2)
}

func TestThreeTimeoutsEnterErrorOnce(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)

	h.client.failPolls(timeoutErr(), timeoutErr())
	h.poll()
	h.poll()
	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Equal(t, 0, h.publisher.countState(StateUnknown))

	// Keep failing well past the threshold.
	h.client.failPolls(timeoutErr(), timeoutErr(), timeoutErr(), timeoutErr(), timeoutErr(), timeoutErr(), timeoutErr())
	for i := 0; i < 7; i++ {
		h.poll()
	}

	require.Equal(t, ConnError, h.device.Connection().State)
	require.Equal(t, 1, h.observer.count(ConnConnected, ConnError))
	require.Equal(t, 1, h.publisher.countState(StateUnknown))
	require.Equal(t, Attributes{State: StateUnknown}, h.publisher.Pushes()[len(h.publisher.Pushes())-1])
}

func TestErrorWhileInStandbyKeepsStandby(t *testing.T) {
	h := newHarness(t, standbyStatus())
	h.connect(t)

	h.client.failPolls(timeoutErr(), timeoutErr(), timeoutErr())
	h.poll()
	h.poll()
	h.poll()

	require.Equal(t, ConnError, h.device.Connection().State)
	require.Equal(t, 0, h.publisher.countState(StateUnknown))
	require.Equal(t, Attributes{State: StateStandby}, h.publisher.Pushes()[len(h.publisher.Pushes())-1])
}

func TestRecoveryFromErrorForcesOnePush(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.failPolls(timeoutErr(), timeoutErr(), timeoutErr())
	h.poll()
	h.poll()
	h.poll()
	before := len(h.publisher.Pushes())

	h.poll()

	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Equal(t, 1, h.observer.count(ConnError, ConnConnecting))
	require.Equal(t, 2, h.observer.count(ConnConnecting, ConnConnected))
	pushes := h.publisher.Pushes()
	require.Len(t, pushes, before+1)
	require.Equal(t, StatePlaying, pushes[len(pushes)-1].State)
}

func TestReconnectRepublishesUnchangedAttributes(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.device.Stop()
	require.Equal(t, ConnDisconnected, h.device.Connection().State)

	h.poll()
	pushes := h.publisher.Pushes()
	require.Len(t, pushes, 2)
	require.Equal(t, pushes[0], pushes[1])
}

func TestNothingPublishedWhileDisconnected(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	_, err := h.device.applyPoll(playingStatus(10), nil)
	require.NoError(t, err)
	require.Empty(t, h.publisher.Pushes())
	require.Equal(t, ConnDisconnected, h.device.Connection().State)
}

func TestRejectedPollWithStatusCountsAsResponse(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.client.failPolls(&dunehd.RejectedError{Command: dunehd.CommandUIState, Result: dunehd.ResultFailed, Status: playingStatus(3)})
	h.poll()

	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Equal(t, 3, h.publisher.Pushes()[0].Position)
}

func TestMalformedPollsCountAsFailures(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	malformed := &dunehd.MalformedResponseError{Command: dunehd.CommandUIState, Reason: "invalid json"}
	h.client.failPolls(malformed, malformed, malformed)
	h.poll()
	h.poll()
	require.Equal(t, ConnConnected, h.device.Connection().State)
	h.poll()
	require.Equal(t, ConnError, h.device.Connection().State)
}

func TestTurnOnWhenConnectedSendsSingleWake(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.resetCalls()

	require.Nil(t, h.command(CmdOn, nil))
	require.Equal(t, []string{"ir:" + string(dunehd.IRPowerOn)}, h.client.Calls())
}

func TestTurnOnFromErrorWakesThenRepolls(t *testing.T) {
	h := newHarness(t, standbyStatus())
	h.connect(t)
	h.client.failPolls(timeoutErr(), timeoutErr(), timeoutErr())
	h.poll()
	h.poll()
	h.poll()
	require.Equal(t, ConnError, h.device.Connection().State)

	h.client.setStatus(&dunehd.Status{CommandStatus: dunehd.ResultOK, PlayerState: dunehd.PlayerStateNavigator})
	h.client.resetCalls()
	before := len(h.publisher.Pushes())

	require.Nil(t, h.command(CmdOn, nil))

	require.Equal(t, []string{"ir:" + string(dunehd.IRPowerOn), "ui_state"}, h.client.Calls())
	require.Equal(t, ConnConnected, h.device.Connection().State)
	pushes := h.publisher.Pushes()
	require.Len(t, pushes, before+1)
	require.Equal(t, StateOn, pushes[len(pushes)-1].State)
}

func TestTurnOnFailsWhenRepollFails(t *testing.T) {
	h := newHarness(t, nil)
	h.client.failPolls(timeoutErr())

	appErr := h.command(CmdOn, nil)
	require.NotNil(t, appErr)
	require.Equal(t, http.StatusServiceUnavailable, appErr.StatusCode)
	require.Equal(t, []string{"ir:" + string(dunehd.IRPowerOn), "ui_state"}, h.client.Calls())
}

func TestTurnOnFromDisconnectedSucceedsWhenRepollAnswers(t *testing.T) {
	for name, status := range map[string]*dunehd.Status{
		"on":      {CommandStatus: dunehd.ResultOK, PlayerState: dunehd.PlayerStateNavigator},
		"standby": standbyStatus(),
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, status)
			require.Equal(t, ConnDisconnected, h.device.Connection().State)

			require.Nil(t, h.command(CmdOn, nil))
			require.Equal(t, []string{"ir:" + string(dunehd.IRPowerOn), "ui_state"}, h.client.Calls())
			require.Equal(t, ConnDisconnected, h.device.Connection().State)
			require.Empty(t, h.publisher.Pushes())
		})
	}
}

func TestTurnOffPublishesStandbyImmediately(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)

	require.Nil(t, h.command(CmdOff, nil))
	pushes := h.publisher.Pushes()
	require.Len(t, pushes, 2)
	require.Equal(t, Attributes{State: StateStandby, Volume: 40}, pushes[1])

	// The confirming poll matches the optimistic push.
	h.client.setStatus(standbyStatus())
	h.poll()
	require.Len(t, h.publisher.Pushes(), 2)
}

func TestRejectedCommandLeavesConnectionAlone(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.failCall("ir:"+string(dunehd.IRPlayPause), &dunehd.RejectedError{
		Command: dunehd.CommandIRCode,
		Result:  dunehd.ResultFailed,
		Kind:    dunehd.ErrorKindIllegalState,
	})

	appErr := h.command(CmdPlayPause, nil)
	require.NotNil(t, appErr)
	require.Equal(t, http.StatusConflict, appErr.StatusCode)
	require.Equal(t, apperrors.ErrorCodeDeviceRejected, appErr.Code)
	require.True(t, dunehd.IsRejected(appErr))

	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Equal(t, 0, h.device.Connection().ConsecutiveFailures)
	require.Len(t, h.observer.Transitions(), 2)
}

func TestRejectedStatusCodes(t *testing.T) {
	cases := map[dunehd.ErrorKind]int{
		dunehd.ErrorKindInvalidParameters: http.StatusBadRequest,
		dunehd.ErrorKindUnknownCommand:    http.StatusNotImplemented,
		dunehd.ErrorKindIllegalState:      http.StatusConflict,
		dunehd.ErrorKindOperationFailed:   http.StatusInternalServerError,
	}
	for kind, status := range cases {
		h := newHarness(t, playingStatus(10))
		h.client.failCall("ir:"+string(dunehd.IRStop), &dunehd.RejectedError{Result: dunehd.ResultFailed, Kind: kind})
		require.Equal(t, status, h.command(CmdStop, nil).StatusCode, string(kind))
	}

	h := newHarness(t, playingStatus(10))
	h.client.failCall("ir:"+string(dunehd.IRStop), &dunehd.RejectedError{Result: dunehd.ResultTimeout})
	appErr := h.command(CmdStop, nil)
	require.Equal(t, http.StatusRequestTimeout, appErr.StatusCode)
	require.Equal(t, apperrors.ErrorCodeDeviceTimeout, appErr.Code)
}

func TestUnreachableCommandEntersErrorImmediately(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.failCall("ir:"+string(dunehd.IRPause), &dunehd.UnreachableError{Command: dunehd.CommandIRCode, Err: context.DeadlineExceeded, Timeout: true})

	appErr := h.command(CmdPause, nil)
	require.NotNil(t, appErr)
	require.Equal(t, http.StatusServiceUnavailable, appErr.StatusCode)
	require.Equal(t, apperrors.ErrorCodeDeviceUnreachable, appErr.Code)

	require.Equal(t, ConnError, h.device.Connection().State)
	require.Equal(t, 1, h.publisher.countState(StateUnknown))
}

// hangingIRClient blocks key presses until the request context ends and
// then fails the way the HTTP client does.
type hangingIRClient struct {
	*fakeClient
}

func (c hangingIRClient) SendIRCode(ctx context.Context, ep dunehd.Endpoint, code dunehd.IRCode) (*dunehd.Status, error) {
	<-ctx.Done()
	return nil, &dunehd.UnreachableError{Command: dunehd.CommandIRCode, Err: ctx.Err()}
}

func TestCallerCancellationLeavesConnectionAlone(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.device = New(h.device.Config(), Options{
		Client:         hangingIRClient{h.client},
		Publisher:      h.publisher,
		Observer:       h.observer,
		Logger:         h.device.opts.Logger,
		PollInterval:   time.Hour,
		RequestTimeout: 5 * time.Second,
	})
	h.connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	err := h.device.HandleCommand(ctx, CommandRequest{Command: CmdVolumeUp})
	require.Error(t, err)
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, http.StatusRequestTimeout, appErr.StatusCode)
	require.Equal(t, apperrors.ErrorCodeDeviceTimeout, appErr.Code)

	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Zero(t, h.publisher.countState(StateUnknown))
	require.Len(t, h.publisher.Pushes(), 1)
	require.Zero(t, h.observer.count(ConnConnected, ConnError))
}

func TestCancelledUnreachableErrorMapsToTimeout(t *testing.T) {
	err := commandError("dune-1", CmdPause, &dunehd.UnreachableError{Command: dunehd.CommandIRCode, Err: context.Canceled})
	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, http.StatusRequestTimeout, appErr.StatusCode)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHTTPErrorStatusIsRejectedNotFailure(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.failCall("ir:"+string(dunehd.IRNext), &dunehd.RejectedError{
		Command: dunehd.CommandIRCode, Result: dunehd.ResultFailed, HTTPStatus: http.StatusForbidden,
	})

	appErr := h.command(CmdNext, nil)
	require.Equal(t, http.StatusInternalServerError, appErr.StatusCode)
	require.Equal(t, apperrors.ErrorCodeDeviceRejected, appErr.Code)
	require.Equal(t, http.StatusForbidden, appErr.Details["http_status"])
	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Zero(t, h.device.Connection().ConsecutiveFailures)
}

func TestMalformedCommandResponseCountsAsFailure(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.failCall("ir:"+string(dunehd.IRNext), &dunehd.MalformedResponseError{Command: dunehd.CommandIRCode, Reason: "empty body"})

	appErr := h.command(CmdNext, nil)
	require.Equal(t, http.StatusBadGateway, appErr.StatusCode)
	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Equal(t, 1, h.device.Connection().ConsecutiveFailures)
}

func TestCommandSuccessInErrorReconnects(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.failPolls(timeoutErr(), timeoutErr(), timeoutErr())
	h.poll()
	h.poll()
	h.poll()

	require.Nil(t, h.command(CmdPlayPause, nil))
	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Equal(t, 1, h.observer.count(ConnError, ConnConnecting))

	// The next poll replaces the unknown state with fresh attributes.
	before := len(h.publisher.Pushes())
	h.poll()
	require.Len(t, h.publisher.Pushes(), before+1)
}

func TestInvalidCommandsNeverReachThePlayer(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.client.resetCalls()

	appErr := h.command("warp_speed", nil)
	require.Equal(t, http.StatusNotImplemented, appErr.StatusCode)
	require.Equal(t, apperrors.ErrorCodeCommandNotSupported, appErr.Code)

	appErr = h.command(CmdVolume, map[string]any{"volume": 250})
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)

	require.Empty(t, h.client.Calls())
	require.Equal(t, ConnConnected, h.device.Connection().State)
}

func TestCommandOutcomesReachObserver(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)

	require.Nil(t, h.command(CmdMute, nil))
	require.NotNil(t, h.command("nope", nil))

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	require.Len(t, h.observer.commands, 2)
	require.NoError(t, h.observer.commands[0])
	var appErr *apperrors.AppError
	require.ErrorAs(t, h.observer.commands[1], &appErr)
}

func TestStartAndStopWithPoller(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.device.Start()
	require.True(t, h.device.Running())

	require.Eventually(t, func() bool {
		return h.device.Connection().State == ConnConnected
	}, 2*time.Second, 5*time.Millisecond)

	h.device.Stop()
	require.False(t, h.device.Running())
	require.Equal(t, ConnDisconnected, h.device.Connection().State)

	pushes := len(h.publisher.Pushes())
	require.False(t, h.device.PollNow())
	require.Len(t, h.publisher.Pushes(), pushes)
}

func TestPanickingClientMovesTowardsError(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)
	h.device.opts.Client = panicClient{h.client}

	h.device.Start()
	defer h.device.Stop()

	require.Eventually(t, func() bool {
		return h.device.Connection().ConsecutiveFailures >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

type panicClient struct{ *fakeClient }

func (panicClient) UIState(context.Context, dunehd.Endpoint) (*dunehd.Status, error) {
	panic("decoder exploded")
}

func TestConcurrentCommandsAndPolls(t *testing.T) {
	h := newHarness(t, playingStatus(10))
	h.connect(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			h.client.setStatus(playingStatus(i))
			h.poll()
		}(i)
		go func() {
			defer wg.Done()
			_ = h.command(CmdVolumeUp, nil)
		}()
	}
	wg.Wait()

	require.Equal(t, ConnConnected, h.device.Connection().State)
	require.Equal(t, 1, h.observer.count(ConnConnecting, ConnConnected))

	// Every push differs from the one before it.
	pushes := h.publisher.Pushes()
	for i := 1; i < len(pushes); i++ {
		require.NotEqual(t, pushes[i-1], pushes[i])
	}
}
