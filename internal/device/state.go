package device

import "time"

// ConnectionState is the lifecycle phase of one device connection.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnError        ConnectionState = "error"
)

// Connection is a point-in-time copy of a device's connection state.
type Connection struct {
	State               ConnectionState `json:"state"`
	Reason              string          `json:"reason,omitempty"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	Since               time.Time       `json:"since"`
}

// Transition records one state change.
type Transition struct {
	From   ConnectionState
	To     ConnectionState
	Reason string
}

// stateMachine is the only writer of a device's ConnectionState. It is
// not safe for concurrent use; the owning Device serializes access.
type stateMachine struct {
	state     ConnectionState
	reason    string
	failures  int
	threshold int
	since     time.Time
	now       func() time.Time
}

func newStateMachine(threshold int, now func() time.Time) stateMachine {
	if threshold < 1 {
		threshold = DefaultFailureThreshold
	}
	if now == nil {
		now = time.Now
	}
	return stateMachine{state: ConnDisconnected, threshold: threshold, since: now(), now: now}
}

func (m *stateMachine) snapshot() Connection {
	return Connection{
		State:               m.state,
		Reason:              m.reason,
		ConsecutiveFailures: m.failures,
		Since:               m.since,
	}
}

func (m *stateMachine) move(to ConnectionState, reason string) Transition {
	t := Transition{From: m.state, To: to, Reason: reason}
	m.state = to
	m.reason = reason
	m.since = m.now()
	return t
}

// connect handles an explicit connect request.
func (m *stateMachine) connect() []Transition {
	if m.state != ConnDisconnected {
		return nil
	}
	m.failures = 0
	return []Transition{m.move(ConnConnecting, "")}
}

// pollAttempt runs at the start of every poll tick.
func (m *stateMachine) pollAttempt() []Transition {
	switch m.state {
	case ConnDisconnected, ConnError:
		m.failures = 0
		return []Transition{m.move(ConnConnecting, "")}
	}
	return nil
}

// succeeded records a usable response from the player.
func (m *stateMachine) succeeded() []Transition {
	m.failures = 0
	switch m.state {
	case ConnConnecting:
		return []Transition{m.move(ConnConnected, "")}
	case ConnError:
		return []Transition{m.move(ConnConnecting, ""), m.move(ConnConnected, "")}
	}
	return nil
}

// failed records a poll failure or a malformed command response. Only the
// failure that reaches the threshold moves the machine into Error.
func (m *stateMachine) failed(reason string) []Transition {
	switch m.state {
	case ConnConnecting, ConnConnected:
		m.failures++
		if m.failures >= m.threshold {
			return []Transition{m.move(ConnError, reason)}
		}
	}
	return nil
}

// unreachable records a command that could not reach the player. A
// connected device goes straight to Error; otherwise it counts as a failure.
func (m *stateMachine) unreachable(reason string) []Transition {
	if m.state == ConnConnected {
		m.failures++
		return []Transition{m.move(ConnError, reason)}
	}
	return m.failed(reason)
}

// teardown handles an explicit disconnect from any state.
func (m *stateMachine) teardown() []Transition {
	m.failures = 0
	if m.state == ConnDisconnected {
		return nil
	}
	return []Transition{m.move(ConnDisconnected, "")}
}

func entered(transitions []Transition, state ConnectionState) bool {
	for _, t := range transitions {
		if t.To == state {
			return true
		}
	}
	return false
}
