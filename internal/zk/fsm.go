package zk

// This file implements the session state machine as a pure function over
// a transition table, in the same style as an RFC-pseudocode-derived
// protocol FSM: no side effects, no *Session dependency, trivially
// testable against the state table in isolation.
//
// State diagram:
//
//	Closed --Open--> Connecting --TCPUp--> Associating --ConnectOK--> Connected
//	   ^                  ^                     |                        |
//	   |                  +---------Disconnect---+-----Disconnect---------+
//	   |                                                                   |
//	   +---------------------------CloseRequested------------------------+
//	Connected --ExpiredReply--> ExpiredSession (terminal)
//	Connected --AuthFailedReply--> AuthFailed (terminal)

// Event is a session FSM event.
type Event uint8

const (
	// EventOpen is the event driving a freshly constructed session into
	// its first connection attempt.
	EventOpen Event = iota + 1

	// EventTCPUp fires once the TCP connection to an ensemble member is
	// established, just before the connect request is written.
	EventTCPUp

	// EventConnectOK fires when the server's connect reply does not reject
	// a resumption: either no prior session id was sent, or the reply
	// carries that same id.
	EventConnectOK

	// EventExpiredReply fires when the connect reply (or any reply)
	// reports the session as expired.
	EventExpiredReply

	// EventAuthFailedReply fires when the ensemble rejects a credential
	// registered via AddAuth.
	EventAuthFailedReply

	// EventDisconnect fires on any I/O error, heartbeat timeout, or
	// orderly peer close while connected or mid-handshake.
	EventDisconnect

	// EventCloseRequested fires when the caller calls Close.
	EventCloseRequested
)

// String returns the human-readable event name.
func (e Event) String() string {
	switch e {
	case EventOpen:
		return "Open"
	case EventTCPUp:
		return "TCPUp"
	case EventConnectOK:
		return "ConnectOK"
	case EventExpiredReply:
		return "ExpiredReply"
	case EventAuthFailedReply:
		return "AuthFailedReply"
	case EventDisconnect:
		return "Disconnect"
	case EventCloseRequested:
		return "CloseRequested"
	default:
		return "Unknown"
	}
}

// Action is a side effect the caller must perform after a transition.
type Action uint8

const (
	// ActionDial triggers a connection attempt against the next endpoint.
	ActionDial Action = iota + 1

	// ActionStartHeartbeat (re)starts the ping/recv-timeout timers.
	ActionStartHeartbeat

	// ActionStopHeartbeat stops the ping/recv-timeout timers.
	ActionStopHeartbeat

	// ActionRearmWatches sends SET_WATCHES for every currently registered
	// watch before any application request is sent on the new connection.
	ActionRearmWatches

	// ActionNotifySession emits a synthetic session watcher event to every
	// registered watcher.
	ActionNotifySession

	// ActionCancelPending cancels every outstanding completion with
	// ErrConnectionLoss (on disconnect) or the terminal-state error (on
	// expiry/auth-failure/close).
	ActionCancelPending

	// ActionCloseConn closes the underlying TCP connection.
	ActionCloseConn
)

// String returns the human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionDial:
		return "Dial"
	case ActionStartHeartbeat:
		return "StartHeartbeat"
	case ActionStopHeartbeat:
		return "StopHeartbeat"
	case ActionRearmWatches:
		return "RearmWatches"
	case ActionNotifySession:
		return "NotifySession"
	case ActionCancelPending:
		return "CancelPending"
	case ActionCloseConn:
		return "CloseConn"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event Event
}

type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied. Equal to
	// OldState when the event has no entry for the current state.
	NewState State

	// Actions lists the side effects the caller must execute, in order.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

//nolint:gochecknoglobals // transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	{StateClosed, EventOpen}: {
		newState: StateConnecting,
		actions:  []Action{ActionDial},
	},

	{StateConnecting, EventTCPUp}: {
		newState: StateAssociating,
		actions:  nil,
	},
	{StateConnecting, EventDisconnect}: {
		newState: StateConnecting,
		actions:  []Action{ActionDial},
	},
	{StateConnecting, EventCloseRequested}: {
		newState: StateClosed,
		actions:  []Action{ActionCancelPending},
	},

	{StateAssociating, EventConnectOK}: {
		newState: StateConnected,
		actions: []Action{
			ActionStartHeartbeat,
			ActionRearmWatches,
			ActionNotifySession,
		},
	},
	{StateAssociating, EventExpiredReply}: {
		newState: StateExpiredSession,
		actions: []Action{
			ActionCancelPending,
			ActionCloseConn,
			ActionNotifySession,
		},
	},
	{StateAssociating, EventAuthFailedReply}: {
		newState: StateAuthFailed,
		actions: []Action{
			ActionCancelPending,
			ActionCloseConn,
			ActionNotifySession,
		},
	},
	{StateAssociating, EventDisconnect}: {
		newState: StateConnecting,
		actions:  []Action{ActionCancelPending, ActionCloseConn, ActionDial},
	},
	{StateAssociating, EventCloseRequested}: {
		newState: StateClosed,
		actions: []Action{
			ActionCancelPending,
			ActionCloseConn,
		},
	},

	{StateConnected, EventExpiredReply}: {
		newState: StateExpiredSession,
		actions: []Action{
			ActionStopHeartbeat,
			ActionCancelPending,
			ActionCloseConn,
			ActionNotifySession,
		},
	},
	{StateConnected, EventAuthFailedReply}: {
		newState: StateAuthFailed,
		actions: []Action{
			ActionStopHeartbeat,
			ActionCancelPending,
			ActionCloseConn,
			ActionNotifySession,
		},
	},
	{StateConnected, EventDisconnect}: {
		newState: StateConnecting,
		actions: []Action{
			ActionStopHeartbeat,
			ActionCancelPending,
			ActionCloseConn,
			ActionNotifySession,
			ActionDial,
		},
	},
	{StateConnected, EventCloseRequested}: {
		newState: StateClosed,
		actions: []Action{
			ActionStopHeartbeat,
			ActionCancelPending,
			ActionCloseConn,
		},
	},
}

// ApplyEvent applies event to currentState and returns the transition
// result. Pure function: the caller executes the returned actions. A
// (state, event) pair absent from the table leaves the state unchanged
// with no actions — for example, a second EventCloseRequested delivered
// to an already-Closed session is silently ignored.
func ApplyEvent(currentState State, event Event) FSMResult {
	tr, ok := fsmTable[stateEvent{state: currentState, event: event}]
	if !ok {
		return FSMResult{OldState: currentState, NewState: currentState}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
