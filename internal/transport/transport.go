// Package transport provides the Transport interface to the Bluetooth
// hands-free stack: outbound link/audio control plus AT response primitives,
// and the inbound event stream raised by the remote device.
package transport

import "fmt"

// SlcState describes the service-level connection status of the HFP link.
type SlcState int

const (
	SlcDisconnected SlcState = iota
	SlcConnected             // RFCOMM up, SLC not yet negotiated
	SlcEstablished           // SLC negotiated
)

func (s SlcState) String() string {
	switch s {
	case SlcConnected:
		return "connected"
	case SlcEstablished:
		return "slc_connected"
	default:
		return "disconnected"
	}
}

// AudioState describes the SCO audio link status.
type AudioState int

const (
	AudioDisconnected AudioState = iota
	AudioConnecting
	AudioConnected
	AudioDisconnecting
)

func (s AudioState) String() string {
	switch s {
	case AudioConnecting:
		return "connecting"
	case AudioConnected:
		return "connected"
	case AudioDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// CallState is the HFP wire call state used in CLCC entries and phone-state
// change notifications.
type CallState int

const (
	CallActive CallState = iota
	CallHeld
	CallDialing
	CallAlerting
	CallIncoming
	CallWaiting
	CallIdle
)

func (s CallState) String() string {
	switch s {
	case CallActive:
		return "active"
	case CallHeld:
		return "held"
	case CallDialing:
		return "dialing"
	case CallAlerting:
		return "alerting"
	case CallIncoming:
		return "incoming"
	case CallWaiting:
		return "waiting"
	default:
		return "idle"
	}
}

// Direction is the call direction from the audio gateway's point of view.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// AddressType classifies a phone number for +CLCC/+CNUM formatting.
// International numbers (leading '+') use type code 145 (0x91), everything
// else 129 (0x81).
type AddressType int

const (
	AddressUnknown       AddressType = 0x81
	AddressInternational AddressType = 0x91
)

// AddressTypeOf derives the AddressType from a dial string.
func AddressTypeOf(number string) AddressType {
	if len(number) > 0 && number[0] == '+' {
		return AddressInternational
	}
	return AddressUnknown
}

// AtResponse is the final result code for a remote AT command.
type AtResponse int

const (
	AtResponseOK AtResponse = iota
	AtResponseError
)

// VolumeType selects which gain a volume operation applies to.
type VolumeType int

const (
	VolumeSpeaker VolumeType = iota
	VolumeMicrophone
)

// NetworkState is the CIND "service" indicator.
type NetworkState int

const (
	NetworkNotAvailable NetworkState = iota
	NetworkAvailable
)

// ServiceType is the CIND "roam" indicator.
type ServiceType int

const (
	ServiceHome ServiceType = iota
	ServiceRoaming
)

// CindValues is the full indicator tuple answered to AT+CIND?.
type CindValues struct {
	Service   NetworkState
	NumActive int
	NumHeld   int
	CallSetup CallState
	Signal    int // 0..5
	Roam      ServiceType
	Battery   int // 0..5
}

// PhoneState is the call-state snapshot pushed on telephony transitions.
type PhoneState struct {
	NumActive int
	NumHeld   int
	CallSetup CallState
	Number    string
	Type      AddressType
}

// DeviceStatus carries the network-derived indicators pushed on
// service/signal/battery changes.
type DeviceStatus struct {
	Service NetworkState
	Roam    ServiceType
	Signal  int
	Battery int
}

// ClccEntry is one formatted current-call line for AT+CLCC.
type ClccEntry struct {
	Index     int
	Direction Direction
	State     CallState
	Number    string
	Type      AddressType
}

// Transport is the abstraction over the Bluetooth hands-free stack.
// Control and send operations submit work to the stack and return an error
// only when submission itself fails; such failures are logged by the caller
// and never retried. Implementations must be safe for concurrent use.
type Transport interface {
	// Connect initiates an outgoing HFP connection to addr.
	Connect(addr string) error
	// Disconnect tears down the HFP connection to addr.
	Disconnect(addr string) error
	// ConnectAudio sets up the SCO audio link.
	ConnectAudio(addr string) error
	// DisconnectAudio drops the SCO audio link.
	DisconnectAudio(addr string) error

	SendLine(text string) error
	SendResponse(r AtResponse) error
	SendCind(v CindValues) error
	SendCops(operator string) error
	SendClcc(e ClccEntry) error
	VolumeControl(t VolumeType, level int) error
	PhoneStateChange(s PhoneState) error
	DeviceStatus(s DeviceStatus) error

	// Events returns the inbound event stream. Closed when the transport
	// shuts down.
	Events() <-chan Event
}

// Event is one inbound notification from the remote device or the stack.
// The set of variants is closed; consumers dispatch with a type switch.
type Event interface{ isEvent() }

// ConnectionStateEvent reports an SLC state transition.
type ConnectionStateEvent struct {
	State SlcState
	Addr  string
}

// AudioStateEvent reports a SCO state transition.
type AudioStateEvent struct {
	State AudioState
	Addr  string
}

// BackendErrorEvent reports an unrecoverable stack condition.
type BackendErrorEvent struct{ Reason string }

// AnswerCallEvent is ATA from the remote device.
type AnswerCallEvent struct{}

// HangupCallEvent is AT+CHUP from the remote device.
type HangupCallEvent struct{}

// DialEvent is ATD / AT+BLDN. Number is empty for redial and starts with
// '>' for memory dial.
type DialEvent struct{ Number string }

// VolumeEvent is AT+VGS / AT+VGM.
type VolumeEvent struct {
	Type  VolumeType
	Level int
}

// DtmfEvent is AT+VTS.
type DtmfEvent struct{ Digit byte }

// CallHoldEvent is AT+CHLD.
type CallHoldEvent struct{ Chld int }

// KeyPressedEvent is the HSP single-button press.
type KeyPressedEvent struct{}

// CnumEvent is AT+CNUM.
type CnumEvent struct{}

// CindEvent is AT+CIND?.
type CindEvent struct{}

// CopsEvent is AT+COPS?.
type CopsEvent struct{}

// ClccEvent is AT+CLCC.
type ClccEvent struct{}

// NrecEvent is AT+NREC.
type NrecEvent struct{ Enabled bool }

// WbsEvent is AT+BCS codec negotiation outcome.
type WbsEvent struct{ Enabled bool }

// UnknownAtEvent is any AT command outside the supported subset.
type UnknownAtEvent struct{ Command string }

func (ConnectionStateEvent) isEvent() {}
func (AudioStateEvent) isEvent()      {}
func (BackendErrorEvent) isEvent()    {}
func (AnswerCallEvent) isEvent()      {}
func (HangupCallEvent) isEvent()      {}
func (DialEvent) isEvent()            {}
func (VolumeEvent) isEvent()          {}
func (DtmfEvent) isEvent()            {}
func (CallHoldEvent) isEvent()        {}
func (KeyPressedEvent) isEvent()      {}
func (CnumEvent) isEvent()            {}
func (CindEvent) isEvent()            {}
func (CopsEvent) isEvent()            {}
func (ClccEvent) isEvent()            {}
func (NrecEvent) isEvent()            {}
func (WbsEvent) isEvent()             {}
func (UnknownAtEvent) isEvent()       {}

// Name labels an event variant for logging.
func Name(e Event) string {
	switch e.(type) {
	case ConnectionStateEvent:
		return "connection_state"
	case AudioStateEvent:
		return "audio_state"
	case BackendErrorEvent:
		return "backend_error"
	case AnswerCallEvent:
		return "answer"
	case HangupCallEvent:
		return "hangup"
	case DialEvent:
		return "dial"
	case VolumeEvent:
		return "volume"
	case DtmfEvent:
		return "dtmf"
	case CallHoldEvent:
		return "call_hold"
	case KeyPressedEvent:
		return "key_pressed"
	case CnumEvent:
		return "cnum"
	case CindEvent:
		return "cind"
	case CopsEvent:
		return "cops"
	case ClccEvent:
		return "clcc"
	case NrecEvent:
		return "nrec"
	case WbsEvent:
		return "wbs"
	case UnknownAtEvent:
		return "unknown_at"
	default:
		return fmt.Sprintf("unknown(%T)", e)
	}
}
