// Package telephony defines the contracts between hfpd and the phone side:
// call-state events raised by the telephony service, the dialer command sink,
// and the network/SIM snapshots that feed the HFP indicators.
package telephony

import "fmt"

// CallState is the telephony-layer lifecycle state of a single call.
type CallState int

const (
	CallStateDisconnected CallState = iota
	CallStateIncoming
	CallStateDialing
	CallStateAlerting
	CallStateConnected
	CallStateHeld
)

func (s CallState) String() string {
	switch s {
	case CallStateIncoming:
		return "incoming"
	case CallStateDialing:
		return "dialing"
	case CallStateAlerting:
		return "alerting"
	case CallStateConnected:
		return "connected"
	case CallStateHeld:
		return "held"
	case CallStateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CallIndex identifies a call in the telephony service's numbering, which
// starts at 1. The zero value is "not yet assigned": the service reports a
// pending outgoing call before an index exists, and such events carry no
// usable identity.
type CallIndex struct {
	N     int
	Valid bool
}

// Index returns a valid CallIndex for n (n must be >= 1).
func Index(n int) CallIndex { return CallIndex{N: n, Valid: true} }

// Unassigned is the CallIndex of a pending outgoing call.
var Unassigned = CallIndex{}

// CallEvent is one call-state-changed notification from the telephony service.
type CallEvent struct {
	Index      CallIndex
	State      CallState
	Error      string // e.g. "BusyError"; empty when the transition is normal
	Number     string
	Outgoing   bool
	Conference bool
}

// BusyError is the disconnect reason reported while the remote party is busy.
const BusyError = "BusyError"

// PhoneType is the radio technology family of the active connection.
type PhoneType int

const (
	PhoneTypeNone PhoneType = iota
	PhoneTypeGSM
	PhoneTypeCDMA
)

func (t PhoneType) String() string {
	switch t {
	case PhoneTypeGSM:
		return "gsm"
	case PhoneTypeCDMA:
		return "cdma"
	default:
		return "none"
	}
}

// PhoneTypeFromRadioTech maps the radio technology string reported by the
// mobile connection service onto a PhoneType.
func PhoneTypeFromRadioTech(tech string) PhoneType {
	switch tech {
	case "gsm", "gprs", "edge", "umts", "hspa", "hsdpa", "hsupa", "hspa+", "lte":
		return PhoneTypeGSM
	case "is95a", "is95b", "1xrtt", "evdo0", "evdoa", "evdob", "ehrpd":
		return PhoneTypeCDMA
	default:
		return PhoneTypeNone
	}
}

// VoiceInfo is a snapshot of the voice-network registration state.
type VoiceInfo struct {
	RadioTech    string // e.g. "lte", "1xrtt"
	Registered   bool
	Roaming      bool
	SignalLevel  int    // bar level −1..4 as reported by the modem
	OperatorName string // long alphanumeric name, possibly over-length
}

// CallEnumerator re-emits a call-state event for every current call, so a
// freshly established SLC can seed its call registry.
type CallEnumerator interface {
	EnumerateCalls()
}

// Dialer receives the free-text commands the hands-free device drives the
// phone with: ATA, CHUP, BLDN, ATD<digits>, CHLD=<n>, VTS=<digit>.
type Dialer interface {
	Command(cmd string)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(cmd string)

func (f DialerFunc) Command(cmd string) { f(cmd) }
