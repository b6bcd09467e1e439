package hfp

import (
	"github.com/btcommons/hfpd/internal/telephony"
	"github.com/btcommons/hfpd/internal/transport"
)

// PhoneContext holds the network-derived indicator inputs. It is populated
// from the telephony and battery collaborators and feeds CIND computation;
// it never drives call-state transitions itself.
type PhoneContext struct {
	PhoneType    telephony.PhoneType
	Service      transport.NetworkState
	Roam         transport.ServiceType
	Signal       int // 0..5
	Battery      int // 0..5
	OperatorName string
	Msisdn       string
}

// maxOperatorNameLength is the GSM 07.07 long alphanumeric format limit.
// Some networks report longer names; they are truncated here rather than in
// the modem layer.
const maxOperatorNameLength = 16

// wireCallState maps a telephony call state onto the HFP wire call state.
func wireCallState(s telephony.CallState) transport.CallState {
	switch s {
	case telephony.CallStateIncoming:
		return transport.CallIncoming
	case telephony.CallStateDialing:
		return transport.CallDialing
	case telephony.CallStateAlerting:
		return transport.CallAlerting
	case telephony.CallStateConnected:
		return transport.CallActive
	case telephony.CallStateHeld:
		return transport.CallHeld
	default:
		return transport.CallIdle
	}
}

// computeCind derives the AT+CIND? tuple from the registry and phone
// context. In CDMA the shadow second call contributes to the active/held
// buckets even though the registry's own counters exclude it.
func computeCind(reg *CallRegistry, ctx *PhoneContext) transport.CindValues {
	numActive := reg.CountByState(telephony.CallStateConnected)
	numHeld := reg.CountByState(telephony.CallStateHeld)
	if ctx.PhoneType == telephony.PhoneTypeCDMA {
		switch reg.CdmaSecond.State {
		case telephony.CallStateConnected:
			numActive++
		case telephony.CallStateHeld:
			numHeld++
		}
	}
	return transport.CindValues{
		Service:   ctx.Service,
		NumActive: numActive,
		NumHeld:   numHeld,
		CallSetup: wireCallState(reg.CallSetupState()),
		Signal:    ctx.Signal,
		Roam:      ctx.Roam,
		Battery:   ctx.Battery,
	}
}

// clccState returns the wire state reported for one CLCC entry.
//
// Two adjustments on top of the plain mapping: in CDMA the first call reads
// Held while the shadow second call is active (both share one channel, so an
// active second call implies the first is held), and an Incoming call reads
// Waiting whenever another call is already Connected.
func clccState(reg *CallRegistry, phoneType telephony.PhoneType, c *Call, index int) transport.CallState {
	state := wireCallState(c.State)
	if phoneType == telephony.PhoneTypeCDMA && index == 1 && c.IsActive() {
		if reg.CdmaSecond.IsActive() {
			state = transport.CallHeld
		} else {
			state = transport.CallActive
		}
	}
	if state == transport.CallIncoming && reg.FirstIndexByState(telephony.CallStateConnected) > 0 {
		state = transport.CallWaiting
	}
	return state
}

// pushCallSetup is the callsetup carried by phone-state pushes: an Incoming
// call reads Waiting whenever another call is already Connected, the same
// adjustment clccState makes, so the transport renders +CCWA instead of RING.
func pushCallSetup(reg *CallRegistry, s transport.CallState) transport.CallState {
	if s == transport.CallIncoming && reg.FirstIndexByState(telephony.CallStateConnected) > 0 {
		return transport.CallWaiting
	}
	return s
}

// isTransitionState reports whether a call-state change is an intermediate
// step of a multi-party control sequence (CHLD=2 style) whose indicator
// update should be suppressed until the settled state arrives:
// the call becomes active while another active call exists, or becomes held
// while another held call or an incoming call exists.
func isTransitionState(reg *CallRegistry, state telephony.CallState, conference bool) bool {
	if conference {
		return false
	}
	switch state {
	case telephony.CallStateConnected:
		return reg.CountByState(state) > 1
	case telephony.CallStateHeld:
		return reg.CountByState(state) > 1 ||
			reg.FirstIndexByState(telephony.CallStateIncoming) > 0
	}
	return false
}
