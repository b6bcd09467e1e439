// Package hfp implements the Hands-Free Profile call/audio core: the call
// registry, the SLC/SCO connection state machine, indicator computation, and
// the event loop mediating between the telephony side and the remote device.
package hfp

import (
	"github.com/btcommons/hfpd/internal/telephony"
	"github.com/btcommons/hfpd/internal/transport"
)

// Call is one tracked telephony call. A Call in the Disconnected state has
// no semantic identity and is never reported to the remote device.
type Call struct {
	State     telephony.CallState
	Direction transport.Direction
	Number    string
	Type      transport.AddressType
}

// Set updates number-derived fields. The address type follows the dial
// string: a leading '+' means international.
func (c *Call) Set(number string, outgoing bool) {
	c.Number = number
	if outgoing {
		c.Direction = transport.DirectionOutgoing
	} else {
		c.Direction = transport.DirectionIncoming
	}
	c.Type = transport.AddressTypeOf(number)
}

// Reset returns the call to its zero, Disconnected state.
func (c *Call) Reset() {
	*c = Call{Type: transport.AddressUnknown}
}

// IsActive reports whether the call is in the Connected state.
func (c *Call) IsActive() bool {
	return c.State == telephony.CallStateConnected
}

// CallRegistry is the ordered collection of tracked calls. Telephony call
// indices start at 1, so slot 0 is a permanent padding call that is never
// reported; the registry never shrinks below that slot except via Reset.
//
// CdmaSecond is the shadow slot for the second CDMA call, which shares the
// radio channel with the first call and is invisible to ordinary
// call-state-changed events. It is excluded from CountByState and
// FirstIndexByState; callers that need CDMA accounting add it explicitly.
type CallRegistry struct {
	calls      []Call
	CdmaSecond Call
}

// NewCallRegistry returns a registry holding only the padding slot.
func NewCallRegistry() *CallRegistry {
	r := &CallRegistry{}
	r.Reset(false)
	r.CdmaSecond.Reset()
	return r
}

// Len returns the registry length including the padding slot.
func (r *CallRegistry) Len() int { return len(r.calls) }

// At returns a pointer to the call at index i. i must be < Len().
func (r *CallRegistry) At(i int) *Call { return &r.calls[i] }

// SetCall records a state transition for the call at index. index must be
// >= 1; events with no assigned index are rejected before reaching the
// registry. The registry grows with Disconnected padding as needed.
func (r *CallRegistry) SetCall(index int, state telephony.CallState, number string, outgoing bool) {
	for index >= len(r.calls) {
		c := Call{}
		c.Reset()
		r.calls = append(r.calls, c)
	}
	r.calls[index].State = state
	r.calls[index].Set(number, outgoing)
}

// CountByState counts real calls (index >= 1) in the given state.
func (r *CallRegistry) CountByState(state telephony.CallState) int {
	n := 0
	for i := 1; i < len(r.calls); i++ {
		if r.calls[i].State == state {
			n++
		}
	}
	return n
}

// FirstIndexByState returns the lowest index >= 1 whose call is in the given
// state, or 0 if none matches.
func (r *CallRegistry) FirstIndexByState(state telephony.CallState) int {
	for i := 1; i < len(r.calls); i++ {
		if r.calls[i].State == state {
			return i
		}
	}
	return 0
}

// CallSetupState returns the state of the first call found in a setup state
// (Incoming, Dialing or Alerting), scanning from the lowest index, or
// Disconnected when no call setup is in progress. This maps directly onto
// the HFP callsetup indicator.
func (r *CallRegistry) CallSetupState() telephony.CallState {
	for i := 1; i < len(r.calls); i++ {
		switch r.calls[i].State {
		case telephony.CallStateIncoming, telephony.CallStateDialing, telephony.CallStateAlerting:
			return r.calls[i].State
		}
	}
	return telephony.CallStateDisconnected
}

// AllDisconnected reports whether every real call has reached Disconnected.
func (r *CallRegistry) AllDisconnected() bool {
	return len(r.calls)-1 == r.CountByState(telephony.CallStateDisconnected)
}

// Reset truncates the registry to the padding slot. When cdma is true the
// shadow second call is reset as well; its Disconnected transition has no
// explicit telephony event and is only ever inferred, so this is the one
// place it is reliably cleared.
func (r *CallRegistry) Reset(cdma bool) {
	pad := Call{}
	pad.Reset()
	r.calls = r.calls[:0]
	r.calls = append(r.calls, pad)
	if cdma {
		r.CdmaSecond.Reset()
	}
}

// CdmaSecondSetupState returns the shadow call's contribution to the
// callsetup indicator: Incoming/Dialing/Alerting pass through, anything else
// reads as Disconnected. The true disconnect of the second CDMA call is
// unobservable (both calls share one radio channel), so its state is only
// trustworthy while it is in a setup state or explicitly toggled.
func (r *CallRegistry) CdmaSecondSetupState() telephony.CallState {
	switch r.CdmaSecond.State {
	case telephony.CallStateIncoming, telephony.CallStateDialing, telephony.CallStateAlerting:
		return r.CdmaSecond.State
	}
	return telephony.CallStateDisconnected
}
