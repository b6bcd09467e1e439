package hfp

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/btcommons/hfpd/internal/telephony"
	"github.com/btcommons/hfpd/internal/transport"
)

// isValidDtmf accepts [0-9A-D*#].
func isValidDtmf(c byte) bool {
	return c == '*' || c == '#' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'D')
}

// isSupportedChld accepts CHLD=0..3; Enhanced Call Control (1x/2x) is not
// supported.
func isSupportedChld(chld int) bool {
	return chld >= 0 && chld <= 3
}

// ── telephony events ──────────────────────────────────────────────────────

func (m *Manager) handleCallStateChanged(e telephony.CallEvent) {
	// A pending outgoing call has no index yet; the event repeats once the
	// real state change carries one.
	if !e.Index.Valid {
		return
	}

	// A dial request we forwarded to the dialer is answered by the first
	// Dialing transition. The 3s timeout races for the same flag.
	if e.State == telephony.CallStateDialing && m.isConnected() && !m.dialingRequestDone {
		m.sendResponse(transport.AtResponseOK)
		m.dialingRequestDone = true
	}

	m.reg.SetCall(e.Index.N, e.State, e.Number, e.Outgoing)

	if m.isConnected() && !isTransitionState(m.reg, e.State, e.Conference) {
		m.updatePhoneCind(e.Index.N)
	}

	if e.State == telephony.CallStateDisconnected && m.reg.AllDisconnected() {
		// Keep SCO up through the busy tone so the user hears it on the
		// headset; teardown is deferred, not skipped.
		if m.isConnected() && e.Error == telephony.BusyError {
			m.sched.armBusyTeardown()
		}

		// The phone-state push above needs the final number/type, so the
		// registry reset must come strictly after it.
		m.reg.Reset(m.phone.PhoneType == telephony.PhoneTypeCDMA)
	}
}

// updatePhoneCind pushes a phone-state change for the call at index.
func (m *Manager) updatePhoneCind(index int) {
	c := m.reg.At(index)
	state := transport.PhoneState{
		NumActive: m.reg.CountByState(telephony.CallStateConnected),
		NumHeld:   m.reg.CountByState(telephony.CallStateHeld),
		CallSetup: pushCallSetup(m.reg, wireCallState(m.reg.CallSetupState())),
		Number:    c.Number,
		Type:      c.Type,
	}
	m.log.Info("phone state change",
		zap.Int("index", index),
		zap.String("call_state", c.State.String()),
		zap.Int("active", state.NumActive),
		zap.Int("held", state.NumHeld),
		zap.String("callsetup", state.CallSetup.String()),
	)
	m.sendOp("phone state change", m.tr.PhoneStateChange(state))
}

// ── remote AT events ──────────────────────────────────────────────────────

// handleDial covers the three dial forms: empty (BLDN redial), ">xxx"
// (memory dial) and plain digits. The dialer strips its own trailing control
// character, so forwarded ATD numbers lose their last character here.
func (m *Manager) handleDial(number string) {
	switch {
	case number == "":
		m.dialingRequestDone = false
		m.notifyDialer("BLDN")
		m.sched.armDialTimeout()

	case number[0] == '>':
		m.dialingRequestDone = false
		m.notifyDialer("ATD" + number[:len(number)-1])
		m.sched.armDialTimeout()

	default:
		m.sendResponse(transport.AtResponseOK)
		m.notifyDialer("ATD" + number[:len(number)-1])
	}
}

func (m *Manager) handleDialTimeout() {
	if !m.dialingRequestDone {
		m.dialingRequestDone = true
		m.sendResponse(transport.AtResponseError)
	}
}

func (m *Manager) handleScoTeardown() {
	m.disconnectSco()
}

func (m *Manager) handleVolume(t transport.VolumeType, level int) {
	if level < 0 || level > 15 {
		return
	}

	switch t {
	case transport.VolumeMicrophone:
		m.vgm = level

	case transport.VolumeSpeaker:
		m.receivedVgs = true

		if level == m.vgs {
			// The headset set the gain we already track; echoing it back
			// would ping-pong.
			return
		}
		m.vgs = level

		if m.settings != nil {
			if err := m.settings.SaveSpeakerVolume(level); err != nil {
				m.log.Warn("settings: save speaker volume", zap.Error(err))
			}
		}

		m.log.Info("volume change", zap.Int("vgs", level))
		m.bus.Publish(Event{Type: EventVolumeChange, Data: strconv.Itoa(level)})
	}
}

func (m *Manager) handleDtmf(digit byte) {
	if !isValidDtmf(digit) {
		return
	}
	m.notifyDialer("VTS=" + string(digit))
}

func (m *Manager) handleCallHold(chld int) {
	if !isSupportedChld(chld) {
		m.sendResponse(transport.AtResponseError)
		return
	}

	m.sendResponse(transport.AtResponseOK)
	m.notifyDialer("CHLD=" + strconv.Itoa(chld))

	if m.phone.PhoneType == telephony.PhoneTypeCDMA && chld == 0 {
		// CHLD=0 releases held calls, but the dialer cannot hang up the CDMA
		// second call (both calls share one channel). It is gone now as far
		// as the network is concerned, so record that and tell the device.
		m.reg.CdmaSecond.State = telephony.CallStateDisconnected
		m.pushCdmaSecondState()
	}
}

// handleKeyPressed implements the HSP single-button ladder: answer a ringing
// call, else raise or release audio for an active call, else redial.
func (m *Manager) handleKeyPressed() {
	hasActiveCall := m.reg.FirstIndexByState(telephony.CallStateConnected) > 0

	switch {
	case m.reg.FirstIndexByState(telephony.CallStateIncoming) > 0 && !hasActiveCall:
		// SCO follows once the answer produces a call-state change.
		m.notifyDialer("ATA")

	case hasActiveCall:
		if !m.isScoConnected() {
			m.connectSco()
		} else {
			m.notifyDialer("CHUP")
		}

	default:
		m.dialingRequestDone = false
		m.notifyDialer("BLDN")
		m.sched.armDialTimeout()
	}
}

func (m *Manager) handleCnum() {
	if m.phone.Msisdn != "" {
		var b strings.Builder
		b.WriteString("+CNUM: ,\"")
		b.WriteString(m.phone.Msisdn)
		b.WriteString("\",")
		b.WriteString(strconv.Itoa(int(transport.AddressTypeOf(m.phone.Msisdn))))
		b.WriteString(",,4")
		m.sendOp("cnum line", m.tr.SendLine(b.String()))
	}
	m.sendResponse(transport.AtResponseOK)
}

func (m *Manager) handleClcc() {
	for i := 1; i < m.reg.Len(); i++ {
		m.sendClccEntry(m.reg.At(i), i)
	}

	if m.reg.CdmaSecond.Number != "" {
		// The shadow call always lists as index 2 next to the single real
		// CDMA call.
		m.sendClccEntry(&m.reg.CdmaSecond, 2)
	}

	m.sendResponse(transport.AtResponseOK)
}

func (m *Manager) sendClccEntry(c *Call, index int) {
	if c.State == telephony.CallStateDisconnected {
		return
	}
	m.sendOp("clcc entry", m.tr.SendClcc(transport.ClccEntry{
		Index:     index,
		Direction: c.Direction,
		State:     clccState(m.reg, m.phone.PhoneType, c, index),
		Number:    c.Number,
		Type:      c.Type,
	}))
}

// ── CDMA second call ──────────────────────────────────────────────────────

// pushCdmaSecondState pushes a phone-state change describing the shadow
// call, using its setup state as callsetup.
func (m *Manager) pushCdmaSecondState() {
	m.pushCdmaSecondStateActive(m.reg.CountByState(telephony.CallStateConnected))
}

func (m *Manager) pushCdmaSecondStateActive(numActive int) {
	c := &m.reg.CdmaSecond
	state := transport.PhoneState{
		NumActive: numActive,
		NumHeld:   m.reg.CountByState(telephony.CallStateHeld),
		CallSetup: pushCallSetup(m.reg, wireCallState(m.reg.CdmaSecondSetupState())),
		Number:    c.Number,
		Type:      c.Type,
	}
	m.log.Info("cdma second call state change",
		zap.String("call_state", c.State.String()),
		zap.Int("active", state.NumActive),
		zap.Int("held", state.NumHeld),
		zap.String("callsetup", state.CallSetup.String()),
	)
	m.sendOp("phone state change", m.tr.PhoneStateChange(state))
}

func (m *Manager) handleCdmaSecondNumber(number string) {
	if m.phone.PhoneType != telephony.PhoneTypeCDMA {
		m.log.Warn("second-call event outside CDMA", zap.String("number", number))
		return
	}

	// The second CDMA call is always treated as incoming; outgoing second
	// calls are not reportable by the radio layer.
	m.reg.CdmaSecond.Set(number, false)
	m.reg.CdmaSecond.State = telephony.CallStateIncoming
	m.pushCdmaSecondState()
}

func (m *Manager) handleCdmaAnswerWaiting() {
	if m.phone.PhoneType != telephony.PhoneTypeCDMA {
		return
	}

	// Picking up the second call implicitly holds every connected call.
	m.reg.CdmaSecond.State = telephony.CallStateConnected
	for i := 1; i < m.reg.Len(); i++ {
		if m.reg.At(i).State == telephony.CallStateConnected {
			m.reg.At(i).State = telephony.CallStateHeld
		}
	}

	// The shadow call is Connected but invisible to the registry counters,
	// so it is added to numActive by hand.
	m.pushCdmaSecondStateActive(m.reg.CountByState(telephony.CallStateConnected) + 1)
}

func (m *Manager) handleCdmaToggleCalls() {
	if m.phone.PhoneType != telephony.PhoneTypeCDMA {
		return
	}
	if m.reg.CdmaSecond.IsActive() {
		m.reg.CdmaSecond.State = telephony.CallStateHeld
	} else {
		m.reg.CdmaSecond.State = telephony.CallStateConnected
	}
}
