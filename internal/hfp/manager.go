package hfp

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/btcommons/hfpd/internal/config"
	"github.com/btcommons/hfpd/internal/telephony"
	"github.com/btcommons/hfpd/internal/transport"
)

// MaxClients is the number of simultaneously connected hands-free devices
// the profile supports.
const MaxClients = 1

// SettingsStore persists the speaker volume across runs.
type SettingsStore interface {
	// SpeakerVolume returns the stored level; ok is false when no value has
	// been stored yet.
	SpeakerVolume() (level int, ok bool, err error)
	SaveSpeakerVolume(level int) error
}

// Deps are the collaborators injected into the Manager.
type Deps struct {
	Transport  transport.Transport
	Dialer     telephony.Dialer
	Enumerator telephony.CallEnumerator // optional: re-feeds current calls on SLC
	Settings   SettingsStore            // optional
	Bus        *EventBus
	Log        *zap.Logger
	Timers     config.TimerConfig
}

// Manager is the HFP call/audio core. All state below the events channel is
// owned by the single loop goroutine; external stimuli enter as events and
// are dispatched serially, so the data model needs no locking.
type Manager struct {
	log      *zap.Logger
	tr       transport.Transport
	dialer   telephony.Dialer
	enum     telephony.CallEnumerator
	settings SettingsStore
	bus      *EventBus
	sched    scoScheduler

	events chan managerEvent
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}

	// ── loop-owned state ──────────────────────────────────────────────────

	reg   *CallRegistry
	phone PhoneContext

	slcState     transport.SlcState
	prevSlcState transport.SlcState
	audioState   transport.AudioState
	deviceAddr   string

	vgs         int
	vgm         int
	receivedVgs bool
	nrecEnabled bool
	wbsEnabled  bool

	// dialingRequestDone guards the single response to an outstanding BLDN
	// or memory-dial request. True means nothing is outstanding.
	dialingRequestDone bool

	controller *pendingOp
	inShutdown bool
}

// managerEvent is the closed union of stimuli entering the loop.
type managerEvent interface{ isManagerEvent() }

type evTransport struct{ e transport.Event }
type evCallState struct{ e telephony.CallEvent }
type evVoiceInfo struct{ info telephony.VoiceInfo }
type evBattery struct{ level float64 }
type evIccInfo struct{ msisdn string }
type evVolumeSetting struct{ level int }
type evCdmaSecondNumber struct{ number string }
type evCdmaAnswerWaiting struct{}
type evCdmaIgnoreWaiting struct{}
type evCdmaToggleCalls struct{}
type evDialTimeout struct{}
type evScoTeardown struct{}
type evConnect struct {
	addr string
	op   *pendingOp
}
type evDisconnect struct{ op *pendingOp }
type evSnapshot struct{ reply chan Snapshot }
type evShutdown struct{ done chan struct{} }

func (evTransport) isManagerEvent()        {}
func (evCallState) isManagerEvent()        {}
func (evVoiceInfo) isManagerEvent()        {}
func (evBattery) isManagerEvent()          {}
func (evIccInfo) isManagerEvent()          {}
func (evVolumeSetting) isManagerEvent()    {}
func (evCdmaSecondNumber) isManagerEvent() {}
func (evCdmaAnswerWaiting) isManagerEvent() {}
func (evCdmaIgnoreWaiting) isManagerEvent() {}
func (evCdmaToggleCalls) isManagerEvent()  {}
func (evDialTimeout) isManagerEvent()      {}
func (evScoTeardown) isManagerEvent()      {}
func (evConnect) isManagerEvent()          {}
func (evDisconnect) isManagerEvent()       {}
func (evSnapshot) isManagerEvent()         {}
func (evShutdown) isManagerEvent()         {}

// New constructs a Manager. Call Start to begin processing.
func New(d Deps) *Manager {
	m := &Manager{
		log:      d.Log,
		tr:       d.Transport,
		dialer:   d.Dialer,
		enum:     d.Enumerator,
		settings: d.Settings,
		bus:      d.Bus,
		events:   make(chan managerEvent, 64),
		stopped:  make(chan struct{}),
		reg:      NewCallRegistry(),
	}
	m.sched = scoScheduler{
		dialTimeout:      d.Timers.DialTimeout,
		busyToneInterval: d.Timers.BusyToneInterval,
		post:             m.post,
	}
	m.resetSessionState()
	m.phone.Battery = 5
	return m
}

// Start launches the event loop and the transport pump. It returns
// immediately; use Shutdown (or cancel ctx) to stop.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		if m.settings != nil {
			if level, ok, err := m.settings.SpeakerVolume(); err != nil {
				m.log.Warn("settings: read speaker volume", zap.Error(err))
			} else if ok {
				m.post(evVolumeSetting{level: level})
			}
		}

		m.wg.Add(2)
		go m.pumpTransport()
		go m.loop()

		go func() {
			select {
			case <-ctx.Done():
				m.Shutdown()
			case <-m.stopped:
			}
		}()
	})
}

// Shutdown synchronously forces SLC and audio down and stops the loop.
// After Shutdown, Connect fails with ErrNoResource. Idempotent.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		done := make(chan struct{})
		m.post(evShutdown{done: done})
		<-done
		close(m.stopped)
	})
}

// Stopped is closed once the manager has shut down.
func (m *Manager) Stopped() <-chan struct{} { return m.stopped }

// ── inbound surface (safe from any goroutine) ─────────────────────────────

// HandleCallStateChanged delivers one telephony call-state event.
func (m *Manager) HandleCallStateChanged(e telephony.CallEvent) { m.post(evCallState{e: e}) }

// HandleVoiceConnectionChanged delivers a voice-network snapshot.
func (m *Manager) HandleVoiceConnectionChanged(info telephony.VoiceInfo) {
	m.post(evVoiceInfo{info: info})
}

// HandleBatteryLevel delivers a battery sample in [0, 1].
func (m *Manager) HandleBatteryLevel(level float64) { m.post(evBattery{level: level}) }

// HandleIccInfoChanged delivers the subscriber number (MSISDN).
func (m *Manager) HandleIccInfoChanged(msisdn string) { m.post(evIccInfo{msisdn: msisdn}) }

// HandleVolumeSetting delivers an externally changed speaker volume (the
// user adjusted it on the phone); it is re-sent to the device when connected.
func (m *Manager) HandleVolumeSetting(level int) { m.post(evVolumeSetting{level: level}) }

// UpdateSecondNumber reports a second incoming CDMA call. The telephony
// layer cannot raise an ordinary call-state event for it because both CDMA
// calls share one radio channel.
func (m *Manager) UpdateSecondNumber(number string) { m.post(evCdmaSecondNumber{number: number}) }

// AnswerWaitingCall answers the CDMA second call; every connected call in
// the registry becomes held.
func (m *Manager) AnswerWaitingCall() { m.post(evCdmaAnswerWaiting{}) }

// IgnoreWaitingCall drops the CDMA second call shadow state.
func (m *Manager) IgnoreWaitingCall() { m.post(evCdmaIgnoreWaiting{}) }

// ToggleCalls swaps the CDMA second call between active and held.
func (m *Manager) ToggleCalls() { m.post(evCdmaToggleCalls{}) }

// Connect starts an outbound HFP connection to addr. The returned channel
// yields exactly one result: nil on SLC establishment, ErrNoResource when
// shutdown is in progress, ErrConnectionFailed when the transport rejects
// the attempt or the link never reaches the SLC, or ErrOperationPending if
// another profile operation is still in flight.
func (m *Manager) Connect(addr string) <-chan error {
	op := newPendingOp(opConnect)
	select {
	case m.events <- evConnect{addr: addr, op: op}:
	case <-m.stopped:
		op.complete(ErrNoResource)
	}
	return op.done
}

// Disconnect tears down the current HFP connection. Completion semantics
// mirror Connect.
func (m *Manager) Disconnect() <-chan error {
	op := newPendingOp(opDisconnect)
	select {
	case m.events <- evDisconnect{op: op}:
	case <-m.stopped:
		op.complete(ErrNoResource)
	}
	return op.done
}

// Snapshot returns a point-in-time view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case m.events <- evSnapshot{reply: reply}:
		return <-reply
	case <-m.stopped:
		return Snapshot{SlcState: transport.SlcDisconnected.String(), AudioState: transport.AudioDisconnected.String()}
	}
}

// Snapshot is the externally visible manager state.
type Snapshot struct {
	SlcState      string                `json:"slc_state"`
	AudioState    string                `json:"audio_state"`
	Connected     bool                  `json:"connected"`
	ScoConnected  bool                  `json:"sco_connected"`
	DeviceAddress string                `json:"device_address,omitempty"`
	PhoneType     string                `json:"phone_type"`
	Operator      string                `json:"operator,omitempty"`
	SpeakerVolume int                   `json:"speaker_volume"`
	MicVolume     int                   `json:"mic_volume"`
	NrecEnabled   bool                  `json:"nrec_enabled"`
	WbsEnabled    bool                  `json:"wbs_enabled"`
	Indicators    transport.CindValues  `json:"indicators"`
	Calls         []transport.ClccEntry `json:"calls"`
}

func (m *Manager) post(ev managerEvent) {
	select {
	case m.events <- ev:
	case <-m.stopped:
	}
}

func (m *Manager) pumpTransport() {
	defer m.wg.Done()
	for {
		select {
		case e, ok := <-m.tr.Events():
			if !ok {
				return
			}
			m.post(evTransport{e: e})
		case <-m.stopped:
			return
		}
	}
}

// ── event loop ────────────────────────────────────────────────────────────

func (m *Manager) loop() {
	defer m.wg.Done()
	for ev := range m.events {
		if m.dispatch(ev) {
			go m.drain()
			return
		}
	}
}

// drain answers requests arriving after the loop has exited, for the rest of
// the process life. The enqueue in Connect can win its race against the
// closed stopped channel, and a pendingOp sitting in a dead queue would
// block its caller forever.
func (m *Manager) drain() {
	for ev := range m.events {
		switch ev := ev.(type) {
		case evConnect:
			ev.op.complete(ErrNoResource)
		case evDisconnect:
			ev.op.complete(ErrNoResource)
		case evSnapshot:
			ev.reply <- m.snapshotLocked()
		}
	}
}

// dispatch handles one event; it returns true when the loop must exit.
func (m *Manager) dispatch(ev managerEvent) bool {
	switch ev := ev.(type) {
	case evTransport:
		m.handleTransportEvent(ev.e)
	case evCallState:
		m.handleCallStateChanged(ev.e)
	case evVoiceInfo:
		m.handleVoiceInfo(ev.info)
	case evBattery:
		m.handleBattery(ev.level)
	case evIccInfo:
		m.phone.Msisdn = ev.msisdn
	case evVolumeSetting:
		m.handleVolumeSetting(ev.level)
	case evCdmaSecondNumber:
		m.handleCdmaSecondNumber(ev.number)
	case evCdmaAnswerWaiting:
		m.handleCdmaAnswerWaiting()
	case evCdmaIgnoreWaiting:
		if m.phone.PhoneType == telephony.PhoneTypeCDMA {
			m.reg.CdmaSecond.Reset()
		}
	case evCdmaToggleCalls:
		m.handleCdmaToggleCalls()
	case evDialTimeout:
		m.handleDialTimeout()
	case evScoTeardown:
		m.handleScoTeardown()
	case evConnect:
		m.handleConnect(ev.addr, ev.op)
	case evDisconnect:
		m.handleDisconnect(ev.op)
	case evSnapshot:
		ev.reply <- m.snapshotLocked()
	case evShutdown:
		m.handleShutdown()
		close(ev.done)
		return true
	}
	return false
}

// ── connection state machine ──────────────────────────────────────────────

// IsConnected (loop-internal) means the SLC is fully established.
func (m *Manager) isConnected() bool { return m.slcState == transport.SlcEstablished }

func (m *Manager) isScoConnected() bool { return m.audioState == transport.AudioConnected }

func (m *Manager) handleTransportEvent(e transport.Event) {
	switch e := e.(type) {
	case transport.ConnectionStateEvent:
		m.handleConnectionState(e.State, e.Addr)
	case transport.AudioStateEvent:
		m.handleAudioState(e.State)
	case transport.BackendErrorEvent:
		m.handleBackendError(e.Reason)
	case transport.AnswerCallEvent:
		m.notifyDialer("ATA")
	case transport.HangupCallEvent:
		m.notifyDialer("CHUP")
	case transport.DialEvent:
		m.handleDial(e.Number)
	case transport.VolumeEvent:
		m.handleVolume(e.Type, e.Level)
	case transport.DtmfEvent:
		m.handleDtmf(e.Digit)
	case transport.CallHoldEvent:
		m.handleCallHold(e.Chld)
	case transport.KeyPressedEvent:
		m.handleKeyPressed()
	case transport.CnumEvent:
		m.handleCnum()
	case transport.CindEvent:
		m.sendOp("cind response", m.tr.SendCind(computeCind(m.reg, &m.phone)))
	case transport.CopsEvent:
		m.sendOp("cops response", m.tr.SendCops(m.phone.OperatorName))
	case transport.ClccEvent:
		m.handleClcc()
	case transport.NrecEvent:
		m.handleNrec(e.Enabled)
	case transport.WbsEvent:
		m.wbsEnabled = e.Enabled
		m.publishStatus(EventWbsStatusChanged, m.wbsEnabled)
	case transport.UnknownAtEvent:
		m.log.Info("unsupported AT command", zap.String("command", e.Command))
		m.sendResponse(transport.AtResponseError)
	}
}

func (m *Manager) handleConnectionState(state transport.SlcState, addr string) {
	m.log.Info("slc state",
		zap.String("state", state.String()),
		zap.String("prev", m.slcState.String()),
		zap.String("addr", addr),
	)

	m.prevSlcState = m.slcState
	m.slcState = state

	switch state {
	case transport.SlcEstablished:
		m.deviceAddr = addr
		m.notifyConnectionStateChanged()

	case transport.SlcDisconnected:
		m.disconnectSco()
		m.notifyConnectionStateChanged()

	case transport.SlcConnected:
		// RFCOMM is up; enable NREC before each new SLC negotiation.
		m.handleNrec(true)
	}
}

// notifyConnectionStateChanged broadcasts the HFP status, settles the
// pending profile operation, and on full disconnect resets session state.
func (m *Manager) notifyConnectionStateChanged() {
	m.publishStatus(EventHfpStatusChanged, m.isConnected())

	if m.isConnected() {
		// Pull the current call list so the registry reflects calls that
		// predate this connection.
		if m.enum != nil {
			m.enum.EnumerateCalls()
		}
		m.completeController(nil)
		return
	}

	if m.slcState == transport.SlcDisconnected {
		m.deviceAddr = ""
		if m.prevSlcState == transport.SlcDisconnected {
			// The stack reports only connected/disconnected for outgoing
			// attempts, so disconnected-to-disconnected is a failed connect.
			m.completeController(ErrConnectionFailed)
		} else {
			m.completeController(nil)
		}
		m.resetSessionState()
	}
}

func (m *Manager) handleAudioState(state transport.AudioState) {
	m.log.Info("audio state", zap.String("state", state.String()))
	m.audioState = state

	if state == transport.AudioConnected || state == transport.AudioDisconnected {
		m.publishStatus(EventScoStatusChanged, m.isScoConnected())
	}
}

// handleBackendError forces both links down through the ordinary
// notification path so observable status stays consistent with reality.
func (m *Manager) handleBackendError(reason string) {
	m.log.Error("transport backend error", zap.String("reason", reason))

	if m.slcState != transport.SlcDisconnected {
		m.handleConnectionState(transport.SlcDisconnected, m.deviceAddr)
	}
	if m.audioState != transport.AudioDisconnected {
		m.handleAudioState(transport.AudioDisconnected)
	}
}

// connectSco sets up the audio link. Policy: only while the SLC is
// established, audio is down, and no shutdown is in progress.
func (m *Manager) connectSco() bool {
	if m.inShutdown || !m.isConnected() || m.isScoConnected() {
		return false
	}
	m.sendOp("connect audio", m.tr.ConnectAudio(m.deviceAddr))
	return true
}

func (m *Manager) disconnectSco() bool {
	if !m.isScoConnected() {
		return false
	}
	m.sendOp("disconnect audio", m.tr.DisconnectAudio(m.deviceAddr))
	return true
}

// resetSessionState restores per-session defaults after a disconnect. The
// battery level is the lone survivor: it comes from the battery collaborator
// and stays valid across connections.
func (m *Manager) resetSessionState() {
	m.receivedVgs = false
	m.dialingRequestDone = true

	m.slcState = transport.SlcDisconnected
	m.prevSlcState = transport.SlcDisconnected

	m.phone.Service = transport.NetworkNotAvailable
	m.phone.Roam = transport.ServiceHome
	m.phone.Signal = 0

	m.nrecEnabled = true
	m.wbsEnabled = false
	m.controller = nil
}

// ── profile controller ────────────────────────────────────────────────────

func (m *Manager) handleConnect(addr string, op *pendingOp) {
	if m.controller != nil {
		m.log.Error("profile operation already pending",
			zap.String("pending", m.controller.kind.String()))
		op.complete(ErrOperationPending)
		return
	}
	if m.inShutdown {
		op.complete(ErrNoResource)
		return
	}

	m.deviceAddr = addr
	m.controller = op

	if err := m.tr.Connect(addr); err != nil {
		m.log.Warn("transport connect", zap.String("addr", addr), zap.Error(err))
		m.controller = nil
		m.deviceAddr = ""
		op.complete(ErrConnectionFailed)
	}
}

func (m *Manager) handleDisconnect(op *pendingOp) {
	if m.controller != nil {
		m.log.Error("profile operation already pending",
			zap.String("pending", m.controller.kind.String()))
		op.complete(ErrOperationPending)
		return
	}

	m.controller = op

	if err := m.tr.Disconnect(m.deviceAddr); err != nil {
		m.log.Warn("transport disconnect", zap.Error(err))
		m.controller = nil
		op.complete(ErrConnectionFailed)
	}
}

func (m *Manager) completeController(err error) {
	if m.controller == nil {
		return
	}
	m.controller.complete(err)
	m.controller = nil
}

func (m *Manager) handleShutdown() {
	m.inShutdown = true

	if m.slcState != transport.SlcDisconnected {
		m.sendOp("disconnect", m.tr.Disconnect(m.deviceAddr))
	}
	m.disconnectSco()
	m.completeController(ErrNoResource)
}

// ── phone context ─────────────────────────────────────────────────────────

func (m *Manager) handleVoiceInfo(info telephony.VoiceInfo) {
	m.phone.PhoneType = telephony.PhoneTypeFromRadioTech(info.RadioTech)

	if info.Roaming {
		m.phone.Roam = transport.ServiceRoaming
	} else {
		m.phone.Roam = transport.ServiceHome
	}

	if info.Registered {
		m.phone.Service = transport.NetworkAvailable
	} else {
		m.phone.Service = transport.NetworkNotAvailable
	}

	// Bar level −1..4 becomes the 0..5 CIND signal indicator.
	signal := info.SignalLevel + 1
	if signal < 0 {
		signal = 0
	} else if signal > 5 {
		signal = 5
	}
	m.phone.Signal = signal

	name := info.OperatorName
	if len(name) > maxOperatorNameLength {
		m.log.Warn("operator name over 16 characters, truncating",
			zap.String("operator", name))
		name = name[:maxOperatorNameLength]
	}
	m.phone.OperatorName = name

	if m.isConnected() {
		m.updateDeviceCind()
	}
}

func (m *Manager) handleBattery(level float64) {
	// Sample in [0, 1] becomes the 0..5 CIND battchg indicator.
	m.phone.Battery = int(level*5 + 0.5)
	if m.isConnected() {
		m.updateDeviceCind()
	}
}

func (m *Manager) updateDeviceCind() {
	m.sendOp("device status", m.tr.DeviceStatus(transport.DeviceStatus{
		Service: m.phone.Service,
		Roam:    m.phone.Roam,
		Signal:  m.phone.Signal,
		Battery: m.phone.Battery,
	}))
}

// ── helpers ───────────────────────────────────────────────────────────────

func (m *Manager) sendResponse(r transport.AtResponse) {
	m.sendOp("at response", m.tr.SendResponse(r))
}

// sendOp logs a failed transport submission. Responses are best-effort: the
// remote device re-queries on timeout, so failures are never retried.
func (m *Manager) sendOp(op string, err error) {
	if err != nil {
		m.log.Warn("transport operation failed", zap.String("op", op), zap.Error(err))
	}
}

func (m *Manager) notifyDialer(cmd string) {
	m.log.Info("dialer command", zap.String("command", cmd))
	if m.dialer != nil {
		m.dialer.Command(cmd)
	}
	m.bus.Publish(Event{Type: EventDialerCommand, Data: cmd})
}

func (m *Manager) publishStatus(t EventType, enabled bool) {
	m.bus.Publish(Event{Type: t, Data: StatusChange{Address: m.deviceAddr, Enabled: enabled}})
}

func (m *Manager) snapshotLocked() Snapshot {
	calls := make([]transport.ClccEntry, 0, m.reg.Len())
	for i := 1; i < m.reg.Len(); i++ {
		c := m.reg.At(i)
		if c.State == telephony.CallStateDisconnected {
			continue
		}
		calls = append(calls, transport.ClccEntry{
			Index:     i,
			Direction: c.Direction,
			State:     clccState(m.reg, m.phone.PhoneType, c, i),
			Number:    c.Number,
			Type:      c.Type,
		})
	}
	if m.reg.CdmaSecond.Number != "" && m.reg.CdmaSecond.State != telephony.CallStateDisconnected {
		c := &m.reg.CdmaSecond
		calls = append(calls, transport.ClccEntry{
			Index:     2,
			Direction: c.Direction,
			State:     clccState(m.reg, m.phone.PhoneType, c, 2),
			Number:    c.Number,
			Type:      c.Type,
		})
	}
	return Snapshot{
		SlcState:      m.slcState.String(),
		AudioState:    m.audioState.String(),
		Connected:     m.isConnected(),
		ScoConnected:  m.isScoConnected(),
		DeviceAddress: m.deviceAddr,
		PhoneType:     m.phone.PhoneType.String(),
		Operator:      m.phone.OperatorName,
		SpeakerVolume: m.vgs,
		MicVolume:     m.vgm,
		NrecEnabled:   m.nrecEnabled,
		WbsEnabled:    m.wbsEnabled,
		Indicators:    computeCind(m.reg, &m.phone),
		Calls:         calls,
	}
}

func (m *Manager) handleNrec(enabled bool) {
	m.nrecEnabled = enabled
	m.publishStatus(EventNrecStatusChanged, m.nrecEnabled)
}

func (m *Manager) handleVolumeSetting(level int) {
	m.vgs = level
	if m.isConnected() {
		m.log.Info("sending speaker gain", zap.Int("vgs", m.vgs))
		m.sendOp("volume control", m.tr.VolumeControl(transport.VolumeSpeaker, m.vgs))
	}
}
