//go:build linux

package transport

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	bluezService        = "org.bluez"
	profileManagerIface = "org.bluez.ProfileManager1"

	// HFP Audio Gateway service UUID.
	hfpAGUUID = "0000111f-0000-1000-8000-00805f9b34fb"

	agProfilePath  = dbus.ObjectPath("/com/btcommons/hfpd/ag")
	rfcommChannel  = uint8(13)
	eventChanSize  = 64
	agFeaturesBRSF = 0x0EF // 3-way calling, EC/NR, voice recognition, in-band ring, reject, enhanced call status
)

// BluezTransport implements Transport over a BlueZ-provided RFCOMM link.
// BlueZ hands the RFCOMM socket over D-Bus (org.bluez.Profile1); this type
// owns the AT line protocol on that socket and raises Events for the
// manager. SCO state is reported as the transport's own view: BlueZ sets up
// the audio link with the profile, so ConnectAudio/DisconnectAudio settle
// locally.
type BluezTransport struct {
	log    *zap.Logger
	events chan Event

	mu   sync.Mutex
	bus  *dbus.Conn
	conn net.Conn // wraps the RFCOMM fd
	w    *bufio.Writer

	slc       SlcState
	audio     AudioState
	addr      string
	slcServed bool // SLC handshake (BRSF/CIND/CMER) completed

	lastCind CindValues
	haveCind bool
}

// NewBluezTransport registers an HFP AG profile with BlueZ on the system bus.
func NewBluezTransport(adapter string, log *zap.Logger) (*BluezTransport, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}

	t := &BluezTransport{
		log:    log,
		events: make(chan Event, eventChanSize),
		bus:    bus,
	}

	if err := bus.Export(&agProfile{t: t}, agProfilePath, "org.bluez.Profile1"); err != nil {
		return nil, fmt.Errorf("bluez: export profile: %w", err)
	}

	opts := map[string]dbus.Variant{
		"Name":    dbus.MakeVariant("Hands-Free Audio Gateway"),
		"Role":    dbus.MakeVariant("server"),
		"Channel": dbus.MakeVariant(uint16(rfcommChannel)),
	}
	pm := bus.Object(bluezService, "/org/bluez")
	if call := pm.Call(profileManagerIface+".RegisterProfile", 0, agProfilePath, hfpAGUUID, opts); call.Err != nil {
		return nil, fmt.Errorf("bluez: register profile: %w", call.Err)
	}

	log.Info("bluez: HFP AG profile registered",
		zap.String("adapter", adapter),
		zap.Uint8("channel", rfcommChannel),
	)
	return t, nil
}

// Close unregisters the profile and drops any connection.
func (t *BluezTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	pm := t.bus.Object(bluezService, "/org/bluez")
	if call := pm.Call(profileManagerIface+".UnregisterProfile", 0, agProfilePath); call.Err != nil {
		return fmt.Errorf("bluez: unregister profile: %w", call.Err)
	}
	close(t.events)
	return nil
}

func (t *BluezTransport) Events() <-chan Event { return t.events }

// agProfile implements org.bluez.Profile1 and forwards RFCOMM sockets.
type agProfile struct {
	t *BluezTransport
}

func (p *agProfile) Release() *dbus.Error { return nil }

func (p *agProfile) Cancel() *dbus.Error { return nil }

func (p *agProfile) RequestDisconnection(dev dbus.ObjectPath) *dbus.Error {
	p.t.dropConnection()
	return nil
}

// NewConnection receives the RFCOMM fd from BlueZ.
func (p *agProfile) NewConnection(dev dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	f := os.NewFile(uintptr(fd), "rfcomm")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		p.t.log.Warn("bluez: wrap rfcomm fd", zap.Error(err))
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"fd not usable"}}
	}

	p.t.mu.Lock()
	if p.t.conn != nil {
		// Single-client profile: reject while a device is attached.
		p.t.mu.Unlock()
		conn.Close()
		return &dbus.Error{Name: "org.bluez.Error.Rejected", Body: []interface{}{"already connected"}}
	}
	p.t.conn = conn
	p.t.w = bufio.NewWriter(conn)
	p.t.addr = macFromPath(dev)
	p.t.slc = SlcConnected
	p.t.slcServed = false
	p.t.mu.Unlock()

	p.t.emit(ConnectionStateEvent{State: SlcConnected, Addr: p.t.addr})
	go p.t.readLoop(conn)
	return nil
}

// macFromPath extracts "AA:BB:CC:DD:EE:FF" from a Device1 object path like
// /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	i := strings.LastIndex(s, "dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(s[i+4:], "_", ":")
}

// ── link control ──────────────────────────────────────────────────────────

func (t *BluezTransport) Connect(addr string) error {
	// Outgoing connections go through Device1.ConnectProfile; the resulting
	// socket still arrives via Profile1.NewConnection.
	dev := t.bus.Object(bluezService, devicePath(addr))
	call := dev.Call("org.bluez.Device1.ConnectProfile", 0, hfpAGUUID)
	if call.Err != nil {
		return fmt.Errorf("bluez: connect profile %s: %w", addr, call.Err)
	}
	return nil
}

func (t *BluezTransport) Disconnect(addr string) error {
	dev := t.bus.Object(bluezService, devicePath(addr))
	call := dev.Call("org.bluez.Device1.DisconnectProfile", 0, hfpAGUUID)
	t.dropConnection()
	if call.Err != nil {
		return fmt.Errorf("bluez: disconnect profile %s: %w", addr, call.Err)
	}
	return nil
}

func devicePath(addr string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/hci0/dev_" + strings.ReplaceAll(addr, ":", "_"))
}

func (t *BluezTransport) dropConnection() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.w = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// ConnectAudio reports the SCO link up. BlueZ raises the SCO socket together
// with the profile connection; hfpd does not carry the voice path itself.
func (t *BluezTransport) ConnectAudio(addr string) error {
	t.mu.Lock()
	t.audio = AudioConnected
	t.mu.Unlock()
	t.emit(AudioStateEvent{State: AudioConnected, Addr: addr})
	return nil
}

func (t *BluezTransport) DisconnectAudio(addr string) error {
	t.mu.Lock()
	t.audio = AudioDisconnected
	t.mu.Unlock()
	t.emit(AudioStateEvent{State: AudioDisconnected, Addr: addr})
	return nil
}

// ── read side: AT command parsing ─────────────────────────────────────────

func (t *BluezTransport) readLoop(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	sc.Split(scanAtLines)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		t.handleLine(line)
	}

	t.mu.Lock()
	wasConnected := t.conn == conn
	if wasConnected {
		t.conn = nil
		t.w = nil
	}
	addr := t.addr
	t.slc = SlcDisconnected
	audioUp := t.audio != AudioDisconnected
	t.audio = AudioDisconnected
	t.mu.Unlock()

	if !wasConnected {
		return
	}
	if audioUp {
		t.emit(AudioStateEvent{State: AudioDisconnected, Addr: addr})
	}
	t.emit(ConnectionStateEvent{State: SlcDisconnected, Addr: addr})
}

// scanAtLines splits on CR or LF; AT commands are terminated with a bare CR.
func scanAtLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\r' || b == '\n' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (t *BluezTransport) handleLine(line string) {
	t.log.Debug("bluez: rx", zap.String("line", line))
	upper := strings.ToUpper(line)

	switch {
	// ── SLC handshake, served locally ─────────────────────────────────
	case strings.HasPrefix(upper, "AT+BRSF="):
		t.writeLine(fmt.Sprintf("+BRSF: %d", agFeaturesBRSF))
		t.writeLine("OK")
	case upper == "AT+CIND=?":
		t.writeLine(`+CIND: ("service",(0,1)),("call",(0,1)),("callsetup",(0-3)),("callheld",(0-2)),("signal",(0-5)),("roam",(0,1)),("battchg",(0-5))`)
		t.writeLine("OK")
	case strings.HasPrefix(upper, "AT+CMER="):
		t.writeLine("OK")
		t.mu.Lock()
		first := !t.slcServed
		t.slcServed = true
		t.slc = SlcEstablished
		addr := t.addr
		t.mu.Unlock()
		if first {
			t.emit(ConnectionStateEvent{State: SlcEstablished, Addr: addr})
		}
	case strings.HasPrefix(upper, "AT+CHLD=?"):
		t.writeLine("+CHLD: (0,1,2,3)")
		t.writeLine("OK")

	// ── call control, forwarded to the manager ───────────────────────
	// Commands whose final result code depends on manager state (dial,
	// hold, queries) are answered there; the rest get their OK here so
	// the device's command queue never stalls.
	case upper == "ATA":
		t.writeLine("OK")
		t.emit(AnswerCallEvent{})
	case upper == "AT+CHUP":
		t.writeLine("OK")
		t.emit(HangupCallEvent{})
	case upper == "AT+BLDN":
		t.emit(DialEvent{})
	case strings.HasPrefix(upper, "ATD"):
		t.emit(DialEvent{Number: strings.TrimSpace(line[3:])})
	case strings.HasPrefix(upper, "AT+VGS="):
		if v, err := strconv.Atoi(line[7:]); err == nil {
			t.writeLine("OK")
			t.emit(VolumeEvent{Type: VolumeSpeaker, Level: v})
		} else {
			t.writeLine("ERROR")
		}
	case strings.HasPrefix(upper, "AT+VGM="):
		if v, err := strconv.Atoi(line[7:]); err == nil {
			t.writeLine("OK")
			t.emit(VolumeEvent{Type: VolumeMicrophone, Level: v})
		} else {
			t.writeLine("ERROR")
		}
	case strings.HasPrefix(upper, "AT+VTS="):
		if len(line) == 8 {
			t.writeLine("OK")
			t.emit(DtmfEvent{Digit: upper[7]})
		} else {
			t.writeLine("ERROR")
		}
	case strings.HasPrefix(upper, "AT+CHLD="):
		if v, err := strconv.Atoi(line[8:]); err == nil {
			t.emit(CallHoldEvent{Chld: v})
		} else {
			t.writeLine("ERROR")
		}
	case strings.HasPrefix(upper, "AT+CKPD"):
		t.writeLine("OK")
		t.emit(KeyPressedEvent{})
	case upper == "AT+CNUM":
		t.emit(CnumEvent{})
	case upper == "AT+CIND?":
		t.emit(CindEvent{})
	case upper == "AT+COPS?":
		t.emit(CopsEvent{})
	case strings.HasPrefix(upper, "AT+COPS="):
		// Format selection; accepted and ignored.
		t.writeLine("OK")
	case upper == "AT+CLCC":
		t.emit(ClccEvent{})
	case strings.HasPrefix(upper, "AT+NREC="):
		t.writeLine("OK")
		t.emit(NrecEvent{Enabled: strings.TrimPrefix(upper, "AT+NREC=") != "0"})
	case strings.HasPrefix(upper, "AT+BCS="):
		// Codec 2 is mSBC (wideband speech).
		t.writeLine("OK")
		t.emit(WbsEvent{Enabled: strings.TrimPrefix(upper, "AT+BCS=") == "2"})
	case strings.HasPrefix(upper, "AT+CLIP=") || strings.HasPrefix(upper, "AT+CCWA=") || strings.HasPrefix(upper, "AT+CMEE="):
		t.writeLine("OK")
	default:
		t.emit(UnknownAtEvent{Command: line})
	}
}

func (t *BluezTransport) emit(e Event) {
	select {
	case t.events <- e:
	default:
		t.log.Warn("bluez: event channel full, dropping", zap.String("event", Name(e)))
	}
}

// ── write side: responses and unsolicited result codes ────────────────────

func (t *BluezTransport) writeLine(s string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return fmt.Errorf("bluez: not connected")
	}
	if _, err := t.w.WriteString("\r\n" + s + "\r\n"); err != nil {
		return fmt.Errorf("bluez: write: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("bluez: flush: %w", err)
	}
	return nil
}

func (t *BluezTransport) SendLine(text string) error {
	return t.writeLine(text)
}

func (t *BluezTransport) SendResponse(r AtResponse) error {
	if r == AtResponseOK {
		return t.writeLine("OK")
	}
	return t.writeLine("ERROR")
}

func (t *BluezTransport) SendCind(v CindValues) error {
	t.mu.Lock()
	t.lastCind = v
	t.haveCind = true
	t.mu.Unlock()
	return t.writeLine(fmt.Sprintf("+CIND: %d,%d,%d,%d,%d,%d,%d",
		int(v.Service), callIndicator(v), callsetupIndicator(v.CallSetup),
		heldIndicator(v), v.Signal, int(v.Roam), v.Battery))
}

func (t *BluezTransport) SendCops(operator string) error {
	return t.writeLine(fmt.Sprintf(`+COPS: 0,0,"%s"`, operator))
}

func (t *BluezTransport) SendClcc(e ClccEntry) error {
	return t.writeLine(fmt.Sprintf(`+CLCC: %d,%d,%d,0,0,"%s",%d`,
		e.Index, int(e.Direction), clccStateCode(e.State), e.Number, int(e.Type)))
}

func (t *BluezTransport) VolumeControl(vt VolumeType, level int) error {
	if vt == VolumeSpeaker {
		return t.writeLine(fmt.Sprintf("+VGS: %d", level))
	}
	return t.writeLine(fmt.Sprintf("+VGM: %d", level))
}

// PhoneStateChange renders a call-state snapshot as +CIEV updates (and RING
// or +CCWA for incoming calls), diffing against the last sent indicators.
func (t *BluezTransport) PhoneStateChange(s PhoneState) error {
	next := CindValues{
		NumActive: s.NumActive,
		NumHeld:   s.NumHeld,
		CallSetup: s.CallSetup,
	}

	t.mu.Lock()
	prev, have := t.lastCind, t.haveCind
	next.Service, next.Signal, next.Roam, next.Battery =
		prev.Service, prev.Signal, prev.Roam, prev.Battery
	t.lastCind = next
	t.haveCind = true
	t.mu.Unlock()

	var firstErr error
	send := func(ind, val int) {
		if err := t.writeLine(fmt.Sprintf("+CIEV: %d,%d", ind, val)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if !have || callIndicator(next) != callIndicator(prev) {
		send(2, callIndicator(next))
	}
	cs := callsetupIndicator(next.CallSetup)
	if !have || cs != callsetupIndicator(prev.CallSetup) {
		send(3, cs)
	}
	if !have || heldIndicator(next) != heldIndicator(prev) {
		send(4, heldIndicator(next))
	}

	switch s.CallSetup {
	case CallIncoming:
		if err := t.writeLine("RING"); err != nil && firstErr == nil {
			firstErr = err
		}
		if s.Number != "" {
			if err := t.writeLine(fmt.Sprintf(`+CLIP: "%s",%d`, s.Number, int(s.Type))); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	case CallWaiting:
		if err := t.writeLine(fmt.Sprintf(`+CCWA: "%s",%d`, s.Number, int(s.Type))); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *BluezTransport) DeviceStatus(s DeviceStatus) error {
	t.mu.Lock()
	prev, have := t.lastCind, t.haveCind
	next := prev
	next.Service, next.Signal, next.Roam, next.Battery = s.Service, s.Signal, s.Roam, s.Battery
	t.lastCind = next
	t.haveCind = true
	t.mu.Unlock()

	var firstErr error
	send := func(ind, val int) {
		if err := t.writeLine(fmt.Sprintf("+CIEV: %d,%d", ind, val)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if !have || s.Service != prev.Service {
		send(1, int(s.Service))
	}
	if !have || s.Signal != prev.Signal {
		send(5, s.Signal)
	}
	if !have || s.Roam != prev.Roam {
		send(6, int(s.Roam))
	}
	if !have || s.Battery != prev.Battery {
		send(7, s.Battery)
	}
	return firstErr
}

// ── indicator encoding ────────────────────────────────────────────────────

func callIndicator(v CindValues) int {
	if v.NumActive > 0 || v.NumHeld > 0 {
		return 1
	}
	return 0
}

func callsetupIndicator(s CallState) int {
	switch s {
	case CallIncoming, CallWaiting:
		return 1
	case CallDialing:
		return 2
	case CallAlerting:
		return 3
	default:
		return 0
	}
}

func heldIndicator(v CindValues) int {
	switch {
	case v.NumHeld > 0 && v.NumActive > 0:
		return 1
	case v.NumHeld > 0:
		return 2
	default:
		return 0
	}
}

func clccStateCode(s CallState) int {
	switch s {
	case CallActive:
		return 0
	case CallHeld:
		return 1
	case CallDialing:
		return 2
	case CallAlerting:
		return 3
	case CallIncoming:
		return 4
	case CallWaiting:
		return 5
	default:
		return 6
	}
}
