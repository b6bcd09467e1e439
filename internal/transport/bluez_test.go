//go:build linux

package transport

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	dbus "github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

func newTestTransport() (*BluezTransport, *bytes.Buffer) {
	var buf bytes.Buffer
	t := &BluezTransport{
		log:    zap.NewNop(),
		events: make(chan Event, eventChanSize),
		w:      bufio.NewWriter(&buf),
	}
	return t, &buf
}

func (t *BluezTransport) drainEvents() []Event {
	var out []Event
	for {
		select {
		case e := <-t.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestScanAtLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("AT+BRSF=254\rATA\r\nAT+CHUP\r"))
	sc.Split(scanAtLines)

	var lines []string
	for sc.Scan() {
		if s := sc.Text(); s != "" {
			lines = append(lines, s)
		}
	}
	want := []string{"AT+BRSF=254", "ATA", "AT+CHUP"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestMacFromPath(t *testing.T) {
	got := macFromPath(dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"))
	if got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("macFromPath = %q", got)
	}
	if macFromPath(dbus.ObjectPath("/org/bluez/hci0")) != "" {
		t.Errorf("non-device path should yield empty address")
	}
}

func TestDevicePath(t *testing.T) {
	got := devicePath("AA:BB:CC:DD:EE:FF")
	if got != dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF") {
		t.Errorf("devicePath = %q", got)
	}
}

func TestHandleLineHandshakeServedLocally(t *testing.T) {
	tr, buf := newTestTransport()

	tr.handleLine("AT+BRSF=254")
	tr.handleLine("AT+CIND=?")
	tr.handleLine("AT+CMER=3,0,0,1")
	tr.handleLine("AT+CHLD=?")

	out := buf.String()
	for _, want := range []string{"+BRSF: 239", "+CIND: (\"service\"", "+CHLD: (0,1,2,3)", "OK"} {
		if !strings.Contains(out, want) {
			t.Errorf("handshake output missing %q:\n%s", want, out)
		}
	}

	events := tr.drainEvents()
	if len(events) != 1 {
		t.Fatalf("events = %v, want just the SLC establishment", events)
	}
	if e, ok := events[0].(ConnectionStateEvent); !ok || e.State != SlcEstablished {
		t.Errorf("event = %+v, want SLC established", events[0])
	}

	// A repeated CMER never re-raises the establishment.
	tr.handleLine("AT+CMER=3,0,0,1")
	if extra := tr.drainEvents(); len(extra) != 0 {
		t.Errorf("repeated CMER raised %v", extra)
	}
}

func TestHandleLineCallControl(t *testing.T) {
	tr, _ := newTestTransport()

	tr.handleLine("ATA")
	tr.handleLine("AT+CHUP")
	tr.handleLine("AT+BLDN")
	tr.handleLine("ATD0912345678;")
	tr.handleLine("AT+VGS=7")
	tr.handleLine("AT+VTS=#")
	tr.handleLine("AT+CHLD=1")
	tr.handleLine("AT+NREC=0")
	tr.handleLine("AT+BCS=2")
	tr.handleLine("AT+BOGUS")

	events := tr.drainEvents()
	want := []Event{
		AnswerCallEvent{},
		HangupCallEvent{},
		DialEvent{},
		DialEvent{Number: "0912345678;"},
		VolumeEvent{Type: VolumeSpeaker, Level: 7},
		DtmfEvent{Digit: '#'},
		CallHoldEvent{Chld: 1},
		NrecEvent{Enabled: false},
		WbsEvent{Enabled: true},
		UnknownAtEvent{Command: "AT+BOGUS"},
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}

func TestHandleLineImmediateResultCodes(t *testing.T) {
	tr, buf := newTestTransport()

	// These commands get no result code from the manager, so the transport
	// acknowledges them itself.
	tr.handleLine("ATA")
	tr.handleLine("AT+CHUP")
	tr.handleLine("AT+VTS=5")
	tr.handleLine("AT+NREC=0")
	if got := strings.Count(buf.String(), "OK"); got != 4 {
		t.Errorf("OK count = %d, want 4:\n%s", got, buf.String())
	}
	if n := len(tr.drainEvents()); n != 4 {
		t.Errorf("events = %d, want 4", n)
	}

	// Deferred-response commands stay silent here; the manager owns their
	// result codes.
	buf.Reset()
	tr.handleLine("AT+BLDN")
	tr.handleLine("ATD0912345678;")
	tr.handleLine("AT+CHLD=1")
	tr.handleLine("AT+CLCC")
	if buf.Len() != 0 {
		t.Errorf("transport answered a deferred-response command:\n%s", buf.String())
	}
	tr.drainEvents()
}

func TestHandleLineMalformedArguments(t *testing.T) {
	tr, buf := newTestTransport()

	tr.handleLine("AT+VGS=loud")
	tr.handleLine("AT+VTS=12")
	tr.handleLine("AT+CHLD=x")

	if events := tr.drainEvents(); len(events) != 0 {
		t.Errorf("malformed commands raised %v", events)
	}
	if got := strings.Count(buf.String(), "ERROR"); got != 3 {
		t.Errorf("ERROR count = %d, want 3:\n%s", got, buf.String())
	}
}

func TestPhoneStateChangeDiffsCiev(t *testing.T) {
	tr, buf := newTestTransport()

	// First push: nothing sent yet, every call-related indicator goes out,
	// plus RING and +CLIP for the incoming call.
	err := tr.PhoneStateChange(PhoneState{
		CallSetup: CallIncoming,
		Number:    "0912345678",
		Type:      AddressUnknown,
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"+CIEV: 2,0", "+CIEV: 3,1", "+CIEV: 4,0", "RING", `+CLIP: "0912345678",129`} {
		if !strings.Contains(out, want) {
			t.Errorf("first push missing %q:\n%s", want, out)
		}
	}

	// Same snapshot again: no indicator changed, only the ring repeats.
	buf.Reset()
	if err := tr.PhoneStateChange(PhoneState{
		CallSetup: CallIncoming,
		Number:    "0912345678",
		Type:      AddressUnknown,
	}); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); strings.Contains(out, "+CIEV") {
		t.Errorf("unchanged indicators re-sent:\n%s", out)
	}

	// Answer: call goes active, callsetup clears.
	buf.Reset()
	if err := tr.PhoneStateChange(PhoneState{NumActive: 1, CallSetup: CallIdle}); err != nil {
		t.Fatal(err)
	}
	out = buf.String()
	if !strings.Contains(out, "+CIEV: 2,1") || !strings.Contains(out, "+CIEV: 3,0") {
		t.Errorf("answer push = %q, want call and callsetup updates", out)
	}
	if strings.Contains(out, "+CIEV: 4,") {
		t.Errorf("held indicator re-sent without change:\n%s", out)
	}
}

func TestPhoneStateChangeWaiting(t *testing.T) {
	tr, buf := newTestTransport()

	if err := tr.PhoneStateChange(PhoneState{NumActive: 1, CallSetup: CallIdle}); err != nil {
		t.Fatal(err)
	}
	buf.Reset()

	if err := tr.PhoneStateChange(PhoneState{
		NumActive: 1,
		CallSetup: CallWaiting,
		Number:    "+886912345678",
		Type:      AddressInternational,
	}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `+CCWA: "+886912345678",145`) {
		t.Errorf("waiting push missing +CCWA:\n%s", out)
	}
	if strings.Contains(out, "RING") {
		t.Errorf("waiting call produced RING:\n%s", out)
	}
}

func TestDeviceStatusDiffs(t *testing.T) {
	tr, buf := newTestTransport()

	err := tr.DeviceStatus(DeviceStatus{Service: NetworkAvailable, Signal: 4, Roam: ServiceHome, Battery: 5})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"+CIEV: 1,1", "+CIEV: 5,4", "+CIEV: 6,0", "+CIEV: 7,5"} {
		if !strings.Contains(out, want) {
			t.Errorf("initial status missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := tr.DeviceStatus(DeviceStatus{Service: NetworkAvailable, Signal: 2, Roam: ServiceHome, Battery: 5}); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); strings.TrimSpace(out) != "+CIEV: 5,2" {
		t.Errorf("delta status = %q, want only the signal update", strings.TrimSpace(out))
	}
}

func TestSendCindFormat(t *testing.T) {
	tr, buf := newTestTransport()

	err := tr.SendCind(CindValues{
		Service:   NetworkAvailable,
		NumActive: 1,
		NumHeld:   1,
		CallSetup: CallIdle,
		Signal:    3,
		Roam:      ServiceRoaming,
		Battery:   4,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != "+CIND: 1,1,0,1,3,1,4" {
		t.Errorf("SendCind = %q", got)
	}
}

func TestSendClccFormat(t *testing.T) {
	tr, buf := newTestTransport()

	err := tr.SendClcc(ClccEntry{
		Index:     1,
		Direction: DirectionIncoming,
		State:     CallWaiting,
		Number:    "0912345678",
		Type:      AddressUnknown,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != `+CLCC: 1,1,5,0,0,"0912345678",129` {
		t.Errorf("SendClcc = %q", got)
	}
}

func TestIndicatorEncoding(t *testing.T) {
	if callIndicator(CindValues{NumHeld: 1}) != 1 {
		t.Error("held-only snapshot should set the call indicator")
	}
	if callIndicator(CindValues{}) != 0 {
		t.Error("idle snapshot should clear the call indicator")
	}

	held := []struct {
		v    CindValues
		want int
	}{
		{CindValues{NumActive: 1, NumHeld: 1}, 1},
		{CindValues{NumHeld: 1}, 2},
		{CindValues{NumActive: 1}, 0},
	}
	for _, tt := range held {
		if got := heldIndicator(tt.v); got != tt.want {
			t.Errorf("heldIndicator(%+v) = %d, want %d", tt.v, got, tt.want)
		}
	}

	setup := map[CallState]int{
		CallIncoming: 1, CallWaiting: 1, CallDialing: 2, CallAlerting: 3, CallIdle: 0, CallActive: 0,
	}
	for s, want := range setup {
		if got := callsetupIndicator(s); got != want {
			t.Errorf("callsetupIndicator(%v) = %d, want %d", s, got, want)
		}
	}
}
