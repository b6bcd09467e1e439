package transport

import "testing"

func TestAddressTypeOf(t *testing.T) {
	tests := []struct {
		number string
		want   AddressType
	}{
		{"+886912345678", AddressInternational},
		{"0912345678", AddressUnknown},
		{"", AddressUnknown},
		{"*31#0912", AddressUnknown},
	}
	for _, tt := range tests {
		if got := AddressTypeOf(tt.number); got != tt.want {
			t.Errorf("AddressTypeOf(%q) = %d, want %d", tt.number, got, tt.want)
		}
	}
}

func TestEventName(t *testing.T) {
	tests := []struct {
		e    Event
		want string
	}{
		{ConnectionStateEvent{}, "connection_state"},
		{DialEvent{}, "dial"},
		{CallHoldEvent{}, "call_hold"},
		{UnknownAtEvent{}, "unknown_at"},
	}
	for _, tt := range tests {
		if got := Name(tt.e); got != tt.want {
			t.Errorf("Name(%T) = %q, want %q", tt.e, got, tt.want)
		}
	}
}

func TestSlcStateString(t *testing.T) {
	if SlcEstablished.String() != "slc_connected" {
		t.Errorf("SlcEstablished = %q", SlcEstablished.String())
	}
	if SlcDisconnected.String() != "disconnected" {
		t.Errorf("SlcDisconnected = %q", SlcDisconnected.String())
	}
}
