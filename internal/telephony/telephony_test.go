package telephony

import "testing"

func TestPhoneTypeFromRadioTech(t *testing.T) {
	gsm := []string{"gsm", "gprs", "edge", "umts", "hspa", "hsdpa", "hsupa", "hspa+", "lte"}
	for _, tech := range gsm {
		if got := PhoneTypeFromRadioTech(tech); got != PhoneTypeGSM {
			t.Errorf("PhoneTypeFromRadioTech(%q) = %v, want gsm", tech, got)
		}
	}

	cdma := []string{"is95a", "is95b", "1xrtt", "evdo0", "evdoa", "evdob", "ehrpd"}
	for _, tech := range cdma {
		if got := PhoneTypeFromRadioTech(tech); got != PhoneTypeCDMA {
			t.Errorf("PhoneTypeFromRadioTech(%q) = %v, want cdma", tech, got)
		}
	}

	for _, tech := range []string{"", "wimax", "LTE"} {
		if got := PhoneTypeFromRadioTech(tech); got != PhoneTypeNone {
			t.Errorf("PhoneTypeFromRadioTech(%q) = %v, want none", tech, got)
		}
	}
}

func TestCallIndex(t *testing.T) {
	if Unassigned.Valid {
		t.Error("Unassigned reports Valid")
	}
	idx := Index(3)
	if !idx.Valid || idx.N != 3 {
		t.Errorf("Index(3) = %+v", idx)
	}
}

func TestDialerFunc(t *testing.T) {
	var got string
	d := DialerFunc(func(cmd string) { got = cmd })
	d.Command("ATA")
	if got != "ATA" {
		t.Errorf("DialerFunc forwarded %q, want ATA", got)
	}
}
