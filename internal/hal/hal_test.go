package hal

import "testing"

func TestCHnSetGainCode(t *testing.T) {
	cases := []struct {
		gain float64
		want byte
		ok   bool
	}{
		{1, 0x00, true},
		{2, 0x10, true},
		{4, 0x20, true},
		{6, 0x30, true},
		{8, 0x40, true},
		{12, 0x50, true},
		{24, 0x60, true},
		{3, 0, false},
	}
	for _, c := range cases {
		got, err := CHnSetGainCode(c.gain)
		if c.ok && err != nil {
			t.Errorf("CHnSetGainCode(%v) unexpected error: %v", c.gain, err)
		}
		if !c.ok && err == nil {
			t.Errorf("CHnSetGainCode(%v) expected error, got nil", c.gain)
		}
		if c.ok && got != c.want {
			t.Errorf("CHnSetGainCode(%v) = 0x%02x, want 0x%02x", c.gain, got, c.want)
		}
	}
}

func TestBusErrorFormatting(t *testing.T) {
	err := &BusError{Kind: KindTimeout, Detail: "drdy never asserted"}
	want := "hal: timeout: drdy never asserted"
	if got := err.Error(); got != want {
		t.Errorf("BusError.Error() = %q, want %q", got, want)
	}
}

func TestIDFamilyMask(t *testing.T) {
	id := byte(0x92) // family bits 1001, variant bits 0010
	if id&IDFamilyMask != IDFamilyExpected {
		t.Errorf("id 0x%02x masked with 0x%02x = 0x%02x, want 0x%02x", id, IDFamilyMask, id&IDFamilyMask, IDFamilyExpected)
	}
	bad := byte(0x12)
	if bad&IDFamilyMask == IDFamilyExpected {
		t.Errorf("id 0x%02x should not match expected family", bad)
	}
}
