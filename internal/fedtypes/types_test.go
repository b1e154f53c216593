package fedtypes

import "testing"

func TestThreshold(t *testing.T) {
	cases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{4, 3},
		{7, 5},
		{10, 7},
		{13, 9},
	}
	for _, c := range cases {
		if got := Threshold(c.n); got != c.want {
			t.Errorf("Threshold(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}

func TestClassifyHealth(t *testing.T) {
	cases := []struct {
		n, online int
		want      FederationHealth
	}{
		{1, 0, HealthOnline},
		{4, 4, HealthOnline},
		{4, 3, HealthDegraded},
		{4, 2, HealthOffline},
		{7, 6, HealthOnline},
		{7, 5, HealthDegraded},
		{7, 4, HealthOffline},
		{7, 3, HealthOffline},
	}
	for _, c := range cases {
		if got := ClassifyHealth(c.n, c.online); got != c.want {
			t.Errorf("ClassifyHealth(%d, %d) = %s, want %s", c.n, c.online, got, c.want)
		}
	}
}

func TestHash32_RoundTrip(t *testing.T) {
	h, err := ParseHash32("00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("ParseHash32: %v", err)
	}
	if h.String() != "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff" {
		t.Errorf("String round-trip mismatch: %s", h.String())
	}

	encoded, err := h.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var h2 Hash32
	if err := h2.UnmarshalJSON(encoded); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if h2 != h {
		t.Errorf("UnmarshalJSON mismatch: got %s, want %s", h2, h)
	}
}

func TestParseHash32_WrongLength(t *testing.T) {
	if _, err := ParseHash32("ab"); err == nil {
		t.Fatal("expected error for short hash")
	}
}

func TestParseHash32_NotHex(t *testing.T) {
	if _, err := ParseHash32("not-hex-at-all-not-hex-at-all-not-hex!!"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}
