package health

import (
	"testing"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

func TestBlockOutdated(t *testing.T) {
	cases := []struct {
		our, peer uint64
		want      bool
	}{
		{100, 100, false},
		{100, 95, false},
		{100, 93, true},
		{100, 94, false},
		{100, 101, false},
	}
	for _, c := range cases {
		if got := BlockOutdated(c.our, c.peer); got != c.want {
			t.Errorf("BlockOutdated(%d, %d) = %v, want %v", c.our, c.peer, got, c.want)
		}
	}
}

func TestSessionOutdated(t *testing.T) {
	cases := []struct {
		max, peer uint64
		want      bool
	}{
		{10, 10, false},
		{10, 9, false},
		{10, 8, true},
	}
	for _, c := range cases {
		if got := SessionOutdated(c.max, c.peer); got != c.want {
			t.Errorf("SessionOutdated(%d, %d) = %v, want %v", c.max, c.peer, got, c.want)
		}
	}
}

func TestRollupFederationHealth(t *testing.T) {
	cases := []struct {
		name  string
		peers []bool
		want  fedtypes.FederationHealth
	}{
		{"single guardian always online", []bool{false}, fedtypes.HealthOnline},
		{"4 of 4 online", []bool{true, true, true, true}, fedtypes.HealthOnline},
		{"3 of 4 online (==t)", []bool{true, true, true, false}, fedtypes.HealthDegraded},
		{"2 of 4 online (<t)", []bool{true, true, false, false}, fedtypes.HealthOffline},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := RollupFederationHealth(c.peers); got != c.want {
				t.Errorf("got %s, want %s", got, c.want)
			}
		})
	}
}
