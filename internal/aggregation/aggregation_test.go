package aggregation

import (
	"testing"
	"time"

	"github.com/rawblock/fedobserver/internal/store"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestZeroFillActivity_FillsGaps(t *testing.T) {
	since := day(2026, 1, 1)
	rows := []store.ActivityDayRow{
		{Day: day(2026, 1, 1), TxCount: 3, PegInMsat: 1000},
		{Day: day(2026, 1, 3), TxCount: 1, PegInMsat: 500},
	}

	out := zeroFillActivity(since, 3, rows)
	if len(out) != 3 {
		t.Fatalf("expected 3 days, got %d", len(out))
	}
	if out[0].TxCount != 3 || out[0].PegInMsat != 1000 {
		t.Errorf("day 0 = %+v", out[0])
	}
	if out[1].TxCount != 0 || out[1].PegInMsat != 0 {
		t.Errorf("day 1 (gap) = %+v, want zero", out[1])
	}
	if out[2].TxCount != 1 || out[2].PegInMsat != 500 {
		t.Errorf("day 2 = %+v", out[2])
	}
}

func TestZeroFillActivity_NoRows(t *testing.T) {
	out := zeroFillActivity(day(2026, 1, 1), 5, nil)
	if len(out) != 5 {
		t.Fatalf("expected 5 days, got %d", len(out))
	}
	for i, d := range out {
		if d.TxCount != 0 || d.PegInMsat != 0 {
			t.Errorf("day %d = %+v, want zero", i, d)
		}
	}
}
