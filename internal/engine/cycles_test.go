package engine

import (
	"testing"
	"time"
)

func TestSplitCycles(t *testing.T) {
	t0 := time.Date(2024, 6, 10, 4, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		duration int
		irr      Irrigation
		want     []Cycle
	}{
		{
			name:     "two cycles with soak",
			duration: 7200,
			irr:      Irrigation{Cycles: 2, SoakTime: 300},
			want: []Cycle{
				{Index: 1, Total: 2, Start: t0, Stop: t0.Add(3600 * time.Second), Duration: 3600, Remaining: 1},
				{Index: 2, Total: 2, Start: t0.Add(3900 * time.Second), Stop: t0.Add(7500 * time.Second), Duration: 3600, Remaining: 0},
			},
		},
		{
			name:     "single cycle",
			duration: 900,
			irr:      Irrigation{Cycles: 1, SoakTime: 600},
			want: []Cycle{
				{Index: 1, Total: 1, Start: t0, Stop: t0.Add(900 * time.Second), Duration: 900, Remaining: 0},
			},
		},
		{
			name:     "zero cycles treated as one",
			duration: 60,
			irr:      Irrigation{Cycles: 0},
			want: []Cycle{
				{Index: 1, Total: 1, Start: t0, Stop: t0.Add(time.Minute), Duration: 60, Remaining: 0},
			},
		},
		{
			name:     "no duration",
			duration: 0,
			irr:      Irrigation{Cycles: 2},
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitCycles(tt.duration, tt.irr, t0)

			if len(got) != len(tt.want) {
				t.Fatalf("got %d cycles, want %d", len(got), len(tt.want))
			}
			for i := range got {
				g, w := got[i], tt.want[i]
				if g.Index != w.Index || g.Total != w.Total || g.Duration != w.Duration || g.Remaining != w.Remaining {
					t.Errorf("cycle %d = %+v, want %+v", i, g, w)
				}
				if !g.Start.Equal(w.Start) || !g.Stop.Equal(w.Stop) {
					t.Errorf("cycle %d runs %v-%v, want %v-%v", i, g.Start, g.Stop, w.Start, w.Stop)
				}
			}
		})
	}
}

func TestSplitCyclesHardwareCeiling(t *testing.T) {
	irr := Irrigation{Cycles: 1, SoakTime: 300}
	got := SplitCycles(10000, irr, time.Now())

	if len(got) != 3 {
		t.Fatalf("got %d cycles, want 3", len(got))
	}
	for _, c := range got {
		if c.Duration >= MaxCycleDuration {
			t.Errorf("cycle %d runs %d s, ceiling is %d", c.Index, c.Duration, MaxCycleDuration)
		}
		if c.Total != 3 {
			t.Errorf("cycle %d total = %d, want 3", c.Index, c.Total)
		}
	}
	if got[0].Duration != 3333 {
		t.Errorf("per cycle = %d, want 3333", got[0].Duration)
	}
	if irr.Cycles != 1 {
		t.Errorf("configured cycles changed to %d", irr.Cycles)
	}
}
