package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDecodePatches(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"empty list", `[]`, false},
		{"toggle enabled", `[{"id":1,"enabled":false}]`, false},
		{"nested fields", `[{"id":2,"characteristics":{"Kc":0.8,"Dr":12},"irrigation":{"cycles":3},"schedule":{"sunriseOffset":-600}}]`, false},
		{"name is read-only", `[{"id":1,"name":"Front"}]`, true},
		{"sensor is read-only", `[{"id":1,"sensor":true}]`, true},
		{"isRunning is derived", `[{"id":1,"isRunning":true}]`, true},
		{"window is derived", `[{"id":1,"schedule":{"next":null}}]`, true},
		{"Dr_date is derived", `[{"id":1,"characteristics":{"Dr_date":"2024-01-01"}}]`, true},
		{"I is derived", `[{"id":1,"characteristics":{"I":4}}]`, true},
		{"unknown field", `[{"id":1,"colour":"green"}]`, true},
		{"missing id", `[{"enabled":true}]`, true},
		{"not an array", `{"id":1}`, true},
		{"wrong type", `[{"id":1,"enabled":"yes"}]`, true},
		{"negative Kc", `[{"id":1,"characteristics":{"Kc":-1}}]`, true},
		{"zero root depth", `[{"id":1,"characteristics":{"Zr":0}}]`, true},
		{"MAD above one", `[{"id":1,"characteristics":{"MAD":1.5}}]`, true},
		{"zero area", `[{"id":1,"irrigation":{"area":0}}]`, true},
		{"no emitters", `[{"id":1,"irrigation":{"emitterCount":0}}]`, true},
		{"efficiency above one", `[{"id":1,"irrigation":{"efficiency":1.2}}]`, true},
		{"zero cycles", `[{"id":1,"irrigation":{"cycles":0}}]`, true},
		{"negative soak", `[{"id":1,"irrigation":{"soakTime":-5}}]`, true},
		{"upper bounds", `[{"id":1,"irrigation":{"cycles":24,"soakTime":86400}}]`, false},
		{"too many cycles", `[{"id":1,"irrigation":{"cycles":1000000}}]`, true},
		{"soak over a day", `[{"id":1,"irrigation":{"soakTime":86401}}]`, true},
		{"zero default duration", `[{"id":1,"schedule":{"defaultDuration":0}}]`, true},
		{"bad weekday", `[{"id":1,"schedule":{"weekdays":[1,7]}}]`, true},
		{"trailing data", `[] []`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePatches(strings.NewReader(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodePatches() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPatch) {
				t.Errorf("error %v does not wrap ErrInvalidPatch", err)
			}
		})
	}
}

func TestPatchNormalizesWeekdays(t *testing.T) {
	patches, err := DecodePatches(strings.NewReader(`[{"id":1,"schedule":{"weekdays":[5,1,5,3,1]}}]`))
	if err != nil {
		t.Fatalf("DecodePatches() error = %v", err)
	}

	z := DefaultZone(1, "Lawn", false)
	patches[0].Apply(&z, at(10, 12, 0, 0))

	if want := []int{1, 3, 5}; !slices.Equal(z.Schedule.Weekdays, want) {
		t.Errorf("weekdays = %v, want %v", z.Schedule.Weekdays, want)
	}
}

func TestPatchApply(t *testing.T) {
	p, err := DecodePatch([]byte(`{"id":1,"configured":true,"characteristics":{"TAW":50,"Dr":80},"irrigation":{"area":12.5,"cycles":4},"schedule":{"adaptive":false}}`))
	if err != nil {
		t.Fatalf("DecodePatch() error = %v", err)
	}

	z := DefaultZone(1, "Lawn", true)
	z.Characteristics.I = 3
	z.Characteristics.DrDate = "2024-06-01"
	p.Apply(&z, at(10, 12, 0, 0))

	if !z.Configured {
		t.Error("configured not applied")
	}
	if z.Characteristics.TAW != 50 {
		t.Errorf("TAW = %v, want 50", z.Characteristics.TAW)
	}
	// Dr is clamped to the new TAW·Zr
	if z.Characteristics.Dr != 50 {
		t.Errorf("Dr = %v, want 50", z.Characteristics.Dr)
	}
	if z.Irrigation.Area != 12.5 || z.Irrigation.Cycles != 4 {
		t.Errorf("irrigation = %+v", z.Irrigation)
	}
	if z.Schedule.Adaptive {
		t.Error("adaptive not applied")
	}

	// Untouched fields
	if z.Name != "Lawn" || !z.Sensor || !z.Enabled {
		t.Errorf("identity changed: %+v", z)
	}
	// An entered Dr drops the irrigation credit and holds the daily update
	if z.Characteristics.I != 0 || z.Characteristics.DrDate != "2024-06-11" {
		t.Errorf("depletion not reset: %+v", z.Characteristics)
	}
	if z.Irrigation.SoakTime != 300 || z.Schedule.DefaultDuration != 1800 {
		t.Errorf("defaults changed: %+v %+v", z.Irrigation, z.Schedule)
	}
}

func TestPatchDepletion(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		today      time.Time
		wantDr     float64
		wantI      float64
		wantDrDate string
	}{
		{
			name:       "entered Dr is current",
			body:       `{"id":1,"characteristics":{"Dr":60}}`,
			today:      at(10, 12, 0, 0),
			wantDr:     60,
			wantI:      0,
			wantDrDate: "2024-06-11",
		},
		{
			name:       "zero Dr",
			body:       `{"id":1,"characteristics":{"Dr":0}}`,
			today:      at(10, 12, 0, 0),
			wantDr:     0,
			wantI:      0,
			wantDrDate: "2024-06-11",
		},
		{
			name:       "tomorrow follows the forecast zone",
			body:       `{"id":1,"characteristics":{"Dr":20}}`,
			today:      time.Date(2024, 6, 10, 23, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			wantDr:     20,
			wantI:      0,
			wantDrDate: "2024-06-11",
		},
		{
			name:       "other characteristics keep the tracked state",
			body:       `{"id":1,"characteristics":{"Kc":0.8}}`,
			today:      at(10, 12, 0, 0),
			wantDr:     40,
			wantI:      30,
			wantDrDate: "2024-06-10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := DecodePatch([]byte(tt.body))
			if err != nil {
				t.Fatalf("DecodePatch() error = %v", err)
			}

			z := adaptiveZone(40)
			z.Characteristics.I = 30
			z.Characteristics.DrDate = "2024-06-10"
			p.Apply(&z, tt.today)

			c := z.Characteristics
			if c.Dr != tt.wantDr || c.I != tt.wantI || c.DrDate != tt.wantDrDate {
				t.Errorf("Dr=%v I=%v Dr_date=%q, want Dr=%v I=%v Dr_date=%q",
					c.Dr, c.I, c.DrDate, tt.wantDr, tt.wantI, tt.wantDrDate)
			}
		})
	}
}

func TestPatchedDepletionSchedulesWithoutStaleCredit(t *testing.T) {
	p, err := DecodePatch([]byte(`{"id":1,"characteristics":{"Dr":60}}`))
	if err != nil {
		t.Fatalf("DecodePatch() error = %v", err)
	}

	z := adaptiveZone(0)
	z.Characteristics.I = 30
	z.Characteristics.DrDate = "2024-06-10"
	now := at(10, 1, 0, 0)
	p.Apply(&z, now)

	f := testForecast(5, 0)
	Advance(context.Background(), &z, f, now)

	want := Window{Start: at(10, 2, 55, 0), Duration: 7200}
	if got := z.Schedule.Next; got == nil || !got.Start.Equal(want.Start) || got.Duration != want.Duration {
		t.Errorf("window = %+v, want %+v", got, want)
	}
	if z.Characteristics.Dr != 60 {
		t.Errorf("Dr = %v after Advance, want 60", z.Characteristics.Dr)
	}
}
