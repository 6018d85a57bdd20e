package tui

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flowbike/ebike-monitor/internal/reading"
)

func combine(t *testing.T, profile, live string) *reading.Reading {
	t.Helper()
	var liveRaw json.RawMessage
	if live != "" {
		liveRaw = json.RawMessage(live)
	}
	r, err := reading.Combine(json.RawMessage(profile), liveRaw)
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	return r
}

func TestPlainDisplayer_Reading(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		live    string
		want    []string
		notWant []string
	}{
		{
			name:    "live data",
			profile: `{"data":{"attributes":{"batteries":[{"batteryLevel":80,"totalEnergy":500,"isCharging":true}],"driveUnit":{"lock":{"isLocked":true}}}}}`,
			live:    `{"reachableRange":[20,35.5],"odometer":1234567,"stateOfChargeLatestUpdate":"2025-06-01T10:00:00Z"}`,
			want: []string{
				"LIVE DATA AVAILABLE",
				"Battery Level:      80%",
				"Total Capacity:     500.0 Wh",
				"Charging:           CHARGING",
				"Reachable Range:    [20, 35.5] km (per assist mode)",
				"Last Update:        2025-06-01T10:00:00Z",
				"Total Distance:     1234.6 km",
				"Lock Status:        LOCKED",
			},
		},
		{
			name:    "unknown range entry",
			profile: `{"data":{"attributes":{"batteries":[{"batteryLevel":80}]}}}`,
			live:    `{"reachableRange":[null,42]}`,
			want:    []string{"Reachable Range:    [?, 42] km (per assist mode)"},
		},
		{
			name:    "offline",
			profile: `{"data":{"attributes":{"batteries":[{"totalEnergy":500}]}}}`,
			want: []string{
				"No live data (bike offline)",
				"Battery Level:      unknown",
				"Charging:           unknown",
			},
			notWant: []string{"Reachable Range", "Last Update"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewPlainDisplayer(&buf).Reading(combine(t, tt.profile, tt.live), time.Unix(0, 0).UTC())

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("output unexpectedly contains %q", w)
				}
			}
		})
	}
}

func TestPlainDisplayer_StatusSaved(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)
	d.StatusSaved("latest_battery_status.json", false)
	d.StatusSaved("battery_status_20250601_100000.json", true)

	out := buf.String()
	if !strings.Contains(out, "Status saved to latest_battery_status.json (no live data yet)") {
		t.Errorf("missing offline message:\n%s", out)
	}
	if !strings.Contains(out, "Live data saved to battery_status_20250601_100000.json") {
		t.Errorf("missing live message:\n%s", out)
	}
}

func TestModel_StatusLogIsBounded(t *testing.T) {
	m := NewModel()
	for i := 0; i < maxStatusLines+5; i++ {
		next, _ := m.Update(MsgCycleFailed{Err: errors.New("timeout")})
		m = next.(Model)
	}
	if len(m.statusLines) != maxStatusLines {
		t.Errorf("status lines = %d, want %d", len(m.statusLines), maxStatusLines)
	}
}

func TestModel_ReadingFlow(t *testing.T) {
	m := NewModel()
	r := combine(t, `{"data":{"attributes":{"batteries":[{"batteryLevel":55}]}}}`, "")

	steps := []any{
		MsgBikeSelected{Bike: Bike{ID: "b1", Name: "Cube (...1234)"}},
		MsgFetching{},
		MsgReading{Reading: r, At: time.Now()},
	}
	for _, msg := range steps {
		next, _ := m.Update(msg)
		m = next.(Model)
	}

	if m.state != stateWaiting {
		t.Errorf("state = %v, want waiting", m.state)
	}
	view := m.viewMain()
	for _, want := range []string{"Cube (...1234)", "55%", "No live data"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}

	next, _ := m.Update(MsgFatal{Err: errors.New("token rejected")})
	m = next.(Model)
	if m.state != stateError || !strings.Contains(m.viewError(), "token rejected") {
		t.Errorf("fatal not rendered: state=%v", m.state)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 10*time.Minute, "2h 10m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
