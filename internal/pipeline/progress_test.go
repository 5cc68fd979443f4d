package pipeline

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		read, size int64
		want       string
	}{
		{0, 1000, "0.00%"},
		{1, 3, "33.33%"},
		{2, 3, "66.67%"},
		{1000, 1000, "100.00%"},
		{10, 0, "0.00%"},
	}

	for _, tt := range tests {
		p := NewProgressReporter(&fixedSource{read: tt.read, size: tt.size}, 0, zap.NewNop())
		if got := fmt.Sprintf("%.2f%%", p.Percent()); got != tt.want {
			t.Errorf("%d/%d: expected %s, got %s", tt.read, tt.size, tt.want, got)
		}
	}
}

func TestProgressMaybeReport(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	src := &fixedSource{read: 0, size: 400}
	p := NewProgressReporter(src, 10*time.Second, zap.New(core))
	start := p.lastReport

	if p.MaybeReport(start.Add(9 * time.Second)) {
		t.Error("expected no report before the interval elapsed")
	}

	src.read = 100
	if !p.MaybeReport(start.Add(10 * time.Second)) {
		t.Error("expected report once the interval elapsed")
	}
	if p.MaybeReport(start.Add(15 * time.Second)) {
		t.Error("expected the interval to restart after a report")
	}
	if !p.MaybeReport(start.Add(20 * time.Second)) {
		t.Error("expected a second report after another interval")
	}

	entries := logs.FilterMessage("Progress").All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 progress entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["percent"] != "25.00%" {
		t.Errorf("expected 25.00%%, got %v", fields["percent"])
	}
	if fields["eta"] != 30*time.Second {
		t.Errorf("expected eta 30s, got %v", fields["eta"])
	}
}

func TestInputPosition(t *testing.T) {
	tests := []struct {
		name     string
		pos      inputPosition
		wantETA  time.Duration
		wantOK   bool
		wantRead float64
	}{
		{"nothing read", inputPosition{read: 0, size: 1 << 20, elapsed: time.Second}, 0, false, 0},
		{"no time elapsed", inputPosition{read: 10, size: 100, elapsed: 0}, 0, false, 0},
		{"finished", inputPosition{read: 100, size: 100, elapsed: time.Minute}, 0, false, 0},
		{"unknown size", inputPosition{read: 100, size: 0, elapsed: time.Minute}, 0, false, 0},
		{"half way", inputPosition{read: 3 << 20, size: 6 << 20, elapsed: 2 * time.Minute}, 2 * time.Minute, true, 3},
		{"rounded", inputPosition{read: 3, size: 10, elapsed: time.Second}, 2 * time.Second, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eta, ok := tt.pos.remaining()
			if ok != tt.wantOK || eta != tt.wantETA {
				t.Errorf("remaining() = %s, %v; expected %s, %v", eta, ok, tt.wantETA, tt.wantOK)
			}

			fields := map[string]bool{}
			for _, f := range tt.pos.fields() {
				fields[f.Key] = true
			}
			if fields["eta"] != tt.wantOK {
				t.Errorf("eta field present = %v, expected %v", fields["eta"], tt.wantOK)
			}
			if got := mebibytes(tt.pos.read); got != tt.wantRead {
				t.Errorf("read = %v MiB, expected %v", got, tt.wantRead)
			}
		})
	}
}
