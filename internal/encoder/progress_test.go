package encoder

import (
	"math"
	"testing"
	"time"
)

func TestProgressParserFeed(t *testing.T) {
	parser := newProgressParser(100 * time.Second)
	tests := []struct {
		line   string
		want   float64
		wantOK bool
	}{
		{"frame=120", 0, false},
		{"out_time_us=25000000", 25, true},
		{"out_time_ms=50000000", 50, true},
		{"out_time=00:01:15.000000", 75, true},
		{"out_time_us=N/A", 0, false},
		{"out_time_us=250000000", 100, true},
		{"progress=continue", 0, false},
		{"progress=end", 100, true},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parser.Feed(tt.line)
		if ok != tt.wantOK {
			t.Fatalf("Feed(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
		}
		if ok && math.Abs(got-tt.want) > 0.0001 {
			t.Fatalf("Feed(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestProgressParserWithoutDuration(t *testing.T) {
	parser := newProgressParser(0)
	if _, ok := parser.Feed("out_time_us=1000000"); ok {
		t.Fatal("expected no percentage without a duration")
	}
	if pct, ok := parser.Feed("progress=end"); !ok || pct != 100 {
		t.Fatalf("progress=end should report 100, got %v %v", pct, ok)
	}
}

func TestParseClock(t *testing.T) {
	got, ok := parseClock("01:02:03.500000")
	if !ok {
		t.Fatal("parseClock failed")
	}
	want := time.Hour + 2*time.Minute + 3500*time.Millisecond
	if got != want {
		t.Fatalf("parseClock = %v, want %v", got, want)
	}
	if _, ok := parseClock("12:34"); ok {
		t.Fatal("expected failure for malformed clock")
	}
}
