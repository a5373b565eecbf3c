package encoder

import (
	"strconv"
	"strings"
	"time"
)

// progressParser turns ffmpeg "-progress" key=value lines into percentages.
type progressParser struct {
	duration time.Duration
}

func newProgressParser(duration time.Duration) *progressParser {
	return &progressParser{duration: duration}
}

// Feed consumes one line and returns a percentage when the line carries
// positional information. Without a known duration only "progress=end"
// produces a value.
func (p *progressParser) Feed(line string) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	value = strings.TrimSpace(value)
	switch key {
	case "progress":
		if value == "end" {
			return 100, true
		}
		return 0, false
	case "out_time_us", "out_time_ms":
		// ffmpeg reports out_time_ms in microseconds as well.
		micros, err := strconv.ParseInt(value, 10, 64)
		if err != nil || micros < 0 {
			return 0, false
		}
		return p.percent(time.Duration(micros) * time.Microsecond)
	case "out_time":
		elapsed, ok := parseClock(value)
		if !ok {
			return 0, false
		}
		return p.percent(elapsed)
	}
	return 0, false
}

func (p *progressParser) percent(elapsed time.Duration) (float64, bool) {
	if p.duration <= 0 {
		return 0, false
	}
	pct := float64(elapsed) / float64(p.duration) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

// parseClock parses HH:MM:SS(.fraction).
func parseClock(value string) (time.Duration, bool) {
	value = strings.TrimPrefix(value, "-")
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	total += time.Duration(seconds * float64(time.Second))
	return total, true
}
