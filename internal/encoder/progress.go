package encoder

import (
	"strconv"
	"strings"
)

// progressParser reads the key=value stream of ffmpeg -progress.
type progressParser struct {
	durationSeconds float64
}

// parse returns the encoded fraction for an out_time line, and end=true on the
// final progress=end marker. ok is false for lines that carry neither.
func (p progressParser) parse(line string) (fraction float64, end bool, ok bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// both keys are microseconds
		if p.durationSeconds <= 0 {
			return 0, false, false
		}
		us, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false, false
		}
		return clampFraction(us / 1e6 / p.durationSeconds), false, true
	case "progress":
		if value == "end" {
			return 1, true, true
		}
	}
	return 0, false, false
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
