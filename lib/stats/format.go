package stats

import (
	"fmt"
	"strings"
)

var (
	decimalUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}
	binaryUnits  = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}
)

// FormatBytes renders a byte count with two decimals, e.g. "1.50 KB".
// Binary mode uses powers of 1024 and IEC units. Negative values are "N/A".
func FormatBytes(bytes float64, binary bool) string {
	if bytes < 0 {
		return "N/A"
	}

	base, units := 1000.0, decimalUnits
	if binary {
		base, units = 1024.0, binaryUnits
	}

	unit := 0
	for bytes >= base && unit < len(units)-1 {
		bytes /= base
		unit++
	}
	return fmt.Sprintf("%.2f %s", bytes, units[unit])
}

// Sparkline renders values as a single line of block characters scaled
// between the minimum and the maximum of the series.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	const blocks = "▁▂▃▄▅▆▇█"
	levels := []rune(blocks)

	s := NewStats(values)
	span := s.Max - s.Min

	var sb strings.Builder
	for _, v := range values {
		idx := 0
		if span > 0 {
			idx = int((v - s.Min) / span * float64(len(levels)-1))
		}
		sb.WriteRune(levels[idx])
	}
	return sb.String()
}
