package hlsaudio

import (
	"math"
	"regexp"
	"strconv"
)

var progressRegex = regexp.MustCompile(`time=\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseProgressTime extracts elapsed seconds from a transcoder stats line,
// e.g. `size=  512kB time=00:01:05.20 bitrate= 64.3kbits/s`.
func ParseProgressTime(line string) (float64, bool) {
	matches := progressRegex.FindStringSubmatch(line)
	if len(matches) != 4 {
		return 0, false
	}

	hours, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, false
	}

	minutes, err := strconv.Atoi(matches[2])
	if err != nil {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(matches[3], 64)
	if err != nil {
		return 0, false
	}

	return float64(hours*3600+minutes*60) + seconds, true
}

// CompletedIndex maps elapsed transcoding time of a job that started at
// startSegment to the highest segment that is surely finalized. Result lower
// than startSegment means no segment is finalized yet.
func CompletedIndex(startSegment int, elapsed, segmentLength float64, lag int) int {
	produced := int(math.Floor(elapsed / segmentLength))
	return startSegment + produced - lag
}
