package hlsaudio

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidPlaylist = errors.New("invalid playlist")

// number part of a segment name, after the prefix
var segmentIndexRegex = regexp.MustCompile(`^(\d{3,})\.ts$`)

type Segment struct {
	Index    int
	Name     string
	Duration float64
}

type Playlist struct {
	SegmentLength float64
	Duration      float64
	Segments      []Segment
}

// SegmentName is the file name of the segment with given index.
func SegmentName(prefix string, index int) string {
	return fmt.Sprintf("%s%03d.ts", prefix, index)
}

// ParseSegmentIndex returns index of a segment by its file name. Only the
// name produced by SegmentName is accepted, zero padded aliases are not.
func ParseSegmentIndex(prefix string, name string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return 0, false
	}

	matches := segmentIndexRegex.FindStringSubmatch(suffix)
	if len(matches) != 2 {
		return 0, false
	}

	index, err := strconv.Atoi(matches[1])
	if err != nil || SegmentName(prefix, index) != name {
		return 0, false
	}

	return index, true
}

// NewPlaylist splits duration into segments of segmentLength, the last
// segment holds the remainder.
func NewPlaylist(duration, segmentLength float64, prefix string) (*Playlist, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %f", ErrInvalidPlaylist, duration)
	}
	if segmentLength <= 0 {
		return nil, fmt.Errorf("%w: segment length must be positive, got %f", ErrInvalidPlaylist, segmentLength)
	}

	count := int(math.Ceil(duration / segmentLength))
	segments := make([]Segment, count)
	for i := range segments {
		length := segmentLength
		if i == count-1 {
			length = duration - float64(i)*segmentLength
		}

		segments[i] = Segment{
			Index:    i,
			Name:     SegmentName(prefix, i),
			Duration: length,
		}
	}

	return &Playlist{
		SegmentLength: segmentLength,
		Duration:      duration,
		Segments:      segments,
	}, nil
}

func (p *Playlist) Len() int {
	return len(p.Segments)
}

func (p *Playlist) LastIndex() int {
	return len(p.Segments) - 1
}

func (p *Playlist) targetDuration() int {
	max := 0.0
	for _, segment := range p.Segments {
		if segment.Duration > max {
			max = segment.Duration
		}
	}
	return int(math.Ceil(max))
}

// Manifest renders the playlist as a complete VOD media playlist.
func (p *Playlist) Manifest() string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.targetDuration())
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")

	for _, segment := range p.Segments {
		fmt.Fprintf(&b, "#EXTINF:%.6f,\n", segment.Duration)
		b.WriteString(segment.Name + "\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

// ParseManifest reads back a manifest written by Manifest.
func ParseManifest(data string, prefix string) (*Playlist, error) {
	scanner := bufio.NewScanner(strings.NewReader(data))

	p := &Playlist{}
	var (
		header   bool
		ended    bool
		duration = -1.0
	)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "#EXTM3U":
			header = true
		case line == "#EXT-X-ENDLIST":
			ended = true
		case strings.HasPrefix(line, "#EXTINF:"):
			value := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.Index(value, ","); i >= 0 {
				value = value[:i]
			}

			d, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad segment duration: %v", ErrInvalidPlaylist, err)
			}
			duration = d
		case strings.HasPrefix(line, "#"):
			// other tags are derived
		default:
			if duration < 0 {
				return nil, fmt.Errorf("%w: segment %q without duration", ErrInvalidPlaylist, line)
			}

			index, ok := ParseSegmentIndex(prefix, line)
			if !ok || index != len(p.Segments) {
				return nil, fmt.Errorf("%w: unexpected segment %q", ErrInvalidPlaylist, line)
			}

			p.Segments = append(p.Segments, Segment{
				Index:    index,
				Name:     line,
				Duration: duration,
			})
			p.Duration += duration
			if duration > p.SegmentLength {
				p.SegmentLength = duration
			}
			duration = -1
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if !header || !ended || len(p.Segments) == 0 {
		return nil, fmt.Errorf("%w: incomplete manifest", ErrInvalidPlaylist)
	}

	return p, nil
}
