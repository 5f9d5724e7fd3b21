package hlsaudio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fmtProgress(seconds int) string {
	return fmt.Sprintf("size=     512kB time=%02d:%02d:%02d.00 bitrate= 192.0kbits/s speed=24.1x",
		seconds/3600, seconds/60%60, seconds%60)
}

func TestParseProgressTime(t *testing.T) {
	tests := []struct {
		line    string
		elapsed float64
		ok      bool
	}{
		{"size=     512kB time=00:01:05.20 bitrate= 64.3kbits/s speed=22x", 65.2, true},
		{"size=N/A time=01:00:00.00 bitrate=N/A", 3600, true},
		{"time=00:00:09", 9, true},
		{"time= 00:00:30.50", 30.5, true},
		{"[segment @ 0x55] Opening 'stream004.ts' for writing", 0, false},
		{"time=N/A bitrate=N/A", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			elapsed, ok := ParseProgressTime(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.elapsed, elapsed, 0.0001)
		})
	}
}

func TestCompletedIndex(t *testing.T) {
	// segment 10s, lag 2
	assert.Equal(t, -2, CompletedIndex(0, 0, 10, 2))
	assert.Equal(t, -1, CompletedIndex(0, 19.9, 10, 2))
	assert.Equal(t, 0, CompletedIndex(0, 20, 10, 2))
	assert.Equal(t, 1, CompletedIndex(0, 35, 10, 2))

	// elapsed time is relative to the seek point
	assert.Equal(t, 49, CompletedIndex(40, 110, 10, 2))
	assert.Equal(t, 39, CompletedIndex(40, 15, 10, 2))
}

func TestSessionAdvance(t *testing.T) {
	s := newSession(10, 20, nil)

	s.advance(9)
	assert.Equal(t, -1, s.highest())
	assert.Empty(t, s.completedIndices())

	s.advance(12)
	assert.Equal(t, 12, s.highest())
	assert.Equal(t, []int{10, 11, 12}, s.completedIndices())

	// never moves backwards
	s.advance(11)
	assert.Equal(t, 12, s.highest())

	// capped at the last segment
	s.advance(99)
	assert.Equal(t, 20, s.highest())
	assert.Len(t, s.completedIndices(), 11)
	assert.False(t, s.isCompleted(9))
}

func TestSessionFinish(t *testing.T) {
	s := newSession(3, 7, nil)
	s.advance(4)
	s.finish()

	assert.Equal(t, 7, s.highest())
	assert.Equal(t, []int{3, 4, 5, 6, 7}, s.completedIndices())
	assert.Equal(t, 0, s.firstMissing())
}

func TestSessionInheritsCompleted(t *testing.T) {
	previous := newSession(0, 30, nil)
	previous.advance(4)

	s := newSession(20, 30, previous)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, s.completedIndices())
	assert.Equal(t, -1, s.highest())
	assert.Equal(t, 5, s.firstMissing())

	s.advance(22)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 20, 21, 22}, s.completedIndices())

	// previous is not affected
	assert.Len(t, previous.completedIndices(), 5)
}

func TestSessionStopAndExit(t *testing.T) {
	s := newSession(0, 5, nil)

	cancelled := false
	s.attach(func() { cancelled = true })
	require.True(t, s.running())

	done := s.stop()
	assert.True(t, cancelled)
	assert.True(t, s.isCancelled())
	assert.True(t, s.running(), "handle is cleared only on exit")

	s.exit(outcomeCancelled)
	<-done
	assert.False(t, s.running())
	assert.True(t, s.exited())
	assert.Equal(t, outcomeCancelled, s.getOutcome())
}
