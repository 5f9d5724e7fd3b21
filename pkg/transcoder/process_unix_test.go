//go:build !windows
// +build !windows

package transcoder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeTranscoder creates an executable script that stands in for ffmpeg.
func writeFakeTranscoder(t *testing.T, script string) (binary string, input string, dir string) {
	t.Helper()

	dir = t.TempDir()
	binary = filepath.Join(dir, "fake-ffmpeg")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"+script), 0755))

	input = filepath.Join(dir, "input.flac")
	require.NoError(t, os.WriteFile(input, []byte("audio"), 0644))

	return binary, input, dir
}

func TestProcessCooperativeStop(t *testing.T) {
	binary, input, dir := writeFakeTranscoder(t, `
printf 'size=N/A time=00:00:25.00 bitrate=N/A\r' >&2
printf 'size=N/A time=00:00:35.00 bitrate=N/A\n' >&2
read token
[ "$token" = "q" ] || exit 3
exit 0
`)

	p, err := Start(Config{
		FFmpegBinary:  binary,
		InputFilePath: input,
		OutputDirPath: dir,
	})
	require.NoError(t, err)
	assert.NotZero(t, p.Pid())
	assert.NotEmpty(t, p.ID())

	assert.Equal(t, "size=N/A time=00:00:25.00 bitrate=N/A", readLine(t, p))
	assert.Equal(t, "size=N/A time=00:00:35.00 bitrate=N/A", readLine(t, p))

	forced, err := Terminate(p, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, forced)

	// lines are closed before done
	_, ok := <-p.Lines()
	assert.False(t, ok)
	assert.NoError(t, p.Err())
}

func TestProcessForcedStop(t *testing.T) {
	binary, input, dir := writeFakeTranscoder(t, `
trap '' INT TERM
printf 'started\n' >&2
while true; do sleep 1; done
`)

	p, err := Start(Config{
		FFmpegBinary:  binary,
		InputFilePath: input,
		OutputDirPath: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "started", readLine(t, p))

	go func() {
		for range p.Lines() {
		}
	}()

	forced, err := Terminate(p, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Error(t, p.Err())
}

func TestProcessNonZeroExit(t *testing.T) {
	binary, input, dir := writeFakeTranscoder(t, `
printf 'Error opening input\n' >&2
exit 1
`)

	p, err := Start(Config{
		FFmpegBinary:  binary,
		InputFilePath: input,
		OutputDirPath: dir,
	})
	require.NoError(t, err)

	for range p.Lines() {
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Error(t, p.Err())

	// stopping an exited process is a no-op
	assert.NoError(t, p.RequestStop())
	assert.NoError(t, p.ForceStop())
}

func readLine(t *testing.T, p *Process) string {
	t.Helper()

	select {
	case line, ok := <-p.Lines():
		require.True(t, ok, "diagnostic stream closed")
		return line
	case <-time.After(5 * time.Second):
		t.Fatal("no diagnostic line received")
		return ""
	}
}
