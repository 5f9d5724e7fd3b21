package hlsaudio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m1k1o/audiohls/pkg/transcoder"
)

var errKilled = errors.New("signal: killed")

type fakeJob struct {
	config     transcoder.Config
	honorStop  bool
	ignoreKill bool
	onExit     func()

	mu     sync.Mutex
	closed bool
	err    error
	lines  chan string
	done   chan struct{}

	stops int32
	kills int32
}

func (j *fakeJob) emit(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.closed {
		j.lines <- line
	}
}

func (j *fakeJob) progress(seconds int) {
	j.emit(fmtProgress(seconds))
}

func (j *fakeJob) exit(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}

	if j.onExit != nil {
		j.onExit()
	}

	j.closed = true
	j.err = err
	close(j.lines)
	close(j.done)
}

func (j *fakeJob) RequestStop() error {
	atomic.AddInt32(&j.stops, 1)
	if j.honorStop {
		j.exit(nil)
	}
	return nil
}

func (j *fakeJob) ForceStop() error {
	atomic.AddInt32(&j.kills, 1)
	if !j.ignoreKill {
		j.exit(errKilled)
	}
	return nil
}

func (j *fakeJob) Done() <-chan struct{} { return j.done }
func (j *fakeJob) Lines() <-chan string  { return j.lines }

func (j *fakeJob) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

type fakeStarter struct {
	honorStop  bool
	ignoreKill bool
	err        error

	mu        sync.Mutex
	jobs      []*fakeJob
	active    int
	maxActive int
}

func (f *fakeStarter) start(config transcoder.Config) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	job := &fakeJob{
		config:     config,
		honorStop:  f.honorStop,
		ignoreKill: f.ignoreKill,
		lines:      make(chan string, 64),
		done:       make(chan struct{}),
	}
	job.onExit = func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}

	f.jobs = append(f.jobs, job)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}

	return job, nil
}

func (f *fakeStarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.jobs)
}

func (f *fakeStarter) job(i int) *fakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.jobs[i]
}

func (f *fakeStarter) last() *fakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.jobs[len(f.jobs)-1]
}

func (f *fakeStarter) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.maxActive
}

type fakeProber struct {
	duration time.Duration
	err      error
	calls    int32
}

func (f *fakeProber) probe(ctx context.Context, ffprobeBinary string, inputFilePath string) (*transcoder.ProbeAudioData, error) {
	atomic.AddInt32(&f.calls, 1)

	// let concurrent callers pile up
	time.Sleep(10 * time.Millisecond)

	if f.err != nil {
		return nil, f.err
	}
	return &transcoder.ProbeAudioData{Duration: f.duration}, nil
}

func testConfig(dir string, starter *fakeStarter, prober *fakeProber) *Config {
	return &Config{
		MediaPath:    "/media/track.flac",
		TranscodeDir: dir,
		PollInterval: 5 * time.Millisecond,
		PollAttempts: 40,
		StopGrace:    50 * time.Millisecond,
		KillTimeout:  50 * time.Millisecond,
		StartJob:     starter.start,
		ProbeAudio:   prober.probe,
	}
}

func newTestManager(t *testing.T, duration time.Duration) (*ManagerCtx, *fakeStarter) {
	t.Helper()

	starter := &fakeStarter{honorStop: true}
	prober := &fakeProber{duration: duration}

	m := New(testConfig(t.TempDir(), starter, prober), nil)
	t.Cleanup(m.Stop)

	return m, starter
}

func requireReady(t *testing.T, m *ManagerCtx, index int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return m.isReady(index)
	}, time.Second, time.Millisecond, "segment %d never became ready", index)
}

func requireExited(t *testing.T, job *fakeJob) {
	t.Helper()

	select {
	case <-job.Done():
	case <-time.After(time.Second):
		t.Fatal("job did not exit")
	}
}
