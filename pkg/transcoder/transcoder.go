package transcoder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/audiohls/internal/metrics"
	"github.com/m1k1o/audiohls/internal/utils"
)

// quit token understood by ffmpeg on stdin
const quitToken = "q\n"

type Process struct {
	logger zerolog.Logger
	id     string
	cmd    *exec.Cmd

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	lines chan string
	done  chan struct{}
	err   error
}

func Args(config Config) []string {
	config = config.withDefaultValues()
	profile := config.AudioProfile

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-stats", // progress is written to stderr even with low loglevel
	}

	// Seek to start point, zero is not fed to `-ss`.
	if startAt := config.StartOffset(); startAt > 0 {
		args = append(args, []string{
			"-ss", fmt.Sprintf("%.6f", startAt),
		}...)
	}

	// Input specs
	args = append(args, []string{
		"-i", config.InputFilePath,
		"-map", "0:a:0", // first audio stream only
		"-vn", "-sn", "-dn",
	}...)

	// Audio specs
	args = append(args, []string{
		"-c:a", profile.Codec,
		"-b:a", fmt.Sprintf("%dk", profile.Bitrate),
		"-ar", fmt.Sprintf("%d", profile.SampleRate),
		"-ac", fmt.Sprintf("%d", profile.Channels),
	}...)

	// Segmenting specs
	args = append(args, []string{
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%.6f", config.SegmentLength),
		"-segment_format", "mpegts",
		"-segment_start_number", fmt.Sprintf("%d", config.StartSegment),
		OutputPattern(config.OutputDirPath, config.SegmentPrefix),
	}...)

	return args
}

// OutputPattern is the printf style path the transcoder writes segments to.
func OutputPattern(outputDir, segmentPrefix string) string {
	return path.Join(outputDir, segmentPrefix+"%03d.ts")
}

// Start spawns the transcoder. Lines of its diagnostic output are delivered
// on Lines, which is closed before Done.
func Start(config Config) (*Process, error) {
	config = config.withDefaultValues()

	if _, err := os.Stat(config.InputFilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, config.InputFilePath)
		}
		return nil, err
	}

	id := uuid.NewString()
	p := &Process{
		logger: log.With().
			Str("module", "transcoder").
			Str("job", id).
			Int("start-segment", config.StartSegment).
			Logger(),
		id:    id,
		lines: make(chan string, 16),
		done:  make(chan struct{}),
	}

	p.cmd = exec.Command(config.FFmpegBinary, Args(config)...)
	p.cmd.Dir = config.OutputDirPath
	p.cmd.Stdout = utils.LogWriter(p.logger, zerolog.DebugLevel)
	configureProcessGroup(p.cmd)

	var err error
	p.stdin, err = p.cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("unable to start transcoder: %w", err)
	}

	p.logger.Info().
		Int("pid", p.cmd.Process.Pid).
		Float64("offset", config.StartOffset()).
		Msg("transcode process started")

	go p.wait(stderr)

	return p, nil
}

func (p *Process) wait(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}

	if err := scanner.Err(); err != nil {
		p.logger.Err(err).Msg("error while reading transcoder stderr")
	}

	close(p.lines)

	// stderr must be fully read before waiting
	p.err = p.cmd.Wait()
	if p.err != nil {
		p.logger.Warn().Err(p.err).Msg("transcode process exited with error")
	} else {
		p.logger.Info().Msg("transcode process successfully finished")
	}

	p.stdinMu.Lock()
	_ = p.stdin.Close()
	p.stdinMu.Unlock()

	close(p.done)
}

func (p *Process) ID() string {
	return p.id
}

func (p *Process) Pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Lines is the diagnostic stream of the transcoder.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Err is the exit error, only valid after Done is closed.
func (p *Process) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// RequestStop asks the transcoder to finish gracefully.
func (p *Process) RequestStop() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	p.logger.Debug().Msg("requesting cooperative stop")
	_, err := io.WriteString(p.stdin, quitToken)
	if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EPIPE) {
		return nil
	}
	return err
}

// ForceStop kills the transcoder together with its process group.
func (p *Process) ForceStop() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return ErrNotStarted
	}

	select {
	case <-p.done:
		return nil
	default:
	}

	p.logger.Debug().Msg("performing forced stop")
	return killProcessGroup(p.cmd)
}

// Stop performs cooperative stop and escalates after grace.
func (p *Process) Stop(grace time.Duration) error {
	forced, err := Terminate(p, grace)
	metrics.IncTranscoderStop(forced, err)
	return err
}
