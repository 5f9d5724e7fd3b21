package transcoder

import (
	"fmt"
	"time"
)

// Terminate runs the two phase stop protocol: the quit token is sent and
// the process gets grace to exit, then its process group is killed.
// It returns whether the process had to be killed.
func Terminate(h Handle, grace time.Duration) (forced bool, err error) {
	return TerminateTimeout(h, grace, DefaultKillTimeout)
}

// TerminateTimeout is Terminate with a bound on how long a killed process
// can take to disappear. ErrKillFailed means it may still be running.
func TerminateTimeout(h Handle, grace, killTimeout time.Duration) (forced bool, err error) {
	select {
	case <-h.Done():
		return false, nil
	default:
	}

	// a failed quit request is not fatal, kill follows
	_ = h.RequestStop()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.Done():
		return false, nil
	case <-timer.C:
	}

	if err := h.ForceStop(); err != nil {
		return true, fmt.Errorf("unable to force stop: %w", err)
	}

	select {
	case <-h.Done():
		return true, nil
	case <-time.After(killTimeout):
		return true, ErrKillFailed
	}
}
