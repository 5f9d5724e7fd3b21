package transcoder

import "bytes"

// ScanLines is a bufio.SplitFunc that treats both \n and \r as line
// terminators. ffmpeg rewrites its stats line in place using \r.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		// treat \r\n as a single terminator
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			return i + 2, data[:i], nil
		}
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	// request more data
	return 0, nil, nil
}
