package providers

import (
	"bufio"
	"io"
	"strings"
)

// SSEScanner reads "data:" payloads from a server-sent-events body.
// It is shared by the adapters that stream over SSE.
type SSEScanner struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// NewSSEScanner wraps a streaming response body.
func NewSSEScanner(body io.ReadCloser) *SSEScanner {
	scanner := bufio.NewScanner(body)
	// Provider chunks can exceed the default 64KB token limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEScanner{body: body, scanner: scanner}
}

// Next returns the next data payload. It skips comments, event-type lines,
// and blank keep-alives. Returns io.EOF when the stream ends or the
// provider sends the "[DONE]" sentinel.
func (s *SSEScanner) Next() (string, error) {
	if s.closed {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return "", io.EOF
		}
		return data, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close closes the underlying body.
func (s *SSEScanner) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
