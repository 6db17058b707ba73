package providers

import (
	"io"
	"strings"
	"testing"
)

func TestSSEScanner_Next(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		": comment line\n" +
			"event: message\n" +
			"data: {\"first\":1}\n" +
			"\n" +
			"data:{\"second\":2}\n" +
			"data: [DONE]\n" +
			"data: {\"never\":true}\n"))
	s := NewSSEScanner(body)
	defer s.Close()

	first, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if first != `{"first":1}` {
		t.Errorf("Unexpected first payload: %q", first)
	}

	second, err := s.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if second != `{"second":2}` {
		t.Errorf("Unexpected second payload: %q", second)
	}

	// [DONE] ends the stream even with more data behind it.
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Expected EOF at [DONE], got %v", err)
	}
}

func TestSSEScanner_EOFWithoutSentinel(t *testing.T) {
	s := NewSSEScanner(io.NopCloser(strings.NewReader("data: {\"only\":1}\n")))
	defer s.Close()

	if _, err := s.Next(); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Expected EOF at end of body, got %v", err)
	}
}

func TestSSEScanner_NextAfterClose(t *testing.T) {
	s := NewSSEScanner(io.NopCloser(strings.NewReader("data: {\"a\":1}\n")))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("Expected EOF after Close, got %v", err)
	}
	// Double close is a no-op.
	if err := s.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}
