package protocol

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collectLines(t *testing.T, input string) []string {
	t.Helper()
	var got []string
	err := ReadLines(strings.NewReader(input), func(line []byte) error {
		got = append(got, string(line))
		return nil
	})
	if err != nil {
		t.Fatalf("ReadLines failed: %v", err)
	}
	return got
}

func TestReadLinesSplitsRecords(t *testing.T) {
	got := collectLines(t, "a\nb\r\n\n   \nc\n")
	want := []string{"a", "b", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadLinesTrailingPartialLine(t *testing.T) {
	got := collectLines(t, "first\nlast-without-newline")
	if len(got) != 2 || got[1] != "last-without-newline" {
		t.Fatalf("unexpected lines: %q", got)
	}
}

func TestReadLinesLongRecord(t *testing.T) {
	long := strings.Repeat("x", 256*1024)
	got := collectLines(t, long+"\n")
	if len(got) != 1 || len(got[0]) != len(long) {
		t.Fatalf("long record was not delivered intact")
	}
}

func TestReadLinesCallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadLines(strings.NewReader("a\nb\nc\n"), func(line []byte) error {
		calls++
		return stop
	})
	var cbErr *CallbackError
	if !errors.As(err, &cbErr) {
		t.Fatalf("expected CallbackError, got %v", err)
	}
	if !errors.Is(err, stop) {
		t.Fatalf("expected wrapped stop error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected reading to stop after first callback, got %d calls", calls)
	}
}

type failingReader struct {
	data string
	err  error
	done bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, r.err
	}
	r.done = true
	return copy(p, r.data), nil
}

func TestReadLinesReadError(t *testing.T) {
	boom := errors.New("pipe broke")
	var got []string
	err := ReadLines(&failingReader{data: "ok\npartial", err: boom}, func(line []byte) error {
		got = append(got, string(line))
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	var cbErr *CallbackError
	if errors.As(err, &cbErr) {
		t.Fatalf("read error must not be reported as callback error")
	}
	if len(got) != 2 {
		t.Fatalf("expected records before the failure to be delivered, got %q", got)
	}
}

func TestReadLinesEmptyInput(t *testing.T) {
	if got := collectLines(t, ""); len(got) != 0 {
		t.Fatalf("expected no lines, got %q", got)
	}
	if err := ReadLines(io.LimitReader(strings.NewReader("abc"), 0), func([]byte) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
