package alm

import "testing"

func TestExtractResultBalancedBraces(t *testing.T) {
	log := `some preamble text {"type":"result","result":"R"} trailing noise`
	got, ok := extractResult(log)
	if !ok {
		t.Fatal("expected a result to be found")
	}
	if got != "R" {
		t.Errorf("got %q, want %q", got, "R")
	}
}

func TestExtractResultIgnoresBracesInStrings(t *testing.T) {
	log := `{"type":"result","result":"contains a { brace } inside a string"}`
	got, ok := extractResult(log)
	if !ok {
		t.Fatal("expected a result to be found")
	}
	if got != "contains a { brace } inside a string" {
		t.Errorf("got %q", got)
	}
}

func TestExtractResultNoMatch(t *testing.T) {
	if _, ok := extractResult(`{"type":"progress","step":1}`); ok {
		t.Error("expected no result for a non-result object")
	}
}

func TestExtractResultUnterminatedObjectDoesNotHang(t *testing.T) {
	huge := make([]byte, 2*maxResultScan)
	for i := range huge {
		huge[i] = 'x'
	}
	huge[0] = '{'
	if _, ok := extractResult(string(huge)); ok {
		t.Error("expected no result for an unterminated object")
	}
}

func TestTruncateCommentUnderLimit(t *testing.T) {
	short := "hello"
	if got := truncateComment(short); got != short {
		t.Errorf("short string should pass through unchanged, got %q", got)
	}
}

func TestTruncateCommentOverLimit(t *testing.T) {
	long := make([]byte, 10001)
	for i := range long {
		long[i] = 'a'
	}
	got := truncateComment(string(long))
	wantPrefix := string(long[:9900])
	if got[:9900] != wantPrefix {
		t.Error("truncated prefix mismatch")
	}
	if got[9900:] != "\n\n... (truncated)" {
		t.Errorf("unexpected suffix: %q", got[9900:])
	}
}
