package alm

import (
	"encoding/json"
)

// maxResultScan bounds the balanced-brace scan so an unterminated object
// in a runaway log stream cannot allocate unbounded memory (spec 9
// re-architecture note, 1 MiB cap).
const maxResultScan = 1 << 20

// resultEnvelope is the minimal shape the spec names: a JSON object
// somewhere in the log text of the form {"type":"result", ..., "result":"R"}.
type resultEnvelope struct {
	Type   string `json:"type"`
	Result string `json:"result"`
}

// extractResult implements the "first {"type":"result", ...} object,
// balanced-brace extraction" rule of spec 4.3 "Exit handling" / law L5.
// It scans log for the first balanced JSON object (every '{' is a
// candidate start, so objects nested inside others are found too) whose
// decoded "type" field equals "result", using a small state machine over brace depth and
// quoted-string/escape handling, and returns its "result" field. Returns
// ("", false) if no such object is found within the size cap.
func extractResult(log string) (string, bool) {
	n := len(log)
	if n > maxResultScan {
		n = maxResultScan
	}
	data := log[:n]

	for i := 0; i < len(data); i++ {
		if data[i] != '{' {
			continue
		}
		end, ok := scanBalancedObject(data, i)
		if !ok {
			continue
		}
		candidate := data[i:end]
		var env resultEnvelope
		if err := json.Unmarshal([]byte(candidate), &env); err != nil {
			continue
		}
		if env.Type == "result" {
			return env.Result, true
		}
	}
	return "", false
}

// scanBalancedObject returns the exclusive end index of the balanced `{...}`
// object starting at start, tracking quoted-string state (including
// backslash-escape runs) so braces inside string literals are ignored.
// Returns (0, false) if the object never balances within the scan window.
func scanBalancedObject(data string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(data); i++ {
		c := data[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// truncateComment applies the posting truncation rule of law L5: when
// len(R) > 10000, post R[:9900] + "\n\n... (truncated)" instead.
func truncateComment(r string) string {
	if len(r) <= 10000 {
		return r
	}
	return r[:9900] + "\n\n... (truncated)"
}
