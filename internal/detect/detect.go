// Package detect sniffs the head of the input stream so a missing -json flag
// is reported up front instead of as a run with zero tests.
package detect

import (
	"bytes"

	"github.com/dkoosis/ratewatch/pkg/testjson"
)

// SniffSize is how many bytes callers should peek before calling Sniff.
const SniffSize = 4096

// Format represents a recognized input format.
type Format int

const (
	Unknown    Format = iota
	GoTestJSON        // go test -json NDJSON stream
	GoTestText        // plain go test output, run without -json
)

// textPrefixes start lines that go test prints in its plain output.
var textPrefixes = [][]byte{
	[]byte("=== RUN"),
	[]byte("--- PASS"),
	[]byte("--- FAIL"),
	[]byte("--- SKIP"),
	[]byte("ok  \t"),
	[]byte("FAIL\t"),
	[]byte("?   \t"),
	[]byte("PASS"),
	[]byte("FAIL"),
}

// Sniff examines the first line of input to determine format. Leading blank
// lines are ignored.
func Sniff(data []byte) Format {
	data = bytes.TrimLeft(data, " \t\r\n")
	if len(data) == 0 {
		return Unknown
	}
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	line = bytes.TrimRight(line, "\r")

	if line[0] == '{' {
		if isGoTestJSON(line) {
			return GoTestJSON
		}
		return Unknown
	}
	for _, p := range textPrefixes {
		if bytes.HasPrefix(line, p) {
			return GoTestText
		}
	}
	return Unknown
}

func isGoTestJSON(line []byte) bool {
	event, err := testjson.ParseLine(line)
	if err != nil {
		return false
	}
	switch event.Action {
	case testjson.ActionStart, testjson.ActionRun, testjson.ActionPause, testjson.ActionCont,
		testjson.ActionPass, testjson.ActionBench, testjson.ActionFail, testjson.ActionOutput, testjson.ActionSkip,
		testjson.ActionBuildOutput, testjson.ActionBuildFail:
		return true
	}
	return false
}
