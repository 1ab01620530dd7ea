package track

import (
	"bufio"
	"encoding/json"
	"strings"
)

// ParseTextLog decodes a line-delimited text log into fixes. Each line is one
// compact positional fix array; blank lines, unparsable lines and fixes
// missing utc/lat/lon are dropped silently. Field devices write these logs
// to local storage and upload them in bulk after the fact, so partial
// corruption is routine.
func ParseTextLog(text string) []Fix {
	var fixes []Fix

	scanner := bufio.NewScanner(strings.NewReader(text))
	// Allow long lines; some loggers batch several seconds per line
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw []*json.Number
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}

		if f, ok := DecodeCompact(raw); ok {
			fixes = append(fixes, f)
		}
	}

	return fixes
}
