package domain

import (
	"regexp"
	"time"
)

// eventTimePattern matches the UTC timestamp most of our producers prefix lines with
var eventTimePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z`)

// LogEntry is a single forwarded line
type LogEntry struct {
	Message        string `json:"message"`
	TimestampNanos *int64 `json:"timestamp_nanos,omitempty"`
}

// LogBatch is the payload handed to a publisher
type LogBatch struct {
	SystemTimeNanoseconds uint64            `json:"system_time_nanoseconds"`
	Logs                  []LogEntry        `json:"logs"`
	Labels                map[string]string `json:"labels,omitempty"`
	Source                string            `json:"source,omitempty"`
}

// NewLogBatch builds a batch from raw lines captured at captureTime
func NewLogBatch(captureTime time.Time, source string, labels map[string]string, lines []string) *LogBatch {
	entries := make([]LogEntry, 0, len(lines))
	for _, line := range lines {
		entries = append(entries, LogEntry{
			Message:        line,
			TimestampNanos: ExtractTimestamp(line),
		})
	}

	return &LogBatch{
		SystemTimeNanoseconds: uint64(captureTime.UnixNano()),
		Logs:                  entries,
		Labels:                labels,
		Source:                source,
	}
}

// ExtractTimestamp returns the first YYYY-MM-DDTHH:MM:SSZ timestamp found in line
// as nanoseconds since the Unix epoch, or nil when there is none
func ExtractTimestamp(line string) *int64 {
	match := eventTimePattern.FindString(line)
	if match == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339, match)
	if err != nil {
		// Pattern matched but the date is impossible (e.g. month 13)
		return nil
	}

	nanos := t.UnixNano()
	return &nanos
}
