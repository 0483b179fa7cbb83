package storage

import "time"

// sortableTimeLayout stores timestamps as fixed-width UTC text with a
// zero-padded nanosecond fraction. Queries compare these columns with SQL
// string comparison, so every stored value must have identical width;
// RFC3339Nano strips trailing fraction zeros and breaks that ordering.
const sortableTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTimeLayout)
}

// parseTime accepts both the fixed-width layout and plain RFC 3339 values
// with shorter fractions.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
