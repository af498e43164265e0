package bench

import "bytes"

// RecordPattern is repeated to build benchmark records.
const RecordPattern = "1234567890"

// DefaultRecordSize is the record size of the stock scenarios.
const DefaultRecordSize = 50

// NewRecord returns a record of size bytes cut from the repeated pattern.
func NewRecord(size int) []byte {
	if size <= 0 {
		return nil
	}
	reps := size/len(RecordPattern) + 1
	return bytes.Repeat([]byte(RecordPattern), reps)[:size]
}
