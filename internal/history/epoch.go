package history

import (
	"github.com/legion-dev/legion/internal/errors"
	"github.com/legion-dev/legion/internal/logging"
)

// NextEpoch derives the next compaction epoch from a minion's full history.
//
// The scan is a single pass: a compacted summary carrying a valid positive
// epoch raises the running maximum; a legacy compacted summary with no
// epoch field counts as exactly one epoch; a boundary marker on a
// non-compacted message is malformed and skipped with a warning. The result
// is always maxSeen+1 and asserted positive.
func NextEpoch(msgs []Message, logger *logging.Logger) int {
	if logger == nil {
		logger = logging.NopLogger()
	}

	running := 0
	for i := range msgs {
		m := &msgs[i]
		if !m.CompactionBoundary {
			continue
		}
		if !m.Compacted.IsSet() {
			logger.Warn("skipping malformed compaction boundary on non-compacted message",
				"history_sequence", m.HistorySequence)
			continue
		}
		if m.CompactionEpoch > 0 {
			if m.CompactionEpoch > running {
				running = m.CompactionEpoch
			}
		} else {
			// Legacy summary written before epochs were recorded.
			running++
		}
	}

	next := running + 1
	errors.Assertf(next > 0, "computed non-positive compaction epoch %d", next)
	return next
}

// LatestBoundaryIndex returns the index of the newest well-formed compaction
// boundary in msgs, or -1 when history has never been compacted.
func LatestBoundaryIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsCompactedSummary() {
			return i
		}
	}
	return -1
}
