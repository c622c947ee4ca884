package tagger

import (
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/chronicle-dev/chronicle/internal/types"
)

// DecisionLog appends one JSONL record per tagging decision to a
// size-rotated file. A nil-path log discards everything, so callers never
// need to branch on whether the log is configured.
type DecisionLog struct {
	mu   sync.Mutex
	sink *lumberjack.Logger
}

// NewDecisionLog opens the JSONL log at path. An empty path disables the
// log.
func NewDecisionLog(path string) *DecisionLog {
	if path == "" {
		return &DecisionLog{}
	}
	return &DecisionLog{
		sink: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // MB
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// decisionRecord is the wire shape of one JSONL line.
type decisionRecord struct {
	Timestamp    time.Time             `json:"timestamp"`
	RawID        int64                 `json:"raw_id"`
	Date         string                `json:"date"`
	Source       string                `json:"source"`
	ActivityText string                `json:"activity_text"`
	Stage        string                `json:"stage"`
	Tags         []types.TagAssignment `json:"tags"`
	NeedsReview  bool                  `json:"needs_review"`
}

const logTextLimit = 200

// Record writes one decision. Write errors are swallowed: the audit log
// must never fail a tagging run.
func (d *DecisionLog) Record(raw *types.RawActivity, dec Decision) {
	if d.sink == nil {
		return
	}

	text := raw.Details
	if len(text) > logTextLimit {
		text = text[:logTextLimit]
	}
	line, err := json.Marshal(decisionRecord{
		Timestamp:    time.Now().UTC(),
		RawID:        raw.ID,
		Date:         raw.Date,
		Source:       string(raw.Source),
		ActivityText: text,
		Stage:        dec.Stage,
		Tags:         dec.Tags,
		NeedsReview:  dec.NeedsReview,
	})
	if err != nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink.Write(append(line, '\n'))
}

// Close flushes and closes the underlying file.
func (d *DecisionLog) Close() error {
	if d.sink == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sink.Close()
}
