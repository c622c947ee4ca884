// Package types defines core data structures for the chronicle activity tracker.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Source identifies where a raw activity was observed.
type Source string

const (
	SourceCalendar Source = "calendar"
	SourceNotes    Source = "notes"
)

// IsValid returns true if the source is a known value.
func (s Source) IsValid() bool {
	return s == SourceCalendar || s == SourceNotes
}

// RawActivity is an atomic observation from a source, preserved verbatim
// for traceability. Ingestors create these; the tagger never mutates them.
type RawActivity struct {
	ID              int64           `json:"id"`
	Date            string          `json:"date"`           // YYYY-MM-DD, required
	Time            string          `json:"time,omitempty"` // HH:MM, empty for date-only events
	DurationMinutes int             `json:"duration_minutes"`
	Details         string          `json:"details"`
	Source          Source          `json:"source"`
	SourceEventID   string          `json:"source_event_id,omitempty"`
	SourceLink      string          `json:"source_link,omitempty"`
	SourcePayload   json.RawMessage `json:"source_payload,omitempty"` // opaque provider JSON
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Validate checks field constraints before persistence.
func (a *RawActivity) Validate() error {
	if !ValidDate(a.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", a.Date)
	}
	if a.Time != "" && !ValidTime(a.Time) {
		return fmt.Errorf("time must be HH:MM (got %q)", a.Time)
	}
	if a.DurationMinutes < 0 {
		return fmt.Errorf("duration_minutes cannot be negative (got %d)", a.DurationMinutes)
	}
	if !a.Source.IsValid() {
		return fmt.Errorf("invalid source: %s", a.Source)
	}
	if a.SourceEventID == "" && a.SourceLink == "" {
		return fmt.Errorf("either source_event_id or source_link is required")
	}
	return nil
}

// NotePage is a page in the external note workspace.
type NotePage struct {
	PageID       string    `json:"page_id"`
	Title        string    `json:"title"`
	URL          string    `json:"url,omitempty"`
	LastEditedAt time.Time `json:"last_edited_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NoteBlock is a node in a page's block tree. ParentBlockID is empty for
// top-level blocks; every non-empty parent resolves to a block on the same
// page. IsLeaf is true iff the block has no children, its type bears text,
// and the text is non-empty.
type NoteBlock struct {
	BlockID       string    `json:"block_id"`
	PageID        string    `json:"page_id"`
	ParentBlockID string    `json:"parent_block_id,omitempty"`
	BlockType     string    `json:"block_type"`
	IsLeaf        bool      `json:"is_leaf"`
	Text          string    `json:"text,omitempty"`
	Abstract      string    `json:"abstract,omitempty"` // set by the indexer, never by ingestion
	LastEditedAt  time.Time `json:"last_edited_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NoteBlockEdit is an append-only audit row recording when a block was edited.
type NoteBlockEdit struct {
	ID       int64     `json:"id"`
	BlockID  string    `json:"block_id"`
	EditedAt time.Time `json:"edited_at"`
}

// Embedding is the live vector for one (block, model) pair.
type Embedding struct {
	ID        int64     `json:"id"`
	BlockID   string    `json:"block_id"`
	Model     string    `json:"model"`
	Vector    []float32 `json:"-"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
}

// Tag is a curated category label. Name is unique and normalized to
// lowercase. UsageCount is derived: it always equals the number of
// activity_tags rows referencing the tag.
type Tag struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"` // #rrggbb
	UsageCount  int       `json:"usage_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks tag constraints. Name is expected to already be
// normalized (see NormalizeTagName).
func (t *Tag) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(t.Name) > 100 {
		return fmt.Errorf("name must be 100 characters or less (got %d)", len(t.Name))
	}
	if !tagNameRe.MatchString(t.Name) {
		return fmt.Errorf("name must be lowercase alphanumeric with dashes, underscores, or spaces (got %q)", t.Name)
	}
	if t.Color != "" && !ValidColor(t.Color) {
		return fmt.Errorf("color must match #rrggbb (got %q)", t.Color)
	}
	if t.UsageCount < 0 {
		return fmt.Errorf("usage_count cannot be negative")
	}
	return nil
}

// ProcessedActivity is a post-aggregation unit that carries tags. Today it
// wraps a single raw activity; the model admits grouping several.
type ProcessedActivity struct {
	ID                   int64     `json:"id"`
	Date                 string    `json:"date"`
	Time                 string    `json:"time,omitempty"`
	TotalDurationMinutes int       `json:"total_duration_minutes"`
	CombinedDetails      string    `json:"combined_details"`
	RawActivityIDs       []int64   `json:"raw_activity_ids"`
	Sources              []string  `json:"sources"`
	Tags                 []TagLink `json:"tags,omitempty"` // populated on read paths
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Validate enforces the non-empty raw id list and source set agreement.
func (p *ProcessedActivity) Validate() error {
	if !ValidDate(p.Date) {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", p.Date)
	}
	if len(p.RawActivityIDs) == 0 {
		return fmt.Errorf("raw_activity_ids cannot be empty")
	}
	if len(p.Sources) == 0 {
		return fmt.Errorf("sources cannot be empty")
	}
	for _, s := range p.Sources {
		if !Source(s).IsValid() {
			return fmt.Errorf("invalid source: %s", s)
		}
	}
	return nil
}

// TagLink is a tag attached to a processed activity with its confidence.
type TagLink struct {
	TagID      int64   `json:"tag_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ActivityTag links a processed activity to a tag. Unique per
// (processed_activity_id, tag_id).
type ActivityTag struct {
	ProcessedActivityID int64     `json:"processed_activity_id"`
	TagID               int64     `json:"tag_id"`
	Confidence          float64   `json:"confidence"`
	CreatedAt           time.Time `json:"created_at"`
}

// Validate checks the confidence range.
func (at *ActivityTag) Validate() error {
	if at.Confidence < 0 || at.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1] (got %g)", at.Confidence)
	}
	return nil
}

// TagAssignment is a tagger decision before persistence: a taxonomy tag
// name plus the confidence the cascade produced for it.
type TagAssignment struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// JobStatus is the lifecycle state of an asynchronous job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// IsValid returns true for a known job status.
func (s JobStatus) IsValid() bool {
	return s == JobRunning || s == JobCompleted || s == JobFailed
}

// JobCounters are the final counters published when a processing job ends.
type JobCounters struct {
	RawActivities          int     `json:"raw_activities"`
	ProcessedActivities    int     `json:"processed_activities"`
	UniqueTags             int     `json:"unique_tags"`
	AverageTagsPerActivity float64 `json:"average_tags_per_activity"`
	Failed                 int     `json:"failed,omitempty"`
}

// Job is the externally observable handle to an asynchronous operation.
// Mutated only by the owning worker; read by status endpoints.
type Job struct {
	JobID       string      `json:"job_id"`
	Kind        string      `json:"kind"`
	Status      JobStatus   `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Progress    float64     `json:"progress"` // [0,1]
	Counters    JobCounters `json:"counters"`
}

// ProgressSnapshot is the latest per-activity progress of a running job.
// Snapshots overwrite each other; consumers tolerate missed updates.
type ProgressSnapshot struct {
	JobID        string    `json:"job_id"`
	Status       JobStatus `json:"status"`
	Current      int       `json:"current"`
	Total        int       `json:"total"`
	ActivityText string    `json:"activity_text,omitempty"` // clipped to 200 chars
	Tags         []string  `json:"tags,omitempty"`          // clipped to 10
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Progress returns the completion fraction in [0,1] derived from
// Current/Total. A zero Total reports 0.
func (s *ProgressSnapshot) Progress() float64 {
	if s == nil || s.Total <= 0 {
		return 0
	}
	p := float64(s.Current) / float64(s.Total)
	if p > 1 {
		p = 1
	}
	return p
}

// ImportStatus reports per-source ingestion health for GET /import/status.
type ImportStatus struct {
	Source    string     `json:"source"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	LastCount int        `json:"last_count"`
	Healthy   bool       `json:"healthy"`
}

var (
	dateRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeRe    = regexp.MustCompile(`^\d{2}:\d{2}$`)
	colorRe   = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
	tagNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9 _-]*$`)
)

// ValidDate reports whether s is a real calendar date in YYYY-MM-DD form.
func ValidDate(s string) bool {
	if !dateRe.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// ValidTime reports whether s is a wall-clock time in HH:MM form.
func ValidTime(s string) bool {
	if !timeRe.MatchString(s) {
		return false
	}
	_, err := time.Parse("15:04", s)
	return err == nil
}

// ValidColor reports whether s is a #rrggbb hex color.
func ValidColor(s string) bool {
	return colorRe.MatchString(s)
}

// NormalizeTagName lowercases and trims a tag name so that two names
// differing only in case or surrounding space cannot coexist.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ValidTagName reports whether the already-normalized name satisfies the
// tag naming rules.
func ValidTagName(name string) bool {
	return name != "" && len(name) <= 100 && tagNameRe.MatchString(name)
}
