package types

// ActivityFilter narrows raw activity listings. Empty fields are ignored.
// DateStart > DateEnd yields an empty result, not an error.
type ActivityFilter struct {
	Source    Source
	DateStart string
	DateEnd   string
	Limit     int
	Offset    int
}

// ProcessedFilter narrows processed activity listings. Tags filters to
// activities carrying at least one of the named tags.
type ProcessedFilter struct {
	DateStart string
	DateEnd   string
	Tags      []string
	Limit     int
	Offset    int
}

// TagSort is the sort key for tag listings.
type TagSort string

const (
	TagSortName       TagSort = "name"
	TagSortUsageCount TagSort = "usage_count"
	TagSortCreatedAt  TagSort = "created_at"
)

// IsValid returns true for a known sort key.
func (s TagSort) IsValid() bool {
	return s == TagSortName || s == TagSortUsageCount || s == TagSortCreatedAt
}

// TagListOptions controls tag listings.
type TagListOptions struct {
	SortBy TagSort
	Limit  int
	Offset int
}

// Overview is the aggregate served by GET /insights/overview.
type Overview struct {
	TotalTrackedHours   float64            `json:"total_tracked_hours"`
	ActivityCount       int                `json:"activity_count"`
	UniqueTags          int                `json:"unique_tags"`
	TagTimeDistribution map[string]int     `json:"tag_time_distribution"` // tag → minutes
	TagPercentages      map[string]float64 `json:"tag_percentages"`       // tag → percent
	TopActivities       []TagHours         `json:"top_5_activities"`
	DateRange           DateRange          `json:"date_range"`
}

// TagHours pairs a tag with its total tracked hours.
type TagHours struct {
	Tag   string  `json:"tag"`
	Hours float64 `json:"hours"`
}

// DateRange is an inclusive date window.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// GroupBy buckets a time distribution series.
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

// IsValid returns true for a known grouping.
func (g GroupBy) IsValid() bool {
	return g == GroupByDay || g == GroupByWeek || g == GroupByMonth
}

// TimeBucket is one point in a time distribution series.
type TimeBucket struct {
	Date         string         `json:"date"`
	TotalMinutes int            `json:"total_minutes"`
	TagBreakdown map[string]int `json:"tag_breakdown"`
}

// TimeDistribution is the payload of GET /insights/time-distribution.
type TimeDistribution struct {
	TimeSeries []TimeBucket            `json:"time_series"`
	Summary    TimeDistributionSummary `json:"summary"`
}

// TimeDistributionSummary aggregates a time distribution series.
type TimeDistributionSummary struct {
	TotalPeriodHours  float64 `json:"total_period_hours"`
	AverageDailyHours float64 `json:"average_daily_hours"`
	MostProductiveDay string  `json:"most_productive_day,omitempty"`
}

// SystemStats is the payload of GET /system/stats.
type SystemStats struct {
	RawActivities       int            `json:"raw_activities"`
	ProcessedActivities int            `json:"processed_activities"`
	Tags                int            `json:"tags"`
	NotePages           int            `json:"note_pages"`
	NoteBlocks          int            `json:"note_blocks"`
	LeafBlocks          int            `json:"leaf_blocks"`
	Embeddings          int            `json:"embeddings"`
	BySource            map[string]int `json:"by_source"`
	ActivityDateRange   *DateRange     `json:"activity_date_range,omitempty"`
	SchemaVersion       int            `json:"schema_version"`
}
