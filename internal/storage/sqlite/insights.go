package sqlite

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/chronicle-dev/chronicle/internal/types"
)

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

// Overview aggregates processed activities in the date range. Activities
// carrying several tags count fully toward each, so percentages are
// computed against the per-tag total rather than total tracked time.
func (s *Store) Overview(ctx context.Context, dateStart, dateEnd string) (*types.Overview, error) {
	var (
		conds []string
		args  []any
	)
	conds, args = dateRange(conds, args, "date", dateStart, dateEnd)
	where := whereClause(conds)

	var (
		count        int
		totalMinutes int
	)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_duration_minutes), 0) FROM processed_activities`+where,
		args...,
	).Scan(&count, &totalMinutes); err != nil {
		return nil, wrapDBError("overview totals", err)
	}

	var (
		tagConds []string
		tagArgs  []any
	)
	tagConds, tagArgs = dateRange(tagConds, tagArgs, "pa.date", dateStart, dateEnd)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.name, COALESCE(SUM(pa.total_duration_minutes), 0)
		FROM tags t
		JOIN activity_tags at ON at.tag_id = t.id
		JOIN processed_activities pa ON pa.id = at.processed_activity_id`+
		whereClause(tagConds)+` GROUP BY t.id, t.name`,
		tagArgs...,
	)
	if err != nil {
		return nil, wrapDBError("overview tag distribution", err)
	}
	defer rows.Close()

	dist := make(map[string]int)
	for rows.Next() {
		var (
			name    string
			minutes int
		)
		if err := rows.Scan(&name, &minutes); err != nil {
			return nil, wrapDBError("scan overview tag", err)
		}
		dist[name] = minutes
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("overview tag distribution", err)
	}

	taggedTotal := 0
	for _, m := range dist {
		taggedTotal += m
	}
	pct := make(map[string]float64, len(dist))
	for name, m := range dist {
		if taggedTotal > 0 {
			pct[name] = round1(float64(m) / float64(taggedTotal) * 100)
		} else {
			pct[name] = 0
		}
	}

	top := make([]types.TagHours, 0, len(dist))
	for name, m := range dist {
		top = append(top, types.TagHours{Tag: name, Hours: round1(float64(m) / 60)})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Hours != top[j].Hours {
			return top[i].Hours > top[j].Hours
		}
		return top[i].Tag < top[j].Tag
	})
	if len(top) > 5 {
		top = top[:5]
	}

	return &types.Overview{
		TotalTrackedHours:   round1(float64(totalMinutes) / 60),
		ActivityCount:       count,
		UniqueTags:          len(dist),
		TagTimeDistribution: dist,
		TagPercentages:      pct,
		TopActivities:       top,
		DateRange:           types.DateRange{Start: dateStart, End: dateEnd},
	}, nil
}

// mondayOf returns the Monday of t's week.
func mondayOf(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return t.AddDate(0, 0, -(wd - 1))
}

func bucketKey(date string, groupBy types.GroupBy) string {
	switch groupBy {
	case types.GroupByWeek:
		t, err := time.Parse("2006-01-02", date)
		if err != nil {
			return date
		}
		return mondayOf(t).Format("2006-01-02")
	case types.GroupByMonth:
		if len(date) >= 7 {
			return date[:7]
		}
		return date
	default:
		return date
	}
}

// TimeDistribution builds a bucketed time series over the range. Buckets
// are keyed by day, by the Monday of the week, or by YYYY-MM. The daily
// average only counts days with tracked activity.
func (s *Store) TimeDistribution(ctx context.Context, dateStart, dateEnd string, groupBy types.GroupBy) (*types.TimeDistribution, error) {
	if !groupBy.IsValid() {
		groupBy = types.GroupByDay
	}

	var (
		conds []string
		args  []any
	)
	conds, args = dateRange(conds, args, "date", dateStart, dateEnd)

	rows, err := s.db.QueryContext(ctx, `
		SELECT date, COALESCE(SUM(total_duration_minutes), 0)
		FROM processed_activities`+whereClause(conds)+` GROUP BY date`,
		args...,
	)
	if err != nil {
		return nil, wrapDBError("time distribution totals", err)
	}
	defer rows.Close()

	dayTotals := make(map[string]int)
	for rows.Next() {
		var (
			date    string
			minutes int
		)
		if err := rows.Scan(&date, &minutes); err != nil {
			return nil, wrapDBError("scan day total", err)
		}
		dayTotals[date] = minutes
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("time distribution totals", err)
	}

	var (
		tagConds []string
		tagArgs  []any
	)
	tagConds, tagArgs = dateRange(tagConds, tagArgs, "pa.date", dateStart, dateEnd)

	tagRows, err := s.db.QueryContext(ctx, `
		SELECT pa.date, t.name, COALESCE(SUM(pa.total_duration_minutes), 0)
		FROM processed_activities pa
		JOIN activity_tags at ON at.processed_activity_id = pa.id
		JOIN tags t ON t.id = at.tag_id`+
		whereClause(tagConds)+` GROUP BY pa.date, t.name`,
		tagArgs...,
	)
	if err != nil {
		return nil, wrapDBError("time distribution breakdown", err)
	}
	defer tagRows.Close()

	type dateTag struct{ date, tag string }
	tagMinutes := make(map[dateTag]int)
	for tagRows.Next() {
		var (
			key     dateTag
			minutes int
		)
		if err := tagRows.Scan(&key.date, &key.tag, &minutes); err != nil {
			return nil, wrapDBError("scan tag breakdown", err)
		}
		tagMinutes[key] = minutes
	}
	if err := tagRows.Err(); err != nil {
		return nil, wrapDBError("time distribution breakdown", err)
	}

	buckets := make(map[string]*types.TimeBucket)
	for date, minutes := range dayTotals {
		key := bucketKey(date, groupBy)
		b, ok := buckets[key]
		if !ok {
			b = &types.TimeBucket{Date: key, TagBreakdown: make(map[string]int)}
			buckets[key] = b
		}
		b.TotalMinutes += minutes
	}
	for key, minutes := range tagMinutes {
		bk := bucketKey(key.date, groupBy)
		if b, ok := buckets[bk]; ok {
			b.TagBreakdown[key.tag] += minutes
		}
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	series := make([]types.TimeBucket, 0, len(keys))
	for _, k := range keys {
		series = append(series, *buckets[k])
	}

	totalMinutes := 0
	mostProductive := ""
	for date, minutes := range dayTotals {
		totalMinutes += minutes
		if mostProductive == "" ||
			minutes > dayTotals[mostProductive] ||
			(minutes == dayTotals[mostProductive] && date < mostProductive) {
			mostProductive = date
		}
	}

	summary := types.TimeDistributionSummary{
		TotalPeriodHours:  round1(float64(totalMinutes) / 60),
		MostProductiveDay: mostProductive,
	}
	if len(dayTotals) > 0 {
		summary.AverageDailyHours = round1(float64(totalMinutes) / 60 / float64(len(dayTotals)))
	}

	return &types.TimeDistribution{TimeSeries: series, Summary: summary}, nil
}

// Stats reports table counts and the observed activity date range.
func (s *Store) Stats(ctx context.Context) (*types.SystemStats, error) {
	stats := &types.SystemStats{BySource: make(map[string]int)}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM raw_activities`, &stats.RawActivities},
		{`SELECT COUNT(*) FROM processed_activities`, &stats.ProcessedActivities},
		{`SELECT COUNT(*) FROM tags`, &stats.Tags},
		{`SELECT COUNT(*) FROM note_pages`, &stats.NotePages},
		{`SELECT COUNT(*) FROM note_blocks`, &stats.NoteBlocks},
		{`SELECT COUNT(*) FROM note_blocks WHERE is_leaf = 1`, &stats.LeafBlocks},
		{`SELECT COUNT(*) FROM embeddings`, &stats.Embeddings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, wrapDBError("system stats", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, COUNT(*) FROM raw_activities GROUP BY source`)
	if err != nil {
		return nil, wrapDBError("system stats by source", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, wrapDBError("scan source count", err)
		}
		stats.BySource[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("system stats by source", err)
	}

	var minDate, maxDate sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date) FROM raw_activities`,
	).Scan(&minDate, &maxDate); err != nil {
		return nil, wrapDBError("system stats date range", err)
	}
	if minDate.Valid && maxDate.Valid {
		stats.ActivityDateRange = &types.DateRange{Start: minDate.String, End: maxDate.String}
	}

	version, err := SchemaVersion(s.db)
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version
	return stats, nil
}
