package service

import (
	"context"
	"math"
	"sort"
	"strings"
)

const sampleValueLimit = 5

// FieldStats describes the fill quality of one field across a session's
// combined dataset.
type FieldStats struct {
	Name                 string   `json:"name"`
	TotalCount           int      `json:"total_count"`
	FilledCount          int      `json:"filled_count"`
	EmptyCount           int      `json:"empty_count"`
	CompletionPercentage float64  `json:"completion_percentage"`
	UniqueCount          int      `json:"unique_count"`
	SampleValues         []string `json:"sample_values"`
}

// FieldCompletionReport summarizes data quality for a session: which fields
// the scrape actually filled and how consistently. Fields are ordered by
// completion percentage, best first, so the least-populated fields surface at
// the bottom of a dashboard table.
type FieldCompletionReport struct {
	SessionID         string       `json:"session_id"`
	TotalRecords      int          `json:"total_records"`
	TotalFields       int          `json:"total_fields"`
	AverageCompletion float64      `json:"average_completion"`
	Fields            []FieldStats `json:"fields"`
}

// AnalyticsService computes read-only statistics over a session's combined
// dataset. Like the progress reporter it never mutates anything.
type AnalyticsService struct {
	sessions SessionStore
	records  RecordStore
}

// NewAnalyticsService creates a new AnalyticsService.
// Parameters:
//   - sessions: session store.
//   - records: combined-record store.
//
// Returns:
//   - *AnalyticsService: initialized service.
func NewAnalyticsService(sessions SessionStore, records RecordStore) *AnalyticsService {
	return &AnalyticsService{sessions: sessions, records: records}
}

// FieldCompletion builds the per-field data quality report for a session. A
// field counts as filled when its value is non-empty after trimming; sample
// values are the first few distinct filled values in dataset order.
// Parameters:
//   - ctx: request context.
//   - sessionID: session to analyze.
//
// Returns:
//   - *FieldCompletionReport: the report; empty dataset yields zero fields.
//   - error: domain.ErrSessionNotFound if the session does not exist.
func (s *AnalyticsService) FieldCompletion(ctx context.Context, sessionID string) (*FieldCompletionReport, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	records, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	decoded := make([]map[string]string, 0, len(records))
	names := make(map[string]struct{})
	for i := range records {
		fields, err := decodeFields(&records[i])
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, fields)
		for name := range fields {
			names[name] = struct{}{}
		}
	}

	report := &FieldCompletionReport{
		SessionID:    sessionID,
		TotalRecords: len(decoded),
		TotalFields:  len(names),
		Fields:       make([]FieldStats, 0, len(names)),
	}
	if len(decoded) == 0 || len(names) == 0 {
		return report, nil
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	total := 0.0
	for _, name := range sorted {
		stats := FieldStats{
			Name:         name,
			TotalCount:   len(decoded),
			SampleValues: []string{},
		}
		seen := make(map[string]struct{})
		for _, fields := range decoded {
			value := strings.TrimSpace(fields[name])
			if value == "" {
				continue
			}
			stats.FilledCount++
			if _, dup := seen[value]; !dup {
				seen[value] = struct{}{}
				if len(stats.SampleValues) < sampleValueLimit {
					stats.SampleValues = append(stats.SampleValues, value)
				}
			}
		}
		stats.EmptyCount = stats.TotalCount - stats.FilledCount
		stats.UniqueCount = len(seen)
		stats.CompletionPercentage = round2(float64(stats.FilledCount) / float64(stats.TotalCount) * 100)
		total += stats.CompletionPercentage
		report.Fields = append(report.Fields, stats)
	}

	report.AverageCompletion = round2(total / float64(len(report.Fields)))
	sort.SliceStable(report.Fields, func(i, j int) bool {
		return report.Fields[i].CompletionPercentage > report.Fields[j].CompletionPercentage
	})
	return report, nil
}

// ColumnValues returns the filled values of one field across the combined
// dataset, in position order. Records missing the field are skipped.
// Parameters:
//   - ctx: request context.
//   - sessionID: session to read.
//   - column: field name.
//   - limit: maximum values to return; 0 means the default of 100.
//
// Returns:
//   - []string: the values.
//   - error: domain.ErrSessionNotFound if the session does not exist.
func (s *AnalyticsService) ColumnValues(ctx context.Context, sessionID, column string, limit int) ([]string, error) {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	records, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, limit)
	for i := range records {
		fields, err := decodeFields(&records[i])
		if err != nil {
			return nil, err
		}
		value, ok := fields[column]
		if !ok {
			continue
		}
		values = append(values, value)
		if len(values) == limit {
			break
		}
	}
	return values, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
