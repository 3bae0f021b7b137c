package service

import "github.com/timmy/scrapedeck/internal/domain"

// PageRange is one planned iteration's inclusive page span.
type PageRange struct {
	Start int
	End   int
}

// Count returns the number of pages in the range.
func (r PageRange) Count() int {
	return r.End - r.Start + 1
}

// Plan splits a page target into the ordered iteration ranges. The ranges are
// contiguous, non-overlapping, cover exactly [1, totalPages], and number
// ceil(totalPages / pagesPerIteration); the final range may be shorter.
// Pure and deterministic.
// Parameters:
//   - totalPages: total number of pages the session must cover.
//   - pagesPerIteration: page budget for a single provider run.
//
// Returns:
//   - []PageRange: planned ranges in iteration order.
//   - error: domain.ErrInvalidPlan when either input is not positive.
func Plan(totalPages, pagesPerIteration int) ([]PageRange, error) {
	if totalPages <= 0 || pagesPerIteration <= 0 {
		return nil, domain.ErrInvalidPlan
	}

	ranges := make([]PageRange, 0, (totalPages+pagesPerIteration-1)/pagesPerIteration)
	for start := 1; start <= totalPages; start += pagesPerIteration {
		end := start + pagesPerIteration - 1
		if end > totalPages {
			end = totalPages
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}

	return ranges, nil
}

// planIterations materializes a plan into iteration rows for a session.
func planIterations(sessionID string, ranges []PageRange) []domain.Iteration {
	iterations := make([]domain.Iteration, 0, len(ranges))
	for i, r := range ranges {
		iterations = append(iterations, domain.Iteration{
			SessionID:      sessionID,
			IterationIndex: i + 1,
			PageStart:      r.Start,
			PageEnd:        r.End,
			Status:         domain.IterationStatusQueued,
		})
	}
	return iterations
}
