package provider

// Record is one scraped row, normalized to flat string fields. Both CSV and
// JSON payloads decode into this shape before they reach the combiner.
type Record map[string]string

// RunState is the provider-reported state of a run.
type RunState string

const (
	RunStateInitialized RunState = "initialized"
	RunStateQueued      RunState = "queued"
	RunStateRunning     RunState = "running"
	RunStateComplete    RunState = "complete"
	RunStateCancelled   RunState = "cancelled"
	RunStateError       RunState = "error"
)

// Finished reports whether the provider will make no further progress on the run.
func (s RunState) Finished() bool {
	switch s {
	case RunStateComplete, RunStateCancelled, RunStateError:
		return true
	}
	return false
}

// RunStatus is a point-in-time snapshot of a provider run.
type RunStatus struct {
	RunToken     string   `json:"run_token"`
	Status       RunState `json:"status"`
	PagesScraped int      `json:"pages_scraped"`
	DataCount    int      `json:"data_count"`
	StartURL     string   `json:"start_url,omitempty"`
	ErrorLog     string   `json:"error_log,omitempty"`
}

// Project is a provider-side job template.
type Project struct {
	Token    string     `json:"token"`
	Title    string     `json:"title"`
	StartURL string     `json:"start_url,omitempty"`
	LastRun  *RunStatus `json:"last_run,omitempty"`
}

// StartParams scope a run launch to a page range of the target site. The
// provider itself only understands a start URL; the page range is expressed
// through URL pagination parameterization plus a page budget.
type StartParams struct {
	StartURL  string
	StartPage int
	EndPage   int
}

// DataFormat selects the result payload encoding.
type DataFormat string

const (
	FormatCSV  DataFormat = "csv"
	FormatJSON DataFormat = "json"
)
