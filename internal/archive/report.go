package archive

import (
	"sort"
	"time"
)

// Report summarises one archival run
type Report struct {
	Cutoff      time.Time         `json:"cutoff"`
	Scanned     int               `json:"scanned"`
	Archived    int               `json:"archived"`
	ArchivedIDs []string          `json:"archived_ids,omitempty"`
	Failed      int               `json:"failed"`
	Skipped     []SkippedDocument `json:"skipped,omitempty"`
	DryRun      bool              `json:"dry_run,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

// SkippedDocument is a document left untouched because its schedule could not be evaluated
type SkippedDocument struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Sorted returns a copy of the archived ids in ascending order.
// Updates complete concurrently, so ArchivedIDs has no stable order.
func (r *Report) Sorted() []string {
	ids := append([]string(nil), r.ArchivedIDs...)
	sort.Strings(ids)
	return ids
}
