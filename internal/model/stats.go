package model

import "time"

// AgencyStats aggregates request volume and response-time statistics for one
// corrected agency identity. Averages are 0 (never NaN) when no completed
// request falls inside a window, so callers can sort unconditionally.
type AgencyStats struct {
	Name                string         `json:"name"`
	Slug                string         `json:"slug"`
	Requests            int            `json:"requests"`
	Requests30d         int            `json:"requests_30d"`
	Requests90d         int            `json:"requests_90d"`
	Requests365d        int            `json:"requests_365d"`
	AvgResponseTime     float64        `json:"avg_response_time"`
	AvgResponseTime30d  float64        `json:"avg_response_time_30d"`
	AvgResponseTime90d  float64        `json:"avg_response_time_90d"`
	AvgResponseTime365d float64        `json:"avg_response_time_365d"`
	Resolutions         map[string]int `json:"resolutions"`
}

// HomeStats holds the global rolling-window statistics shown on the homepage.
type HomeStats struct {
	TotalAll  int     `json:"total_all"`
	Total30d  int     `json:"total_30d"`
	Total90d  int     `json:"total_90d"`
	Total365d int     `json:"total_365d"`
	AvgAll    float64 `json:"avg_all"`
	Avg30d    float64 `json:"avg_30d"`
	Avg90d    float64 `json:"avg_90d"`
	Avg365d   float64 `json:"avg_365d"`
}

// ResolutionTimelinePoint is one day in a dense resolution timeline. Every
// calendar day in the requested range is present with all five buckets, so
// charting code never needs gap-filling logic.
type ResolutionTimelinePoint struct {
	Date          string `json:"date"`
	Granted       int    `json:"granted"`
	GrantedInPart int    `json:"granted_in_part"`
	Exempted      int    `json:"exempted"`
	Rejected      int    `json:"rejected"`
	Other         int    `json:"other"`
}

// PageCursor selects one page of a paginated listing. Pages are 1-based and
// clamped to the available range by every consumer.
type PageCursor struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// PaginatedAgencies is one page of agency statistics.
type PaginatedAgencies struct {
	Agencies   []AgencyStats `json:"agencies"`
	Total      int           `json:"total"`
	TotalPages int           `json:"total_pages"`
}

// PaginatedEntries is one page of entries plus the total match count.
type PaginatedEntries struct {
	Entries    []Entry `json:"entries"`
	Total      int     `json:"total"`
	TotalPages int     `json:"total_pages"`
}

// LatestEntriesSnapshot holds every entry reported on the most recent
// reporting date, newest id first.
type LatestEntriesSnapshot struct {
	Date    *string `json:"date"`
	Entries []Entry `json:"entries"`
}

// EntrySearchOptions filters an entry listing. Date bounds are ISO
// YYYY-MM-DD text; Sort must be one of the whitelisted sort keys.
type EntrySearchOptions struct {
	Search             string   `json:"search"`
	Agency             string   `json:"agency"`
	Resolutions        []string `json:"resolutions"`
	RequestDateFrom    string   `json:"request_date_from"`
	RequestDateTo      string   `json:"request_date_to"`
	CompletionDateFrom string   `json:"completion_date_from"`
	CompletionDateTo   string   `json:"completion_date_to"`
	Sort               string   `json:"sort"`
}

// Entry sort keys accepted by EntrySearchOptions.Sort.
const (
	SortNewestEntry      = "newest_entry"
	SortNewestRequest    = "newest_request"
	SortOldestRequest    = "oldest_request"
	SortNewestCompletion = "newest_completion"
	SortHighestFee       = "highest_fee"
)

// Agency sort keys accepted by the paginated agency listing.
const (
	SortMostRequests        = "most_requests"
	SortLeastRequests       = "least_requests"
	SortHighestResponseTime = "highest_response_time"
	SortLowestResponseTime  = "lowest_response_time"
)

// SyncResult summarizes one incremental sync pass.
type SyncResult struct {
	Added          int `json:"added"`
	Checked        int `json:"checked"`
	StartFrom      int `json:"start_from"`
	LastCheckedID  int `json:"last_checked_id"`
	DriftTolerance int `json:"drift_tolerance"`
}

// SyncRunStatus is the lifecycle state of a persisted sync run.
type SyncRunStatus string

const (
	SyncRunning  SyncRunStatus = "running"
	SyncComplete SyncRunStatus = "complete"
	SyncFailed   SyncRunStatus = "failed"
)

// SyncRun is one persisted row of sync history.
type SyncRun struct {
	ID          string        `json:"id"`
	Status      SyncRunStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Added       int           `json:"added"`
	Checked     int           `json:"checked"`
	StartFrom   int           `json:"start_from"`
	Error       string        `json:"error,omitempty"`
}
