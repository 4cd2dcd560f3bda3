// Package model defines the core domain types shared across the application.
package model

import "strings"

// Entry is one public-records request mirrored from the state portal.
// The id is assigned by the source system and is the primary key; a re-sync
// of the same id overwrites every other field. Dates are ISO YYYY-MM-DD text
// or nil when the source value was absent or unparseable.
type Entry struct {
	ID             int     `json:"id"`
	Agency         string  `json:"agency"`
	Organization   *string `json:"organization"`
	FirstName      *string `json:"first_name"`
	MiddleName     *string `json:"middle_name"`
	LastName       *string `json:"last_name"`
	RequestDate    *string `json:"request_date"`
	CompletionDate *string `json:"completion_date"`
	EntryDate      *string `json:"entry_date"`
	Fee            *string `json:"fee"`
	IsAmended      bool    `json:"is_amended"`
	Subject        *string `json:"subject"`
	Details        *string `json:"details"`
	Resolution     *string `json:"resolution"`
	Response       *string `json:"response"`
}

// ResolutionBucket classifies a request outcome into one of five fixed
// buckets used by timelines and histograms.
type ResolutionBucket string

const (
	ResolutionGranted       ResolutionBucket = "granted"
	ResolutionGrantedInPart ResolutionBucket = "granted_in_part"
	ResolutionExempted      ResolutionBucket = "exempted"
	ResolutionRejected      ResolutionBucket = "rejected"
	ResolutionOther         ResolutionBucket = "other"
)

// ResolutionBuckets lists every bucket in display order.
var ResolutionBuckets = []ResolutionBucket{
	ResolutionGranted,
	ResolutionGrantedInPart,
	ResolutionExempted,
	ResolutionRejected,
	ResolutionOther,
}

// BucketForResolution maps a free-text resolution onto its bucket.
func BucketForResolution(resolution *string) ResolutionBucket {
	value := ""
	if resolution != nil {
		value = strings.ToLower(strings.TrimSpace(*resolution))
	}
	switch value {
	case "granted":
		return ResolutionGranted
	case "granted in part":
		return ResolutionGrantedInPart
	case "exempted":
		return ResolutionExempted
	case "rejected":
		return ResolutionRejected
	default:
		return ResolutionOther
	}
}
