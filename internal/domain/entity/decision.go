package entity

// LoadDecision is the result of consulting the load-decision state machine
// for an icon URL (spec.md section 4.3).
type LoadDecision int

const (
	// LoadUnknown means the on-disk row for this icon has not yet been read;
	// the caller is recorded as interested and will be notified on import.
	LoadUnknown LoadDecision = iota
	// LoadYes means the caller should fetch: either there is no cached data,
	// or the cached data is older than the expiration horizon.
	LoadYes
	// LoadNo means cached bytes exist and are within the expiration horizon.
	LoadNo
)

// String implements fmt.Stringer for log-friendly output.
func (d LoadDecision) String() string {
	switch d {
	case LoadYes:
		return "Yes"
	case LoadNo:
		return "No"
	default:
		return "Unknown"
	}
}

// Stats holds the statistics accessors named by spec.md section 4.2 and the
// original IconDatabase header (pageURLMappingCount, retainedPageURLCount,
// iconRecordCount, iconRecordCountWithData).
type Stats struct {
	PageURLMappingCount int
	RetainedPageCount   int
	IconRecordCount     int
	IconRecordWithData  int
}
