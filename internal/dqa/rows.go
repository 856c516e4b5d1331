package dqa

import (
	"strconv"
	"time"
)

// Identity is a facility's self-reported identity, resolved from the schema's
// global_property/location configuration. Any field may be nil when the site
// metadata is missing or conflicting; a nil identity is a data-quality finding,
// not an error.
type Identity struct {
	FacilityID   *string
	FacilityName *string
}

// SiteID parses the facility id as the numeric site id used by the warehouse.
// Returns nil when the id is absent or not numeric.
func (id Identity) SiteID() *int64 {
	if id.FacilityID == nil {
		return nil
	}
	n, err := strconv.ParseInt(*id.FacilityID, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// MetricRow is one freshness observation: one (facility, table) pair with its
// record count and latest activity date. MaxDate is nil for empty tables.
type MetricRow struct {
	Schema          string     `json:"schema"`
	FacilityID      *string    `json:"facility_id"`
	FacilityName    *string    `json:"facility_name"`
	TableName       string     `json:"table_name"`
	RecordCount     int64      `json:"record_count"`
	MaxDate         *time.Time `json:"max_date"`
	ReportingPeriod int        `json:"reporting_period"`
}

// CountRow is one reconciliation observation: a record count for one
// (site, table) pair, from either the facility side or the warehouse side.
type CountRow struct {
	SiteID      *int64  `json:"site_id"`
	SiteName    *string `json:"site_name"`
	TableName   string  `json:"table_name"`
	RecordCount int64   `json:"record_count"`
}

// Skip records one recoverable per-schema skip: a unioned table that does not
// exist in that schema. The schema stays in the run; the table row is absent.
type Skip struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

// ReportingPeriod returns the previous calendar quarter for the given time,
// matching the warehouse's reporting convention (0 during Q1).
func ReportingPeriod(now time.Time) int {
	quarter := (int(now.Month())-1)/3 + 1
	return quarter - 1
}

// StringPtr returns a pointer to s. Helper for literal row construction.
func StringPtr(s string) *string { return &s }

// Int64Ptr returns a pointer to n. Helper for literal row construction.
func Int64Ptr(n int64) *int64 { return &n }
