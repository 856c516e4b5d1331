// Package reshape pivots long-format freshness metrics into one wide row per
// facility and computes the cross-table staleness statistic.
package reshape

import (
	"math"
	"sort"
	"time"

	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
)

// WideRow is one facility's freshness summary: the latest activity date per
// audited table plus the dispersion of those dates. A nil date means the
// facility is missing that table (or the table is empty); StdDev is nil
// whenever any required date is nil, since a spread over an incomplete vector
// is undefined.
type WideRow struct {
	FacilityID   *string
	FacilityName *string
	MaxDates     map[string]*time.Time
	StdDev       *float64
}

type facilityKey struct {
	hasID   bool
	id      string
	hasName bool
	name    string
}

func keyOf(id, name *string) facilityKey {
	var k facilityKey
	if id != nil {
		k.hasID, k.id = true, *id
	}
	if name != nil {
		k.hasName, k.name = true, *name
	}
	return k
}

// Pivot turns (facility, table, max_date) rows into one row per facility with
// a date column per table in the closed set. Duplicate (facility, table)
// observations keep the later date. Output is sorted by facility id then name,
// facilities with a null id last, so repeated runs produce identical reports.
func Pivot(rows []dqa.MetricRow, tables []dqa.TableSpec) []WideRow {
	byFacility := make(map[facilityKey]*WideRow)
	var order []facilityKey

	for _, r := range rows {
		k := keyOf(r.FacilityID, r.FacilityName)
		w, ok := byFacility[k]
		if !ok {
			w = &WideRow{
				FacilityID:   r.FacilityID,
				FacilityName: r.FacilityName,
				MaxDates:     make(map[string]*time.Time, len(tables)),
			}
			byFacility[k] = w
			order = append(order, k)
		}

		if r.MaxDate == nil {
			continue
		}
		d := *r.MaxDate
		if existing := w.MaxDates[r.TableName]; existing == nil || d.After(*existing) {
			w.MaxDates[r.TableName] = &d
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.hasID != b.hasID {
			return a.hasID // null ids sort last
		}
		if a.id != b.id {
			return a.id < b.id
		}
		return a.name < b.name
	})

	wide := make([]WideRow, 0, len(order))
	for _, k := range order {
		w := byFacility[k]
		w.StdDev = stdDevOfDates(w.MaxDates, tables)
		wide = append(wide, *w)
	}
	return wide
}

// Melt is the inverse of Pivot: it recovers the non-null (facility, table,
// max_date) triples from wide rows, in facility order.
func Melt(wide []WideRow, tables []dqa.TableSpec) []dqa.MetricRow {
	var rows []dqa.MetricRow
	for _, w := range wide {
		for _, t := range tables {
			d := w.MaxDates[t.Name]
			if d == nil {
				continue
			}
			date := *d
			rows = append(rows, dqa.MetricRow{
				FacilityID:   w.FacilityID,
				FacilityName: w.FacilityName,
				TableName:    t.Name,
				MaxDate:      &date,
			})
		}
	}
	return rows
}

// Ordinal converts a date to a calendar day number (days since the Unix
// epoch). The standard deviation of day numbers is invariant under the choice
// of epoch, so any linear day count serves.
func Ordinal(t time.Time) int64 {
	return t.Unix() / 86400
}

// stdDevOfDates computes the sample standard deviation of the per-table
// activity dates expressed as day ordinals, rounded to 2 decimal places.
// Returns nil when any required table's date is missing.
func stdDevOfDates(dates map[string]*time.Time, tables []dqa.TableSpec) *float64 {
	ordinals := make([]float64, 0, len(tables))
	for _, t := range tables {
		d := dates[t.Name]
		if d == nil {
			return nil
		}
		ordinals = append(ordinals, float64(Ordinal(*d)))
	}
	if len(ordinals) < 2 {
		return nil
	}

	var sum float64
	for _, o := range ordinals {
		sum += o
	}
	mean := sum / float64(len(ordinals))

	var sq float64
	for _, o := range ordinals {
		diff := o - mean
		sq += diff * diff
	}
	sd := math.Sqrt(sq / float64(len(ordinals)-1))
	sd = math.Round(sd*100) / 100
	return &sd
}
