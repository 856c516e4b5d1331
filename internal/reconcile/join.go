package reconcile

import (
	"sort"
	"time"

	"github.com/lmwafulirwa/emr-dqa/internal/dqa"
	"github.com/lmwafulirwa/emr-dqa/internal/logging"
)

// Row is one reconciled (site, table) pair. A nil count means that side had no
// observation for the pair; variance is nil whenever either side is nil, since
// a difference against an unknown quantity is unknown, never zero.
type Row struct {
	SiteID      *int64    `json:"site_id"`
	SiteName    *string   `json:"site_name"`
	TableName   string    `json:"table_name"`
	CountSource *int64    `json:"record_count_source"`
	CountOHDL   *int64    `json:"record_count_ohdl"`
	Variance    *int64    `json:"variance"`
	DateCreated time.Time `json:"date_created"`
}

type joinKey struct {
	siteID int64
	table  string
}

type sideAgg struct {
	count int64
	name  *string
	seen  int
}

// aggregate sums counts per (site, table), separating rows that carry no
// numeric site id (they cannot participate in the join). Duplicate pairs are a
// data-quality anomaly worth a warning: two schemas claiming the same site id.
func aggregate(rows []dqa.CountRow, side string) (map[joinKey]*sideAgg, []dqa.CountRow) {
	agg := make(map[joinKey]*sideAgg)
	var nullID []dqa.CountRow

	for _, r := range rows {
		if r.SiteID == nil {
			nullID = append(nullID, r)
			continue
		}
		k := joinKey{siteID: *r.SiteID, table: r.TableName}
		a, ok := agg[k]
		if !ok {
			a = &sideAgg{}
			agg[k] = a
		}
		a.count += r.RecordCount
		a.seen++
		if a.name == nil && r.SiteName != nil {
			a.name = r.SiteName
		}
	}

	for k, a := range agg {
		if a.seen > 1 {
			logging.Warn("%s side has %d observations for site %d table %s; counts were summed",
				side, a.seen, k.siteID, k.table)
		}
	}
	return agg, nullID
}

// OuterJoin reconciles facility-side counts against warehouse-side counts on
// (site_id, table_name). Pairs present on only one side are preserved with the
// other side's count nil. Output is sorted by site id then table name, with
// rows lacking a numeric site id appended last, so repeated runs over
// unchanged data produce identical reports.
func OuterJoin(sourceRows, warehouseRows []dqa.CountRow, created time.Time) []Row {
	src, srcNullID := aggregate(sourceRows, "source")
	wh, whNullID := aggregate(warehouseRows, "warehouse")

	keys := make([]joinKey, 0, len(src)+len(wh))
	for k := range src {
		keys = append(keys, k)
	}
	for k := range wh {
		if _, ok := src[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].siteID != keys[j].siteID {
			return keys[i].siteID < keys[j].siteID
		}
		return keys[i].table < keys[j].table
	})

	rows := make([]Row, 0, len(keys)+len(srcNullID)+len(whNullID))
	for _, k := range keys {
		siteID := k.siteID
		row := Row{
			SiteID:      &siteID,
			TableName:   k.table,
			DateCreated: created,
		}
		s, inSource := src[k]
		w, inWarehouse := wh[k]
		if inSource {
			count := s.count
			row.CountSource = &count
			row.SiteName = s.name
		}
		if inWarehouse {
			count := w.count
			row.CountOHDL = &count
			if row.SiteName == nil {
				row.SiteName = w.name
			}
		}
		if inSource && inWarehouse {
			variance := s.count - w.count
			row.Variance = &variance
		}
		rows = append(rows, row)
	}

	// Rows without a numeric site id cannot join; they surface unmatched.
	nullRows := make([]Row, 0, len(srcNullID)+len(whNullID))
	for _, r := range srcNullID {
		count := r.RecordCount
		nullRows = append(nullRows, Row{
			SiteName:    r.SiteName,
			TableName:   r.TableName,
			CountSource: &count,
			DateCreated: created,
		})
	}
	for _, r := range whNullID {
		count := r.RecordCount
		nullRows = append(nullRows, Row{
			SiteName:    r.SiteName,
			TableName:   r.TableName,
			CountOHDL:   &count,
			DateCreated: created,
		})
	}
	sort.SliceStable(nullRows, func(i, j int) bool {
		ni, nj := "", ""
		if nullRows[i].SiteName != nil {
			ni = *nullRows[i].SiteName
		}
		if nullRows[j].SiteName != nil {
			nj = *nullRows[j].SiteName
		}
		if ni != nj {
			return ni < nj
		}
		return nullRows[i].TableName < nullRows[j].TableName
	})

	return append(rows, nullRows...)
}
