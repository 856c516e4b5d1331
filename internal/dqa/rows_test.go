package dqa

import (
	"testing"
	"time"
)

func TestReportingPeriod(t *testing.T) {
	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), 0},
		{time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC), 2},
		{time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), 3},
	}
	for _, tt := range tests {
		if got := ReportingPeriod(tt.now); got != tt.want {
			t.Errorf("ReportingPeriod(%s) = %d, want %d", tt.now.Format("2006-01-02"), got, tt.want)
		}
	}
}

func TestIdentitySiteID(t *testing.T) {
	tests := []struct {
		name string
		id   *string
		want *int64
	}{
		{"numeric", StringPtr("1000"), Int64Ptr(1000)},
		{"non-numeric", StringPtr("HF-12"), nil},
		{"empty", StringPtr(""), nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Identity{FacilityID: tt.id}.SiteID()
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("SiteID() = %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("SiteID() = %d, want %d", *got, *tt.want)
			}
		})
	}
}

func TestTableNames(t *testing.T) {
	names := TableNames(FreshnessTables)
	want := []string{"obs", "encounter", "orders"}
	if len(names) != len(want) {
		t.Fatalf("TableNames() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("TableNames()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
