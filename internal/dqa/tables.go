// Package dqa defines the analytical contract of the auditor: the closed sets of
// clinical tables that are checked, and the row shapes that flow between the
// collector, the reshaper, the reconciler and the report sink.
package dqa

// TableSpec describes one audited clinical table.
type TableSpec struct {
	// Name is the table name inside every facility schema (and the warehouse).
	Name string

	// DateColumn is the activity timestamp used for freshness checks.
	// Empty for tables that only participate in count reconciliation.
	DateColumn string

	// HasVoided reports whether the table carries a `voided` soft-delete flag.
	HasVoided bool
}

// FreshnessTables is the closed table set of the freshness/missingness check:
// per-table record counts and max activity dates.
var FreshnessTables = []TableSpec{
	{Name: "obs", DateColumn: "obs_datetime", HasVoided: true},
	{Name: "encounter", DateColumn: "encounter_datetime", HasVoided: true},
	{Name: "orders", DateColumn: "start_date", HasVoided: true},
}

// ReconciliationTables is the closed table set of the source-vs-warehouse
// reconciliation: record counts only.
var ReconciliationTables = []TableSpec{
	{Name: "obs", HasVoided: true},
	{Name: "encounter", HasVoided: true},
	{Name: "orders", HasVoided: true},
	{Name: "person", HasVoided: true},
	{Name: "patient", HasVoided: true},
	{Name: "patient_state", HasVoided: true},
}

// TableNames returns the names of the given specs in declaration order.
func TableNames(specs []TableSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}
