package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CANONICAL SCHEMA
// =============================================================================

// Canonical column names shared by every stage of the pipeline.
const (
	ColTaxID            = "tax_id"
	ColRegistryID       = "registry_id"
	ColLegalName        = "legal_name"
	ColExpenseValue     = "expense_value"
	ColOpeningBalance   = "opening_balance"
	ColPeriodQuarter    = "period_quarter"
	ColPeriodYear       = "period_year"
	ColRegion           = "region"
	ColRecordDate       = "record_date"
	ColCategory         = "category"
	ColRegistrationDate = "registration_date"
)

// Markers written into rows instead of raising errors.
const (
	InconsistentMarker   = "Inconsistent"
	NotAvailableMarker   = "N/A"
	PlaceholderLegalName = "Legal Name Not Provided"
)

// ConsolidatedColumns is the fixed column order of the consolidated table.
var ConsolidatedColumns = []string{
	ColTaxID, ColRegistryID, ColLegalName, ColPeriodQuarter, ColPeriodYear, ColExpenseValue, ColOpeningBalance,
}

// AggregatedColumns is the fixed column order of the aggregated table.
var AggregatedColumns = []string{
	ColRegistryID, ColLegalName, ColRegion, "total_expense", "mean_expense", "stddev_expense",
}

// RegistryColumns is the fixed column order of the cleaned registry table.
var RegistryColumns = []string{
	ColRegistryID, ColTaxID, ColLegalName, ColCategory, ColRegion, ColRegistrationDate,
}

// =============================================================================
// EXTRACTION ROWS
// =============================================================================

// RawTable is one delimited file exactly as read: a header and string cells.
type RawTable struct {
	Source  string // e.g., "1T2024.zip/1T2024.csv"
	Header  []string
	Records [][]string
}

// CanonicalRow holds the known fields after column normalization. Values are
// still text; coercion happens in the sanitizer. Columns that matched no alias
// are kept in Extra.
type CanonicalRow struct {
	TaxID          string
	RegistryID     string
	LegalName      string
	ExpenseValue   string
	OpeningBalance string
	PeriodQuarter  string
	PeriodYear     string
	Region         string
	RecordDate     string
	Extra          map[string]string
}

// CanonicalTable is a batch of CanonicalRows plus the set of canonical
// columns the source file actually carried.
type CanonicalTable struct {
	Source  string
	Columns map[string]bool
	Rows    []CanonicalRow
}

// Has reports whether the source carried the canonical column.
func (t CanonicalTable) Has(col string) bool {
	return t.Columns[col]
}

// TaxIDStatus flags the outcome of check-digit validation.
type TaxIDStatus string

const (
	TaxIDValid        TaxIDStatus = "valid"
	TaxIDInconsistent TaxIDStatus = "inconsistent"
)

// NameConflict marks rows whose tax id appeared with more than one name.
type NameConflict string

const (
	NameConflictNone       NameConflict = ""
	NameConflictResolved   NameConflict = "resolved"
	NameConflictUnresolved NameConflict = "unresolved"
)

// SanitizedRow is a CanonicalRow after type coercion and business rules.
type SanitizedRow struct {
	TaxID          string
	TaxIDStatus    TaxIDStatus
	RegistryID     int64
	LegalName      string
	ExpenseValue   decimal.Decimal
	OpeningBalance decimal.Decimal
	PeriodQuarter  string
	PeriodYear     string
	Region         string
	RecordDate     string
	NameConflict   NameConflict
	Extra          map[string]string
}

// SanitizedBatch is the sanitizer output for one source file.
type SanitizedBatch struct {
	Source  string
	Columns map[string]bool
	Rows    []SanitizedRow
}

// =============================================================================
// CONSOLIDATED / REGISTRY / ENRICHED
// =============================================================================

// PeriodKey identifies one consolidated record.
type PeriodKey struct {
	RegistryID    int64
	PeriodQuarter string
	PeriodYear    string
}

// ConsolidatedRecord is the unique (registry_id, quarter, year) unit.
type ConsolidatedRecord struct {
	TaxID          string
	RegistryID     int64
	LegalName      string
	PeriodQuarter  string
	PeriodYear     string
	ExpenseValue   decimal.Decimal
	OpeningBalance decimal.Decimal
}

// Key returns the record's unique key.
func (r ConsolidatedRecord) Key() PeriodKey {
	return PeriodKey{RegistryID: r.RegistryID, PeriodQuarter: r.PeriodQuarter, PeriodYear: r.PeriodYear}
}

// RegistryRecord is one regulated entity's reference data.
type RegistryRecord struct {
	RegistryID       int64
	TaxID            string
	LegalName        string
	Category         string
	Region           string
	RegistrationDate time.Time // zero when missing or unparsable
}

// HasRegistrationDate reports whether the registration date parsed.
func (r RegistryRecord) HasRegistrationDate() bool {
	return !r.RegistrationDate.IsZero()
}

// EnrichedRecord is a consolidated record with registry display attributes.
// LegalName, Region and Category are empty when the registry had no match.
type EnrichedRecord struct {
	RegistryID     int64
	TaxID          string
	LegalName      string
	Region         string
	Category       string
	PeriodQuarter  string
	PeriodYear     string
	ExpenseValue   decimal.Decimal
	OpeningBalance decimal.Decimal
	Matched        bool
}

// =============================================================================
// AGGREGATES
// =============================================================================

// AggregatedRecord is one row of the final per-entity summary.
type AggregatedRecord struct {
	RegistryID    int64   `json:"registry_id"`
	LegalName     string  `json:"legal_name"`
	Region        string  `json:"region"`
	TotalExpense  float64 `json:"total_expense"`
	MeanExpense   float64 `json:"mean_expense"`
	StddevExpense float64 `json:"stddev_expense"`
}

// GrowthRecord is one entry of the period-over-period growth ranking.
type GrowthRecord struct {
	RegistryID  int64   `json:"registry_id"`
	LegalName   string  `json:"legal_name"`
	FirstPeriod string  `json:"first_period"`
	LastPeriod  string  `json:"last_period"`
	FirstValue  float64 `json:"first_value"`
	LastValue   float64 `json:"last_value"`
	GrowthPct   float64 `json:"growth_pct"`
}

// RegionRecord is one entry of the regional rollup.
type RegionRecord struct {
	Region       string  `json:"region"`
	Entities     int     `json:"entities"`
	TotalExpense float64 `json:"total_expense"`
	MeanExpense  float64 `json:"mean_expense"`
}

// AboveMeanRecord is one entry of the above-mean frequency ranking.
type AboveMeanRecord struct {
	RegistryID     int64   `json:"registry_id"`
	LegalName      string  `json:"legal_name"`
	PeriodsAbove   int     `json:"periods_above_mean"`
	ValueAboveMean float64 `json:"value_above_mean"`
}
