package sanitize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disclosure_pipeline/pkg/models"
)

func columns(cols ...string) map[string]bool {
	out := make(map[string]bool, len(cols))
	for _, c := range cols {
		out[c] = true
	}
	return out
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"1234.56", "1234.56", true},
		{"1234,56", "1234.56", true},
		{"1.234,56", "1234.56", true},
		{"-10,5", "-10.5", true},
		{"", "0", false},
		{"abc", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseAmount(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseRegistryID(t *testing.T) {
	id, ok := ParseRegistryID("123456")
	assert.True(t, ok)
	assert.Equal(t, int64(123456), id)

	id, ok = ParseRegistryID("123456.0")
	assert.True(t, ok)
	assert.Equal(t, int64(123456), id)

	for _, bad := range []string{"", "abc", "-5"} {
		id, ok = ParseRegistryID(bad)
		assert.False(t, ok, bad)
		assert.Zero(t, id, bad)
	}
}

func TestSanitize_ClampsNegativesAndDropsZeroRows(t *testing.T) {
	table := models.CanonicalTable{
		Columns: columns(models.ColRegistryID, models.ColExpenseValue, models.ColOpeningBalance),
		Rows: []models.CanonicalRow{
			{RegistryID: "1", ExpenseValue: "-50,00", OpeningBalance: "10"},
			{RegistryID: "2", ExpenseValue: "-1", OpeningBalance: "-1"},
			{RegistryID: "3", ExpenseValue: "0", OpeningBalance: "x"},
			{RegistryID: "4", ExpenseValue: "250,75", OpeningBalance: "0"},
		},
	}

	got, f := New(Options{}).Sanitize(table)

	require.Len(t, got.Rows, 2)
	assert.Equal(t, int64(1), got.Rows[0].RegistryID)
	assert.True(t, got.Rows[0].ExpenseValue.IsZero(), "negative must clamp to exactly zero")
	assert.Equal(t, int64(4), got.Rows[1].RegistryID)
	assert.Equal(t, "250.75", got.Rows[1].ExpenseValue.String())

	for _, row := range got.Rows {
		assert.False(t, row.ExpenseValue.IsNegative())
		assert.False(t, row.OpeningBalance.IsNegative())
		assert.False(t, row.ExpenseValue.IsZero() && row.OpeningBalance.IsZero())
	}
	assert.Equal(t, 2, f.DroppedZeroRows)
	assert.Equal(t, 3, f.ClampedNegatives)
	assert.Equal(t, 1, f.UnparsableAmounts)
}

func TestSanitize_ZeroRowsKeptWhenOneColumnMissing(t *testing.T) {
	table := models.CanonicalTable{
		Columns: columns(models.ColExpenseValue),
		Rows:    []models.CanonicalRow{{ExpenseValue: "0"}},
	}

	got, f := New(Options{}).Sanitize(table)

	assert.Len(t, got.Rows, 1)
	assert.Zero(t, f.DroppedZeroRows)
}

func TestSanitize_TaxIDAndPlaceholders(t *testing.T) {
	table := models.CanonicalTable{
		Columns: columns(models.ColTaxID, models.ColLegalName, models.ColExpenseValue,
			models.ColPeriodQuarter, models.ColPeriodYear),
		Rows: []models.CanonicalRow{
			{TaxID: "11.222.333/0001-81", LegalName: "", ExpenseValue: "1", PeriodQuarter: "1T", PeriodYear: "2024"},
			{TaxID: "123", LegalName: "Beta", ExpenseValue: "1", PeriodQuarter: "Q1", PeriodYear: "24"},
		},
	}

	got, f := New(Options{}).Sanitize(table)

	require.Len(t, got.Rows, 2)
	assert.Equal(t, "11222333000181", got.Rows[0].TaxID)
	assert.Equal(t, models.TaxIDValid, got.Rows[0].TaxIDStatus)
	assert.Equal(t, models.PlaceholderLegalName, got.Rows[0].LegalName)
	assert.Equal(t, "1T", got.Rows[0].PeriodQuarter)

	assert.Equal(t, "00000000000123", got.Rows[1].TaxID)
	assert.Equal(t, models.TaxIDInconsistent, got.Rows[1].TaxIDStatus)
	assert.Equal(t, models.InconsistentMarker, got.Rows[1].PeriodQuarter)
	assert.Equal(t, models.InconsistentMarker, got.Rows[1].PeriodYear)

	assert.Equal(t, 1, f.InvalidTaxIDs)
	assert.Equal(t, 1, f.PlaceholderLegalNames)
	assert.Equal(t, 1, f.InconsistentQuarters)
	assert.Equal(t, 1, f.InconsistentYears)
}

func TestSanitize_NameConflicts(t *testing.T) {
	cols := columns(models.ColTaxID, models.ColLegalName, models.ColRecordDate, models.ColExpenseValue)

	tests := []struct {
		name       string
		policy     ConflictPolicy
		rows       []models.CanonicalRow
		wantNames  []string
		wantStatus models.NameConflict
	}{
		{
			name:   "latest dated row wins",
			policy: KeepFirstSeen,
			rows: []models.CanonicalRow{
				{TaxID: "1", LegalName: "Old Name", RecordDate: "2023-01-01", ExpenseValue: "1"},
				{TaxID: "1", LegalName: "New Name", RecordDate: "2024-06-30", ExpenseValue: "1"},
				{TaxID: "1", LegalName: "Undated", ExpenseValue: "1"},
			},
			wantNames:  []string{"New Name", "New Name", "New Name"},
			wantStatus: models.NameConflictResolved,
		},
		{
			name:   "no dates keeps first seen",
			policy: KeepFirstSeen,
			rows: []models.CanonicalRow{
				{TaxID: "1", LegalName: "First", ExpenseValue: "1"},
				{TaxID: "1", LegalName: "Second", ExpenseValue: "1"},
			},
			wantNames:  []string{"First", "First"},
			wantStatus: models.NameConflictUnresolved,
		},
		{
			name:   "no dates left alone",
			policy: LeaveUnresolved,
			rows: []models.CanonicalRow{
				{TaxID: "1", LegalName: "First", ExpenseValue: "1"},
				{TaxID: "1", LegalName: "Second", ExpenseValue: "1"},
			},
			wantNames:  []string{"First", "Second"},
			wantStatus: models.NameConflictUnresolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, f := New(Options{ConflictPolicy: tt.policy}).Sanitize(models.CanonicalTable{Columns: cols, Rows: tt.rows})

			require.Len(t, got.Rows, len(tt.wantNames))
			for i, want := range tt.wantNames {
				assert.Equal(t, want, got.Rows[i].LegalName)
				assert.Equal(t, tt.wantStatus, got.Rows[i].NameConflict)
			}
			if tt.wantStatus == models.NameConflictUnresolved {
				assert.Equal(t, 1, f.UnresolvedConflicts)
				assert.Equal(t, []string{"00000000000001"}, f.UnresolvedTaxIDs)
			} else {
				assert.Equal(t, 1, f.ResolvedConflicts)
			}
		})
	}
}

func TestSanitize_SingleNamePerTaxIDUntouched(t *testing.T) {
	table := models.CanonicalTable{
		Columns: columns(models.ColTaxID, models.ColLegalName, models.ColExpenseValue),
		Rows: []models.CanonicalRow{
			{TaxID: "11222333000181", LegalName: "Same", ExpenseValue: "1"},
			{TaxID: "11222333000181", LegalName: "Same", ExpenseValue: "2"},
		},
	}

	got, f := New(Options{}).Sanitize(table)

	for _, row := range got.Rows {
		assert.Equal(t, models.NameConflictNone, row.NameConflict)
	}
	assert.Zero(t, f.ResolvedConflicts+f.UnresolvedConflicts)
}

func TestParseConflictPolicy(t *testing.T) {
	assert.Equal(t, LeaveUnresolved, ParseConflictPolicy(" LEAVE "))
	assert.Equal(t, KeepFirstSeen, ParseConflictPolicy(""))
	assert.Equal(t, KeepFirstSeen, ParseConflictPolicy("whatever"))
}
