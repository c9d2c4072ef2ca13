package consolidate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disclosure_pipeline/pkg/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func row(id int64, q, y, taxID, name, value string) models.SanitizedRow {
	return models.SanitizedRow{
		RegistryID: id, PeriodQuarter: q, PeriodYear: y,
		TaxID: taxID, LegalName: name, ExpenseValue: dec(value), OpeningBalance: dec("1"),
	}
}

func TestConsolidate_SumsCollisionsAndKeepsFirstText(t *testing.T) {
	batches := []models.SanitizedBatch{
		{Rows: []models.SanitizedRow{
			row(10, "1T", "2024", "A", "First Name", "100.50"),
			row(10, "1T", "2024", "B", "Second Name", "50.25"),
		}},
		{Rows: []models.SanitizedRow{
			row(10, "2T", "2024", "A", "First Name", "10"),
			row(5, "1T", "2024", "C", "Other", "1"),
		}},
	}

	got, s := Consolidate(batches)

	require.Len(t, got, 3)
	assert.Equal(t, Summary{InputRows: 4, Records: 3, MergedRows: 1}, s)

	assert.Equal(t, int64(5), got[0].RegistryID, "sorted by registry id")
	merged := got[1]
	assert.Equal(t, models.PeriodKey{RegistryID: 10, PeriodQuarter: "1T", PeriodYear: "2024"}, merged.Key())
	assert.True(t, dec("150.75").Equal(merged.ExpenseValue))
	assert.True(t, dec("2").Equal(merged.OpeningBalance))
	assert.Equal(t, "A", merged.TaxID)
	assert.Equal(t, "First Name", merged.LegalName)
}

func TestConsolidate_KeysAreUnique(t *testing.T) {
	var rows []models.SanitizedRow
	for i := 0; i < 50; i++ {
		rows = append(rows, row(int64(i%7), []string{"1T", "2T"}[i%2], "2024", "", "", "1"))
	}

	got, _ := Consolidate([]models.SanitizedBatch{{Rows: rows}})

	seen := make(map[models.PeriodKey]bool)
	total := decimal.Zero
	for _, r := range got {
		assert.False(t, seen[r.Key()], "duplicate key %+v", r.Key())
		seen[r.Key()] = true
		total = total.Add(r.ExpenseValue)
	}
	assert.True(t, dec("50").Equal(total), "no value lost while merging")
}

func TestConsolidate_MissingColumnsComeOutEmpty(t *testing.T) {
	got, _ := Consolidate([]models.SanitizedBatch{{Rows: []models.SanitizedRow{{RegistryID: 1, PeriodQuarter: "1T", PeriodYear: "2024"}}}})

	require.Len(t, got, 1)
	assert.Empty(t, got[0].TaxID)
	assert.Empty(t, got[0].LegalName)
	assert.True(t, got[0].ExpenseValue.IsZero())
	assert.True(t, got[0].OpeningBalance.IsZero())
}

func TestDropExactDuplicates(t *testing.T) {
	recs := []models.ConsolidatedRecord{
		{RegistryID: 1, PeriodQuarter: "1T", PeriodYear: "2024", ExpenseValue: dec("10"), TaxID: "first"},
		{RegistryID: 1, PeriodQuarter: "1T", PeriodYear: "2024", ExpenseValue: dec("10"), TaxID: "second"},
		{RegistryID: 1, PeriodQuarter: "1T", PeriodYear: "2024", ExpenseValue: dec("11")},
	}

	got := DropExactDuplicates(recs)

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].TaxID)
}

func TestSortRecords_ChronologicalWithInvalidPeriodsLast(t *testing.T) {
	records := []models.ConsolidatedRecord{
		{RegistryID: 1, PeriodQuarter: "1T", PeriodYear: "2025"},
		{RegistryID: 1, PeriodQuarter: "N/A", PeriodYear: "N/A"},
		{RegistryID: 1, PeriodQuarter: "2T", PeriodYear: "2024"},
		{RegistryID: 0, PeriodQuarter: "4T", PeriodYear: "2025"},
		{RegistryID: 1, PeriodQuarter: "4T", PeriodYear: "2024"},
	}

	SortRecords(records)

	var got []string
	for _, r := range records {
		got = append(got, r.PeriodQuarter+r.PeriodYear)
	}
	assert.Equal(t, []string{"4T2025", "2T2024", "4T2024", "1T2025", "N/AN/A"}, got)
	assert.Equal(t, int64(0), records[0].RegistryID)
}
