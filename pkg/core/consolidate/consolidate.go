// Package consolidate merges sanitized batches from every fetched period into
// one record per (registry_id, quarter, year).
//
// Reduction policy on key collisions:
//  1. expense_value and opening_balance are summed.
//  2. tax_id and legal_name keep the first row's value, in batch order.
package consolidate

import (
	"sort"

	"disclosure_pipeline/pkg/core/validate"
	"disclosure_pipeline/pkg/models"
)

// Summary describes one consolidation run.
type Summary struct {
	InputRows  int `json:"input_rows"`
	Records    int `json:"records"`
	MergedRows int `json:"merged_rows"` // rows folded into an existing key
}

// Consolidate unions batches and reduces them to one record per key.
// Columns missing from every batch come out empty or zero. The output is
// ordered by registry id, then chronologically by period.
func Consolidate(batches []models.SanitizedBatch) ([]models.ConsolidatedRecord, Summary) {
	var s Summary
	index := make(map[models.PeriodKey]int)
	var out []models.ConsolidatedRecord

	for _, b := range batches {
		for _, row := range b.Rows {
			s.InputRows++
			key := models.PeriodKey{RegistryID: row.RegistryID, PeriodQuarter: row.PeriodQuarter, PeriodYear: row.PeriodYear}

			if i, ok := index[key]; ok {
				out[i].ExpenseValue = out[i].ExpenseValue.Add(row.ExpenseValue)
				out[i].OpeningBalance = out[i].OpeningBalance.Add(row.OpeningBalance)
				s.MergedRows++
				continue
			}

			index[key] = len(out)
			out = append(out, models.ConsolidatedRecord{
				TaxID:          row.TaxID,
				RegistryID:     row.RegistryID,
				LegalName:      row.LegalName,
				PeriodQuarter:  row.PeriodQuarter,
				PeriodYear:     row.PeriodYear,
				ExpenseValue:   row.ExpenseValue,
				OpeningBalance: row.OpeningBalance,
			})
		}
	}

	SortRecords(out)
	s.Records = len(out)
	return out, s
}

// DropExactDuplicates removes records repeating an earlier record's
// (registry_id, quarter, year, expense_value). It guards tables read back
// from disk that were not produced by Consolidate.
func DropExactDuplicates(records []models.ConsolidatedRecord) []models.ConsolidatedRecord {
	type dupKey struct {
		key   models.PeriodKey
		value string
	}
	seen := make(map[dupKey]bool, len(records))
	out := make([]models.ConsolidatedRecord, 0, len(records))
	for _, r := range records {
		k := dupKey{key: r.Key(), value: r.ExpenseValue.String()}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// SortRecords orders records by registry id, then by period ordinal. Records
// whose period does not parse come after the valid ones, by year then quarter.
func SortRecords(records []models.ConsolidatedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.RegistryID != b.RegistryID {
			return a.RegistryID < b.RegistryID
		}
		ao, aok := validate.PeriodOrdinal(a.PeriodQuarter, a.PeriodYear)
		bo, bok := validate.PeriodOrdinal(b.PeriodQuarter, b.PeriodYear)
		if aok != bok {
			return aok
		}
		if aok {
			return ao < bo
		}
		if a.PeriodYear != b.PeriodYear {
			return a.PeriodYear < b.PeriodYear
		}
		return a.PeriodQuarter < b.PeriodQuarter
	})
}
