// Package calc computes the per-entity expense aggregates and the derived
// rankings served by the query API. Every function is pure and works from
// the enriched table, so each ranking can be recomputed independently.
package calc

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"disclosure_pipeline/pkg/models"
)

// =============================================================================
// PER-ENTITY AGGREGATION
// =============================================================================

type entityKey struct {
	RegistryID int64
	LegalName  string
	Region     string
}

// Aggregate groups enriched records by (registry_id, legal_name, region) and
// computes total, mean and sample standard deviation of expense_value.
// Single-record groups have a deviation of 0. Groups whose three statistics
// are all zero are dropped. Output is ordered by the group key.
func Aggregate(enriched []models.EnrichedRecord) []models.AggregatedRecord {
	groups := make(map[entityKey][]decimal.Decimal)
	var keys []entityKey
	for _, r := range enriched {
		k := entityKey{RegistryID: r.RegistryID, LegalName: r.LegalName, Region: r.Region}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], r.ExpenseValue)
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.RegistryID != b.RegistryID {
			return a.RegistryID < b.RegistryID
		}
		if a.LegalName != b.LegalName {
			return a.LegalName < b.LegalName
		}
		return a.Region < b.Region
	})

	out := make([]models.AggregatedRecord, 0, len(keys))
	for _, k := range keys {
		total, mean, stddev := Describe(groups[k])
		if total == 0 && mean == 0 && stddev == 0 {
			continue
		}
		out = append(out, models.AggregatedRecord{
			RegistryID:    k.RegistryID,
			LegalName:     k.LegalName,
			Region:        k.Region,
			TotalExpense:  total,
			MeanExpense:   mean,
			StddevExpense: stddev,
		})
	}
	return out
}

// Describe returns the sum, arithmetic mean and sample standard deviation
// (n-1 denominator) of values. Empty input yields zeros; one value has a
// deviation of 0.
func Describe(values []decimal.Decimal) (total, mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}

	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}

	total = sum.InexactFloat64()
	mean = total / float64(len(values))
	if len(values) < 2 {
		return total, mean, 0
	}

	var sq float64
	for _, v := range values {
		d := v.InexactFloat64() - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(len(values)-1))
	return total, mean, stddev
}

// =============================================================================
// GLOBAL STATISTICS
// =============================================================================

// Summary is the global view over the aggregated table.
type Summary struct {
	Entities     int                       `json:"entities"`
	TotalExpense float64                   `json:"total_expense"`
	MeanExpense  float64                   `json:"mean_expense"`
	Top          []models.AggregatedRecord `json:"top"`
}

// Summarize totals the aggregated table, averages entity totals and returns
// the topN entities by total expense.
func Summarize(aggregated []models.AggregatedRecord, topN int) Summary {
	s := Summary{Entities: len(aggregated)}
	if len(aggregated) == 0 {
		return s
	}

	for _, a := range aggregated {
		s.TotalExpense += a.TotalExpense
	}
	s.MeanExpense = s.TotalExpense / float64(len(aggregated))

	ranked := make([]models.AggregatedRecord, len(aggregated))
	copy(ranked, aggregated)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].TotalExpense > ranked[j].TotalExpense })
	s.Top = truncate(ranked, topN)
	return s
}

func truncate[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
