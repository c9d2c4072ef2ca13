package calc

import (
	"sort"

	"disclosure_pipeline/pkg/core/validate"
	"disclosure_pipeline/pkg/models"
)

// DefaultTopN is the ranking size used by the API and the run report.
const DefaultTopN = 5

// =============================================================================
// GROWTH RANKING
// =============================================================================

type periodValue struct {
	ordinal int
	label   string
	value   float64
}

// Growth compares each entity's expense at its earliest and latest valid
// period and returns the topN by percent change, highest first. Entities with
// fewer than two valid periods are skipped. A zero first value yields 0%.
func Growth(enriched []models.EnrichedRecord, topN int) []models.GrowthRecord {
	series := make(map[int64][]periodValue)
	names := make(map[int64]string)
	var ids []int64

	for _, r := range enriched {
		ord, ok := validate.PeriodOrdinal(r.PeriodQuarter, r.PeriodYear)
		if !ok {
			continue
		}
		if _, seen := series[r.RegistryID]; !seen {
			ids = append(ids, r.RegistryID)
			names[r.RegistryID] = r.LegalName
		}
		series[r.RegistryID] = append(series[r.RegistryID], periodValue{
			ordinal: ord,
			label:   r.PeriodQuarter + r.PeriodYear,
			value:   r.ExpenseValue.InexactFloat64(),
		})
	}

	var out []models.GrowthRecord
	for _, id := range ids {
		points := series[id]
		sort.SliceStable(points, func(i, j int) bool { return points[i].ordinal < points[j].ordinal })
		first, last := points[0], points[len(points)-1]
		if first.ordinal == last.ordinal {
			continue
		}
		out = append(out, models.GrowthRecord{
			RegistryID:  id,
			LegalName:   names[id],
			FirstPeriod: first.label,
			LastPeriod:  last.label,
			FirstValue:  first.value,
			LastValue:   last.value,
			GrowthPct:   validate.PercentChange(first.value, last.value),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].GrowthPct != out[j].GrowthPct {
			return out[i].GrowthPct > out[j].GrowthPct
		}
		return out[i].RegistryID < out[j].RegistryID
	})
	return truncate(out, topN)
}

// =============================================================================
// REGIONAL ROLLUP
// =============================================================================

// Regions sums entity totals per region and averages them over the region's
// entities. Records without a region are left out. Returns the topN regions
// by total, highest first.
func Regions(enriched []models.EnrichedRecord, topN int) []models.RegionRecord {
	type acc struct {
		totals map[int64]float64
	}
	byRegion := make(map[string]*acc)
	var order []string

	for _, r := range enriched {
		if r.Region == "" {
			continue
		}
		a, ok := byRegion[r.Region]
		if !ok {
			a = &acc{totals: make(map[int64]float64)}
			byRegion[r.Region] = a
			order = append(order, r.Region)
		}
		a.totals[r.RegistryID] += r.ExpenseValue.InexactFloat64()
	}

	out := make([]models.RegionRecord, 0, len(order))
	for _, region := range order {
		a := byRegion[region]
		rec := models.RegionRecord{Region: region, Entities: len(a.totals)}
		for _, t := range a.totals {
			rec.TotalExpense += t
		}
		rec.MeanExpense = rec.TotalExpense / float64(rec.Entities)
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalExpense != out[j].TotalExpense {
			return out[i].TotalExpense > out[j].TotalExpense
		}
		return out[i].Region < out[j].Region
	})
	return truncate(out, topN)
}

// =============================================================================
// ABOVE-MEAN FREQUENCY
// =============================================================================

// AboveMean flags records whose expense exceeds the global mean, counts the
// flagged periods per entity and keeps entities with at least two. Ranking is
// by flagged count, then flagged value, both descending. limit 0 returns all.
func AboveMean(enriched []models.EnrichedRecord, limit int) []models.AboveMeanRecord {
	if len(enriched) == 0 {
		return nil
	}

	var sum float64
	for _, r := range enriched {
		sum += r.ExpenseValue.InexactFloat64()
	}
	mean := sum / float64(len(enriched))

	byID := make(map[int64]*models.AboveMeanRecord)
	var ids []int64
	for _, r := range enriched {
		v := r.ExpenseValue.InexactFloat64()
		if v <= mean {
			continue
		}
		rec, ok := byID[r.RegistryID]
		if !ok {
			rec = &models.AboveMeanRecord{RegistryID: r.RegistryID, LegalName: r.LegalName}
			byID[r.RegistryID] = rec
			ids = append(ids, r.RegistryID)
		}
		rec.PeriodsAbove++
		rec.ValueAboveMean += v
	}

	var out []models.AboveMeanRecord
	for _, id := range ids {
		if rec := byID[id]; rec.PeriodsAbove >= 2 {
			out = append(out, *rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PeriodsAbove != out[j].PeriodsAbove {
			return out[i].PeriodsAbove > out[j].PeriodsAbove
		}
		if out[i].ValueAboveMean != out[j].ValueAboveMean {
			return out[i].ValueAboveMean > out[j].ValueAboveMean
		}
		return out[i].RegistryID < out[j].RegistryID
	})
	return truncate(out, limit)
}
