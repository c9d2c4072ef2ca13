package calc

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disclosure_pipeline/pkg/models"
)

func rec(id int64, name, region, q, y string, value int64) models.EnrichedRecord {
	return models.EnrichedRecord{
		RegistryID: id, LegalName: name, Region: region,
		PeriodQuarter: q, PeriodYear: y, ExpenseValue: decimal.NewFromInt(value),
	}
}

// =============================================================================
// AGGREGATE
// =============================================================================

func TestAggregate_ThreePeriods(t *testing.T) {
	enriched := []models.EnrichedRecord{
		rec(1, "Alpha", "SP", "1T", "2024", 100),
		rec(1, "Alpha", "SP", "2T", "2024", 200),
		rec(1, "Alpha", "SP", "3T", "2024", 300),
	}

	got := Aggregate(enriched)

	require.Len(t, got, 1)
	assert.Equal(t, 600.0, got[0].TotalExpense)
	assert.Equal(t, 200.0, got[0].MeanExpense)
	assert.InDelta(t, 100.0, got[0].StddevExpense, 1e-9)
}

func TestAggregate_SingleRecordAndZeroFilter(t *testing.T) {
	enriched := []models.EnrichedRecord{
		rec(1, "Alpha", "SP", "1T", "2024", 50),
		rec(2, "Zero", "RJ", "1T", "2024", 0),
		rec(2, "Zero", "RJ", "2T", "2024", 0),
		rec(3, "", "", "1T", "2024", 7),
	}

	got := Aggregate(enriched)

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].RegistryID)
	assert.Equal(t, 0.0, got[0].StddevExpense, "single record has zero deviation")
	assert.Equal(t, int64(3), got[1].RegistryID, "unmatched entities still aggregate")
	for _, a := range got {
		assert.False(t, a.TotalExpense == 0 && a.MeanExpense == 0 && a.StddevExpense == 0)
	}
}

func TestDescribe(t *testing.T) {
	total, mean, sd := Describe(nil)
	assert.Zero(t, total+mean+sd)

	total, mean, sd = Describe([]decimal.Decimal{decimal.NewFromInt(2), decimal.NewFromInt(4), decimal.NewFromInt(4),
		decimal.NewFromInt(4), decimal.NewFromInt(5), decimal.NewFromInt(5), decimal.NewFromInt(7), decimal.NewFromInt(9)})
	assert.Equal(t, 40.0, total)
	assert.Equal(t, 5.0, mean)
	assert.InDelta(t, 2.138089935, sd, 1e-6)
}

func TestDescribe_MeanKeepsFullPrecision(t *testing.T) {
	_, mean, sd := Describe([]decimal.Decimal{decimal.NewFromInt(1), decimal.Zero, decimal.Zero})
	assert.InDelta(t, 1.0/3, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(1.0/3), sd, 1e-12)
}

func TestSummarize(t *testing.T) {
	aggs := []models.AggregatedRecord{
		{RegistryID: 1, TotalExpense: 10}, {RegistryID: 2, TotalExpense: 60}, {RegistryID: 3, TotalExpense: 30},
		{RegistryID: 4, TotalExpense: 20}, {RegistryID: 5, TotalExpense: 50}, {RegistryID: 6, TotalExpense: 40},
	}

	s := Summarize(aggs, DefaultTopN)

	assert.Equal(t, 6, s.Entities)
	assert.Equal(t, 210.0, s.TotalExpense)
	assert.Equal(t, 35.0, s.MeanExpense)
	require.Len(t, s.Top, 5)
	assert.Equal(t, int64(2), s.Top[0].RegistryID)
	assert.Equal(t, int64(4), s.Top[4].RegistryID)
	assert.Equal(t, int64(1), aggs[0].RegistryID, "input order untouched")
}

// =============================================================================
// DERIVED
// =============================================================================

func TestGrowth(t *testing.T) {
	enriched := []models.EnrichedRecord{
		rec(1, "Fifty", "SP", "3T", "2024", 150),
		rec(1, "Fifty", "SP", "1T", "2024", 100),
		rec(1, "Fifty", "SP", "2T", "2024", 999),
		rec(2, "FromZero", "SP", "4T", "2023", 0),
		rec(2, "FromZero", "SP", "1T", "2024", 500),
		rec(3, "Doubled", "RJ", "4T", "2023", 10),
		rec(3, "Doubled", "RJ", "1T", "2024", 20),
		rec(4, "Single", "RJ", "1T", "2024", 20),
		rec(5, "BadPeriod", "RJ", "Inconsistent", "2024", 1),
		rec(5, "BadPeriod", "RJ", "1T", "N/A", 100),
	}

	got := Growth(enriched, DefaultTopN)

	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].RegistryID)
	assert.InDelta(t, 100.0, got[0].GrowthPct, 1e-9)
	assert.Equal(t, int64(1), got[1].RegistryID)
	assert.InDelta(t, 50.0, got[1].GrowthPct, 1e-9)
	assert.Equal(t, "1T2024", got[1].FirstPeriod)
	assert.Equal(t, "3T2024", got[1].LastPeriod)
	assert.Equal(t, int64(2), got[2].RegistryID)
	assert.Equal(t, 0.0, got[2].GrowthPct)
}

func TestGrowth_TopN(t *testing.T) {
	var enriched []models.EnrichedRecord
	for i := int64(1); i <= 8; i++ {
		enriched = append(enriched, rec(i, "E", "SP", "1T", "2024", 100), rec(i, "E", "SP", "2T", "2024", 100+i))
	}

	got := Growth(enriched, DefaultTopN)

	require.Len(t, got, 5)
	assert.Equal(t, int64(8), got[0].RegistryID)
}

func TestRegions(t *testing.T) {
	enriched := []models.EnrichedRecord{
		rec(1, "A", "SP", "1T", "2024", 100),
		rec(1, "A", "SP", "2T", "2024", 100),
		rec(2, "B", "SP", "1T", "2024", 400),
		rec(3, "C", "RJ", "1T", "2024", 50),
		rec(4, "D", "", "1T", "2024", 9999),
	}

	got := Regions(enriched, DefaultTopN)

	require.Len(t, got, 2)
	assert.Equal(t, models.RegionRecord{Region: "SP", Entities: 2, TotalExpense: 600, MeanExpense: 300}, got[0])
	assert.Equal(t, models.RegionRecord{Region: "RJ", Entities: 1, TotalExpense: 50, MeanExpense: 50}, got[1])
}

func TestAboveMean(t *testing.T) {
	// mean = (10+10+10+100+100+100+90+90+5) / 9 = 57.22
	enriched := []models.EnrichedRecord{
		rec(1, "Low", "SP", "1T", "2024", 10),
		rec(1, "Low", "SP", "2T", "2024", 10),
		rec(1, "Low", "SP", "3T", "2024", 10),
		rec(2, "High", "SP", "1T", "2024", 100),
		rec(2, "High", "SP", "2T", "2024", 100),
		rec(2, "High", "SP", "3T", "2024", 100),
		rec(3, "Twice", "RJ", "1T", "2024", 90),
		rec(3, "Twice", "RJ", "2T", "2024", 90),
		rec(4, "Once", "RJ", "1T", "2024", 5),
	}

	got := AboveMean(enriched, 0)

	require.Len(t, got, 2)
	assert.Equal(t, models.AboveMeanRecord{RegistryID: 2, LegalName: "High", PeriodsAbove: 3, ValueAboveMean: 300}, got[0])
	assert.Equal(t, models.AboveMeanRecord{RegistryID: 3, LegalName: "Twice", PeriodsAbove: 2, ValueAboveMean: 180}, got[1])
	assert.Nil(t, AboveMean(nil, 0))
}
