package store

import (
	"archive/zip"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disclosure_pipeline/pkg/models"
)

func sampleConsolidated() []models.ConsolidatedRecord {
	return []models.ConsolidatedRecord{
		{TaxID: "11222333000181", RegistryID: 123456, LegalName: "Alpha Saude", PeriodQuarter: "1T", PeriodYear: "2024",
			ExpenseValue: decimal.RequireFromString("1234.56"), OpeningBalance: decimal.RequireFromString("10")},
		{TaxID: "Inconsistent", RegistryID: 654321, LegalName: "Beta; \"Planos\"", PeriodQuarter: "2T", PeriodYear: "2024",
			ExpenseValue: decimal.RequireFromString("-5.5")},
	}
}

func TestConsolidatedRoundTrip(t *testing.T) {
	s := NewTableStore(t.TempDir())

	path, err := s.WriteConsolidated(sampleConsolidated())
	require.NoError(t, err)
	assert.Equal(t, s.Path(ConsolidatedFile), path)

	got, err := s.ReadConsolidated()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(123456), got[0].RegistryID)
	assert.True(t, got[0].ExpenseValue.Equal(decimal.RequireFromString("1234.56")))
	assert.Equal(t, "Beta; \"Planos\"", got[1].LegalName)
	assert.True(t, got[1].OpeningBalance.IsZero())
}

func TestConsolidatedHeaderOrder(t *testing.T) {
	s := NewTableStore(t.TempDir())
	_, err := s.WriteConsolidated(nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(s.Path(ConsolidatedFile))
	require.NoError(t, err)
	assert.Equal(t, "tax_id,registry_id,legal_name,period_quarter,period_year,expense_value,opening_balance\n", string(raw))
}

func TestReadConsolidatedMissing(t *testing.T) {
	s := NewTableStore(t.TempDir())
	_, err := s.ReadConsolidated()
	assert.ErrorIs(t, err, ErrInputMissing)
}

func TestReadConsolidatedBadHeader(t *testing.T) {
	s := NewTableStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path(ConsolidatedFile), []byte("a,b\n1,2\n"), 0o644))
	_, err := s.ReadConsolidated()
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestAggregatedRoundTrip(t *testing.T) {
	s := NewTableStore(t.TempDir())
	in := []models.AggregatedRecord{
		{RegistryID: 1, LegalName: "Alpha", Region: "SP", TotalExpense: 600, MeanExpense: 200, StddevExpense: 100},
	}
	_, err := s.WriteAggregated(in)
	require.NoError(t, err)

	got, err := s.ReadAggregated()
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestRegistryRoundTrip(t *testing.T) {
	s := NewTableStore(t.TempDir())
	in := []models.RegistryRecord{
		{RegistryID: 1, TaxID: "11222333000181", LegalName: "Alpha", Category: "Medicina de Grupo", Region: "SP",
			RegistrationDate: time.Date(2001, 5, 3, 0, 0, 0, 0, time.UTC)},
		{RegistryID: 2, TaxID: "Inconsistent", LegalName: "Beta", Region: "RJ"},
	}
	_, err := s.WriteRegistry(in)
	require.NoError(t, err)

	got, err := s.ReadRegistry()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].RegistrationDate.Equal(in[0].RegistrationDate))
	assert.False(t, got[1].HasRegistrationDate())
	assert.Equal(t, "Medicina de Grupo", got[0].Category)
}

func TestPackage(t *testing.T) {
	s := NewTableStore(t.TempDir())
	_, err := s.WriteConsolidated(sampleConsolidated())
	require.NoError(t, err)
	_, err = s.WriteAggregated(nil)
	require.NoError(t, err)
	_, err = s.WriteRegistry(nil)
	require.NoError(t, err)

	path, err := s.Package("")
	require.NoError(t, err)
	assert.Equal(t, s.Path(DefaultBundleName), path)

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, BundleEntries, names)

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = s.Package("")
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPackageMissingOutput(t *testing.T) {
	s := NewTableStore(t.TempDir())
	_, err := s.WriteConsolidated(nil)
	require.NoError(t, err)

	_, err = s.Package("out.zip")
	assert.ErrorIs(t, err, ErrMissingOutput)
	_, statErr := os.Stat(s.Path("out.zip"))
	assert.True(t, os.IsNotExist(statErr))
}
