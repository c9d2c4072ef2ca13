// Package store persists the pipeline's tables as UTF-8 CSV files under a
// data directory and bundles them into a single zip archive.
package store

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"disclosure_pipeline/pkg/core/validate"
	"disclosure_pipeline/pkg/models"
)

// Fixed output file names under the data directory.
const (
	ConsolidatedFile  = "consolidado_despesas.csv"
	AggregatedFile    = "despesas_agregadas.csv"
	RegistryFile      = "tabela_cadastro_operadoras_limpo.csv"
	DefaultBundleName = "despesas_consolidadas.zip"
)

var (
	// ErrInputMissing is returned when a table expected on disk is absent.
	ErrInputMissing = errors.New("store: input file missing")
	// ErrMissingOutput is returned when packaging finds an output file absent.
	ErrMissingOutput = errors.New("store: output file missing")
	// ErrBadHeader is returned when a CSV lacks a required column.
	ErrBadHeader = errors.New("store: required column missing")
)

// TableStore reads and writes the fixed tables in one directory.
type TableStore struct {
	dir string
}

// NewTableStore creates a store rooted at dir. The directory is created on
// first write.
func NewTableStore(dir string) *TableStore {
	return &TableStore{dir: dir}
}

// Dir returns the data directory.
func (s *TableStore) Dir() string { return s.dir }

// Path returns the full path of a file in the data directory.
func (s *TableStore) Path(name string) string { return filepath.Join(s.dir, name) }

// =============================================================================
// WRITERS
// =============================================================================

// WriteConsolidated writes the consolidated table and returns its path.
func (s *TableStore) WriteConsolidated(records []models.ConsolidatedRecord) (string, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.TaxID,
			strconv.FormatInt(r.RegistryID, 10),
			r.LegalName,
			r.PeriodQuarter,
			r.PeriodYear,
			r.ExpenseValue.String(),
			r.OpeningBalance.String(),
		})
	}
	return s.write(ConsolidatedFile, models.ConsolidatedColumns, rows)
}

// WriteAggregated writes the aggregated table and returns its path.
func (s *TableStore) WriteAggregated(records []models.AggregatedRecord) (string, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.FormatInt(r.RegistryID, 10),
			r.LegalName,
			r.Region,
			formatAmount(r.TotalExpense),
			formatAmount(r.MeanExpense),
			formatAmount(r.StddevExpense),
		})
	}
	return s.write(AggregatedFile, models.AggregatedColumns, rows)
}

// WriteRegistry writes the cleaned registry table and returns its path.
func (s *TableStore) WriteRegistry(records []models.RegistryRecord) (string, error) {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		date := ""
		if r.HasRegistrationDate() {
			date = r.RegistrationDate.Format("2006-01-02")
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.RegistryID, 10),
			r.TaxID,
			r.LegalName,
			r.Category,
			r.Region,
			date,
		})
	}
	return s.write(RegistryFile, models.RegistryColumns, rows)
}

// write replaces name atomically with a header plus rows.
func (s *TableStore) write(name string, header []string, rows [][]string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "store: create %s", s.dir)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", eris.Wrapf(err, "store: create temp for %s", name)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return "", eris.Wrapf(err, "store: write %s", name)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return "", eris.Wrapf(err, "store: write %s", name)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "store: close %s", name)
	}

	path := s.Path(name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", eris.Wrapf(err, "store: replace %s", path)
	}
	return path, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// =============================================================================
// READERS
// =============================================================================

// ReadConsolidated loads the consolidated table. Unparsable numbers read as 0.
func (s *TableStore) ReadConsolidated() ([]models.ConsolidatedRecord, error) {
	t, err := s.read(ConsolidatedFile, models.ColRegistryID, models.ColPeriodQuarter, models.ColPeriodYear, models.ColExpenseValue)
	if err != nil {
		return nil, err
	}

	out := make([]models.ConsolidatedRecord, 0, len(t.rows))
	for _, row := range t.rows {
		id, _ := strconv.ParseInt(t.get(row, models.ColRegistryID), 10, 64)
		out = append(out, models.ConsolidatedRecord{
			TaxID:          t.get(row, models.ColTaxID),
			RegistryID:     id,
			LegalName:      t.get(row, models.ColLegalName),
			PeriodQuarter:  t.get(row, models.ColPeriodQuarter),
			PeriodYear:     t.get(row, models.ColPeriodYear),
			ExpenseValue:   parseDecimal(t.get(row, models.ColExpenseValue)),
			OpeningBalance: parseDecimal(t.get(row, models.ColOpeningBalance)),
		})
	}
	return out, nil
}

// ReadAggregated loads the aggregated table.
func (s *TableStore) ReadAggregated() ([]models.AggregatedRecord, error) {
	t, err := s.read(AggregatedFile, models.AggregatedColumns...)
	if err != nil {
		return nil, err
	}

	out := make([]models.AggregatedRecord, 0, len(t.rows))
	for _, row := range t.rows {
		id, _ := strconv.ParseInt(t.get(row, models.ColRegistryID), 10, 64)
		rec := models.AggregatedRecord{
			RegistryID: id,
			LegalName:  t.get(row, models.ColLegalName),
			Region:     t.get(row, models.ColRegion),
		}
		var perr error
		if rec.TotalExpense, perr = strconv.ParseFloat(t.get(row, "total_expense"), 64); perr != nil {
			return nil, eris.Wrapf(perr, "store: %s registry_id %d total_expense", AggregatedFile, id)
		}
		if rec.MeanExpense, perr = strconv.ParseFloat(t.get(row, "mean_expense"), 64); perr != nil {
			return nil, eris.Wrapf(perr, "store: %s registry_id %d mean_expense", AggregatedFile, id)
		}
		if rec.StddevExpense, perr = strconv.ParseFloat(t.get(row, "stddev_expense"), 64); perr != nil {
			return nil, eris.Wrapf(perr, "store: %s registry_id %d stddev_expense", AggregatedFile, id)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadRegistry loads the cleaned registry table.
func (s *TableStore) ReadRegistry() ([]models.RegistryRecord, error) {
	t, err := s.read(RegistryFile, models.ColRegistryID, models.ColTaxID)
	if err != nil {
		return nil, err
	}

	out := make([]models.RegistryRecord, 0, len(t.rows))
	for _, row := range t.rows {
		id, _ := strconv.ParseInt(t.get(row, models.ColRegistryID), 10, 64)
		rec := models.RegistryRecord{
			RegistryID: id,
			TaxID:      t.get(row, models.ColTaxID),
			LegalName:  t.get(row, models.ColLegalName),
			Category:   t.get(row, models.ColCategory),
			Region:     t.get(row, models.ColRegion),
		}
		if d := t.get(row, models.ColRegistrationDate); d != "" {
			if parsed, ok := validate.ParseDate(d); ok {
				rec.RegistrationDate = parsed
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

type csvTable struct {
	index map[string]int
	rows  [][]string
}

func (t csvTable) get(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (s *TableStore) read(name string, required ...string) (csvTable, error) {
	path := s.Path(name)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return csvTable{}, eris.Wrap(ErrInputMissing, path)
	}
	if err != nil {
		return csvTable{}, eris.Wrapf(err, "store: open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return csvTable{}, eris.Wrapf(err, "store: read %s", path)
	}
	if len(records) == 0 {
		return csvTable{}, eris.Wrapf(ErrBadHeader, "%s is empty", path)
	}

	t := csvTable{index: make(map[string]int), rows: records[1:]}
	for i, col := range records[0] {
		t.index[strings.TrimSpace(col)] = i
	}
	for _, col := range required {
		if _, ok := t.index[col]; !ok {
			return csvTable{}, eris.Wrapf(ErrBadHeader, "%s: %s", path, col)
		}
	}
	return t, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
