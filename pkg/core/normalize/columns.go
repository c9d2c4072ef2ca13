// Package normalize maps the regulator's column name variants onto the
// canonical schema and builds typed rows from raw delimited records.
package normalize

import (
	"fmt"
	"strings"

	"disclosure_pipeline/pkg/models"
)

// aliases resolves upstream column names (compared trimmed and uppercased)
// to canonical names. Canonical names resolve to themselves so that
// normalizing twice is the same as normalizing once.
var aliases = map[string]string{
	"CNPJ":             models.ColTaxID,
	"CNPJ_OPERADORA":   models.ColTaxID,
	"REG_ANS":          models.ColRegistryID,
	"REGISTRO_ANS":     models.ColRegistryID,
	"RAZAO_SOCIAL":     models.ColLegalName,
	"RAZÃO_SOCIAL":     models.ColLegalName,
	"NM_RAZAO_SOCIAL":  models.ColLegalName,
	"VL_SALDO_FINAL":   models.ColExpenseValue,
	"VALOR":            models.ColExpenseValue,
	"VL_SALDO_INICIAL": models.ColOpeningBalance,
	"DT_REGISTRO":      models.ColRecordDate,
	"DATA":             models.ColRecordDate,
	"TRIMESTRE":        models.ColPeriodQuarter,
	"ANO":              models.ColPeriodYear,
	"UF":               models.ColRegion,
}

func init() {
	for _, canonical := range []string{
		models.ColTaxID, models.ColRegistryID, models.ColLegalName, models.ColExpenseValue,
		models.ColOpeningBalance, models.ColPeriodQuarter, models.ColPeriodYear,
		models.ColRegion, models.ColRecordDate,
	} {
		aliases[strings.ToUpper(canonical)] = canonical
	}
}

// Canonical returns the canonical name for col, or "" when col has no alias.
func Canonical(col string) string {
	return aliases[strings.ToUpper(strings.TrimSpace(col))]
}

// Columns renames every aliased header and passes the rest through untouched.
func Columns(header []string) []string {
	out := make([]string, len(header))
	for i, col := range header {
		if c := Canonical(col); c != "" {
			out[i] = c
		} else {
			out[i] = col
		}
	}
	return out
}

// Table returns a copy of t with a normalized header. Records are shared.
// It never errors and never drops a column.
func Table(t models.RawTable) models.RawTable {
	return models.RawTable{
		Source:  t.Source,
		Header:  Columns(t.Header),
		Records: t.Records,
	}
}

// Canonicalize normalizes t and builds one CanonicalRow per record.
// When two columns resolve to the same canonical name the first wins and the
// others are kept in Extra under "<name>#<position>".
func Canonicalize(t models.RawTable) models.CanonicalTable {
	t = Table(t)

	out := models.CanonicalTable{
		Source:  t.Source,
		Columns: make(map[string]bool),
		Rows:    make([]models.CanonicalRow, 0, len(t.Records)),
	}

	slots := make([]string, len(t.Header))
	for i, col := range t.Header {
		if isCanonical(col) && !out.Columns[col] {
			out.Columns[col] = true
			slots[i] = col
		}
	}

	for _, rec := range t.Records {
		var row models.CanonicalRow
		for i, col := range t.Header {
			var value string
			if i < len(rec) {
				value = strings.TrimSpace(rec[i])
			}
			if slots[i] != "" {
				assign(&row, slots[i], value)
				continue
			}
			if row.Extra == nil {
				row.Extra = make(map[string]string)
			}
			key := col
			if isCanonical(col) {
				key = fmt.Sprintf("%s#%d", col, i)
			}
			row.Extra[key] = value
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func isCanonical(col string) bool {
	switch col {
	case models.ColTaxID, models.ColRegistryID, models.ColLegalName, models.ColExpenseValue,
		models.ColOpeningBalance, models.ColPeriodQuarter, models.ColPeriodYear,
		models.ColRegion, models.ColRecordDate:
		return true
	}
	return false
}

func assign(row *models.CanonicalRow, col, value string) {
	switch col {
	case models.ColTaxID:
		row.TaxID = value
	case models.ColRegistryID:
		row.RegistryID = value
	case models.ColLegalName:
		row.LegalName = value
	case models.ColExpenseValue:
		row.ExpenseValue = value
	case models.ColOpeningBalance:
		row.OpeningBalance = value
	case models.ColPeriodQuarter:
		row.PeriodQuarter = value
	case models.ColPeriodYear:
		row.PeriodYear = value
	case models.ColRegion:
		row.Region = value
	case models.ColRecordDate:
		row.RecordDate = value
	}
}
