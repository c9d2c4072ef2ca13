package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disclosure_pipeline/pkg/models"
)

func TestColumns_Aliases(t *testing.T) {
	header := []string{"CNPJ_OPERADORA", "REG_ANS", "NM_RAZAO_SOCIAL", "VL_SALDO_FINAL", "VL_SALDO_INICIAL", "DT_REGISTRO", "CD_CONTA_CONTABIL"}
	got := Columns(header)

	assert.Equal(t, []string{
		models.ColTaxID, models.ColRegistryID, models.ColLegalName, models.ColExpenseValue,
		models.ColOpeningBalance, models.ColRecordDate, "CD_CONTA_CONTABIL",
	}, got)
	assert.Equal(t, "CNPJ_OPERADORA", header[0], "input header must not be mutated")
}

func TestColumns_Idempotent(t *testing.T) {
	headers := [][]string{
		{"CNPJ", "RAZAO_SOCIAL", "VALOR", "extra"},
		{" reg_ans ", "Razão_Social", "UF"},
		{"tax_id", "legal_name", "expense_value"},
		{},
	}

	for _, h := range headers {
		once := Table(models.RawTable{Header: h})
		twice := Table(once)
		assert.Equal(t, once.Header, twice.Header)
	}
}

func TestCanonicalize(t *testing.T) {
	raw := models.RawTable{
		Source: "1T2024.csv",
		Header: []string{"REG_ANS", "CD_CONTA_CONTABIL", "VL_SALDO_FINAL", "VALOR"},
		Records: [][]string{
			{"123456", "411", " 1.234,56 ", "9"},
			{"654321"},
		},
	}

	got := Canonicalize(raw)

	require.Len(t, got.Rows, 2)
	assert.True(t, got.Has(models.ColRegistryID))
	assert.True(t, got.Has(models.ColExpenseValue))
	assert.False(t, got.Has(models.ColTaxID))

	first := got.Rows[0]
	assert.Equal(t, "123456", first.RegistryID)
	assert.Equal(t, "1.234,56", first.ExpenseValue)
	assert.Equal(t, "411", first.Extra["CD_CONTA_CONTABIL"])
	assert.Equal(t, "9", first.Extra["expense_value#3"])

	short := got.Rows[1]
	assert.Equal(t, "654321", short.RegistryID)
	assert.Empty(t, short.ExpenseValue)
}
