package report

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disclosure_pipeline/pkg/core/sanitize"
)

func sampleRun() *Run {
	return &Run{
		ID:        "4f1d2c1e-0000-4000-8000-000000000000",
		StartedAt: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
		Stages: []Stage{
			{Name: "extract", Status: "partial", Duration: 1500 * time.Millisecond, Warnings: []string{"skipped 3T2024.zip: status 500"}},
		},
		Archives: []Archive{
			{URL: "http://x/2024/1T2024.zip", Period: "1T/2024", Files: 1, Rows: 10},
			{URL: "http://x/2024/3T2024.zip", Error: "a|b"},
		},
		Findings:         sanitize.Findings{RowsIn: 12, RowsOut: 10, InvalidTaxIDs: 2, UnresolvedTaxIDs: []string{"11222333000181"}},
		ConsolidatedRows: 10,
		AggregatedRows:   4,
	}
}

func TestMarkdownContents(t *testing.T) {
	md := sampleRun().Markdown()

	assert.Contains(t, md, "4f1d2c1e-0000-4000-8000-000000000000")
	assert.Contains(t, md, "| extract | partial | 1.5s |")
	assert.Contains(t, md, "| CNPJs inválidos | 2 |")
	assert.Contains(t, md, `a\|b`)
	assert.Contains(t, md, "11222333000181")
	assert.Contains(t, md, "| Agregado | 4 |")
}

func TestRenderTables(t *testing.T) {
	html, err := Render(sampleRun().Markdown())
	require.NoError(t, err)
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<h1>")
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	mdPath, htmlPath, err := Write(dir, sampleRun())
	require.NoError(t, err)

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(md), "# Relatório de execução"))

	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "<!DOCTYPE html>")
	assert.Contains(t, string(html), "<table>")
}
