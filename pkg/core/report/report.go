// Package report renders the pipeline run report as Markdown and HTML.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"disclosure_pipeline/pkg/core/sanitize"
)

// FileBase is the report file name without extension.
const FileBase = "relatorio_execucao"

// Stage is one stage line in the report.
type Stage struct {
	Name     string
	Status   string
	Duration time.Duration
	Warnings []string
}

// Archive is one processed or skipped quarterly archive.
type Archive struct {
	URL    string
	Period string
	Files  int
	Rows   int
	Error  string // empty when the archive was processed
}

// Run holds everything the report shows about one pipeline run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time

	Stages   []Stage
	Archives []Archive
	Findings sanitize.Findings

	ConsolidatedRows   int
	MergedRows         int
	DuplicateRows      int
	RegistryRows       int
	RegistryDuplicates int
	UnmatchedRecords   int
	AggregatedRows     int
	Outputs            []string
}

// Markdown returns the report as a Markdown document.
func (r *Run) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Relatório de execução\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", r.ID)
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- Início: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	}
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- Fim: %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	if len(r.Stages) > 0 {
		b.WriteString("## Etapas\n\n| Etapa | Status | Duração |\n|---|---|---|\n")
		for _, s := range r.Stages {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", s.Name, s.Status, s.Duration.Round(time.Millisecond))
		}
		b.WriteString("\n")
		for _, s := range r.Stages {
			for _, w := range s.Warnings {
				fmt.Fprintf(&b, "- **%s**: %s\n", s.Name, cell(w))
			}
		}
		b.WriteString("\n")
	}

	if len(r.Archives) > 0 {
		b.WriteString("## Arquivos trimestrais\n\n| Arquivo | Período | Arquivos | Linhas | Erro |\n|---|---|---|---|---|\n")
		for _, a := range r.Archives {
			fmt.Fprintf(&b, "| %s | %s | %d | %d | %s |\n", cell(a.URL), a.Period, a.Files, a.Rows, cell(a.Error))
		}
		b.WriteString("\n")
	}

	f := r.Findings
	b.WriteString("## Qualidade dos dados\n\n| Indicador | Valor |\n|---|---|\n")
	for _, kv := range []struct {
		label string
		n     int
	}{
		{"Linhas lidas", f.RowsIn},
		{"Linhas mantidas", f.RowsOut},
		{"Linhas zeradas descartadas", f.DroppedZeroRows},
		{"CNPJs inválidos", f.InvalidTaxIDs},
		{"Registros ANS inválidos", f.BadRegistryIDs},
		{"Valores não numéricos", f.UnparsableAmounts},
		{"Valores negativos zerados", f.ClampedNegatives},
		{"Trimestres inconsistentes", f.InconsistentQuarters},
		{"Anos inconsistentes", f.InconsistentYears},
		{"Razões sociais ausentes", f.PlaceholderLegalNames},
		{"Conflitos de nome resolvidos", f.ResolvedConflicts},
		{"Conflitos de nome não resolvidos", f.UnresolvedConflicts},
	} {
		fmt.Fprintf(&b, "| %s | %d |\n", kv.label, kv.n)
	}
	b.WriteString("\n")
	if len(f.UnresolvedTaxIDs) > 0 {
		fmt.Fprintf(&b, "CNPJs com conflito não resolvido: %s\n\n", strings.Join(f.UnresolvedTaxIDs, ", "))
	}

	b.WriteString("## Tabelas\n\n| Tabela | Linhas |\n|---|---|\n")
	fmt.Fprintf(&b, "| Consolidado | %d |\n", r.ConsolidatedRows)
	fmt.Fprintf(&b, "| Linhas mescladas na consolidação | %d |\n", r.MergedRows)
	fmt.Fprintf(&b, "| Duplicatas exatas removidas | %d |\n", r.DuplicateRows)
	fmt.Fprintf(&b, "| Cadastro | %d |\n", r.RegistryRows)
	fmt.Fprintf(&b, "| Duplicatas no cadastro | %d |\n", r.RegistryDuplicates)
	fmt.Fprintf(&b, "| Sem correspondência no cadastro | %d |\n", r.UnmatchedRecords)
	fmt.Fprintf(&b, "| Agregado | %d |\n", r.AggregatedRows)
	b.WriteString("\n")

	if len(r.Outputs) > 0 {
		b.WriteString("## Saídas\n\n")
		for _, o := range r.Outputs {
			fmt.Fprintf(&b, "- `%s`\n", o)
		}
	}
	return b.String()
}

// cell escapes text for a Markdown table cell.
func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

var renderer = goldmark.New(goldmark.WithExtensions(extension.Table))

// Render converts Markdown to an HTML fragment.
func Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(markdown), &buf); err != nil {
		return "", eris.Wrap(err, "report: render")
	}
	return buf.String(), nil
}

// Write stores the report as dir/relatorio_execucao.md and .html and
// returns both paths.
func Write(dir string, r *Run) (mdPath, htmlPath string, err error) {
	md := r.Markdown()
	body, err := Render(md)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", eris.Wrapf(err, "report: create %s", dir)
	}
	mdPath = filepath.Join(dir, FileBase+".md")
	htmlPath = filepath.Join(dir, FileBase+".html")

	if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
		return "", "", eris.Wrapf(err, "report: write %s", mdPath)
	}
	page := "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>" + FileBase + "</title></head><body>\n" +
		body + "</body></html>\n"
	if err := os.WriteFile(htmlPath, []byte(page), 0o644); err != nil {
		return "", "", eris.Wrapf(err, "report: write %s", htmlPath)
	}
	return mdPath, htmlPath, nil
}
