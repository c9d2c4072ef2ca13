// Package registry downloads the regulator's entity registry, keeps the most
// recently registered record per tax id, and left-joins it onto the
// consolidated expense table.
package registry

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"disclosure_pipeline/pkg/core/ingest"
	"disclosure_pipeline/pkg/core/sanitize"
	"disclosure_pipeline/pkg/core/validate"
	"disclosure_pipeline/pkg/models"
	"disclosure_pipeline/pkg/platform/logger"
)

var (
	// ErrRegistryUnavailable wraps any failure to download or parse the registry.
	ErrRegistryUnavailable = errors.New("registry: unavailable")
	// ErrMissingColumn is returned when a required registry column is absent.
	ErrMissingColumn = errors.New("registry: required column missing")
)

// columnAliases maps trimmed, uppercased registry headers to canonical names.
var columnAliases = map[string]string{
	"REGISTRO_OPERADORA": models.ColRegistryID,
	"REGISTRO_ANS":       models.ColRegistryID,
	"REG_ANS":            models.ColRegistryID,
	"CNPJ":               models.ColTaxID,
	"RAZAO_SOCIAL":       models.ColLegalName,
	"RAZÃO_SOCIAL":       models.ColLegalName,
	"UF":                 models.ColRegion,
	"DATA_REGISTRO_ANS":  models.ColRegistrationDate,
	"MODALIDADE":         models.ColCategory,
}

// ParseSummary describes one registry parse.
type ParseSummary struct {
	Rows         int `json:"rows"`
	SkippedLines int `json:"skipped_lines"`
	Duplicates   int `json:"duplicates"` // records dropped by tax id dedup
	MissingDates int `json:"missing_dates"`
}

// Parse reads a semicolon-delimited registry file.
func Parse(data []byte) ([]models.RegistryRecord, ParseSummary, error) {
	var s ParseSummary

	raw, skipped, err := ingest.ReadTable("registry", data, ';')
	if err != nil {
		return nil, s, err
	}
	s.SkippedLines = skipped

	cols := make(map[string]int)
	for i, h := range raw.Header {
		name := strings.ToUpper(strings.TrimSpace(h))
		if canonical, ok := columnAliases[name]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	for _, required := range []string{models.ColRegistryID, models.ColTaxID} {
		if _, ok := cols[required]; !ok {
			return nil, s, eris.Wrap(ErrMissingColumn, required)
		}
	}

	cell := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	records := make([]models.RegistryRecord, 0, len(raw.Records))
	for _, rec := range raw.Records {
		id, _ := sanitize.ParseRegistryID(cell(rec, models.ColRegistryID))
		r := models.RegistryRecord{
			RegistryID: id,
			TaxID:      validate.CleanTaxID(cell(rec, models.ColTaxID)),
			LegalName:  cell(rec, models.ColLegalName),
			Category:   cell(rec, models.ColCategory),
			Region:     cell(rec, models.ColRegion),
		}
		if d, ok := validate.ParseDate(cell(rec, models.ColRegistrationDate)); ok {
			r.RegistrationDate = d
		} else {
			s.MissingDates++
		}
		records = append(records, r)
	}
	s.Rows = len(records)
	return records, s, nil
}

// Dedupe keeps one record per tax id: the latest registration date wins,
// missing dates lose to any date, and ties keep the first record seen.
// The result is ordered by tax id.
func Dedupe(records []models.RegistryRecord) []models.RegistryRecord {
	sorted := make([]models.RegistryRecord, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TaxID != b.TaxID {
			return a.TaxID < b.TaxID
		}
		if a.HasRegistrationDate() != b.HasRegistrationDate() {
			return a.HasRegistrationDate()
		}
		return a.RegistrationDate.After(b.RegistrationDate)
	})

	out := make([]models.RegistryRecord, 0, len(sorted))
	for i, r := range sorted {
		if i > 0 && r.TaxID == sorted[i-1].TaxID {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Join left-joins registry display attributes onto consolidated records by
// registry id. The registry's legal name replaces the consolidated one;
// unmatched records keep empty name, region and category. When several
// registry records share a registry id the first one in registry order wins.
func Join(consolidated []models.ConsolidatedRecord, registry []models.RegistryRecord) ([]models.EnrichedRecord, int) {
	byID := make(map[int64]models.RegistryRecord, len(registry))
	for _, r := range registry {
		if _, ok := byID[r.RegistryID]; !ok {
			byID[r.RegistryID] = r
		}
	}

	unmatched := 0
	out := make([]models.EnrichedRecord, 0, len(consolidated))
	for _, c := range consolidated {
		e := models.EnrichedRecord{
			RegistryID:     c.RegistryID,
			TaxID:          c.TaxID,
			PeriodQuarter:  c.PeriodQuarter,
			PeriodYear:     c.PeriodYear,
			ExpenseValue:   c.ExpenseValue,
			OpeningBalance: c.OpeningBalance,
		}
		if r, ok := byID[c.RegistryID]; ok {
			e.LegalName = r.LegalName
			e.Region = r.Region
			e.Category = r.Category
			e.Matched = true
			if e.TaxID == "" {
				e.TaxID = r.TaxID
			}
		} else {
			unmatched++
		}
		out = append(out, e)
	}
	return out, unmatched
}

// =============================================================================
// ENRICHER
// =============================================================================

// Result is the output of one enrichment.
type Result struct {
	Registry  []models.RegistryRecord // deduplicated, ordered by tax id
	Enriched  []models.EnrichedRecord
	Summary   ParseSummary
	Unmatched int
}

// Enricher fetches the registry and joins it onto consolidated records.
type Enricher struct {
	client  ingest.Getter
	url     string
	timeout time.Duration
	log     *zap.Logger
}

// NewEnricher creates an Enricher for the registry at url.
func NewEnricher(client ingest.Getter, url string, timeout time.Duration, log *zap.Logger) *Enricher {
	return &Enricher{
		client:  client,
		url:     url,
		timeout: timeout,
		log:     logger.OrNop(log).With(zap.String("stage", "enrich")),
	}
}

// Fetch downloads, parses and deduplicates the registry. Any failure is
// reported as ErrRegistryUnavailable.
func (e *Enricher) Fetch(ctx context.Context) ([]models.RegistryRecord, ParseSummary, error) {
	e.log.Info("downloading registry", zap.String("url", e.url))
	data, err := e.client.Get(ctx, e.url, e.timeout)
	if err != nil {
		return nil, ParseSummary{}, eris.Wrapf(errors.Join(ErrRegistryUnavailable, err), "registry: download %s", e.url)
	}

	records, s, err := Parse(data)
	if err != nil {
		return nil, s, eris.Wrap(errors.Join(ErrRegistryUnavailable, err), "registry: parse")
	}

	deduped := Dedupe(records)
	s.Duplicates = len(records) - len(deduped)
	e.log.Info("registry loaded",
		zap.Int("rows", s.Rows),
		zap.Int("duplicates", s.Duplicates),
		zap.Int("skipped_lines", s.SkippedLines))
	return deduped, s, nil
}

// Enrich fetches the registry and joins it onto consolidated.
func (e *Enricher) Enrich(ctx context.Context, consolidated []models.ConsolidatedRecord) (*Result, error) {
	reg, s, err := e.Fetch(ctx)
	if err != nil {
		return nil, err
	}

	enriched, unmatched := Join(consolidated, reg)
	if unmatched > 0 {
		e.log.Warn("consolidated records without registry match",
			zap.Int("unmatched", unmatched), zap.Int("total", len(consolidated)))
	}
	return &Result{Registry: reg, Enriched: enriched, Summary: s, Unmatched: unmatched}, nil
}
