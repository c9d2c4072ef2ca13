// Package expenses serves the read-only query API over the pipeline outputs.
//
// Handlers read from an immutable Snapshot. Reload builds a complete new
// Snapshot and swaps it in with one atomic store, so a request sees either
// the old tables or the new ones.
package expenses

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"disclosure_pipeline/pkg/core/calc"
	"disclosure_pipeline/pkg/core/consolidate"
	"disclosure_pipeline/pkg/core/registry"
	"disclosure_pipeline/pkg/core/store"
	"disclosure_pipeline/pkg/core/validate"
	"disclosure_pipeline/pkg/models"
	"disclosure_pipeline/pkg/platform/logger"
	"disclosure_pipeline/pkg/platform/metrics"
)

var (
	// ErrSnapshotEmpty is returned when the consolidated table has no rows.
	ErrSnapshotEmpty = errors.New("expenses: snapshot empty")
	// ErrNotLoaded is returned while no snapshot has been loaded.
	ErrNotLoaded = errors.New("expenses: snapshot not loaded")
	// ErrNonFinite flags a statistic that is NaN or infinite.
	ErrNonFinite = errors.New("expenses: non-finite statistic")
)

// Entity is one regulated entity as listed by the API.
type Entity struct {
	RegistryID       int64  `json:"registry_id"`
	TaxID            string `json:"tax_id"`
	LegalName        string `json:"legal_name"`
	Category         string `json:"category,omitempty"`
	Region           string `json:"region,omitempty"`
	RegistrationDate string `json:"registration_date,omitempty"`
	InRegistry       bool   `json:"in_registry"`
}

// Expense is one period of an entity's expense history.
type Expense struct {
	PeriodQuarter  string  `json:"period_quarter"`
	PeriodYear     string  `json:"period_year"`
	ExpenseValue   float64 `json:"expense_value"`
	OpeningBalance float64 `json:"opening_balance"`
}

// Snapshot is the fully materialized view served by the API. It is never
// modified after Build returns.
type Snapshot struct {
	entities   []Entity
	byID       map[int64]int
	history    map[int64][]Expense
	aggregated map[int64]models.AggregatedRecord

	summary   calc.Summary
	growth    []models.GrowthRecord
	regions   []models.RegionRecord
	aboveMean []models.AboveMeanRecord

	loadedAt time.Time
}

// Build assembles a Snapshot from the three output tables. Exact duplicate
// consolidated rows are dropped the same way the transform stage drops them.
// An empty consolidated table yields ErrSnapshotEmpty.
func Build(consolidated []models.ConsolidatedRecord, aggregated []models.AggregatedRecord, reg []models.RegistryRecord) (*Snapshot, error) {
	if len(consolidated) == 0 {
		return nil, ErrSnapshotEmpty
	}
	consolidated = consolidate.DropExactDuplicates(consolidated)
	s := &Snapshot{
		byID:       make(map[int64]int),
		history:    make(map[int64][]Expense),
		aggregated: make(map[int64]models.AggregatedRecord, len(aggregated)),
		loadedAt:   time.Now(),
	}

	for _, r := range reg {
		if _, ok := s.byID[r.RegistryID]; ok {
			continue
		}
		e := Entity{
			RegistryID: r.RegistryID,
			TaxID:      r.TaxID,
			LegalName:  r.LegalName,
			Category:   r.Category,
			Region:     r.Region,
			InRegistry: true,
		}
		if r.HasRegistrationDate() {
			e.RegistrationDate = r.RegistrationDate.Format("2006-01-02")
		}
		s.byID[r.RegistryID] = len(s.entities)
		s.entities = append(s.entities, e)
	}

	for _, c := range consolidated {
		if _, ok := s.byID[c.RegistryID]; !ok {
			s.byID[c.RegistryID] = len(s.entities)
			s.entities = append(s.entities, Entity{RegistryID: c.RegistryID, TaxID: c.TaxID, LegalName: c.LegalName})
		}
		s.history[c.RegistryID] = append(s.history[c.RegistryID], Expense{
			PeriodQuarter:  c.PeriodQuarter,
			PeriodYear:     c.PeriodYear,
			ExpenseValue:   c.ExpenseValue.InexactFloat64(),
			OpeningBalance: c.OpeningBalance.InexactFloat64(),
		})
	}

	sort.SliceStable(s.entities, func(i, j int) bool { return s.entities[i].RegistryID < s.entities[j].RegistryID })
	for i, e := range s.entities {
		s.byID[e.RegistryID] = i
	}
	for id := range s.history {
		sortHistory(s.history[id])
	}

	for _, a := range aggregated {
		if _, ok := s.aggregated[a.RegistryID]; !ok {
			s.aggregated[a.RegistryID] = a
		}
	}

	enriched, _ := registry.Join(consolidated, reg)
	s.summary = calc.Summarize(aggregated, calc.DefaultTopN)
	s.growth = calc.Growth(enriched, calc.DefaultTopN)
	s.regions = calc.Regions(enriched, calc.DefaultTopN)
	s.aboveMean = calc.AboveMean(enriched, 0)
	return s, nil
}

// sortHistory orders periods chronologically; periods that do not parse go last.
func sortHistory(h []Expense) {
	sort.SliceStable(h, func(i, j int) bool {
		a, aok := validate.PeriodOrdinal(h[i].PeriodQuarter, h[i].PeriodYear)
		b, bok := validate.PeriodOrdinal(h[j].PeriodQuarter, h[j].PeriodYear)
		if aok != bok {
			return aok
		}
		return a < b
	})
}

// Len returns the number of entities.
func (s *Snapshot) Len() int { return len(s.entities) }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Entity returns one entity by registry id.
func (s *Snapshot) Entity(id int64) (Entity, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Entity{}, false
	}
	return s.entities[i], true
}

// Aggregate returns the aggregated row for an entity, if any.
func (s *Snapshot) Aggregate(id int64) (models.AggregatedRecord, bool) {
	a, ok := s.aggregated[id]
	return a, ok
}

// History returns an entity's expenses in period order. ok is false for an
// unknown entity; a known entity without expenses yields an empty slice.
func (s *Snapshot) History(id int64) ([]Expense, bool) {
	if _, ok := s.byID[id]; !ok {
		return nil, false
	}
	h := s.history[id]
	if h == nil {
		h = []Expense{}
	}
	return h, true
}

// Search returns the entities matching q and the total match count before
// paging. q matches a case-insensitive substring of the legal name, or a
// substring of the registry id or tax id. page is 1-based.
func (s *Snapshot) Search(q string, page, limit int) ([]Entity, int) {
	q = strings.ToLower(strings.TrimSpace(q))
	matches := s.entities
	if q != "" {
		matches = make([]Entity, 0)
		for _, e := range s.entities {
			if strings.Contains(strings.ToLower(e.LegalName), q) ||
				strings.Contains(strconv.FormatInt(e.RegistryID, 10), q) ||
				strings.Contains(e.TaxID, q) {
				matches = append(matches, e)
			}
		}
	}

	total := len(matches)
	if total == 0 || page < 1 || limit < 1 || page-1 > (total-1)/limit {
		return []Entity{}, total
	}
	start := (page - 1) * limit
	end := total
	if limit < total-start {
		end = start + limit
	}
	return matches[start:end], total
}

// Summary returns the global statistics.
func (s *Snapshot) Summary() (calc.Summary, error) {
	vals := []float64{s.summary.TotalExpense, s.summary.MeanExpense}
	for _, a := range s.summary.Top {
		vals = append(vals, a.TotalExpense, a.MeanExpense, a.StddevExpense)
	}
	if !validate.IsFinite(vals...) {
		return calc.Summary{}, ErrNonFinite
	}
	return s.summary, nil
}

// Growth returns the growth ranking.
func (s *Snapshot) Growth() ([]models.GrowthRecord, error) {
	for _, g := range s.growth {
		if !validate.IsFinite(g.FirstValue, g.LastValue, g.GrowthPct) {
			return nil, ErrNonFinite
		}
	}
	return s.growth, nil
}

// Regions returns the regional rollup.
func (s *Snapshot) Regions() ([]models.RegionRecord, error) {
	for _, r := range s.regions {
		if !validate.IsFinite(r.TotalExpense, r.MeanExpense) {
			return nil, ErrNonFinite
		}
	}
	return s.regions, nil
}

// AboveMean returns the above-mean ranking, at most limit rows when limit > 0.
func (s *Snapshot) AboveMean(limit int) ([]models.AboveMeanRecord, error) {
	for _, a := range s.aboveMean {
		if !validate.IsFinite(a.ValueAboveMean) {
			return nil, ErrNonFinite
		}
	}
	if limit > 0 && len(s.aboveMean) > limit {
		return s.aboveMean[:limit], nil
	}
	return s.aboveMean, nil
}

// =============================================================================
// HOLDER
// =============================================================================

// Loader reads the output tables.
type Loader interface {
	ReadConsolidated() ([]models.ConsolidatedRecord, error)
	ReadAggregated() ([]models.AggregatedRecord, error)
	ReadRegistry() ([]models.RegistryRecord, error)
}

var _ Loader = (*store.TableStore)(nil)

// Holder owns the current Snapshot.
type Holder struct {
	current atomic.Pointer[Snapshot]
	loader  Loader
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewHolder creates an empty Holder. Call Reload before serving.
func NewHolder(loader Loader, m *metrics.Metrics, log *zap.Logger) *Holder {
	return &Holder{loader: loader, metrics: m, log: logger.OrNop(log).With(zap.String("component", "snapshot"))}
}

// Current returns the served snapshot, or nil before the first load.
func (h *Holder) Current() *Snapshot { return h.current.Load() }

// Reload reads the tables and replaces the snapshot. On error the previous
// snapshot stays in place.
func (h *Holder) Reload() error {
	consolidated, err := h.loader.ReadConsolidated()
	if err != nil {
		return eris.Wrap(err, "expenses: load consolidated table")
	}
	aggregated, err := h.loader.ReadAggregated()
	if err != nil {
		return eris.Wrap(err, "expenses: load aggregated table")
	}
	reg, err := h.loader.ReadRegistry()
	if err != nil {
		return eris.Wrap(err, "expenses: load registry table")
	}

	snap, err := Build(consolidated, aggregated, reg)
	if err != nil {
		return err
	}
	h.current.Store(snap)
	h.metrics.SetSnapshot(snap.Len(), snap.LoadedAt())
	h.log.Info("snapshot loaded",
		zap.Int("entities", snap.Len()),
		zap.Int("consolidated_rows", len(consolidated)),
		zap.Int("aggregated_rows", len(aggregated)))
	return nil
}
