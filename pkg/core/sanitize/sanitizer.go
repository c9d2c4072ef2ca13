// Package sanitize applies the row-level business rules to canonical rows:
// type coercion, clamping, degenerate-row removal, period and tax id
// validation, and duplicate-name resolution. It performs no I/O.
package sanitize

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"disclosure_pipeline/pkg/core/validate"
	"disclosure_pipeline/pkg/models"
)

// ConflictPolicy decides what happens to a tax id seen with several names
// when none of its rows carries a usable record date.
type ConflictPolicy string

const (
	// KeepFirstSeen assigns the first name seen for the tax id to all its rows.
	KeepFirstSeen ConflictPolicy = "keep-first"
	// LeaveUnresolved keeps every row's own name.
	LeaveUnresolved ConflictPolicy = "leave"
)

// ParseConflictPolicy maps a config value to a policy, defaulting to KeepFirstSeen.
func ParseConflictPolicy(s string) ConflictPolicy {
	if ConflictPolicy(strings.ToLower(strings.TrimSpace(s))) == LeaveUnresolved {
		return LeaveUnresolved
	}
	return KeepFirstSeen
}

// Options configures a Sanitizer.
type Options struct {
	ConflictPolicy ConflictPolicy
}

// Findings counts the data-quality observations made while sanitizing.
// None of them is an error.
type Findings struct {
	RowsIn                int `json:"rows_in"`
	RowsOut               int `json:"rows_out"`
	InvalidTaxIDs         int `json:"invalid_tax_ids"`
	BadRegistryIDs        int `json:"bad_registry_ids"`
	UnparsableAmounts     int `json:"unparsable_amounts"`
	ClampedNegatives      int `json:"clamped_negatives"`
	DroppedZeroRows       int `json:"dropped_zero_rows"`
	ResolvedConflicts     int `json:"resolved_conflicts"`
	UnresolvedConflicts   int `json:"unresolved_conflicts"`
	InconsistentQuarters  int `json:"inconsistent_quarters"`
	InconsistentYears     int `json:"inconsistent_years"`
	PlaceholderLegalNames int `json:"placeholder_legal_names"`

	// UnresolvedTaxIDs lists the tax ids that kept conflicting names.
	UnresolvedTaxIDs []string `json:"unresolved_tax_ids,omitempty"`
}

// Add accumulates other into f.
func (f *Findings) Add(other Findings) {
	f.RowsIn += other.RowsIn
	f.RowsOut += other.RowsOut
	f.InvalidTaxIDs += other.InvalidTaxIDs
	f.BadRegistryIDs += other.BadRegistryIDs
	f.UnparsableAmounts += other.UnparsableAmounts
	f.ClampedNegatives += other.ClampedNegatives
	f.DroppedZeroRows += other.DroppedZeroRows
	f.ResolvedConflicts += other.ResolvedConflicts
	f.UnresolvedConflicts += other.UnresolvedConflicts
	f.InconsistentQuarters += other.InconsistentQuarters
	f.InconsistentYears += other.InconsistentYears
	f.PlaceholderLegalNames += other.PlaceholderLegalNames
	f.UnresolvedTaxIDs = append(f.UnresolvedTaxIDs, other.UnresolvedTaxIDs...)
}

// Sanitizer applies the row rules in a fixed order.
type Sanitizer struct {
	opts Options
}

// New creates a Sanitizer. A zero Options uses KeepFirstSeen.
func New(opts Options) *Sanitizer {
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = KeepFirstSeen
	}
	return &Sanitizer{opts: opts}
}

// Sanitize returns the sanitized batch for t. Each rule only runs when the
// source carried the columns it needs.
func (s *Sanitizer) Sanitize(t models.CanonicalTable) (models.SanitizedBatch, Findings) {
	f := Findings{RowsIn: len(t.Rows)}
	rows := make([]models.SanitizedRow, 0, len(t.Rows))

	hasExpense := t.Has(models.ColExpenseValue)
	hasOpening := t.Has(models.ColOpeningBalance)

	for _, in := range t.Rows {
		out := models.SanitizedRow{
			TaxID:          in.TaxID,
			LegalName:      in.LegalName,
			ExpenseValue:   decimal.Zero,
			OpeningBalance: decimal.Zero,
			PeriodQuarter:  in.PeriodQuarter,
			PeriodYear:     in.PeriodYear,
			Region:         in.Region,
			RecordDate:     in.RecordDate,
			Extra:          in.Extra,
		}

		// 1. Tax id
		if t.Has(models.ColTaxID) {
			out.TaxID = validate.CleanTaxID(in.TaxID)
			out.TaxIDStatus = models.TaxIDValid
			if !validate.ValidTaxID(out.TaxID) {
				out.TaxIDStatus = models.TaxIDInconsistent
				f.InvalidTaxIDs++
			}
		}

		// 2. Registry id
		if t.Has(models.ColRegistryID) {
			id, ok := ParseRegistryID(in.RegistryID)
			if !ok {
				f.BadRegistryIDs++
			}
			out.RegistryID = id
		}

		// 3. Amounts
		if hasExpense {
			out.ExpenseValue = s.coerceAmount(in.ExpenseValue, &f)
		}
		if hasOpening {
			out.OpeningBalance = s.coerceAmount(in.OpeningBalance, &f)
		}

		// 4. Degenerate rows
		if hasExpense && hasOpening && out.ExpenseValue.IsZero() && out.OpeningBalance.IsZero() {
			f.DroppedZeroRows++
			continue
		}

		rows = append(rows, out)
	}

	// 5. Conflicting names per tax id
	if t.Has(models.ColTaxID) && t.Has(models.ColLegalName) {
		s.resolveNameConflicts(rows, &f)
	}

	for i := range rows {
		// 6. Quarter
		if t.Has(models.ColPeriodQuarter) && !validate.ValidQuarter(rows[i].PeriodQuarter) {
			rows[i].PeriodQuarter = models.InconsistentMarker
			f.InconsistentQuarters++
		}
		// 7. Year
		if t.Has(models.ColPeriodYear) && !validate.ValidYear(rows[i].PeriodYear) {
			rows[i].PeriodYear = models.InconsistentMarker
			f.InconsistentYears++
		}
		// 8. Blank names
		if t.Has(models.ColLegalName) && strings.TrimSpace(rows[i].LegalName) == "" {
			rows[i].LegalName = models.PlaceholderLegalName
			f.PlaceholderLegalNames++
		}
	}

	f.RowsOut = len(rows)
	return models.SanitizedBatch{Source: t.Source, Columns: t.Columns, Rows: rows}, f
}

func (s *Sanitizer) coerceAmount(raw string, f *Findings) decimal.Decimal {
	v, ok := ParseAmount(raw)
	if !ok {
		f.UnparsableAmounts++
		return decimal.Zero
	}
	if v.IsNegative() {
		f.ClampedNegatives++
		return decimal.Zero
	}
	return v
}

// resolveNameConflicts rewrites the legal name of every tax id that appears
// with more than one distinct name. The name on the row with the latest
// record date wins; rows without a parsable date do not compete.
func (s *Sanitizer) resolveNameConflicts(rows []models.SanitizedRow, f *Findings) {
	type group struct {
		indexes []int
		names   map[string]struct{}
	}
	groups := make(map[string]*group)
	var order []string

	for i, row := range rows {
		g, ok := groups[row.TaxID]
		if !ok {
			g = &group{names: make(map[string]struct{})}
			groups[row.TaxID] = g
			order = append(order, row.TaxID)
		}
		g.indexes = append(g.indexes, i)
		g.names[row.LegalName] = struct{}{}
	}

	for _, taxID := range order {
		g := groups[taxID]
		if len(g.names) < 2 {
			continue
		}

		var (
			latest   time.Time
			winner   string
			hasDated bool
		)
		for _, idx := range g.indexes {
			d, ok := validate.ParseDate(rows[idx].RecordDate)
			if !ok {
				continue
			}
			if !hasDated || d.After(latest) {
				latest, winner, hasDated = d, rows[idx].LegalName, true
			}
		}

		conflict := models.NameConflictResolved
		if hasDated {
			f.ResolvedConflicts++
		} else {
			conflict = models.NameConflictUnresolved
			f.UnresolvedConflicts++
			f.UnresolvedTaxIDs = append(f.UnresolvedTaxIDs, taxID)
			winner = rows[g.indexes[0]].LegalName
		}

		for _, idx := range g.indexes {
			if hasDated || s.opts.ConflictPolicy == KeepFirstSeen {
				rows[idx].LegalName = winner
			}
			rows[idx].NameConflict = conflict
		}
	}
}

// ParseRegistryID parses a registry id. Blank, unparsable and negative
// values yield 0 with ok=false. Values like "123456.0" are accepted.
func ParseRegistryID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if id < 0 {
			return 0, false
		}
		return id, true
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return 0, false
	}
	return d.IntPart(), true
}

// ParseAmount parses a monetary cell. A comma is the decimal separator when
// present, in which case dots are thousands separators ("1.234,56").
// Blank cells and garbage report ok=false.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return decimal.Zero, false
	}
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	v, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}
