package report

import (
	"time"

	"github.com/go-logr/logr"
)

type PeriodKind string

const (
	PeriodDay   PeriodKind = "day"
	PeriodMonth PeriodKind = "month"
	PeriodYear  PeriodKind = "year"
)

// Period is a closed interval derived from (kind, reference). Derivation is
// pure: the same inputs always produce the same bounds.
type Period struct {
	Kind  PeriodKind `json:"kind"`
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
}

// DerivePeriod computes the interval containing reference:
// day [00:00, 23:59:59], month [first day, last second], year [Jan 1, Dec
// 31 23:59:59]. Bounds stay in the reference's location.
func DerivePeriod(kind PeriodKind, reference time.Time) Period {
	loc := reference.Location()
	var start, end time.Time
	switch kind {
	case PeriodDay:
		start = time.Date(reference.Year(), reference.Month(), reference.Day(), 0, 0, 0, 0, loc)
		end = start.Add(24*time.Hour - time.Second)
	case PeriodYear:
		start = time.Date(reference.Year(), time.January, 1, 0, 0, 0, 0, loc)
		end = start.AddDate(1, 0, 0).Add(-time.Second)
	default: // month
		start = time.Date(reference.Year(), reference.Month(), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0).Add(-time.Second)
	}
	normalizedKind := kind
	if normalizedKind != PeriodDay && normalizedKind != PeriodYear {
		normalizedKind = PeriodMonth
	}
	return Period{Kind: normalizedKind, Start: start, End: end}
}

// ResolvePeriod combines the three period inputs of the report tools:
// kind (default month), an optional reference date "YYYY-MM-DD", and an
// optional period value ("YYYY-MM-DD" | "YYYY-MM" | "YYYY" matching kind)
// that overrides the reference. Invalid values fall back to the computed
// period with a warning, never an error.
func ResolvePeriod(kindValue, referenceDate, periodValue string, now time.Time, logger logr.Logger) Period {
	kind := PeriodKind(kindValue)
	switch kind {
	case PeriodDay, PeriodMonth, PeriodYear:
	case "":
		kind = PeriodMonth
	default:
		logger.Info("invalid period kind, using month", "kind", kindValue)
		kind = PeriodMonth
	}

	reference := now
	if referenceDate != "" {
		if parsed, err := time.Parse("2006-01-02", referenceDate); err == nil {
			reference = parsed
		} else {
			logger.Info("invalid reference date ignored", "reference_date", referenceDate)
		}
	}

	if periodValue != "" {
		layout := map[PeriodKind]string{
			PeriodDay:   "2006-01-02",
			PeriodMonth: "2006-01",
			PeriodYear:  "2006",
		}[kind]
		if parsed, err := time.Parse(layout, periodValue); err == nil {
			reference = parsed
		} else {
			logger.Info("invalid period value ignored", "period_value", periodValue, "kind", kind)
		}
	}
	return DerivePeriod(kind, reference)
}

// MesAno renders the period start as the Transparência "mesAno" query
// value (yyyymm).
func (p Period) MesAno() string {
	return p.Start.Format("200601")
}

// Ano renders the period start year for the IBGE aggregate endpoints.
func (p Period) Ano() string {
	return p.Start.Format("2006")
}
