package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/apperrors"
)

// ReferenceDates is the date pair every source must agree on: the
// authoritative case date and the cutoff derived from it, which is always
// the day before.
type ReferenceDates struct {
	Authoritative time.Time
	Cutoff        time.Time
}

// DateSource is one independent location that records the reference dates
// for a work item: top-level configuration, round-local configuration, or a
// previously produced stage output.
type DateSource interface {
	// Name identifies the source in error messages and logs.
	Name() string

	// ReferenceDates returns the dates the source holds for the work
	// item. ok is false when the source has no record for it, which is
	// not an error.
	ReferenceDates(ctx context.Context, workItemID uuid.UUID) (dates ReferenceDates, ok bool, err error)
}

// DateConsistencyValidator is the pre-flight gate run before any round's
// stage work. Any disagreement between available sources is fatal for that
// round: the expensive pipeline never starts on inconsistent dates.
type DateConsistencyValidator struct {
	sources []DateSource
	logger  *zap.Logger
}

// NewDateConsistencyValidator creates a validator over the given sources.
func NewDateConsistencyValidator(sources []DateSource, logger *zap.Logger) *DateConsistencyValidator {
	return &DateConsistencyValidator{
		sources: sources,
		logger:  logger.Named("date-validator"),
	}
}

// Validate cross-checks the reference dates across every source that has a
// record for the work item. It fails fast on the first disagreement, on an
// internally inconsistent source, and on a source read error.
func (v *DateConsistencyValidator) Validate(ctx context.Context, workItemID uuid.UUID) error {
	var (
		reference       ReferenceDates
		referenceSource string
		checked         int
	)

	for _, source := range v.sources {
		dates, ok, err := source.ReferenceDates(ctx, workItemID)
		if err != nil {
			return fmt.Errorf("date source %s: %w", source.Name(), err)
		}
		if !ok {
			continue
		}

		// Each source must be internally consistent before it is compared
		// with the others.
		expectedCutoff := dates.Authoritative.AddDate(0, 0, -1)
		if !sameDay(dates.Cutoff, expectedCutoff) {
			return fmt.Errorf(
				"source %s: cutoff %s does not precede authoritative date %s by one day: %w",
				source.Name(),
				dates.Cutoff.Format("2006-01-02"),
				dates.Authoritative.Format("2006-01-02"),
				apperrors.ErrDateInconsistency)
		}

		if checked == 0 {
			reference = dates
			referenceSource = source.Name()
			checked++
			continue
		}

		if !sameDay(dates.Authoritative, reference.Authoritative) {
			return fmt.Errorf(
				"source %s reports authoritative date %s but source %s reports %s: %w",
				source.Name(), dates.Authoritative.Format("2006-01-02"),
				referenceSource, reference.Authoritative.Format("2006-01-02"),
				apperrors.ErrDateInconsistency)
		}
		checked++
	}

	v.logger.Debug("Reference dates consistent",
		zap.String("work_item_id", workItemID.String()),
		zap.Int("sources_checked", checked))

	return nil
}

// sameDay compares dates at day precision, ignoring time of day and zone
// offsets within the same calendar day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
