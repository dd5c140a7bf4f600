package extractor

import (
	"log/slog"

	"github.com/use-agent/casefinder/metrics"
	"github.com/use-agent/casefinder/models"
)

// Strategy turns rendered page HTML into a case record. TryExtract returns
// ok=false when it cannot produce a structurally complete record.
type Strategy interface {
	Name() string
	TryExtract(html string) (*models.CaseRecord, bool)
}

// Extractor runs its strategies in order; the first complete record wins.
//
// The chain is fixed at construction and strategies hold no state, so an
// Extractor is safe for concurrent use.
type Extractor struct {
	strategies []Strategy
	sink       metrics.Sink
}

// New creates an Extractor with the given strategies. With no strategies it
// uses DefaultStrategies.
func New(sink metrics.Sink, strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{strategies: strategies, sink: sink}
}

// DefaultStrategies returns the table parser followed by the text-line fallback.
func DefaultStrategies() []Strategy {
	return []Strategy{NewStructured(), NewText()}
}

// Parse extracts a CaseRecord from page. It fails with a
// NO_PARSEABLE_CONTENT SearchError when no strategy yields a complete record.
func (e *Extractor) Parse(page *models.RenderedPage) (*models.CaseRecord, error) {
	return e.ParseWith(metrics.NewRecorder(e.sink), page)
}

// ParseWith is Parse with a caller-supplied recorder (carrying e.g. the
// correlation id).
func (e *Extractor) ParseWith(rec metrics.Recorder, page *models.RenderedPage) (*models.CaseRecord, error) {
	if page == nil || page.HTML == "" {
		rec.Count(metrics.EventExtraction, "strategy", "none", "outcome", "empty")
		return nil, models.NewSearchError(models.ErrCodeExtraction, models.KindNoParseableContent,
			"rendered page is empty", nil)
	}

	for _, s := range e.strategies {
		record, ok := s.TryExtract(page.HTML)
		if !ok || !record.Complete() {
			rec.Count(metrics.EventExtraction, "strategy", s.Name(), "outcome", "miss")
			continue
		}
		rec.Count(metrics.EventExtraction, "strategy", s.Name(), "outcome", "ok")
		slog.Debug("case record extracted",
			"strategy", s.Name(),
			"report", record.ReportNumber,
			"processed", len(record.Processed),
		)
		return record, nil
	}

	return nil, models.NewSearchError(models.ErrCodeExtraction, models.KindNoParseableContent,
		"no extraction strategy matched the result page", nil)
}
