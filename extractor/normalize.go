package extractor

import (
	"strings"
	"time"
	"unicode"

	"github.com/araddon/dateparse"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/use-agent/casefinder/models"
)

const isoDate = "2006-01-02"

// dateLayouts are tried before dateparse; the target writes day-first dates,
// which dateparse would read month-first.
var dateLayouts = []string{
	isoDate,
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2006/01/02",
}

// NormalizeDate converts a source date to YYYY-MM-DD. A trailing time of day
// is ignored.
func NormalizeDate(raw string) (string, bool) {
	s := models.CollapseSpaces(raw)
	if s == "" {
		return "", false
	}

	candidates := []string{s}
	if first, _, found := strings.Cut(s, " "); found {
		candidates = append(candidates, first)
	}
	for _, c := range candidates {
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.Format(isoDate), true
			}
		}
	}

	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return t.Format(isoDate), true
	}
	return "", false
}

// NormalizeName prepares a person name for comparison: diacritics removed,
// whitespace collapsed, uppercased.
func NormalizeName(s string) string {
	return foldUpper(s)
}

func foldUpper(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToUpper(models.CollapseSpaces(folded))
}
