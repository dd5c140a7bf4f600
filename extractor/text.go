package extractor

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/use-agent/casefinder/models"
)

// Text is the markup-agnostic fallback. It flattens the page into visible
// text lines and reads "LABEL" / "value" line pairs (or inline "LABEL: value"),
// taking processed persons from the line preceding each PROCESADO status.
type Text struct{}

// NewText returns the text-line strategy.
func NewText() *Text { return &Text{} }

func (t *Text) Name() string { return "text" }

func (t *Text) TryExtract(src string) (*models.CaseRecord, bool) {
	lines := textLines(src)
	if len(lines) == 0 {
		return nil, false
	}

	rec := &models.CaseRecord{}
	if m := reportPattern.FindStringSubmatch(strings.Join(lines, "\n")); m != nil {
		rec.ReportNumber = m[1]
	}

	values := make(map[string]string, 3)
	seen := make(map[string]struct{})
	for i, line := range lines {
		if label, inline, ok := splitLabel(line); ok {
			if values[label] != "" {
				continue
			}
			switch {
			case inline != "":
				values[label] = inline
			case i+1 < len(lines) && !isLabelLine(lines[i+1]):
				values[label] = lines[i+1]
			}
			continue
		}

		if i > 0 && isProcessed(line) {
			name := strings.ToUpper(lines[i-1])
			if isLabelLine(name) || isDigits(name) {
				continue
			}
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				rec.Processed = append(rec.Processed, name)
			}
		}
	}

	rec.Location = values[labelLocation]
	rec.Offense = values[labelOffense]
	if date, ok := NormalizeDate(values[labelDate]); ok {
		rec.Date = date
	}
	return rec, rec.Complete()
}

// splitLabel recognizes "LUGAR", "FECHA:", "DELITO: ROBO" and similar.
func splitLabel(line string) (label, inline string, ok bool) {
	key := foldUpper(line)
	for _, l := range []string{labelLocation, labelDate, labelOffense} {
		switch {
		case key == l || key == l+":":
			return l, "", true
		case strings.HasPrefix(key, l+":"):
			if idx := strings.IndexByte(line, ':'); idx >= 0 {
				return l, cleanText(line[idx+1:]), true
			}
		}
	}
	return "", "", false
}

func isLabelLine(line string) bool {
	_, _, ok := splitLabel(line)
	return ok
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// textLines returns the non-empty, whitespace-collapsed text nodes of src in
// document order, skipping script and style bodies.
func textLines(src string) []string {
	z := html.NewTokenizer(strings.NewReader(src))
	var (
		lines []string
		skip  int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return lines
		case html.StartTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHiddenTag(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if text := cleanText(string(z.Text())); text != "" {
				lines = append(lines, text)
			}
		}
	}
}

func isHiddenTag(name string) bool {
	return name == "script" || name == "style" || name == "noscript"
}
