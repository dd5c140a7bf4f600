package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/casefinder/models"
)

// reportPattern matches the case header, e.g. "NOTICIA DEL DELITO Nro. 100301816010030".
var reportPattern = regexp.MustCompile(`(?i)NOTICIA\s+DEL\s+DELITO\s+N(?:RO|º|°)?\.?\s*:?\s*(\d{6,})`)

var (
	headingSel = cascadia.MustCompile("th, caption, h1, h2, h3, h4, b, strong")
	cellSel    = cascadia.MustCompile("td")
	tableSel   = cascadia.MustCompile("table")
	rowSel     = cascadia.MustCompile("tr")
	thSel      = cascadia.MustCompile("th")
)

// Field labels as they appear in the report table (accents folded, colon stripped).
const (
	labelLocation = "LUGAR"
	labelDate     = "FECHA"
	labelOffense  = "DELITO"
)

// Structured reads the report out of the result tables: the header cell
// carrying the report number anchors the section, label cells are paired with
// the cell that follows them, and processed persons come from the SUJETOS table.
type Structured struct{}

// NewStructured returns the table-driven strategy.
func NewStructured() *Structured { return &Structured{} }

func (s *Structured) Name() string { return "structured" }

func (s *Structured) TryExtract(src string) (*models.CaseRecord, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, false
	}

	section, number := findReportSection(doc)
	if section == nil {
		return nil, false
	}

	values := labelValues(section)
	rec := &models.CaseRecord{
		ReportNumber: number,
		Location:     values[labelLocation],
		Offense:      values[labelOffense],
		Processed:    processedFromTables(doc),
	}
	if date, ok := NormalizeDate(values[labelDate]); ok {
		rec.Date = date
	}
	return rec, rec.Complete()
}

// findReportSection returns the table holding the report header and the
// report number.
func findReportSection(doc *goquery.Document) (*goquery.Selection, string) {
	var (
		section *goquery.Selection
		number  string
	)
	doc.FindMatcher(headingSel).EachWithBreak(func(_ int, h *goquery.Selection) bool {
		m := reportPattern.FindStringSubmatch(cleanText(h.Text()))
		if m == nil {
			return true
		}
		table := h.Closest("table")
		if table.Length() == 0 {
			return true
		}
		section, number = table, m[1]
		return false
	})
	return section, number
}

// labelValues pairs each known label cell with the text of the next cell.
// The first non-empty value per label wins.
func labelValues(section *goquery.Selection) map[string]string {
	values := make(map[string]string, 3)
	section.FindMatcher(cellSel).Each(func(_ int, cell *goquery.Selection) {
		label := labelKey(cell.Text())
		switch label {
		case labelLocation, labelDate, labelOffense:
		default:
			return
		}
		if values[label] != "" {
			return
		}
		next := cell.Next()
		if next.Length() == 0 || goquery.NodeName(next) != "td" {
			return
		}
		if v := cleanText(next.Text()); v != "" {
			values[label] = v
		}
	})
	return values
}

// processedFromTables collects the names of persons with status PROCESADO
// from every table headed "SUJETOS", in document order.
func processedFromTables(doc *goquery.Document) []string {
	var names []string
	seen := make(map[string]struct{})

	doc.FindMatcher(tableSel).Each(func(_ int, table *goquery.Selection) {
		if !tableHeaded(table, "SUJETOS") {
			return
		}

		nameCol, statusCol := -1, -1
		table.FindMatcher(rowSel).Each(func(_ int, row *goquery.Selection) {
			if headers := row.FindMatcher(thSel); headers.Length() > 1 {
				headers.Each(func(i int, th *goquery.Selection) {
					h := foldUpper(th.Text())
					switch {
					case strings.Contains(h, "NOMBRE"):
						nameCol = i
					case strings.Contains(h, "ESTADO"):
						statusCol = i
					}
				})
				return
			}

			cells := row.FindMatcher(cellSel).Map(func(_ int, td *goquery.Selection) string {
				return cleanText(td.Text())
			})
			if name := processedName(cells, nameCol, statusCol); name != "" {
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					names = append(names, name)
				}
			}
		})
	})
	return names
}

// processedName returns the person name of a SUJETOS row when its status is
// PROCESADO. Without known column positions the status cell is searched for
// and the name is taken from the cell before it.
func processedName(cells []string, nameCol, statusCol int) string {
	if nameCol >= 0 && statusCol >= 0 && nameCol < len(cells) && statusCol < len(cells) {
		if isProcessed(cells[statusCol]) {
			return strings.ToUpper(cells[nameCol])
		}
		return ""
	}
	for i := 1; i < len(cells); i++ {
		if isProcessed(cells[i]) {
			return strings.ToUpper(cells[i-1])
		}
	}
	return ""
}

func tableHeaded(table *goquery.Selection, title string) bool {
	found := false
	table.FindMatcher(thSel).EachWithBreak(func(_ int, th *goquery.Selection) bool {
		found = strings.Contains(foldUpper(th.Text()), title)
		return !found
	})
	return found
}

func isProcessed(status string) bool {
	return strings.HasPrefix(foldUpper(status), "PROCESAD")
}

// labelKey folds a cell text into a comparable label: accents removed,
// uppercased, trailing colon dropped.
func labelKey(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(foldUpper(s), ":"))
}

func cleanText(s string) string {
	return models.CollapseSpaces(s)
}
