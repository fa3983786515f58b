package source

import (
	"bytes"
	"strings"

	"ojscraper/internal/scraper/model"
	appErr "ojscraper/pkg/errors"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	codeSelector      = "div#submissionCode-0"
	metaTableSelector = "table.table.table-striped.table-condensed"
	timestampSelector = `span[data-format="datetime"]`
	timestampAttr     = "data-timestamp-iso"
	scoreSelector     = "div.text"
	execTimeSelector  = `span[id^="submission_max_execution_time"]`
	memorySelector    = `span[id^="submission_max_memory"]`
	subtaskSelector   = "span.subtask-score"
	languageColumn    = 4
)

// Parse extracts a submission record from a page. The metadata row is the only
// mandatory part: without it Parse fails with MetadataMissing. Every other
// field falls back to its zero value.
func Parse(id int64, page []byte, origin string) (model.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return model.Record{}, appErr.Wrapf(err, appErr.MetadataMissing, "parse document failed")
	}

	row := metadataRow(doc)
	if row.Length() == 0 {
		return model.Record{}, appErr.New(appErr.MetadataMissing).WithDetail("id", id)
	}

	rec := model.Record{
		ID:            id,
		Code:          extractCode(doc),
		SubtaskScores: extractSubtaskScores(doc),
	}

	links := row.Find("a")
	if links.Length() >= 1 {
		rec.Username = strippedText(links.Eq(0))
	}
	if links.Length() >= 2 {
		if href, ok := links.Eq(1).Attr("href"); ok {
			rec.ProblemLink = origin + href
		}
	}
	if ts, ok := row.Find(timestampSelector).First().Attr(timestampAttr); ok {
		rec.SubmittedAt = ts
	}
	if cells := row.Find("td"); cells.Length() > languageColumn {
		rec.Language = strippedText(cells.Eq(languageColumn))
	}
	rec.Score = FirstFloat(strippedText(row.Find(scoreSelector).First()))
	rec.ExecutionTime = FirstInt(strippedText(row.Find(execTimeSelector).First()))
	rec.Memory = FirstInt(strippedText(row.Find(memorySelector).First()))
	return rec, nil
}

// metadataRow returns table > tbody > tr, each taken as the first match.
func metadataRow(doc *goquery.Document) *goquery.Selection {
	table := doc.Find(metaTableSelector).First()
	if table.Length() == 0 {
		return table
	}
	body := table.Find("tbody").First()
	if body.Length() == 0 {
		return body
	}
	return body.Find("tr").First()
}

func extractCode(doc *goquery.Document) string {
	div := doc.Find(codeSelector).First()
	if div.Length() == 0 {
		return ""
	}
	inner, err := div.Html()
	if err != nil {
		return ""
	}
	return html.UnescapeString(inner)
}

func extractSubtaskScores(doc *goquery.Document) []float64 {
	spans := doc.Find(subtaskSelector)
	scores := make([]float64, 0, spans.Length())
	spans.Each(func(_ int, s *goquery.Selection) {
		scores = append(scores, FirstFloat(strippedText(s)))
	})
	return scores
}

// strippedText concatenates every descendant text node with surrounding
// whitespace removed. An empty selection yields "".
func strippedText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
