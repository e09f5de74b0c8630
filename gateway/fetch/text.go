package fetch

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// ExtractText turns an HTML page into readable text. Readability is tried first; pages
// it cannot parse fall back to a goquery walk over content elements.
func ExtractText(page *Page) (title, text string, err error) {
	if page == nil || len(page.Body) == 0 {
		return "", "", nil
	}
	base, _ := url.Parse(page.URL)

	if article, rerr := readability.FromReader(bytes.NewReader(page.Body), base); rerr == nil {
		title = strings.TrimSpace(article.Title)
		text = CleanText(article.TextContent)
	}
	if text != "" {
		return title, text, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return "", "", err
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	return title, htmlToText(doc), nil
}

// htmlToText keeps headings, paragraphs, list items and tables; when none exist the
// whole body text is used.
func htmlToText(doc *goquery.Document) string {
	doc.Find("script,style,form,noscript,iframe,nav,footer").Remove()

	var out []string
	doc.Find("h1,h2,h3,h4,p,li,table").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "table":
			if t := parseTable(s); t != "" {
				out = append(out, t)
			}
		case "li":
			if t := strings.TrimSpace(s.Text()); t != "" {
				out = append(out, "- "+t)
			}
		default:
			if t := strings.TrimSpace(s.Text()); t != "" {
				out = append(out, t)
			}
		}
	})
	if len(out) == 0 {
		return CleanText(doc.Find("body").Text())
	}
	return CleanText(strings.Join(out, "\n\n"))
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(_ int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// CleanText drops control characters, collapses runs of spaces and blank lines.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(b, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(reSpaces.ReplaceAllString(l, " "))
	}
	b = reNewlines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(b)
}
