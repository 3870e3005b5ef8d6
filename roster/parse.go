package roster

import (
	"bytes"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/Gouzman/PharmaGo/models"
)

// Quartiers that appear in the roster's free-text entries, longest first so
// "Cocody Angré" wins over "Cocody".
var knownQuartiers = []string{
	"Cocody Angré", "Cocody Riviera", "Yopougon Niangon", "Yopougon Selmer",
	"Abobo Baoulé", "Angré", "Riviera", "Deux Plateaux", "Zone 4", "Zone 3",
	"Biétry", "Treichville", "Marcory", "Koumassi", "Adjamé", "Plateau",
	"Cocody", "Yopougon", "Abobo", "Attécoubé", "Port-Bouët", "Niangon",
}

var (
	pharmacyLinePattern = regexp.MustCompile(`(?i)pharmacie\s+[^\n<>]{2,80}`)
	phonePattern        = regexp.MustCompile(`(?:\+225[\s.-]?)?(?:\d{2}[\s.-]?){4,5}\d{2}`)
	datePattern         = regexp.MustCompile(`(\d{2})/(\d{2})/(\d{4})`)
)

// ParseGuardPage extracts on-duty entries from one city page. The site has no
// stable markup, so entries are pulled from list items and table cells whose
// text contains a pharmacy name, with a whole-page regexp sweep as fallback.
func ParseGuardPage(body []byte, city string) ([]models.GuardCandidate, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	pageText := collectText(doc)
	guardStart, guardEnd := parseGuardPeriod(pageText)

	seen := make(map[string]struct{})
	var out []models.GuardCandidate

	add := func(text string) {
		name := cleanName(text)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, models.GuardCandidate{
			Name:       name,
			City:       city,
			Quartier:   extractQuartier(text),
			Phone:      extractPhone(text),
			GuardStart: guardStart,
			GuardEnd:   guardEnd,
			Source:     models.SourceDutyRoster,
		})
	}

	walkNodes(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.Data {
		case "li", "td", "h3", "h4", "p":
			text := strings.TrimSpace(collectText(n))
			if strings.Contains(strings.ToLower(text), "pharmacie") {
				add(text)
			}
		}
	})

	// Minified or script-rendered pages defeat the node walk; sweep the raw
	// text for pharmacy lines instead.
	if len(out) == 0 {
		for _, line := range pharmacyLinePattern.FindAllString(pageText, -1) {
			add(line)
		}
	}
	return out, nil
}

func walkNodes(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkNodes(c, fn)
	}
}

func collectText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(collectText(c))
		b.WriteString(" ")
	}
	return b.String()
}

// cleanName isolates the pharmacy name from an entry line and normalizes its
// prefix so every candidate reads "Pharmacie <name>".
func cleanName(text string) string {
	m := pharmacyLinePattern.FindString(text)
	if m == "" {
		return ""
	}
	m = phonePattern.ReplaceAllString(m, "")
	// Cut trailing location fragments ("Pharmacie X - Cocody", "Pharmacie X, Angré").
	for _, sep := range []string{" - ", " – ", ",", "(", "|"} {
		if idx := strings.Index(m, sep); idx > 0 {
			m = m[:idx]
		}
	}
	m = strings.Join(strings.Fields(m), " ")
	if len(m) < len("Pharmacie ")+1 {
		return ""
	}
	return "Pharmacie " + strings.TrimSpace(m[len("Pharmacie"):])
}

func extractQuartier(text string) string {
	lower := strings.ToLower(text)
	for _, q := range knownQuartiers {
		if strings.Contains(lower, strings.ToLower(q)) {
			return q
		}
	}
	return ""
}

func extractPhone(text string) string {
	m := phonePattern.FindString(text)
	if m == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range m {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	// Too short to be a real number, likely a date fragment.
	if b.Len() < 8 {
		return ""
	}
	return b.String()
}

// parseGuardPeriod reads the rotation dates from page text such as
// "Garde du 22/08/2026 au 29/08/2026". First date is the start, second the
// end; a page with fewer than two dates yields nil bounds.
func parseGuardPeriod(text string) (*time.Time, *time.Time) {
	matches := datePattern.FindAllStringSubmatch(text, 2)
	if len(matches) < 2 {
		return nil, nil
	}
	start := parseDate(matches[0])
	end := parseDate(matches[1])
	if start == nil || end == nil || end.Before(*start) {
		return nil, nil
	}
	return start, end
}

func parseDate(m []string) *time.Time {
	t, err := time.Parse("02/01/2006", m[0])
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
