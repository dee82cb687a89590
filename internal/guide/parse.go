package guide

import (
	"regexp"
	"strings"
)

var (
	answerRe = regexp.MustCompile(`(?s)<answer>(.*?)</answer>`)
	placeRe  = regexp.MustCompile(`Location:\s*(.+)`)
	searchRe = regexp.MustCompile(`Search:\s*(.+)`)
	factRe   = regexp.MustCompile(`(?s)Interesting fact:\s*(.*)`)
)

// ParseAnswer extracts place, search query and fact from a model answer.
//
// The primary format is an <answer> block with "Location:", "Search:" and
// "Interesting fact:" labels. Older answers used Russian labels without the
// block; anything unrecognized falls through to the raw text as the fact.
func ParseAnswer(raw string) Content {
	c := Content{Raw: raw, Fact: strings.TrimSpace(raw)}

	if m := answerRe.FindStringSubmatch(raw); m != nil {
		body := strings.TrimSpace(m[1])
		if pm := placeRe.FindStringSubmatch(body); pm != nil {
			c.Place = firstLine(pm[1])
		}
		if sm := searchRe.FindStringSubmatch(body); sm != nil {
			c.Search = firstLine(sm[1])
		}
		if fm := factRe.FindStringSubmatch(body); fm != nil {
			c.Fact = strings.TrimSpace(fm[1])
		}
		return c
	}

	// Legacy labels.
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Локация:"):
			c.Place = strings.TrimSpace(strings.TrimPrefix(line, "Локация:"))
		case strings.HasPrefix(line, "Поиск:"):
			c.Search = strings.TrimSpace(strings.TrimPrefix(line, "Поиск:"))
		case strings.HasPrefix(line, "Интересный факт:"):
			// The fact may continue across the remaining lines.
			parts := []string{strings.TrimSpace(strings.TrimPrefix(line, "Интересный факт:"))}
			for _, rest := range lines[i+1:] {
				if s := strings.TrimSpace(rest); s != "" {
					parts = append(parts, s)
				}
			}
			c.Fact = strings.TrimSpace(strings.Join(parts, " "))
			return c
		}
	}
	return c
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
