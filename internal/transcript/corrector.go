package transcript

import (
	"regexp"
	"sort"
	"strings"
)

// Corrector fixes recurring recognition mistakes, typically product names the
// speech model mishears.
type Corrector struct {
	rules []rule
}

type rule struct {
	re   *regexp.Regexp
	repl string
}

// NewCorrector compiles a wrong→right replacement table. Matching is
// case-insensitive on whole words; longer phrases are applied first so they
// win over their own sub-words.
func NewCorrector(corrections map[string]string) *Corrector {
	keys := make([]string, 0, len(corrections))
	for k := range corrections {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	c := &Corrector{rules: make([]rule, 0, len(keys))}
	for _, k := range keys {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(k)) + `\b`)
		c.rules = append(c.rules, rule{re: re, repl: corrections[k]})
	}
	return c
}

// CorrectText applies every rule to s.
func (c *Corrector) CorrectText(s string) string {
	for _, r := range c.rules {
		s = r.re.ReplaceAllLiteralString(s, r.repl)
	}
	return s
}

// Correct returns a corrected copy of t; t itself is left untouched.
func (c *Corrector) Correct(t *Transcript) *Transcript {
	segs := make([]Segment, len(t.Segments))
	for i, s := range t.Segments {
		segs[i] = Segment{Start: s.Start, End: s.End, Text: c.CorrectText(s.Text)}
	}
	return New(t.VideoPath, t.Language, segs)
}
