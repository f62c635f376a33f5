package keyframe

import (
	"strings"
	"unicode"

	"github.com/kikiluvv/framewise/internal/transcript"
)

// KeywordSpotter finds action vocabulary in transcript segments.
type KeywordSpotter struct {
	vocab [][]string
	words []string
}

// NewKeywordSpotter compiles the vocabulary. Entries may be multi-word
// phrases; order sets precedence between matches at the same position.
func NewKeywordSpotter(vocabulary []string) *KeywordSpotter {
	s := &KeywordSpotter{}
	seen := make(map[string]bool)
	for _, v := range vocabulary {
		toks := tokenize(v)
		if len(toks) == 0 {
			continue
		}
		key := strings.Join(toks, " ")
		if seen[key] {
			continue
		}
		seen[key] = true
		s.vocab = append(s.vocab, toks)
		s.words = append(s.words, key)
	}
	return s
}

// Match is the earliest vocabulary hit within a text.
type Match struct {
	Word     string
	Position int
}

// Match returns the vocabulary entry starting at the lowest token position;
// entries listed first win ties.
func (s *KeywordSpotter) Match(text string) (Match, bool) {
	toks := tokenize(text)
	for pos := range toks {
		for i, entry := range s.vocab {
			if hasPhraseAt(toks, pos, entry) {
				return Match{Word: s.words[i], Position: pos}, true
			}
		}
	}
	return Match{}, false
}

// Spot yields at most one keyword candidate per segment, placed at the
// segment midpoint. A nil or empty transcript yields nothing.
func (s *KeywordSpotter) Spot(t *transcript.Transcript) []Candidate {
	if t.Len() == 0 || len(s.vocab) == 0 {
		return nil
	}

	var out []Candidate
	for _, seg := range t.Segments {
		m, ok := s.Match(seg.Text)
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Timestamp: seg.Midpoint(),
			Reason:    KeywordReason(m.Word),
		})
	}
	return out
}

func hasPhraseAt(toks []string, pos int, phrase []string) bool {
	if pos+len(phrase) > len(toks) {
		return false
	}
	for j, p := range phrase {
		if toks[pos+j] != p {
			return false
		}
	}
	return true
}

// tokenize lowercases s and splits it on anything that is not a letter,
// digit or apostrophe.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
