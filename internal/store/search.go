package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// SearchType selects which vectors a query is compared against.
type SearchType string

const (
	SearchText   SearchType = "text"
	SearchImage  SearchType = "image"
	SearchHybrid SearchType = "hybrid"
)

// DefaultLimit is used when a query leaves Limit unset.
const DefaultLimit = 5

func ParseSearchType(s string) (SearchType, error) {
	switch t := SearchType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return SearchHybrid, nil
	case SearchText, SearchImage, SearchHybrid:
		return t, nil
	default:
		return "", fmt.Errorf("unknown search type %q (want text, image or hybrid)", s)
	}
}

// Query is a vector search request. Text is compared with text vectors and
// Image with image vectors.
type Query struct {
	Text      []float32
	Image     []float32
	Type      SearchType
	Limit     int
	VideoPath string
}

// Result is a record with its similarity to the query.
type Result struct {
	Record
	Score float64
}

var ErrEmptyQuery = errors.New("query has no vector for the requested search type")

// Search ranks stored frames by cosine similarity. Hybrid averages the text
// and image similarities with equal weight; a record missing one vector
// scores zero for that half. Without an image query vector hybrid falls back
// to text only.
func (s *Store) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Type == "" {
		q.Type = SearchHybrid
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	score, err := scoreFunc(q)
	if err != nil {
		return nil, err
	}

	records, err := s.Frames(ctx, q.VideoPath)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(records))
	for _, r := range records {
		if v, ok := score(r); ok {
			results = append(results, Result{Record: r, Score: v})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].VideoPath != results[j].VideoPath {
			return results[i].VideoPath < results[j].VideoPath
		}
		return results[i].Timestamp < results[j].Timestamp
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func scoreFunc(q Query) (func(Record) (float64, bool), error) {
	switch q.Type {
	case SearchText:
		if len(q.Text) == 0 {
			return nil, ErrEmptyQuery
		}
		return func(r Record) (float64, bool) {
			if len(r.TextVec) == 0 {
				return 0, false
			}
			return Cosine(q.Text, r.TextVec), true
		}, nil

	case SearchImage:
		if len(q.Image) == 0 {
			return nil, ErrEmptyQuery
		}
		return func(r Record) (float64, bool) {
			if len(r.ImageVec) == 0 {
				return 0, false
			}
			return Cosine(q.Image, r.ImageVec), true
		}, nil

	case SearchHybrid:
		if len(q.Text) == 0 && len(q.Image) == 0 {
			return nil, ErrEmptyQuery
		}
		if len(q.Image) == 0 {
			return scoreFunc(Query{Type: SearchText, Text: q.Text})
		}
		if len(q.Text) == 0 {
			return scoreFunc(Query{Type: SearchImage, Image: q.Image})
		}
		return func(r Record) (float64, bool) {
			if len(r.TextVec) == 0 && len(r.ImageVec) == 0 {
				return 0, false
			}
			var v float64
			if len(r.TextVec) > 0 {
				v += 0.5 * Cosine(q.Text, r.TextVec)
			}
			if len(r.ImageVec) > 0 {
				v += 0.5 * Cosine(q.Image, r.ImageVec)
			}
			return v, true
		}, nil

	default:
		return nil, fmt.Errorf("unknown search type %q", q.Type)
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeVector packs v as little-endian float32s; empty vectors become NULL.
func encodeVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
