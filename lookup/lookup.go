// Package lookup resolves free-text mentions of districts and residential
// complexes to catalog identifiers. The catalog is small enough that a
// token-overlap ranking over the loaded rows beats maintaining a separate
// vector index.
package lookup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/archiq/assistant/catalog"
)

// Candidate is one ranked match for a free-text query.
type Candidate struct {
	ID      int64   `json:"id"`
	Kind    string  `json:"kind"` // "district" or "residential_complex"
	Name    string  `json:"name"`
	Summary string  `json:"summary,omitempty"`
	Score   float64 `json:"score"`
}

// Retriever ranks catalog entities against a free-text query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Candidate, error)
}

// CatalogRetriever scores the names and descriptions of districts and
// complexes by token overlap with the query.
type CatalogRetriever struct {
	store *catalog.Store
}

func NewCatalogRetriever(store *catalog.Store) (*CatalogRetriever, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is required")
	}
	return &CatalogRetriever{store: store}, nil
}

func (r *CatalogRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Candidate, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, fmt.Errorf("query is empty")
	}
	if topK <= 0 {
		topK = 5
	}

	districts, err := r.store.ListDistricts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load districts: %w", err)
	}
	availability, err := r.store.ListComplexAvailability(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load complexes: %w", err)
	}

	candidates := make([]Candidate, 0, len(districts)+len(availability))
	for _, d := range districts {
		score := overlap(queryTokens, tokenize(d.Name+" "+d.Description))
		if score == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      d.ID,
			Kind:    "district",
			Name:    d.Name,
			Summary: d.Description,
			Score:   score,
		})
	}
	for _, c := range availability {
		score := overlap(queryTokens, tokenize(c.Name+" "+c.DistrictName+" "+c.ClassType))
		if score == 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      c.ComplexID,
			Kind:    "residential_complex",
			Name:    c.Name,
			Summary: fmt.Sprintf("%s class complex in %s, %d apartments available", c.ClassType, c.DistrictName, c.TotalAvailable),
			Score:   score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// overlap is the fraction of query tokens present in the document tokens.
func overlap(query, doc []string) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(doc))
	for _, tok := range doc {
		docSet[tok] = struct{}{}
	}
	matched := 0
	for _, tok := range query {
		if _, ok := docSet[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}
