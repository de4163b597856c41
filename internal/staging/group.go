package staging

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/radar-mosaic-etl/internal/domain"
)

// Group is the set of staged files observed at one valid time. Files from
// different products at the same instant form separate groups.
type Group struct {
	Product   string
	Token     string
	ValidTime time.Time
	Files     []string
}

// Key identifies the group within a run.
func (g Group) Key() string {
	if g.Product == "" {
		return g.Token
	}
	return g.Product + "/" + g.Token
}

// GroupByValidTime groups staged files by their embedded YYYYMMDD-HHMMSS
// token with exact equality, ordered by valid time. Files without a parseable
// token are returned separately.
func GroupByValidTime(paths []string) ([]Group, []string) {
	index := map[string]int{}
	var (
		groups  []Group
		skipped []string
	)
	for _, p := range paths {
		name := filepath.Base(p)
		tok, ok := domain.ValidTimeToken(name)
		if !ok {
			skipped = append(skipped, p)
			continue
		}
		vt, ok := domain.ParseValidTime(tok)
		if !ok {
			skipped = append(skipped, p)
			continue
		}
		g := Group{Product: domain.ProductToken(name), Token: tok, ValidTime: vt}
		i, seen := index[g.Key()]
		if !seen {
			i = len(groups)
			index[g.Key()] = i
			groups = append(groups, g)
		}
		groups[i].Files = append(groups[i].Files, p)
	}
	for i := range groups {
		slices.Sort(groups[i].Files)
	}
	slices.SortFunc(groups, func(a, b Group) int {
		if c := a.ValidTime.Compare(b.ValidTime); c != 0 {
			return c
		}
		return strings.Compare(a.Product, b.Product)
	})
	return groups, skipped
}
