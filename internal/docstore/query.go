// viewMany: filtering, stable multi-key sort, pagination and relation
// materialization.

package docstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/maruel/docdb/internal/index"
)

// SortKey orders records by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// ParseSort parses "a,-b" into ascending a then descending b.
func ParseSort(s string) []SortKey {
	var out []SortKey
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		k := SortKey{Field: f}
		if rest, ok := strings.CutPrefix(f, "-"); ok {
			k = SortKey{Field: rest, Desc: true}
		} else if rest, ok := strings.CutPrefix(f, "+"); ok {
			k.Field = rest
		}
		out = append(out, k)
	}
	return out
}

// Query selects a page of records for [Store.ViewMany].
type Query struct {
	// Where keeps records whose fields equal every given value.
	Where map[string]any
	// Filter, when set, keeps the records for which it returns true. It
	// receives a copy of each record.
	Filter func(Record) bool
	// Sort keys are applied in order; later keys break ties. Null and
	// missing values sort last in either direction.
	Sort  []SortKey
	Skip  int
	Limit int
	// Include names relations to materialize on each returned record, under
	// the relation name. A record already holding a field of that name fails
	// the query.
	Include []string
	// Lazy defers relation resolution to [Related.Get] instead of storing
	// the related records under the relation name.
	Lazy bool
}

// Page is the result of [Store.ViewMany].
type Page struct {
	Records []Record
	// Total is the number of records matching the filter, before slicing.
	Total int
	Skip  int
	Limit int
	// Page is 1-based; it is 1 when there is no limit.
	Page int
	// Related holds one accessor per included relation for each record.
	Related []map[string]*Related
}

// Related resolves the records related to one record, at most once.
type Related struct {
	s     *Store
	rel   *Relation
	local Record

	once    sync.Once
	records []Record
	err     error
}

// Get returns the related records.
func (r *Related) Get(ctx context.Context) ([]Record, error) {
	r.once.Do(func() {
		r.records, r.err = r.s.relatedTo(ctx, r.rel, r.local)
		if r.err == nil {
			r.records = cloneRecords(r.records)
		}
	})
	return r.records, r.err
}

// ViewMany loads the collection and returns the page selected by q.
func (s *Store) ViewMany(ctx context.Context, collection string, q Query) (*Page, error) {
	o := s.begin(OpViewMany, collection, "")
	out, err := s.viewMany(ctx, collection, &q)
	return out, o.end(err)
}

func (s *Store) viewMany(ctx context.Context, collection string, q *Query) (*Page, error) {
	if q.Skip < 0 || q.Limit < 0 {
		return nil, newError(CodeOperationFailed, "", collection, "", "skip and limit must be non-negative", nil)
	}
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	rels := make([]*Relation, len(q.Include))
	for i, n := range q.Include {
		r, err := s.relation(n)
		if err != nil {
			return nil, err
		}
		if r.LocalCollection != name {
			return nil, newError(CodeInvalidConfig, "", name, "", fmt.Sprintf("relation %q starts from %s", n, r.LocalCollection), nil)
		}
		rels[i] = r
	}
	records, err := s.snapshot(path, name)
	if err != nil {
		return nil, err
	}
	matched := make([]Record, 0, len(records))
	for _, r := range records {
		if matchWhere(r, q.Where) && (q.Filter == nil || q.Filter(r.Clone())) {
			matched = append(matched, r)
		}
	}
	if len(q.Sort) > 0 {
		slices.SortStableFunc(matched, func(a, b Record) int { return compareRecords(a, b, q.Sort) })
	}
	p := &Page{Total: len(matched), Skip: q.Skip, Limit: q.Limit, Page: 1}
	if q.Limit > 0 {
		p.Page = q.Skip/q.Limit + 1
	}
	lo := min(q.Skip, len(matched))
	hi := len(matched)
	if q.Limit > 0 {
		hi = min(lo+q.Limit, hi)
	}
	p.Records = cloneRecords(matched[lo:hi])
	if len(rels) == 0 {
		return p, nil
	}
	p.Related = make([]map[string]*Related, len(p.Records))
	var errs []error
	for i, r := range p.Records {
		m := make(map[string]*Related, len(rels))
		local := r.Clone()
		for _, rel := range rels {
			acc := &Related{s: s, rel: rel, local: local}
			m[rel.Name] = acc
			if q.Lazy {
				continue
			}
			if _, taken := r[rel.Name]; taken {
				return nil, newError(CodeOperationFailed, "", name, r.ID(), fmt.Sprintf("include %q would overwrite a field of the same name", rel.Name), nil)
			}
			got, err := acc.Get(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			r[rel.Name] = materialize(rel, got)
		}
		p.Related[i] = m
	}
	if err := errors.Join(errs...); err != nil {
		return nil, newError(CodeInvalidData, "", name, "", "failed to include relations", err)
	}
	return p, nil
}

// materialize converts related records to the value stored on the record:
// a single record or nil for 1:1, a list otherwise.
func materialize(rel *Relation, got []Record) any {
	if rel.Type == OneToOne {
		if len(got) == 0 {
			return nil
		}
		return map[string]any(got[0].Clone())
	}
	out := make([]any, len(got))
	for i, g := range got {
		out[i] = map[string]any(g.Clone())
	}
	return out
}

func matchWhere(r Record, where map[string]any) bool {
	for k, want := range where {
		v, ok := r[k]
		if !ok {
			if want != nil {
				return false
			}
			continue
		}
		if index.Key(v) != index.Key(want) {
			return false
		}
	}
	return true
}

func compareRecords(a, b Record, keys []SortKey) int {
	for _, k := range keys {
		av, aok := a[k.Field]
		bv, bok := b[k.Field]
		aNull, bNull := !aok || av == nil, !bok || bv == nil
		switch {
		case aNull && bNull:
			continue
		case aNull:
			return 1
		case bNull:
			return -1
		}
		c := compareValues(av, bv)
		if k.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// compareValues orders numbers, then strings, then booleans, then anything
// else by its index key.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	}
	return strings.Compare(index.Key(a), index.Key(b))
}

func rank(v any) int {
	switch v.(type) {
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	default:
		return 3
	}
}
