// Relation Manager: declared edges between collections, delete-time
// integrity and related-record reads.

package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/maruel/docdb/internal/index"
)

// RelationType is the cardinality of a relation.
type RelationType string

// Relation types.
const (
	OneToOne   RelationType = "1:1"
	OneToMany  RelationType = "1:N"
	ManyToMany RelationType = "N:M"
)

// OnDelete is the policy applied to referencing records when a local record
// is deleted.
type OnDelete string

// Delete policies.
const (
	Restrict OnDelete = "RESTRICT"
	Cascade  OnDelete = "CASCADE"
	SetNull  OnDelete = "SET_NULL"
)

// Junction is the intermediary collection of an N:M relation. LocalKey
// holds the local record's LocalField value, ForeignKey the foreign record's
// ForeignField value.
type Junction struct {
	Collection string
	LocalKey   string
	ForeignKey string
}

// Relation is a declarative edge from LocalCollection to ForeignCollection.
//
// For 1:1 and 1:N, foreign records reference the local record by holding its
// LocalField value in ForeignField. For N:M the reference is a row of the
// junction collection and ForeignField defaults to the id.
type Relation struct {
	Name              string
	Type              RelationType
	LocalCollection   string
	LocalField        string
	ForeignCollection string
	ForeignField      string
	Junction          *Junction
	// OnDelete defaults to Restrict.
	OnDelete OnDelete
}

// Validate checks the declaration.
func (r *Relation) Validate() error {
	if r.Name == "" {
		return errors.New("relation name is required")
	}
	if err := validName(r.LocalCollection); err != nil {
		return fmt.Errorf("relation %q: local: %w", r.Name, err)
	}
	if err := validName(r.ForeignCollection); err != nil {
		return fmt.Errorf("relation %q: foreign: %w", r.Name, err)
	}
	switch r.OnDelete {
	case "", Restrict, Cascade, SetNull:
	default:
		return fmt.Errorf("relation %q: unknown onDelete policy %q", r.Name, r.OnDelete)
	}
	switch r.Type {
	case OneToOne, OneToMany:
		if r.ForeignField == "" {
			return fmt.Errorf("relation %q: foreign field is required", r.Name)
		}
		if r.Junction != nil {
			return fmt.Errorf("relation %q: junction is only valid for %s", r.Name, ManyToMany)
		}
	case ManyToMany:
		j := r.Junction
		if j == nil {
			return fmt.Errorf("relation %q: junction is required", r.Name)
		}
		if err := validName(j.Collection); err != nil {
			return fmt.Errorf("relation %q: junction: %w", r.Name, err)
		}
		if j.LocalKey == "" || j.ForeignKey == "" {
			return fmt.Errorf("relation %q: junction keys are required", r.Name)
		}
	default:
		return fmt.Errorf("relation %q: unknown type %q", r.Name, r.Type)
	}
	return nil
}

func (r *Relation) policy() OnDelete {
	if r.OnDelete == "" {
		return Restrict
	}
	return r.OnDelete
}

func (r *Relation) localField() string {
	if r.LocalField == "" {
		return IDField
	}
	return r.LocalField
}

func (r *Relation) foreignField() string {
	if r.ForeignField == "" {
		return IDField
	}
	return r.ForeignField
}

// DefineRelation registers r. Names are unique per store.
func (s *Store) DefineRelation(r Relation) error {
	if err := r.Validate(); err != nil {
		return newError(CodeInvalidConfig, "defineRelation", "", "", "", err)
	}
	r.LocalCollection = s.canonicalName(r.LocalCollection)
	r.ForeignCollection = s.canonicalName(r.ForeignCollection)
	if r.Junction != nil {
		j := *r.Junction
		j.Collection = s.canonicalName(j.Collection)
		r.Junction = &j
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relations[r.Name]; ok {
		return newError(CodeInvalidConfig, "defineRelation", "", "", fmt.Sprintf("relation %q already defined", r.Name), nil)
	}
	s.relations[r.Name] = &r
	s.relOrder = append(s.relOrder, r.Name)
	return nil
}

// Relations returns the declared relations in declaration order.
func (s *Store) Relations() []Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Relation, 0, len(s.relOrder))
	for _, n := range s.relOrder {
		out = append(out, *s.relations[n])
	}
	return out
}

func (s *Store) relation(name string) (*Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relations[name]
	if !ok {
		return nil, newError(CodeInvalidConfig, "", "", "", fmt.Sprintf("unknown relation %q", name), nil)
	}
	return r, nil
}

// relationsFrom returns the relations whose local collection is collection.
func (s *Store) relationsFrom(collection string) []*Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Relation
	for _, n := range s.relOrder {
		if r := s.relations[n]; r.LocalCollection == collection {
			out = append(out, r)
		}
	}
	return out
}

// dependents returns the records referencing local through rel and the
// collection holding them: the foreign collection, or the junction for N:M.
func (s *Store) dependents(ctx context.Context, rel *Relation, local Record) ([]Record, string, error) {
	target, field := rel.ForeignCollection, rel.foreignField()
	if rel.Type == ManyToMany {
		target, field = rel.Junction.Collection, rel.Junction.LocalKey
	}
	v, ok := local[rel.localField()]
	if !ok || v == nil {
		return nil, target, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, target, newError(CodeOperationFailed, "", target, "", "", err)
	}
	// Integrity checks read the data itself; an index may be stale.
	deps, err := s.scan(target, field, v)
	if err != nil {
		return nil, target, err
	}
	if target == rel.LocalCollection {
		// A self-referencing record does not depend on itself.
		out := deps[:0:0]
		for _, d := range deps {
			if d.ID() != local.ID() {
				out = append(out, d)
			}
		}
		deps = out
	}
	return deps, target, nil
}

// restrict fails when a RESTRICT relation still has dependents of local.
func (s *Store) restrict(ctx context.Context, rels []*Relation, local Record) error {
	for _, rel := range rels {
		if rel.policy() != Restrict {
			continue
		}
		deps, target, err := s.dependents(ctx, rel, local)
		if err != nil {
			return err
		}
		if len(deps) > 0 {
			msg := fmt.Sprintf("relation %q: %d referencing records in %s", rel.Name, len(deps), target)
			return newError(CodeRelationViolation, "", rel.LocalCollection, local.ID(), msg, nil)
		}
	}
	return nil
}

// propagate applies CASCADE and SET_NULL policies after local was removed.
// Failures are logged per record and never undo the primary delete.
func (s *Store) propagate(ctx context.Context, rels []*Relation, local Record) {
	for _, rel := range rels {
		p := rel.policy()
		if p == Restrict {
			continue
		}
		deps, target, err := s.dependents(ctx, rel, local)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to resolve dependents", "relation", rel.Name, "collection", target, "err", err)
			continue
		}
		for _, d := range deps {
			if p == Cascade || rel.Type == ManyToMany {
				err = s.DeleteOne(ctx, target, d.ID())
			} else {
				o := s.begin(OpEditOne, target, d.ID())
				_, err = s.editOne(ctx, target, d.ID(), Record{rel.ForeignField: nil}, false)
				err = o.end(err)
			}
			if err != nil && !errors.Is(err, ErrRecordNotFound) {
				s.logger.WarnContext(ctx, "failed to apply delete policy", "relation", rel.Name, "policy", string(p), "collection", target, "id", d.ID(), "err", err)
			}
		}
	}
}

// GetRelated returns the records related to the local record localID
// through the named relation. For 1:1 the result holds at most one record.
func (s *Store) GetRelated(ctx context.Context, name, localID string) ([]Record, error) {
	rel, err := s.relation(name)
	if err != nil {
		o := s.begin(OpGetRelated, "", localID)
		return nil, o.end(err)
	}
	o := s.begin(OpGetRelated, rel.LocalCollection, localID)
	out, err := s.related(ctx, rel, localID)
	if err == nil {
		out = cloneRecords(out)
	}
	return out, o.end(err)
}

// GetRelatedOne returns the first related record, or nil when there is none.
func (s *Store) GetRelatedOne(ctx context.Context, name, localID string) (Record, error) {
	out, err := s.GetRelated(ctx, name, localID)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

func (s *Store) related(ctx context.Context, rel *Relation, localID string) ([]Record, error) {
	local, err := s.viewOne(rel.LocalCollection, localID)
	if err != nil {
		return nil, err
	}
	return s.relatedTo(ctx, rel, local)
}

func (s *Store) relatedTo(ctx context.Context, rel *Relation, local Record) ([]Record, error) {
	deps, _, err := s.dependents(ctx, rel, local)
	if err != nil {
		return nil, err
	}
	switch rel.Type {
	case OneToOne:
		if len(deps) > 1 {
			deps = deps[:1]
		}
		return deps, nil
	case OneToMany:
		return deps, nil
	}
	// N:M: resolve junction rows to foreign records, in junction order.
	path, name, err := s.resolve(rel.ForeignCollection)
	if err != nil {
		return nil, err
	}
	foreign, err := s.snapshot(path, name)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]Record, len(foreign))
	for _, f := range foreign {
		if v, ok := f[rel.foreignField()]; ok && v != nil {
			byKey[index.Key(v)] = f
		}
	}
	var out []Record
	seen := map[string]struct{}{}
	for _, d := range deps {
		v, ok := d[rel.Junction.ForeignKey]
		if !ok || v == nil {
			continue
		}
		k := index.Key(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if f, ok := byKey[k]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// Violation is a foreign-key value that does not resolve to a target record.
type Violation struct {
	Relation   string
	Collection string
	ID         string
	Field      string
	Value      any
	// Target is the collection the value should resolve in.
	Target string
}

func (v *Violation) String() string {
	return fmt.Sprintf("%s: %s/%s.%s=%v has no match in %s", v.Relation, v.Collection, v.ID, v.Field, v.Value, v.Target)
}

// VerifyRelations sweeps every declared relation and reports dangling
// references. It never modifies anything.
func (s *Store) VerifyRelations(ctx context.Context) ([]Violation, error) {
	o := s.begin(OpVerify, "", "")
	out, err := s.verify(ctx)
	return out, o.end(err)
}

func (s *Store) verify(ctx context.Context) ([]Violation, error) {
	var out []Violation
	for _, rel := range s.Relations() {
		if err := ctx.Err(); err != nil {
			return nil, newError(CodeOperationFailed, "", "", "", "", err)
		}
		local, err := s.keySet(rel.LocalCollection, rel.localField())
		if err != nil {
			return nil, err
		}
		if rel.Type != ManyToMany {
			v, err := s.dangling(&rel, rel.ForeignCollection, rel.foreignField(), rel.LocalCollection, local)
			if err != nil {
				return nil, err
			}
			out = append(out, v...)
			continue
		}
		foreign, err := s.keySet(rel.ForeignCollection, rel.foreignField())
		if err != nil {
			return nil, err
		}
		j := rel.Junction
		v, err := s.dangling(&rel, j.Collection, j.LocalKey, rel.LocalCollection, local)
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
		if v, err = s.dangling(&rel, j.Collection, j.ForeignKey, rel.ForeignCollection, foreign); err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	return out, nil
}

func (s *Store) keySet(collection, field string) (map[string]struct{}, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	records, err := s.snapshot(path, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(records))
	for _, r := range records {
		if v, ok := r[field]; ok && v != nil {
			out[index.Key(v)] = struct{}{}
		}
	}
	return out, nil
}

// dangling reports the non-null values of field in collection missing from
// targets.
func (s *Store) dangling(rel *Relation, collection, field, target string, targets map[string]struct{}) ([]Violation, error) {
	path, name, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	records, err := s.snapshot(path, name)
	if err != nil {
		return nil, err
	}
	var out []Violation
	for _, r := range records {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		if _, found := targets[index.Key(v)]; !found {
			out = append(out, Violation{Relation: rel.Name, Collection: name, ID: r.ID(), Field: field, Value: cloneValue(v), Target: target})
		}
	}
	return out, nil
}
