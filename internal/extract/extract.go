package extract

import (
	"fmt"
	"log/slog"

	"aggload/internal/dbexec"
	"aggload/internal/schema"
)

// Extractor reconstructs aggregate instances from a flattened row
// stream. All per-call state lives in ExtractData; one Extractor may be
// shared across calls and goroutines.
type Extractor struct {
	plan   *Plan
	inst   Instantiator
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithInstantiator swaps the instance construction strategy.
func WithInstantiator(inst Instantiator) Option {
	return func(e *Extractor) { e.inst = inst }
}

// WithLogger sets the logger used for swallowed optional-read failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor creates an extractor for one extraction plan.
func NewExtractor(plan *Plan, opts ...Option) *Extractor {
	e := &Extractor{plan: plan, inst: MapInstantiator{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractData consumes the ordered, flattened row stream and returns the
// fully materialized root aggregate instances, in stream order. The
// stream must be ordered so that all rows of one aggregate instance are
// contiguous; boundaries are detected by peeking at the next row's id.
func (e *Extractor) ExtractData(stream dbexec.RowStream) ([]any, error) {
	rows := NewPeekingRows(stream)
	results := []any{}

	group := newGroupState(e.plan.Root)
	var currentID any
	haveID := false

	for rows.Next() {
		if !haveID {
			id, err := rows.Value(e.plan.RootKeyAlias)
			if err != nil {
				return results, fmt.Errorf("extract: reading aggregate id: %w", err)
			}
			currentID = id
			haveID = true
		}

		if err := e.absorbRow(group, rows.Row()); err != nil {
			return results, err
		}

		nextID, hasNext, err := rows.Peek(e.plan.RootKeyAlias)
		if hasNext && err != nil {
			return results, fmt.Errorf("extract: reading aggregate id: %w", err)
		}
		if !hasNext || !sameID(currentID, nextID) {
			instance, err := e.buildEntity(e.plan.Root, group.values, group)
			if err != nil {
				return results, err
			}
			results = append(results, instance)
			group.reset()
			currentID = nextID
			haveID = hasNext
		}
	}
	if err := rows.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// groupState accumulates one aggregate instance's rows: the merged
// non-collection values and one working set per collection property.
type groupState struct {
	collections []*CollectionPlan
	values      map[string]any
	sets        map[*CollectionPlan]*workingSet
}

func newGroupState(root *EntityPlan) *groupState {
	g := &groupState{collections: root.collectionPlans()}
	g.reset()
	return g
}

func (g *groupState) reset() {
	g.values = map[string]any{}
	g.sets = make(map[*CollectionPlan]*workingSet, len(g.collections))
	for _, cp := range g.collections {
		g.sets[cp] = newWorkingSet(cp.Kind)
	}
}

// absorbRow folds one row into the group: non-null scalar values win
// over the nulls that outer-joined rows carry for the other side, and
// each present collection element is materialized and inserted into its
// working set.
func (e *Extractor) absorbRow(g *groupState, row map[string]any) error {
	for alias, value := range row {
		if value != nil {
			g.values[alias] = value
		}
	}
	for _, cp := range g.collections {
		presence, ok := row[cp.Elem.PresenceAlias]
		if !ok {
			e.logger.Debug("collection presence column missing; treating as absent",
				slog.String("entity", cp.Elem.Entity.Name),
				slog.String("column", cp.Elem.PresenceAlias),
			)
			continue
		}
		if presence == nil {
			continue
		}
		elem, err := e.buildEntity(cp.Elem, row, nil)
		if err != nil {
			return err
		}
		key := fmt.Sprint(presence)
		switch {
		case cp.Kind == schema.KindMap:
			key = fmt.Sprint(row[cp.Elem.KeyAlias])
		case cp.Elem.KeyAlias != "":
			// An id-less element's presence column falls back to the
			// parent's propagated id, which is identical on every row of
			// the group; the key column keeps such elements distinct.
			key = key + "|" + fmt.Sprint(row[cp.Elem.KeyAlias])
		}
		g.sets[cp].insert(key, elem)
	}
	return nil
}

// buildEntity constructs one instance: constructor-bound properties
// first, remaining settable properties afterwards. A failed read of an
// optional value is logged and treated as absence; a failed read of a
// required value propagates.
func (e *Extractor) buildEntity(p *EntityPlan, values map[string]any, g *groupState) (any, error) {
	staged := map[string]any{}
	order := make([]string, 0, len(p.Scalars)+len(p.Embedded)+len(p.Ones)+len(p.Collections))

	for _, s := range p.Scalars {
		value, ok := values[s.Alias]
		if !ok {
			if s.Required {
				return nil, fmt.Errorf("extract: %s.%s: required column %s missing from result set",
					p.Entity.Name, s.Property, s.Alias)
			}
			e.logger.Debug("optional column missing; treating as absent",
				slog.String("entity", p.Entity.Name),
				slog.String("property", s.Property),
				slog.String("column", s.Alias),
			)
			continue
		}
		staged[s.Property] = value
		order = append(order, s.Property)
	}

	for _, emb := range p.Embedded {
		if !anyScalarPresent(emb.Plan, values) {
			continue
		}
		nested, err := e.buildEntity(emb.Plan, values, g)
		if err != nil {
			return nil, err
		}
		staged[emb.Property] = nested
		order = append(order, emb.Property)
	}

	for _, one := range p.Ones {
		presence, ok := values[one.Plan.PresenceAlias]
		if !ok || presence == nil {
			// No related row: the property is null, not an instance with
			// all-null fields.
			staged[one.Property] = nil
			order = append(order, one.Property)
			continue
		}
		nested, err := e.buildEntity(one.Plan, values, g)
		if err != nil {
			return nil, err
		}
		staged[one.Property] = nested
		order = append(order, one.Property)
	}

	if g != nil {
		for i := range p.Collections {
			cp := &p.Collections[i]
			if ws, ok := g.sets[cp]; ok {
				staged[cp.Property] = ws.finalize()
			}
			order = append(order, cp.Property)
		}
	}

	required := map[string]any{}
	for _, name := range p.Entity.Required {
		required[name] = staged[name]
	}
	instance, err := e.inst.Create(p.Entity, required)
	if err != nil {
		return nil, fmt.Errorf("extract: creating %s: %w", p.Entity.Name, err)
	}
	for _, name := range order {
		if p.Entity.IsRequired(name) {
			continue
		}
		if err := e.inst.Apply(instance, name, staged[name]); err != nil {
			return nil, fmt.Errorf("extract: setting %s.%s: %w", p.Entity.Name, name, err)
		}
	}
	return instance, nil
}

func anyScalarPresent(p *EntityPlan, values map[string]any) bool {
	for _, s := range p.Scalars {
		if v, ok := values[s.Alias]; ok && v != nil {
			return true
		}
	}
	for _, emb := range p.Embedded {
		if anyScalarPresent(emb.Plan, values) {
			return true
		}
	}
	return false
}

func sameID(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// workingSet accumulates the elements of one collection within one
// group. Lists preserve row order and sets deduplicate; both key
// elements by their presence id, qualified by the key column when the
// element carries one, so repeated join rows cannot produce duplicate
// children. Maps key by the key column.
type workingSet struct {
	kind  schema.CollectionKind
	items []any
	seen  map[string]bool
	byKey map[string]any
}

func newWorkingSet(kind schema.CollectionKind) *workingSet {
	return &workingSet{kind: kind, seen: map[string]bool{}, byKey: map[string]any{}}
}

func (w *workingSet) insert(key string, elem any) {
	switch w.kind {
	case schema.KindMap:
		w.byKey[key] = elem
	default:
		if w.seen[key] {
			return
		}
		w.seen[key] = true
		w.items = append(w.items, elem)
	}
}

func (w *workingSet) finalize() any {
	if w.kind == schema.KindMap {
		out := make(map[string]any, len(w.byKey))
		for k, v := range w.byKey {
			out[k] = v
		}
		return out
	}
	out := make([]any, len(w.items))
	copy(out, w.items)
	return out
}
