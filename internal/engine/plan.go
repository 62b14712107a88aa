package engine

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Plan is the read-only step index every executor of a generation shares.
//
// It resolves each IR step back to its entry, precomputes the trigger set of
// every step, check rule and source, and records list identities.
type Plan struct {
	IR      *ir.ConvergeStaticIr
	steps   []stepInfo
	checks  []checkInfo
	sources []sourceInfo

	// trackBy maps an item scope ("items[]") to its identity field.
	trackBy map[string]string
}

type stepInfo struct {
	id       int
	entry    ir.TraitEntry
	out      ir.FieldPath
	outID    ir.FieldPathID
	inputs   []ir.FieldPath
	derive   ir.DeriveFunc
	equals   ir.EqualFunc
	triggers *roaring.Bitmap
	deferred bool

	// rowScope is the item scope of a first-level list step whose rows can
	// be keyed by trackBy; nil otherwise.
	rowScope ir.FieldPath
	rowKey   string
}

type checkInfo struct {
	name      string
	scope     ir.FieldPath
	rule      ir.CheckRule
	writeback ir.FieldPath
	triggers  *roaring.Bitmap
}

type sourceInfo struct {
	path     ir.FieldPath
	meta     ir.SourceMeta
	triggers *roaring.Bitmap
}

// NewPlan indexes static for execution. entries supplies the non-writer
// traits (checks and sources); trackBy maps item scopes to identity fields.
func NewPlan(static *ir.ConvergeStaticIr, entries []ir.TraitEntry, trackBy map[string]string) (*Plan, error) {
	p := &Plan{IR: static, trackBy: trackBy}
	if p.trackBy == nil {
		p.trackBy = map[string]string{}
	}
	if static.ConfigError != nil {
		return p, nil
	}
	if len(static.Writers) != len(static.Steps) {
		return nil, fmt.Errorf("plan: IR has %d steps but %d writers", len(static.Steps), len(static.Writers))
	}
	reg := static.Registry

	for _, step := range static.Steps {
		entry := static.Writers[step.StepID]
		info := stepInfo{
			id:       step.StepID,
			entry:    entry,
			out:      entry.FieldPath,
			outID:    step.OutFieldPathID,
			deferred: step.Scheduling == ir.SchedulingDeferred,
		}
		switch m := entry.Meta.(type) {
		case ir.ComputedMeta:
			info.inputs = m.Deps
			info.derive = m.Derive
			info.equals = m.Equals
		case ir.LinkMeta:
			info.inputs = []ir.FieldPath{m.From}
			info.derive = linkDerive
		default:
			return nil, fmt.Errorf("plan: step %d has non-writer kind %s", step.StepID, entry.Kind())
		}
		if info.equals == nil {
			info.equals = ir.ValuesEqual
		}
		info.triggers = triggerSet(reg, info.inputs)
		info.triggers.Add(uint32(info.outID))

		if scope := firstListScope(info.out); scope != nil && info.out.ListDepth() == 1 {
			if key, ok := p.trackBy[scope.String()]; ok {
				info.rowScope = scope
				info.rowKey = key
			}
		}
		p.steps = append(p.steps, info)
	}

	for _, e := range entries {
		switch m := e.Meta.(type) {
		case ir.CheckMeta:
			for _, name := range ir.SortedRuleNames(m.Rules) {
				rule := m.Rules[name]
				wb := rule.Writeback
				if len(wb) == 0 {
					wb = e.FieldPath.Append(name)
				}
				p.checks = append(p.checks, checkInfo{
					name:      name,
					scope:     e.FieldPath,
					rule:      rule,
					writeback: wb,
					triggers:  triggerSet(reg, rule.Deps),
				})
			}
		case ir.SourceMeta:
			p.sources = append(p.sources, sourceInfo{
				path:     e.FieldPath,
				meta:     m,
				triggers: triggerSet(reg, m.Deps),
			})
		}
	}
	return p, nil
}

// StepCount returns the number of writer steps.
func (p *Plan) StepCount() int {
	return len(p.steps)
}

// triggerSet collects the ids that make a consumer of deps relevant: each
// dep and every registered ancestor or descendant of it.
func triggerSet(reg *ir.FieldPathRegistry, deps []ir.FieldPath) *roaring.Bitmap {
	bm := roaring.New()
	if reg == nil {
		return bm
	}
	for _, dep := range deps {
		for _, id := range reg.Related(dep) {
			bm.Add(uint32(id))
		}
	}
	return bm
}

// closure returns, in topological order, every step whose triggers meet the
// seed or the output of an earlier relevant step.
func (p *Plan) closure(seed *roaring.Bitmap) []int {
	reach := seed.Clone()
	var out []int
	for i := range p.steps {
		s := &p.steps[i]
		if s.triggers.Intersects(reach) {
			out = append(out, s.id)
			reach.Add(uint32(s.outID))
		}
	}
	return out
}

// downstream is closure seeded by a set of steps rather than ids: the seeds
// are always included.
func (p *Plan) downstream(seeds []int) []int {
	isSeed := make(map[int]bool, len(seeds))
	for _, id := range seeds {
		isSeed[id] = true
	}
	reach := roaring.New()
	var out []int
	for i := range p.steps {
		s := &p.steps[i]
		if isSeed[s.id] || s.triggers.Intersects(reach) {
			out = append(out, s.id)
			reach.Add(uint32(s.outID))
		}
	}
	return out
}

func (p *Plan) allSteps() []int {
	out := make([]int, len(p.steps))
	for i := range p.steps {
		out[i] = p.steps[i].id
	}
	return out
}

func linkDerive(deps []any) (any, error) {
	return deps[0], nil
}
