package entity

import "fmt"

// LinkState tracks a fan-out record through the two-phase load. A primary
// record starts Pending, becomes Persisted once its generated id has been
// re-queried by natural key, and Linked once its dependents carry that id.
type LinkState string

const (
	LinkStatePending   LinkState = "pending"
	LinkStatePersisted LinkState = "persisted"
	LinkStateLinked    LinkState = "linked"
)

// FanOutGroup is the result of transforming one source item: one primary
// record that is independently meaningful, plus zero or more secondary
// records that reference the primary by its source id until the generated
// id is known.
type FanOutGroup struct {
	// SourceID is the natural key shared by the whole group.
	SourceID string

	// Primary is loaded first and re-queried by natural key.
	Primary TargetRecord

	// Secondaries are loaded after the primary's generated id is known.
	Secondaries []TargetRecord

	// RefColumn names the column on each secondary that must be rewritten
	// from the pending source id to the primary's generated id.
	RefColumn string

	state    LinkState
	targetID int64
}

// NewFanOutGroup builds a Pending group for one source item.
func NewFanOutGroup(sourceID string, primary TargetRecord, refColumn string, secondaries ...TargetRecord) *FanOutGroup {
	return &FanOutGroup{
		SourceID:    sourceID,
		Primary:     primary,
		Secondaries: secondaries,
		RefColumn:   refColumn,
		state:       LinkStatePending,
	}
}

// State returns the group's current link state.
func (g *FanOutGroup) State() LinkState {
	return g.state
}

// TargetID returns the generated id of the persisted primary. Only valid
// after MarkPersisted.
func (g *FanOutGroup) TargetID() int64 {
	return g.targetID
}

// MarkPersisted records the primary's generated id after re-query.
func (g *FanOutGroup) MarkPersisted(targetID int64) error {
	if g.state != LinkStatePending {
		return fmt.Errorf("fan-out group %s: cannot persist from state %s", g.SourceID, g.state)
	}
	g.state = LinkStatePersisted
	g.targetID = targetID
	return nil
}

// Link rewrites every secondary's reference column to the generated id and
// returns the rewritten records. A group with no secondaries still moves
// to Linked so run accounting stays uniform.
func (g *FanOutGroup) Link() ([]TargetRecord, error) {
	if g.state != LinkStatePersisted {
		return nil, fmt.Errorf("fan-out group %s: cannot link from state %s", g.SourceID, g.state)
	}
	linked := make([]TargetRecord, 0, len(g.Secondaries))
	for _, sec := range g.Secondaries {
		rec := sec.Clone()
		if g.RefColumn != "" {
			rec[g.RefColumn] = g.targetID
		}
		linked = append(linked, rec)
	}
	g.state = LinkStateLinked
	return linked, nil
}
