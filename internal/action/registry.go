package action

import (
	"fmt"
	"sort"

	"voxelprism.ai/internal/world"
)

type Family string

const (
	FamilyBlock  Family = "block"
	FamilyEntity Family = "entity"
)

// Action type keys. The set is closed: handlers only ever ask for these.
const (
	BlockBreak   = "block-break"
	BlockBurn    = "block-burn"
	BlockExplode = "block-explode"
	BlockPlace   = "block-place"
	HangingBreak = "hanging-break"
)

type Type struct {
	Key        string `json:"key"`
	Family     Family `json:"family"`
	PastTense  string `json:"past_tense"`
	Reversible bool   `json:"reversible"`
}

// Action describes what changed, independent of where and who. Before and
// After carry enough state to restore or replay the change.
type Action struct {
	Type   string            `json:"type"`
	Family Family            `json:"family"`
	Before *world.BlockState `json:"before,omitempty"`
	After  *world.BlockState `json:"after,omitempty"`
	Entity *world.Entity     `json:"entity,omitempty"`
}

func (a Action) IsZero() bool { return a.Type == "" }

// Target is the snapshot an action is built from.
type Target interface {
	family() Family
}

type BlockTarget struct {
	Before *world.BlockState
	After  *world.BlockState
}

func (BlockTarget) family() Family { return FamilyBlock }

// Removed is the target of a destructive block action.
func Removed(before world.BlockState) BlockTarget {
	return BlockTarget{Before: &before}
}

// Replaced is the target of a block action that swaps one state for another.
func Replaced(before, after world.BlockState) BlockTarget {
	return BlockTarget{Before: &before, After: &after}
}

type EntityTarget struct {
	Entity world.Entity
}

func (EntityTarget) family() Family { return FamilyEntity }

// Registry is a pure factory from action keys to Actions.
type Registry struct {
	types map[string]Type
}

func NewRegistry() *Registry {
	r := &Registry{types: map[string]Type{}}
	for _, t := range []Type{
		{Key: BlockBreak, Family: FamilyBlock, PastTense: "broke", Reversible: true},
		{Key: BlockBurn, Family: FamilyBlock, PastTense: "burned", Reversible: true},
		{Key: BlockExplode, Family: FamilyBlock, PastTense: "blew up", Reversible: true},
		{Key: BlockPlace, Family: FamilyBlock, PastTense: "placed", Reversible: true},
		{Key: HangingBreak, Family: FamilyEntity, PastTense: "broke", Reversible: false},
	} {
		r.types[t.Key] = t
	}
	return r
}

func (r *Registry) Lookup(key string) (Type, bool) {
	t, ok := r.types[key]
	return t, ok
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.types))
	for k := range r.types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Create builds an Action. An unknown key or a target of the wrong family is
// a programming error and panics.
func (r *Registry) Create(key string, target Target) Action {
	t, ok := r.types[key]
	if !ok {
		panic(fmt.Sprintf("action: unknown type %q", key))
	}
	if target == nil || target.family() != t.Family {
		panic(fmt.Sprintf("action: %s needs a %s target", key, t.Family))
	}

	a := Action{Type: t.Key, Family: t.Family}
	switch tg := target.(type) {
	case BlockTarget:
		if tg.Before != nil {
			st := *tg.Before
			a.Before = &st
		}
		if tg.After != nil {
			st := *tg.After
			a.After = &st
		}
	case EntityTarget:
		e := tg.Entity
		a.Entity = &e
	}
	return a
}
