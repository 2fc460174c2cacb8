package protocol

import (
	"github.com/google/uuid"

	"voxelprism.ai/internal/catalogs"
	"voxelprism.ai/internal/handlers"
	"voxelprism.ai/internal/world"
)

func (b BlockRef) Block() world.Block {
	return world.Block{Pos: world.FromArray(b.Pos), State: b.BlockState}
}

func (a ActorRef) Actor() (world.Actor, error) {
	id, err := uuid.Parse(a.ID)
	if err != nil {
		return world.Actor{}, codeErr(ErrBadRequest, "actor id %q: %v", a.ID, err)
	}
	kind := a.Kind
	if kind == "" {
		kind = world.ActorPlayer
	}
	return world.Actor{ID: id, Name: a.Name, Kind: kind}, nil
}

// Entity converts the reference; a missing attachment point means the entity
// hangs on its own cell.
func (e EntityRef) Entity() (world.Entity, error) {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		return world.Entity{}, codeErr(ErrBadRequest, "entity id %q: %v", e.ID, err)
	}
	pos := world.FromArray(e.Pos)
	attached := pos
	if e.AttachedTo != nil {
		attached = world.FromArray(*e.AttachedTo)
	}
	return world.Entity{ID: id, Kind: e.Kind, Pos: pos, AttachedTo: attached}, nil
}

func (m EventMsg) actor() (*world.Actor, error) {
	if m.Actor == nil {
		return nil, nil
	}
	a, err := m.Actor.Actor()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Snapshot builds the world view for this event: the region plus the event's
// own blocks and entity.
func (m EventMsg) Snapshot(cats *catalogs.Catalogs) (*world.Snapshot, error) {
	s := world.NewSnapshot(cats)
	if m.Region.Min != nil && m.Region.Max != nil {
		s.WithBounds(world.Bounds{Min: world.FromArray(*m.Region.Min), Max: world.FromArray(*m.Region.Max)})
	}
	for _, b := range m.Region.Blocks {
		s.Put(b.Block())
	}
	if m.Block != nil {
		s.Put(m.Block.Block())
	}
	for _, b := range m.Blocks {
		s.Put(b.Block())
	}

	seen := make(map[uuid.UUID]struct{}, len(m.Region.Entities)+1)
	refs := m.Region.Entities
	if m.Entity != nil {
		refs = append([]EntityRef{*m.Entity}, refs...)
	}
	for _, r := range refs {
		e, err := r.Entity()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		s.AddEntity(e)
	}
	return s, nil
}

// Dispatch runs the handler matching m.Type against the event's snapshot.
func Dispatch(h *handlers.Handlers, cats *catalogs.Catalogs, m EventMsg) (handlers.Outcome, error) {
	snap, err := m.Snapshot(cats)
	if err != nil {
		return handlers.Outcome{}, err
	}
	actor, err := m.actor()
	if err != nil {
		return handlers.Outcome{}, err
	}

	switch m.Type {
	case TypeBlockBreak:
		if actor == nil || m.Block == nil {
			return handlers.Outcome{}, codeErr(ErrBadRequest, "%s needs actor and block", m.Type)
		}
		return h.BlockBreak(snap, handlers.BlockBreakEvent{
			World:     m.WorldID,
			Player:    *actor,
			Block:     m.Block.Block(),
			Cancelled: m.Cancelled,
		}), nil

	case TypeBlockBurn:
		if m.Block == nil {
			return handlers.Outcome{}, codeErr(ErrBadRequest, "%s needs block", m.Type)
		}
		return h.BlockBurn(snap, handlers.BlockBurnEvent{
			World:     m.WorldID,
			Block:     m.Block.Block(),
			Igniter:   actor,
			Cancelled: m.Cancelled,
		}), nil

	case TypeBlockExplode:
		blocks := make([]world.Block, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			blocks = append(blocks, b.Block())
		}
		return h.BlockExplode(snap, handlers.BlockExplodeEvent{
			World:      m.WorldID,
			Blocks:     blocks,
			Source:     actor,
			SourceName: m.CauseName,
			Cancelled:  m.Cancelled,
		}), nil

	case TypeBlockPlace:
		if actor == nil || m.Block == nil {
			return handlers.Outcome{}, codeErr(ErrBadRequest, "%s needs actor and block", m.Type)
		}
		replaced := world.BlockState{Material: "AIR"}
		if m.Replaced != nil {
			replaced = *m.Replaced
		}
		return h.BlockPlace(snap, handlers.BlockPlaceEvent{
			World:     m.WorldID,
			Player:    *actor,
			Placed:    m.Block.Block(),
			Replaced:  replaced,
			Cancelled: m.Cancelled,
		}), nil

	case TypeHangingBreak:
		if m.Entity == nil {
			return handlers.Outcome{}, codeErr(ErrBadRequest, "%s needs entity", m.Type)
		}
		e, err := m.Entity.Entity()
		if err != nil {
			return handlers.Outcome{}, err
		}
		return h.HangingBreak(snap, handlers.HangingBreakEvent{
			World:     m.WorldID,
			Entity:    e,
			Remover:   actor,
			CauseName: m.CauseName,
			Cancelled: m.Cancelled,
		}), nil
	}
	return handlers.Outcome{}, codeErr(ErrBadRequest, "unexpected message type %q", m.Type)
}

func NewAck(eventID string, out handlers.Outcome) AckMsg {
	ids := make([]string, 0, len(out.Activities))
	for _, a := range out.Activities {
		ids = append(ids, a.ID.String())
	}
	return AckMsg{
		Type:            TypeAck,
		ProtocolVersion: Version,
		AckFor:          eventID,
		State:           out.State.String(),
		Activities:      ids,
		Rejected:        out.Rejected,
	}
}

func NewError(eventID string, err error) ErrorMsg {
	return ErrorMsg{
		Type:            TypeError,
		ProtocolVersion: Version,
		AckFor:          eventID,
		Code:            CodeOf(err),
		Message:         err.Error(),
	}
}
