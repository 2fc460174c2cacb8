package protocol

import "voxelprism.ai/internal/world"

// HELLO (host -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	HostName        string     `json:"host_name"`
	WorldID         string     `json:"world_id"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> host)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	WorldID         string         `json:"world_id"`
	Actions         []string       `json:"actions"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type CatalogDigests struct {
	Blocks   DigestRef `json:"blocks"`
	Entities DigestRef `json:"entities"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// EventMsg is one host mutation. Which fields are set depends on Type; the
// region carries the cells and entities the server may need to inspect.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	EventID         string `json:"event_id"`
	WorldID         string `json:"world_id"`
	Cancelled       bool   `json:"cancelled,omitempty"`

	Actor     *ActorRef         `json:"actor,omitempty"`
	Block     *BlockRef         `json:"block,omitempty"`
	Blocks    []BlockRef        `json:"blocks,omitempty"`
	Replaced  *world.BlockState `json:"replaced,omitempty"`
	Entity    *EntityRef        `json:"entity,omitempty"`
	CauseName string            `json:"cause_name,omitempty"`

	Region Region `json:"region"`
}

type ActorRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"`
}

type BlockRef struct {
	Pos [3]int `json:"pos"`
	world.BlockState
}

type EntityRef struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Pos        [3]int  `json:"pos"`
	AttachedTo *[3]int `json:"attached_to,omitempty"`
}

type Region struct {
	Min      *[3]int     `json:"min,omitempty"`
	Max      *[3]int     `json:"max,omitempty"`
	Blocks   []BlockRef  `json:"blocks,omitempty"`
	Entities []EntityRef `json:"entities,omitempty"`
}

// ACK (server -> host)
type AckMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AckFor          string   `json:"ack_for"`
	State           string   `json:"state"`
	Activities      []string `json:"activities,omitempty"`
	Rejected        int      `json:"rejected,omitempty"`
}

// ERROR (server -> host)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
