package catalogs

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

//go:embed defaults/*.json
var defaultsFS embed.FS

// Attachment modes: which neighbour a block needs to stay in place.
const (
	AttachNone   = ""
	AttachBelow  = "below"
	AttachAbove  = "above"
	AttachFacing = "facing"
)

// Multi-cell structure kinds.
const (
	StructureNone     = ""
	StructureBisected = "bisected"
	StructureBed      = "bed"
)

type Catalogs struct {
	Blocks   BlockCatalog
	Entities EntityCatalog
}

type BlockCatalog struct {
	Palette []string
	Defs    map[string]BlockDef
	Digest  string
}

type BlockDef struct {
	ID        string `json:"id"`
	Solid     bool   `json:"solid"`
	Gravity   bool   `json:"gravity,omitempty"`
	Attach    string `json:"attach,omitempty"`
	Structure string `json:"structure,omitempty"`

	// Ignites marks fire sources; placing one claims the burns around it.
	Ignites bool `json:"ignites,omitempty"`
}

type EntityCatalog struct {
	Defs   map[string]EntityDef
	Digest string
}

type EntityDef struct {
	ID      string `json:"id"`
	Hanging bool   `json:"hanging,omitempty"`
}

// Default returns the catalogs compiled into the binary.
func Default() (*Catalogs, error) {
	return Load("")
}

// Load reads blocks.json and entities.json from configDir. Files missing from
// configDir (or an empty configDir) fall back to the embedded defaults.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	raw, err := readCatalogFile(configDir, "blocks.json")
	if err != nil {
		return nil, err
	}
	if err := parseBlocks(raw, &c.Blocks); err != nil {
		return nil, err
	}

	raw, err = readCatalogFile(configDir, "entities.json")
	if err != nil {
		return nil, err
	}
	if err := parseEntities(raw, &c.Entities); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalogs) Block(id string) (BlockDef, bool) {
	if c == nil {
		return BlockDef{}, false
	}
	d, ok := c.Blocks.Defs[id]
	return d, ok
}

func (c *Catalogs) IsHanging(kind string) bool {
	if c == nil {
		return false
	}
	return c.Entities.Defs[kind].Hanging
}

func readCatalogFile(configDir, name string) ([]byte, error) {
	if configDir != "" {
		b, err := os.ReadFile(filepath.Join(configDir, name))
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return defaultsFS.ReadFile("defaults/" + name)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func parseBlocks(raw []byte, out *BlockCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = make(map[string]BlockDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("blocks.json: empty id")
		}
		switch d.Attach {
		case AttachNone, AttachBelow, AttachAbove, AttachFacing:
		default:
			return fmt.Errorf("blocks.json: %s: bad attach %q", d.ID, d.Attach)
		}
		switch d.Structure {
		case StructureNone, StructureBisected, StructureBed:
		default:
			return fmt.Errorf("blocks.json: %s: bad structure %q", d.ID, d.Structure)
		}
		if d.Gravity && d.Attach != AttachNone {
			return fmt.Errorf("blocks.json: %s: gravity blocks cannot attach", d.ID)
		}
		out.Defs[d.ID] = d
	}
	if _, ok := out.Defs["AIR"]; !ok {
		return fmt.Errorf("blocks.json: missing AIR")
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	return nil
}

func parseEntities(raw []byte, out *EntityCatalog) error {
	out.Digest = sha256Hex(raw)

	var defs []EntityDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("entities.json: %w", err)
	}
	out.Defs = make(map[string]EntityDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("entities.json: empty id")
		}
		out.Defs[d.ID] = d
	}
	return nil
}
