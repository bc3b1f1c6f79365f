package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// AirID is the designated empty block. It always holds palette id 0.
const AirID = "AIR"

type Catalogs struct {
	Blocks BlockCatalog
	Items  ItemCatalog
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID        string `json:"id"`
	Solid     bool   `json:"solid"`
	Breakable bool   `json:"breakable"`
	DropsItem string `json:"drops_item,omitempty"`

	// States maps attribute name to its legal values. Defaults holds the value
	// a freshly placed block carries for each attribute.
	States   map[string][]string `json:"states,omitempty"`
	Defaults map[string]string   `json:"defaults,omitempty"`

	// Container blocks carry a payload document (stored contents, labels).
	Container bool `json:"container,omitempty"`
}

type ItemCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]ItemDef
	PaletteDigest string
	DefsDigest    string
}

type ItemDef struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // "BLOCK","TOOL","MATERIAL","TOKEN","MECH"
	PlaceAs  string `json:"place_as,omitempty"`
	MaxStack int    `json:"max_stack,omitempty"`
}

func (d BlockDef) HasState(attr string) bool {
	_, ok := d.States[attr]
	return ok
}

// Legal reports whether v is in the domain of attr.
func (d BlockDef) Legal(attr, v string) bool {
	for _, x := range d.States[attr] {
		if x == v {
			return true
		}
	}
	return false
}

// DefaultState returns a fresh copy of the block's default attribute values.
func (d BlockDef) DefaultState() map[string]string {
	out := make(map[string]string, len(d.States))
	for attr := range d.States {
		out[attr] = d.Defaults[attr]
	}
	return out
}

// StateNames returns the block's attribute names in sorted order.
func (d BlockDef) StateNames() []string {
	out := make([]string, 0, len(d.States))
	for k := range d.States {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c BlockCatalog) Def(id string) (BlockDef, bool) {
	d, ok := c.Defs[id]
	return d, ok
}

// ItemForBlock names the item a block is itemized as: its drop, an item that
// places it, or the block id itself.
func (c *Catalogs) ItemForBlock(block string) string {
	if d, ok := c.Blocks.Defs[block]; ok && d.DropsItem != "" {
		return d.DropsItem
	}
	for _, id := range c.Items.Palette {
		if c.Items.Defs[id].PlaceAs == block {
			return id
		}
	}
	return block
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	cat, err := NewBlockCatalog(defs)
	if err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	cat.DefsDigest = sha256Hex(raw)
	*out = cat
	return nil
}

// NewBlockCatalog validates block definitions and assigns palette ids. AIR is
// added when missing.
func NewBlockCatalog(defs []BlockDef) (BlockCatalog, error) {
	out := BlockCatalog{Defs: map[string]BlockDef{}}
	for _, d := range defs {
		if d.ID == "" {
			return out, fmt.Errorf("empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return out, fmt.Errorf("duplicate block %s", d.ID)
		}
		defaults := make(map[string]string, len(d.Defaults))
		for k, v := range d.Defaults {
			defaults[k] = v
		}
		d.Defaults = defaults
		for attr, values := range d.States {
			if len(values) == 0 {
				return out, fmt.Errorf("block %s: state %s has no values", d.ID, attr)
			}
			def, ok := d.Defaults[attr]
			if !ok {
				d.Defaults[attr] = values[0]
				continue
			}
			if !d.Legal(attr, def) {
				return out, fmt.Errorf("block %s: default %s=%s not in domain", d.ID, attr, def)
			}
		}
		for attr := range d.Defaults {
			if !d.HasState(attr) {
				return out, fmt.Errorf("block %s: default for undeclared state %s", d.ID, attr)
			}
		}
		out.Defs[d.ID] = d
	}
	if _, ok := out.Defs[AirID]; !ok {
		out.Defs[AirID] = BlockDef{ID: AirID, Defaults: map[string]string{}}
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		if id != AirID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append([]string{AirID}, ids...)
	if len(ids) > 0xFFFF {
		return out, fmt.Errorf("too many blocks: %d", len(ids))
	}

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return out, nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		if d.MaxStack <= 0 {
			d.MaxStack = 64
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}
