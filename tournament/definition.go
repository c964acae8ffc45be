package tournament

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v2"
)

//go:embed worldcup2026.yaml
var defaultDefinition []byte

var (
	ErrInvalidSlot       = errors.New("invalid slot notation")
	ErrInvalidDefinition = errors.New("invalid tournament definition")
)

// Round tags a knockout match.
type Round string

const (
	RoundOf32     Round = "R32"
	RoundOf16     Round = "R16"
	QuarterFinal  Round = "QF"
	SemiFinal     Round = "SF"
	Final         Round = "F"
	roundsTracked       = 5
)

// Rounds lists the knockout rounds in playing order.
var Rounds = [roundsTracked]Round{RoundOf32, RoundOf16, QuarterFinal, SemiFinal, Final}

// Index returns the position of r in Rounds, or -1.
func (r Round) Index() int {
	for i, x := range Rounds {
		if x == r {
			return i
		}
	}
	return -1
}

type GroupDef struct {
	Name  string   `yaml:"name" json:"name" validate:"required,len=1"`
	Slots []string `yaml:"slots" json:"slots" validate:"len=4,dive,required"`
}

// BracketDef is a three-team playoff: one seeded team waits in the final.
type BracketDef struct {
	Name        string    `yaml:"name" json:"name" validate:"required"`
	Placeholder string    `yaml:"placeholder" json:"placeholder" validate:"required"`
	Destination string    `yaml:"destination" json:"destination" validate:"required"`
	Seeded      string    `yaml:"seeded" json:"seeded" validate:"required"`
	Unseeded    [2]string `yaml:"unseeded" json:"unseeded" validate:"dive,required"`
}

// PathDef is a four-team playoff path.
type PathDef struct {
	Name        string    `yaml:"name" json:"name" validate:"required"`
	Placeholder string    `yaml:"placeholder" json:"placeholder" validate:"required"`
	Destination string    `yaml:"destination" json:"destination" validate:"required"`
	Teams       [4]string `yaml:"teams" json:"teams" validate:"dive,required"`
}

// MatchDef is a knockout match. Round-of-32 matches name two group slots;
// every later match names the two matches whose winners meet.
type MatchDef struct {
	ID    int       `yaml:"id" json:"id" validate:"required"`
	Round Round     `yaml:"round" json:"round" validate:"oneof=R32 R16 QF SF F"`
	Slots [2]string `yaml:"slots,omitempty" json:"slots,omitempty"`
	From  [2]int    `yaml:"from,omitempty" json:"from,omitempty"`
}

type Definition struct {
	Name             string       `yaml:"name" json:"name"`
	Groups           []GroupDef   `yaml:"groups" json:"groups" validate:"required,dive"`
	Intercontinental []BracketDef `yaml:"intercontinental" json:"intercontinental" validate:"dive"`
	UEFA             []PathDef    `yaml:"uefa" json:"uefa" validate:"dive"`
	Knockout         []MatchDef   `yaml:"knockout" json:"knockout" validate:"required,dive"`

	// ThirdPlaceQualifiers is how many third placed teams reach the knockout
	// stage.
	ThirdPlaceQualifiers int `yaml:"thirdPlaceQualifiers" json:"thirdPlaceQualifiers" validate:"gte=0"`

	groupIndex map[string]int
	matchIndex map[int]int
}

// SlotKind separates the three Round-of-32 slot notations.
type SlotKind int

const (
	GroupWinner SlotKind = iota + 1
	GroupRunnerUp
	ThirdPlacePool
)

// Slot is a parsed Round-of-32 slot notation such as "1A", "2B" or "3ABCDF".
type Slot struct {
	Kind  SlotKind
	Group string // GroupWinner, GroupRunnerUp
	Pool  string // ThirdPlacePool
	Raw   string
}

// Position is 1 or 2 for group slots and 3 for pools.
func (s Slot) Position() int {
	return int(s.Kind)
}

// ParseSlot parses a slot notation. Group letters are upper case A-Z.
func ParseSlot(raw string) (Slot, error) {
	if len(raw) < 2 {
		return Slot{}, fmt.Errorf("%w: %q", ErrInvalidSlot, raw)
	}
	pos, err := strconv.Atoi(raw[:1])
	if err != nil {
		return Slot{}, fmt.Errorf("%w: %q: position must be 1, 2 or 3", ErrInvalidSlot, raw)
	}
	letters := raw[1:]
	for _, r := range letters {
		if r < 'A' || r > 'Z' {
			return Slot{}, fmt.Errorf("%w: %q: bad group letter %q", ErrInvalidSlot, raw, r)
		}
	}
	switch pos {
	case 1, 2:
		if len(letters) != 1 {
			return Slot{}, fmt.Errorf("%w: %q: position slot needs exactly one group", ErrInvalidSlot, raw)
		}
		return Slot{Kind: SlotKind(pos), Group: letters, Raw: raw}, nil
	case 3:
		return Slot{Kind: ThirdPlacePool, Pool: letters, Raw: raw}, nil
	default:
		return Slot{}, fmt.Errorf("%w: %q: position must be 1, 2 or 3", ErrInvalidSlot, raw)
	}
}

// Default returns the embedded 2026 definition.
func Default() (*Definition, error) {
	return Parse(defaultDefinition, ".yaml")
}

// Load reads a definition from a .yaml, .yml or .json file.
func Load(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tournament definition: %w", err)
	}
	return Parse(raw, filepath.Ext(path))
}

// Parse decodes and validates a definition. ext selects the decoder.
func Parse(raw []byte, ext string) (*Definition, error) {
	var d Definition
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("bad JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("bad YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", ext)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the structure and builds the lookup indexes. A
// definition must be validated before use.
func (d *Definition) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	d.groupIndex = make(map[string]int, len(d.Groups))
	seenTeam := make(map[string]string)
	for i, g := range d.Groups {
		if _, dup := d.groupIndex[g.Name]; dup {
			return fmt.Errorf("%w: duplicate group %s", ErrInvalidDefinition, g.Name)
		}
		d.groupIndex[g.Name] = i
		for _, code := range g.Slots {
			if other, dup := seenTeam[code]; dup {
				return fmt.Errorf("%w: %s appears in groups %s and %s", ErrInvalidDefinition, code, other, g.Name)
			}
			seenTeam[code] = g.Name
		}
	}
	if d.ThirdPlaceQualifiers > len(d.Groups) {
		return fmt.Errorf("%w: %d third place qualifiers from %d groups", ErrInvalidDefinition, d.ThirdPlaceQualifiers, len(d.Groups))
	}

	placeholders := make(map[string]bool)
	for _, b := range d.Intercontinental {
		if err := d.checkPlayoff(b.Name, b.Placeholder, b.Destination, seenTeam, placeholders); err != nil {
			return err
		}
	}
	for _, p := range d.UEFA {
		if err := d.checkPlayoff(p.Name, p.Placeholder, p.Destination, seenTeam, placeholders); err != nil {
			return err
		}
	}

	d.matchIndex = make(map[int]int, len(d.Knockout))
	finals := 0
	for i, m := range d.Knockout {
		if _, dup := d.matchIndex[m.ID]; dup {
			return fmt.Errorf("%w: duplicate match %d", ErrInvalidDefinition, m.ID)
		}
		if m.Round == Final {
			finals++
		}
		if m.Round == RoundOf32 {
			for _, raw := range m.Slots {
				slot, err := ParseSlot(raw)
				if err != nil {
					return fmt.Errorf("match %d: %w", m.ID, err)
				}
				if err := d.checkSlotGroups(slot); err != nil {
					return fmt.Errorf("match %d: %w", m.ID, err)
				}
			}
		} else {
			// Predecessors must be defined earlier, which keeps Knockout in
			// topological order.
			for _, from := range m.From {
				j, ok := d.matchIndex[from]
				if !ok {
					return fmt.Errorf("%w: match %d depends on unknown or later match %d", ErrInvalidDefinition, m.ID, from)
				}
				if d.Knockout[j].Round.Index() != m.Round.Index()-1 {
					return fmt.Errorf("%w: match %d (%s) fed by match %d (%s)", ErrInvalidDefinition, m.ID, m.Round, from, d.Knockout[j].Round)
				}
			}
			if m.From[0] == m.From[1] {
				return fmt.Errorf("%w: match %d is fed twice by match %d", ErrInvalidDefinition, m.ID, m.From[0])
			}
		}
		d.matchIndex[m.ID] = i
	}
	if finals != 1 {
		return fmt.Errorf("%w: need exactly one final, found %d", ErrInvalidDefinition, finals)
	}
	return nil
}

func (d *Definition) checkPlayoff(name, placeholder, dest string, seen map[string]string, placeholders map[string]bool) error {
	g, ok := seen[placeholder]
	if !ok {
		return fmt.Errorf("%w: playoff %s placeholder %s is not in any group", ErrInvalidDefinition, name, placeholder)
	}
	if g != dest {
		return fmt.Errorf("%w: playoff %s feeds group %s but its placeholder sits in group %s", ErrInvalidDefinition, name, dest, g)
	}
	if placeholders[placeholder] {
		return fmt.Errorf("%w: placeholder %s used by two playoffs", ErrInvalidDefinition, placeholder)
	}
	placeholders[placeholder] = true
	return nil
}

func (d *Definition) checkSlotGroups(s Slot) error {
	letters := s.Group + s.Pool
	for _, r := range letters {
		if _, ok := d.groupIndex[string(r)]; !ok {
			return fmt.Errorf("%w: %q names unknown group %c", ErrInvalidSlot, s.Raw, r)
		}
	}
	return nil
}

// GroupIndex returns the position of a group in Groups.
func (d *Definition) GroupIndex(name string) (int, bool) {
	i, ok := d.groupIndex[name]
	return i, ok
}

// MatchIndex returns the position of a match in Knockout.
func (d *Definition) MatchIndex(id int) (int, bool) {
	i, ok := d.matchIndex[id]
	return i, ok
}

// FinalID returns the id of the final.
func (d *Definition) FinalID() int {
	for _, m := range d.Knockout {
		if m.Round == Final {
			return m.ID
		}
	}
	return 0
}

// Placeholders maps every playoff placeholder code to its playoff name.
func (d *Definition) Placeholders() map[string]string {
	out := make(map[string]string, len(d.Intercontinental)+len(d.UEFA))
	for _, b := range d.Intercontinental {
		out[b.Placeholder] = b.Name
	}
	for _, p := range d.UEFA {
		out[p.Placeholder] = p.Name
	}
	return out
}
