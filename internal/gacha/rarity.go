package gacha

import (
	"fmt"
	"strings"
)

// Rarity is an ordered tier; higher values are rarer.
type Rarity int

const (
	Common Rarity = iota
	Rare
	Epic
	Legendary
	Mythic

	numRarities = int(Mythic) + 1
)

var rarityNames = [numRarities]string{"common", "rare", "epic", "legendary", "mythic"}

// Rarities lists every tier from commonest to rarest.
func Rarities() []Rarity {
	out := make([]Rarity, numRarities)
	for i := range out {
		out[i] = Rarity(i)
	}
	return out
}

// Top is the tier that soft pity ramps and hard pity guarantees.
func Top() Rarity { return Mythic }

func (r Rarity) Valid() bool { return r >= Common && r <= Mythic }

// IsTopTwo reports whether a pull of this tier resets pity and takes part in the 50/50.
func (r Rarity) IsTopTwo() bool { return r >= Legendary && r <= Mythic }

func (r Rarity) String() string {
	if !r.Valid() {
		return fmt.Sprintf("rarity(%d)", int(r))
	}
	return rarityNames[r]
}

// ParseRarity accepts the lower-case tier name, case-insensitively.
func ParseRarity(s string) (Rarity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range rarityNames {
		if n == s {
			return Rarity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown rarity %q", s)
}

func (r Rarity) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid rarity %d", int(r))
	}
	return []byte(r.String()), nil
}

func (r *Rarity) UnmarshalText(b []byte) error {
	v, err := ParseRarity(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
