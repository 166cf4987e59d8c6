package rank

import (
	"fmt"
	"strings"
)

// Tier is one of the seven ordered skill bands derived from MP.
type Tier string

const (
	Unranked  Tier = "unranked"
	Novice    Tier = "novice"
	Student   Tier = "student"
	Veteran   Tier = "veteran"
	Expert    Tier = "expert"
	Master    Tier = "master"
	Legendary Tier = "legendary"
)

type band struct {
	tier Tier
	min  int
}

// ladder is ordered top-down; FromMP returns the first band whose min fits.
var ladder = []band{
	{Legendary, 5500},
	{Master, 3000},
	{Expert, 1500},
	{Veteran, 600},
	{Student, 200},
	{Novice, 50},
	{Unranked, 0},
}

// All returns tiers from lowest to highest.
func All() []Tier {
	out := make([]Tier, 0, len(ladder))
	for i := len(ladder) - 1; i >= 0; i-- {
		out = append(out, ladder[i].tier)
	}
	return out
}

// FromMP maps an MP value to its tier. Negative MP is treated as unranked.
func FromMP(mp int) Tier {
	for _, b := range ladder {
		if mp >= b.min {
			return b.tier
		}
	}
	return Unranked
}

// Threshold returns the minimum MP of a tier. Unknown tiers map to 0.
func Threshold(t Tier) int {
	for _, b := range ladder {
		if b.tier == t {
			return b.min
		}
	}
	return 0
}

// Value is the ordinal of a tier, 0 for unranked up to 6 for legendary.
func Value(t Tier) int {
	for i, b := range ladder {
		if b.tier == t {
			return len(ladder) - 1 - i
		}
	}
	return 0
}

// Next returns the tier directly above t.
func Next(t Tier) (Tier, bool) {
	v := Value(t)
	for _, b := range ladder {
		if Value(b.tier) == v+1 {
			return b.tier, true
		}
	}
	return "", false
}

// Distance is the signed tier distance Value(a) - Value(b).
func Distance(a, b Tier) int { return Value(a) - Value(b) }

func Parse(s string) (Tier, error) {
	v := Tier(strings.ToLower(strings.TrimSpace(s)))
	for _, b := range ladder {
		if b.tier == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown rank tier %q", s)
}
