// Package traits generates randomized synthetic-student personas.
package traits

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// ErrNoDistinctProfile is returned when a batch cannot be filled with
// mutually distinct profiles within the attempt budget.
var ErrNoDistinctProfile = errors.New("no distinct trait profile")

// Trait names one persona dimension.
type Trait string

// Level is an ordered trait intensity, 1 being the least polished.
type Level int

const (
	Correctness       Trait = "correctness"
	Conciseness       Trait = "conciseness"
	TypingPersonality Trait = "typingPersonality"
	Attention         Trait = "attention"
	Comprehension     Trait = "comprehension"
	Patience          Trait = "patience"
)

// All lists every trait in prompt order.
var All = []Trait{Correctness, Conciseness, TypingPersonality, Attention, Comprehension, Patience}

type levelSet struct {
	levels  []Level
	weights []float64
}

// Low levels are favored for correctness, typing and attention so that
// rough student voices come up more often than polished ones.
var levelSets = map[Trait]levelSet{
	Correctness:       {levels: []Level{1, 2, 3}, weights: []float64{0.5, 0.3, 0.2}},
	Conciseness:       {levels: []Level{1, 2, 3}},
	TypingPersonality: {levels: []Level{1, 2, 3}, weights: []float64{0.5, 0.3, 0.2}},
	Attention:         {levels: []Level{1, 2, 3}, weights: []float64{0.5, 0.3, 0.2}},
	Comprehension:     {levels: []Level{2, 3}},
	Patience:          {levels: []Level{1, 2, 3}},
}

// allowedLevels returns the levels a trait may take.
func allowedLevels(t Trait) []Level {
	return append([]Level(nil), levelSets[t].levels...)
}

// Profile is one persona. It is created per request and never mutated.
type Profile struct {
	Levels   map[Trait]Level `json:"levels"`
	Dominant Trait           `json:"dominantTrait"`
}

// Level returns the profile's level for t.
func (p Profile) Level(t Trait) Level {
	return p.Levels[t]
}

// Equivalent reports whether two profiles carry the same level on every
// trait. The dominant selector is not a trait value and is ignored.
func (p Profile) Equivalent(o Profile) bool {
	for _, t := range All {
		if p.Levels[t] != o.Levels[t] {
			return false
		}
	}
	return true
}

// Format renders the profile as prompt lines, one per trait.
func (p Profile) Format() string {
	var b strings.Builder
	for _, t := range All {
		lvl := p.Levels[t]
		set := levelSets[t].levels
		fmt.Fprintf(&b, "- %s (level %d of %d", t, lvl, set[len(set)-1])
		if t == p.Dominant {
			b.WriteString(", DOMINANT")
		}
		fmt.Fprintf(&b, "): %s\n", Describe(t, lvl))
	}
	return b.String()
}

// Generator draws profiles. It is safe for concurrent use.
type Generator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	maxAttempts int
}

// Option configures a Generator.
type Option func(*Generator)

// WithSource sets the random source, mainly for deterministic tests.
func WithSource(src rand.Source) Option {
	return func(g *Generator) {
		g.rng = rand.New(src)
	}
}

// WithMaxAttempts bounds regeneration per batch slot.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// NewGenerator creates a Generator.
func NewGenerator(opts ...Option) *Generator {
	seed := uint64(time.Now().UnixNano())
	g := &Generator{
		rng:         rand.New(rand.NewPCG(seed, seed>>7|1)),
		maxAttempts: 50,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns one profile.
func (g *Generator) Generate() Profile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generateLocked()
}

// Batch returns n profiles, no two of which are Equivalent.
func (g *Generator) Batch(n int) ([]Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Profile, 0, n)
	for len(out) < n {
		accepted := false
		for attempt := 0; attempt < g.maxAttempts; attempt++ {
			p := g.generateLocked()
			if !containsEquivalent(out, p) {
				out = append(out, p)
				accepted = true
				break
			}
		}
		if !accepted {
			return nil, fmt.Errorf("%w: slot %d after %d attempts", ErrNoDistinctProfile, len(out), g.maxAttempts)
		}
	}
	return out, nil
}

func (g *Generator) generateLocked() Profile {
	levels := make(map[Trait]Level, len(All))
	for _, t := range All {
		levels[t] = g.pick(levelSets[t])
	}
	return Profile{
		Levels:   levels,
		Dominant: All[g.rng.IntN(len(All))],
	}
}

func (g *Generator) pick(set levelSet) Level {
	if len(set.weights) == 0 {
		return set.levels[g.rng.IntN(len(set.levels))]
	}
	r := g.rng.Float64()
	acc := 0.0
	for i, w := range set.weights {
		acc += w
		if r < acc {
			return set.levels[i]
		}
	}
	return set.levels[len(set.levels)-1]
}

func containsEquivalent(profiles []Profile, p Profile) bool {
	for _, q := range profiles {
		if q.Equivalent(p) {
			return true
		}
	}
	return false
}
