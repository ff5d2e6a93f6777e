package dataset

import (
	"fmt"
	"math"
	"math/rand"
)

// Split strategies.
const (
	// SplitRandom shuffles windows before partitioning. Overlapping windows
	// can then land in different partitions.
	SplitRandom = "random"
	// SplitChronological keeps time order (train, then validation, then test)
	// and leaves Gap windows out between partitions so no raw row is shared.
	SplitChronological = "chronological"
)

// SplitConfig controls how windows are partitioned.
type SplitConfig struct {
	TestFraction float64 `json:"test_fraction"`
	ValFraction  float64 `json:"val_fraction"`
	Seed         int64   `json:"seed"`
	Strategy     string  `json:"strategy"`
	// Gap is the number of windows skipped between chronological partitions,
	// normally the sequence length.
	Gap int `json:"gap"`
}

// SetDefaults fills the 70/10/20 random split.
func (c *SplitConfig) SetDefaults() {
	if c.TestFraction == 0 {
		c.TestFraction = 0.2
	}
	if c.ValFraction == 0 {
		c.ValFraction = 0.1
	}
	if c.Strategy == "" {
		c.Strategy = SplitRandom
	}
}

// Validate checks fractions and strategy.
func (c SplitConfig) Validate() error {
	if c.TestFraction <= 0 || c.ValFraction <= 0 || c.TestFraction+c.ValFraction >= 1 {
		return fmt.Errorf("invalid split fractions test=%g val=%g", c.TestFraction, c.ValFraction)
	}
	if c.Gap < 0 {
		return fmt.Errorf("gap must not be negative")
	}
	switch c.Strategy {
	case SplitRandom, SplitChronological:
		return nil
	default:
		return fmt.Errorf("unknown split strategy %q", c.Strategy)
	}
}

// Partitions holds the three disjoint window sets.
type Partitions struct {
	Train []Window
	Val   []Window
	Test  []Window
}

// Split partitions windows. The test share is ceil(TestFraction·n) and the
// validation share is ceil(ValFraction/(1-TestFraction)·rest). The random
// strategy is deterministic for a given seed.
func Split(windows []Window, cfg SplitConfig) (Partitions, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Partitions{}, err
	}
	n := len(windows)
	gap := 0
	if cfg.Strategy == SplitChronological {
		gap = cfg.Gap
	}
	usable := n - 2*gap
	nTest := ceilShare(cfg.TestFraction, usable)
	nVal := ceilShare(cfg.ValFraction/(1-cfg.TestFraction), usable-nTest)
	nTrain := usable - nTest - nVal
	if usable <= 0 || nTrain <= 0 || nVal <= 0 {
		return Partitions{}, formatErr(InsufficientRows, "", "%d windows cannot be split into train/val/test", n)
	}

	if cfg.Strategy == SplitChronological {
		return Partitions{
			Train: windows[:nTrain],
			Val:   windows[nTrain+gap : nTrain+gap+nVal],
			Test:  windows[nTrain+2*gap+nVal:],
		}, nil
	}

	perm := rand.New(rand.NewSource(cfg.Seed)).Perm(n)
	pick := func(idx []int) []Window {
		out := make([]Window, len(idx))
		for i, k := range idx {
			out[i] = windows[k]
		}
		return out
	}
	return Partitions{
		Test:  pick(perm[:nTest]),
		Val:   pick(perm[nTest : nTest+nVal]),
		Train: pick(perm[nTest+nVal:]),
	}, nil
}

func ceilShare(frac float64, n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Ceil(frac*float64(n) - 1e-9))
}
