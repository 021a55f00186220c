package scene

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
)

// Manager indexes every scene under a dataset root.
type Manager struct {
	Root   string
	scenes []string
}

// OpenManager scans root for scene directories (any directory holding a
// config.json) and indexes them in lexical order.
func OpenManager(root string) (*Manager, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("open dataset root: %w", err)
	}
	m := &Manager{Root: root}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), "config.json")); err != nil {
			continue
		}
		m.scenes = append(m.scenes, e.Name())
	}
	if len(m.scenes) == 0 {
		return nil, fmt.Errorf("no scenes under %s", root)
	}
	sort.Strings(m.scenes)
	return m, nil
}

// Len returns the number of indexed scenes.
func (m *Manager) Len() int { return len(m.scenes) }

// Scenes returns the scene names in index order.
func (m *Manager) Scenes() []string {
	out := make([]string, len(m.scenes))
	copy(out, m.scenes)
	return out
}

// SceneByIndex opens the i-th scene.
func (m *Manager) SceneByIndex(i int) (*Dataset, error) {
	if i < 0 || i >= len(m.scenes) {
		return nil, fmt.Errorf("scene index %d out of range [0,%d)", i, len(m.scenes))
	}
	return Open(m.Root, m.scenes[i])
}

// SceneByName opens a scene by directory name.
func (m *Manager) SceneByName(name string) (*Dataset, error) {
	for _, s := range m.scenes {
		if s == name {
			return Open(m.Root, s)
		}
	}
	return nil, fmt.Errorf("no scene %q under %s", name, m.Root)
}

// SplitFractions sets the share of scenes assigned to each split.
type SplitFractions struct {
	Train float64
	Val   float64
	Test  float64
}

// Splits is a deterministic train/val/test partition of scene names.
type Splits struct {
	Train []string
	Val   []string
	Test  []string
}

// MakeSplits partitions the scenes deterministically for a seed. The
// first scene always lands in train and the second in val so that no
// seed produces an empty working split; the rest are drawn against the
// cumulative fractions. Fractions must sum to 1.
func (m *Manager) MakeSplits(seed int64, frac SplitFractions) (*Splits, error) {
	sum := frac.Train + frac.Val + frac.Test
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("split fractions sum to %g, want 1", sum)
	}
	rng := rand.New(rand.NewSource(seed))
	out := &Splits{}
	for i, name := range m.scenes {
		switch {
		case i == 0:
			out.Train = append(out.Train, name)
		case i == 1:
			out.Val = append(out.Val, name)
		default:
			switch r := rng.Float64(); {
			case r < frac.Train:
				out.Train = append(out.Train, name)
			case r < frac.Train+frac.Val:
				out.Val = append(out.Val, name)
			default:
				out.Test = append(out.Test, name)
			}
		}
	}
	return out, nil
}
