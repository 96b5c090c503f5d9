package gen

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"
)

// ParamSet is an explicit, named container for a model's learnable matrices
// and non-learned buffers (normalization running statistics). It replaces an
// inheritance-style module tree: components register their tensors under
// dotted names and the optimizer and checkpoint code operate on the flat set.
type ParamSet struct {
	mats    map[string]*Mat
	buffers map[string][]float64
}

// NewParamSet returns an empty parameter set.
func NewParamSet() *ParamSet {
	return &ParamSet{
		mats:    make(map[string]*Mat),
		buffers: make(map[string][]float64),
	}
}

// Add registers a learnable matrix under name. Duplicate names panic: they
// indicate two components claiming the same parameter.
func (ps *ParamSet) Add(name string, m *Mat) {
	if _, ok := ps.mats[name]; ok {
		panic(fmt.Sprintf("gen: duplicate parameter %q", name))
	}
	ps.mats[name] = m
}

// AddBuffer registers a non-learned buffer (saved and loaded, never stepped
// by the optimizer).
func (ps *ParamSet) AddBuffer(name string, b []float64) {
	if _, ok := ps.buffers[name]; ok {
		panic(fmt.Sprintf("gen: duplicate buffer %q", name))
	}
	ps.buffers[name] = b
}

// Names returns the learnable parameter names in sorted order.
func (ps *ParamSet) Names() []string {
	names := make([]string, 0, len(ps.mats))
	for k := range ps.mats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Get returns the named learnable matrix, or nil.
func (ps *ParamSet) Get(name string) *Mat {
	return ps.mats[name]
}

// NumValues returns the total learnable scalar count.
func (ps *ParamSet) NumValues() int {
	n := 0
	for _, m := range ps.mats {
		n += len(m.W)
	}
	return n
}

// ZeroGrads clears every learnable gradient buffer.
func (ps *ParamSet) ZeroGrads() {
	for _, m := range ps.mats {
		m.ZeroGrad()
	}
}

// State exports all parameters and buffers as a flat name-to-values map.
// Values are copies; mutating the result does not touch the model.
func (ps *ParamSet) State() map[string][]float64 {
	state := make(map[string][]float64, len(ps.mats)+len(ps.buffers))
	for k, m := range ps.mats {
		v := make([]float64, len(m.W))
		copy(v, m.W)
		state[k] = v
	}
	for k, b := range ps.buffers {
		v := make([]float64, len(b))
		copy(v, b)
		state[k] = v
	}
	return state
}

// LoadPartial copies values from state into matching parameters and buffers.
// Entries whose names are unknown, and parameters missing from state, are
// silently left alone; a name match with a different length is skipped too.
// This lenient behaviour supports transfer and fine-tuning from checkpoints
// of related models. It returns the number of entries applied and ignored.
func (ps *ParamSet) LoadPartial(state map[string][]float64) (loaded, ignored int) {
	for name, values := range state {
		if m, ok := ps.mats[name]; ok && len(values) == len(m.W) {
			copy(m.W, values)
			loaded++
			continue
		}
		if b, ok := ps.buffers[name]; ok && len(values) == len(b) {
			copy(b, values)
			loaded++
			continue
		}
		ignored++
	}
	return loaded, ignored
}

// Checkpoint is the gob-encoded on-disk form of a model's parameters plus
// whatever driver metadata the trainer wants alongside (step counter,
// optimizer moments).
type Checkpoint struct {
	Config Config
	Step   int
	State  map[string][]float64
	Solver *SolverState
}

// SaveCheckpoint writes a checkpoint atomically (temp file + rename).
func SaveCheckpoint(path string, ck *Checkpoint) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(ck); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	var ck Checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &ck, nil
}
