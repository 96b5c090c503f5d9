package dataset

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Object is one annotated shape in a per-object set: its points plus the
// pose it was observed from.
type Object struct {
	Points    []Point
	ViewAngle float64 // radians
	Yaw       float64 // radians
}

// ObjectSet is the gob-encoded per-object dataset format: category ->
// split -> objects. It is the Go analogue of the pickled per-object files
// the archive format complements.
type ObjectSet struct {
	Objects map[string]map[string][]Object
}

// NewObjectSet returns an empty set.
func NewObjectSet() *ObjectSet {
	return &ObjectSet{Objects: make(map[string]map[string][]Object)}
}

// Add appends an object under category and split.
func (s *ObjectSet) Add(category, split string, obj Object) {
	if s.Objects[category] == nil {
		s.Objects[category] = make(map[string][]Object)
	}
	s.Objects[category][split] = append(s.Objects[category][split], obj)
}

// Save writes the set as gob.
func (s *ObjectSet) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create object set: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("encode object set: %w", err)
	}
	return nil
}

// LoadObjectSet reads a gob object set from disk.
func LoadObjectSet(path string) (*ObjectSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open object set: %w", err)
	}
	defer f.Close()
	var s ObjectSet
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode object set: %w", err)
	}
	return &s, nil
}
