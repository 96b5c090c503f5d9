// Package dataset loads point-cloud training data from a category-indexed
// sqlite archive or a gob-encoded per-object set, normalizes scale, position
// and pose, and serves per-sample training tuples.
package dataset

import (
	"fmt"
	"sort"
)

// CategoryTable is an immutable bidirectional mapping between synset IDs and
// category names. It is built once at startup and passed explicitly to the
// dataset; there is no ambient global table.
type CategoryTable struct {
	bySynset map[string]string
	byName   map[string]string
	synsets  []string
}

// NewCategoryTable builds a table from synsetID -> name pairs.
func NewCategoryTable(pairs map[string]string) (*CategoryTable, error) {
	t := &CategoryTable{
		bySynset: make(map[string]string, len(pairs)),
		byName:   make(map[string]string, len(pairs)),
	}
	for id, name := range pairs {
		if id == "" || name == "" {
			return nil, fmt.Errorf("category table: empty synset id or name (%q -> %q)", id, name)
		}
		if prev, ok := t.byName[name]; ok {
			return nil, fmt.Errorf("category table: name %q maps to both %s and %s", name, prev, id)
		}
		t.bySynset[id] = name
		t.byName[name] = id
		t.synsets = append(t.synsets, id)
	}
	sort.Strings(t.synsets)
	return t, nil
}

// Name resolves a synset ID to its category name.
func (t *CategoryTable) Name(synsetID string) (string, bool) {
	name, ok := t.bySynset[synsetID]
	return name, ok
}

// SynsetID resolves a category name to its synset ID.
func (t *CategoryTable) SynsetID(name string) (string, bool) {
	id, ok := t.byName[name]
	return id, ok
}

// SynsetIDs returns all synset IDs in sorted order.
func (t *CategoryTable) SynsetIDs() []string {
	out := make([]string, len(t.synsets))
	copy(out, t.synsets)
	return out
}

// Len returns the number of categories.
func (t *CategoryTable) Len() int { return len(t.synsets) }

// ShapeNetCategories returns the standard ShapeNet synset table.
func ShapeNetCategories() *CategoryTable {
	t, err := NewCategoryTable(map[string]string{
		"02691156": "airplane", "02773838": "bag", "02801938": "basket",
		"02808440": "bathtub", "02818832": "bed", "02828884": "bench",
		"02876657": "bottle", "02880940": "bowl", "02924116": "bus",
		"02933112": "cabinet", "02747177": "can", "02942699": "camera",
		"02954340": "cap", "02958343": "car", "03001627": "chair",
		"03046257": "clock", "03207941": "dishwasher", "03211117": "monitor",
		"04379243": "table", "04401088": "telephone", "02946921": "tin_can",
		"04460130": "tower", "04468005": "train", "03085013": "keyboard",
		"03261776": "earphone", "03325088": "faucet", "03337140": "file",
		"03467517": "guitar", "03513137": "helmet", "03593526": "jar",
		"03624134": "knife", "03636649": "lamp", "03642806": "laptop",
		"03691459": "speaker", "03710193": "mailbox", "03759954": "microphone",
		"03761084": "microwave", "03790512": "motorcycle", "03797390": "mug",
		"03928116": "piano", "03938244": "pillow", "03948459": "pistol",
		"03991062": "pot", "04004475": "printer", "04074963": "remote_control",
		"04090263": "rifle", "04099429": "rocket", "04225987": "skateboard",
		"04256520": "sofa", "04330267": "stove", "04530566": "vessel",
		"04554684": "washer", "02992529": "cellphone",
		"02843684": "birdhouse", "02871439": "bookshelf",
	})
	if err != nil {
		panic(err) // static table, cannot fail
	}
	return t
}
