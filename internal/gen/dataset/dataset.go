package dataset

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// ScaleMode selects how each cloud is normalized in scale and position.
type ScaleMode string

const (
	// ScaleNone leaves clouds untouched.
	ScaleNone ScaleMode = "none"
	// ScaleGlobalUnit centers each cloud and divides by the dataset-wide std.
	ScaleGlobalUnit ScaleMode = "global_unit"
	// ScaleShapeUnit centers each cloud and divides by its own std.
	ScaleShapeUnit ScaleMode = "shape_unit"
	// ScaleShapeHalf is ScaleShapeUnit with twice the resulting spread.
	ScaleShapeHalf ScaleMode = "shape_half"
	// ScaleShape34 is ScaleShapeUnit scaled to three quarters.
	ScaleShape34 ScaleMode = "shape_34"
	// ScaleShapeBBox centers on the bounding box and divides by its half-extent.
	ScaleShapeBBox ScaleMode = "shape_bbox"
)

// ParseScaleMode validates a scale-mode string.
func ParseScaleMode(s string) (ScaleMode, error) {
	switch ScaleMode(s) {
	case ScaleNone, ScaleGlobalUnit, ScaleShapeUnit, ScaleShapeHalf, ScaleShape34, ScaleShapeBBox:
		return ScaleMode(s), nil
	}
	return "", fmt.Errorf("dataset: unknown scale mode %q", s)
}

// shuffleSeed fixes the deterministic dataset shuffle.
const shuffleSeed = 2020

// Stats are dataset-wide point statistics used by ScaleGlobalUnit.
type Stats struct {
	Mean [3]float64 `json:"mean"`
	Std  float64    `json:"std"`
}

// Sample is one training tuple: a normalized cloud with its pose scaled
// into [-1, 1], plus the shift/scale needed to undo the normalization.
type Sample struct {
	Points    []Point
	ViewAngle float64 // normalized to [-1, 1]
	Yaw       float64 // normalized to [-1, 1]
	Category  string
	ObjIndex  int
	Shift     [3]float64
	Scale     float64
}

// Options configures dataset construction. All validation happens up front;
// an invalid split, scale mode or category never survives to iteration.
type Options struct {
	Categories []string // category names, or ["all"]
	Split      string   // train, val or test
	ScaleMode  ScaleMode
	Table      *CategoryTable
}

func (o *Options) validate() error {
	switch o.Split {
	case "train", "val", "test":
	default:
		return fmt.Errorf("dataset: invalid split %q", o.Split)
	}
	if _, err := ParseScaleMode(string(o.ScaleMode)); err != nil {
		return err
	}
	if len(o.Categories) == 0 {
		return fmt.Errorf("dataset: no categories selected")
	}
	if o.Table == nil {
		return fmt.Errorf("dataset: nil category table")
	}
	return nil
}

// resolveSynsets maps category names to sorted synset IDs, expanding "all".
func (o *Options) resolveSynsets() ([]string, error) {
	for _, c := range o.Categories {
		if c == "all" {
			return o.Table.SynsetIDs(), nil
		}
	}
	ids := make([]string, 0, len(o.Categories))
	for _, c := range o.Categories {
		id, ok := o.Table.SynsetID(c)
		if !ok {
			return nil, fmt.Errorf("dataset: unknown category %q", c)
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Dataset serves normalized training tuples in a deterministic order.
type Dataset struct {
	samples []Sample
	stats   Stats
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.samples) }

// Sample returns the i-th tuple. Points are shared with the dataset; the
// caller must not mutate them.
func (d *Dataset) Sample(i int) Sample { return d.samples[i] }

// Stats returns the dataset-wide statistics.
func (d *Dataset) Stats() Stats { return d.stats }

// OpenArchiveDataset loads one split of an archive, computing (and caching)
// the global statistics across all splits of the selected categories.
func OpenArchiveDataset(archivePath string, opts Options) (*Dataset, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	synsets, err := opts.resolveSynsets()
	if err != nil {
		return nil, err
	}

	a, err := OpenArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	stats, err := archiveStats(a, synsets, opts.Table)
	if err != nil {
		return nil, err
	}

	d := &Dataset{stats: stats}
	for _, id := range synsets {
		name, _ := opts.Table.Name(id)
		clouds, err := a.Clouds(id, opts.Split)
		if err != nil {
			return nil, err
		}
		for _, c := range clouds {
			d.samples = append(d.samples, normalize(c.Points, opts.ScaleMode, stats, Sample{
				ViewAngle: normalizeAngle(c.ViewAngle),
				Yaw:       normalizeAngle(c.Yaw),
				Category:  name,
				ObjIndex:  c.ObjIndex,
			}))
		}
	}
	d.shuffle()
	log.Printf("loaded %d %s samples from %s (%d categories)", d.Len(), opts.Split, archivePath, len(synsets))
	return d, nil
}

// FromObjectSet builds a dataset from a per-object set. Category names in
// the set that are missing from the table are a construction error.
func FromObjectSet(set *ObjectSet, opts Options) (*Dataset, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	names, err := objectCategories(set, opts)
	if err != nil {
		return nil, err
	}

	stats := objectStats(set, names)
	d := &Dataset{stats: stats}
	for _, name := range names {
		for i, obj := range set.Objects[name][opts.Split] {
			d.samples = append(d.samples, normalize(obj.Points, opts.ScaleMode, stats, Sample{
				ViewAngle: normalizeAngle(obj.ViewAngle),
				Yaw:       normalizeAngle(obj.Yaw),
				Category:  name,
				ObjIndex:  i,
			}))
		}
	}
	d.shuffle()
	return d, nil
}

func objectCategories(set *ObjectSet, opts Options) ([]string, error) {
	var names []string
	if len(opts.Categories) == 1 && opts.Categories[0] == "all" {
		for name := range set.Objects {
			names = append(names, name)
		}
	} else {
		for _, name := range opts.Categories {
			if _, ok := set.Objects[name]; !ok {
				return nil, fmt.Errorf("dataset: category %q not present in object set", name)
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// shuffle orders samples deterministically: sort by object index, then a
// fixed-seed shuffle so splits interleave categories the same way on every
// run.
func (d *Dataset) shuffle() {
	sort.SliceStable(d.samples, func(i, j int) bool {
		return d.samples[i].ObjIndex < d.samples[j].ObjIndex
	})
	rand.New(rand.NewSource(shuffleSeed)).Shuffle(len(d.samples), func(i, j int) {
		d.samples[i], d.samples[j] = d.samples[j], d.samples[i]
	})
}

// normalizeAngle maps radians in [-pi, pi] to [-1, 1], clamping round-off.
func normalizeAngle(rad float64) float64 {
	v := rad / math.Pi
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return v
}

// normalize applies the scale mode to points, filling the sample's cloud,
// shift and scale.
func normalize(points []Point, mode ScaleMode, stats Stats, s Sample) Sample {
	var shift [3]float64
	scale := 1.0

	switch mode {
	case ScaleNone:
	case ScaleGlobalUnit:
		shift = centroid(points)
		scale = stats.Std
	case ScaleShapeUnit:
		shift = centroid(points)
		scale = flatStd(points)
	case ScaleShapeHalf:
		shift = centroid(points)
		scale = flatStd(points) / 0.5
	case ScaleShape34:
		shift = centroid(points)
		scale = flatStd(points) / 0.75
	case ScaleShapeBBox:
		lo, hi := bounds(points)
		maxExtent := 0.0
		for i := 0; i < 3; i++ {
			shift[i] = (lo[i] + hi[i]) / 2
			if e := hi[i] - lo[i]; e > maxExtent {
				maxExtent = e
			}
		}
		scale = maxExtent / 2
	}
	if scale == 0 {
		scale = 1
	}

	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{
			X: (p.X - shift[0]) / scale,
			Y: (p.Y - shift[1]) / scale,
			Z: (p.Z - shift[2]) / scale,
		}
	}
	s.Points = out
	s.Shift = shift
	s.Scale = scale
	return s
}

func centroid(points []Point) [3]float64 {
	var c [3]float64
	for _, p := range points {
		c[0] += p.X
		c[1] += p.Y
		c[2] += p.Z
	}
	n := float64(len(points))
	c[0] /= n
	c[1] /= n
	c[2] /= n
	return c
}

func bounds(points []Point) (lo, hi [3]float64) {
	lo = [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi = [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, p := range points {
		for i, v := range []float64{p.X, p.Y, p.Z} {
			if v < lo[i] {
				lo[i] = v
			}
			if v > hi[i] {
				hi[i] = v
			}
		}
	}
	return lo, hi
}

// flatStd is the standard deviation of all coordinate values of one cloud.
func flatStd(points []Point) float64 {
	flat := make([]float64, 0, len(points)*3)
	for _, p := range points {
		flat = append(flat, p.X, p.Y, p.Z)
	}
	return stat.StdDev(flat, nil)
}

// archiveStats computes or loads the cached dataset-wide statistics for the
// selected synsets across all splits.
func archiveStats(a *Archive, synsets []string, table *CategoryTable) (Stats, error) {
	cachePath := statsCachePath(a.Path(), synsets, table)
	if cached, err := loadStatsCache(cachePath); err == nil {
		return cached, nil
	}

	var flat []float64
	var sum [3]float64
	n := 0
	err := a.AllPoints(synsets, func(p Point) {
		sum[0] += p.X
		sum[1] += p.Y
		sum[2] += p.Z
		flat = append(flat, p.X, p.Y, p.Z)
		n++
	})
	if err != nil {
		return Stats{}, err
	}
	if n == 0 {
		return Stats{}, fmt.Errorf("dataset: archive has no points for synsets %v", synsets)
	}

	s := Stats{
		Mean: [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)},
		Std:  stat.StdDev(flat, nil),
	}
	if err := saveStatsCache(cachePath, s); err != nil {
		log.Printf("stats cache write failed (continuing): %v", err)
	}
	return s, nil
}

// objectStats computes global statistics over all splits of an object set.
func objectStats(set *ObjectSet, names []string) Stats {
	var flat []float64
	var sum [3]float64
	n := 0
	for _, name := range names {
		for _, objs := range set.Objects[name] {
			for _, obj := range objs {
				for _, p := range obj.Points {
					sum[0] += p.X
					sum[1] += p.Y
					sum[2] += p.Z
					flat = append(flat, p.X, p.Y, p.Z)
					n++
				}
			}
		}
	}
	if n == 0 {
		return Stats{Std: 1}
	}
	return Stats{
		Mean: [3]float64{sum[0] / float64(n), sum[1] / float64(n), sum[2] / float64(n)},
		Std:  stat.StdDev(flat, nil),
	}
}

func statsCachePath(archivePath string, synsets []string, table *CategoryTable) string {
	base := filepath.Base(archivePath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	dir := filepath.Join(filepath.Dir(archivePath), base+"_stats")
	name := "stats_all.json"
	if len(synsets) != table.Len() {
		name = "stats_" + strings.Join(synsets, "_") + ".json"
	}
	return filepath.Join(dir, name)
}

func loadStatsCache(path string) (Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return Stats{}, err
	}
	if s.Std <= 0 {
		return Stats{}, fmt.Errorf("stats cache %s has non-positive std", path)
	}
	return s, nil
}

func saveStatsCache(path string, s Stats) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
