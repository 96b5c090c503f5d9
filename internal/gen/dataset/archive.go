package dataset

import (
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"

	_ "modernc.org/sqlite"
)

// Point is one 3D point.
type Point struct {
	X float64
	Y float64
	Z float64
}

// pointBlobSize is the encoded size of one point: three little-endian
// float32 coordinates.
const pointBlobSize = 12

// EncodePointBlob packs points into a compact binary blob, float32 per
// coordinate.
func EncodePointBlob(points []Point) []byte {
	blob := make([]byte, len(points)*pointBlobSize)
	for i, p := range points {
		off := i * pointBlobSize
		binary.LittleEndian.PutUint32(blob[off:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(blob[off+4:], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(blob[off+8:], math.Float32bits(float32(p.Z)))
	}
	return blob
}

// DecodePointBlob unpacks a blob written by EncodePointBlob.
func DecodePointBlob(blob []byte) ([]Point, error) {
	if len(blob)%pointBlobSize != 0 {
		return nil, fmt.Errorf("point blob length %d not a multiple of %d", len(blob), pointBlobSize)
	}
	points := make([]Point, len(blob)/pointBlobSize)
	for i := range points {
		off := i * pointBlobSize
		points[i] = Point{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(blob[off:]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(blob[off+4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(blob[off+8:]))),
		}
	}
	return points, nil
}

//go:embed schema.sql
var schemaSQL string

// Archive is the category/split-indexed point-cloud store backed by sqlite.
type Archive struct {
	*sql.DB
	path string
}

// OpenArchive opens (creating if necessary) an archive at path and ensures
// its schema exists.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init archive schema: %w", err)
	}
	return &Archive{DB: db, path: path}, nil
}

// Path returns the archive file path.
func (a *Archive) Path() string { return a.path }

// RawCloud is one stored cloud with its pose annotation.
type RawCloud struct {
	SynsetID  string
	Split     string
	ObjIndex  int
	ViewAngle float64 // radians
	Yaw       float64 // radians
	Points    []Point
}

// InsertCloud stores one cloud.
func (a *Archive) InsertCloud(c RawCloud) error {
	_, err := a.Exec(
		`INSERT INTO clouds (synset_id, split, obj_index, num_points, view_angle, yaw, points)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.SynsetID, c.Split, c.ObjIndex, len(c.Points), c.ViewAngle, c.Yaw, EncodePointBlob(c.Points))
	if err != nil {
		return fmt.Errorf("insert cloud %s/%s/%d: %w", c.SynsetID, c.Split, c.ObjIndex, err)
	}
	return nil
}

// Clouds loads every cloud for one synset and split, ordered by object
// index.
func (a *Archive) Clouds(synsetID, split string) ([]RawCloud, error) {
	rows, err := a.Query(
		`SELECT synset_id, split, obj_index, view_angle, yaw, points
		 FROM clouds WHERE synset_id = ? AND split = ? ORDER BY obj_index`,
		synsetID, split)
	if err != nil {
		return nil, fmt.Errorf("query clouds %s/%s: %w", synsetID, split, err)
	}
	defer rows.Close()

	var out []RawCloud
	for rows.Next() {
		var c RawCloud
		var blob []byte
		if err := rows.Scan(&c.SynsetID, &c.Split, &c.ObjIndex, &c.ViewAngle, &c.Yaw, &blob); err != nil {
			return nil, err
		}
		if c.Points, err = DecodePointBlob(blob); err != nil {
			return nil, fmt.Errorf("cloud %s/%s/%d: %w", c.SynsetID, c.Split, c.ObjIndex, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// AllPoints streams every point of the selected synsets across all splits,
// used for dataset-wide statistics.
func (a *Archive) AllPoints(synsetIDs []string, visit func(Point)) error {
	for _, id := range synsetIDs {
		rows, err := a.Query(`SELECT points FROM clouds WHERE synset_id = ?`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var blob []byte
			if err := rows.Scan(&blob); err != nil {
				rows.Close()
				return err
			}
			pts, err := DecodePointBlob(blob)
			if err != nil {
				rows.Close()
				return err
			}
			for _, p := range pts {
				visit(p)
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}
	return nil
}
