// Command ingest converts a gob-encoded object set into the sqlite
// point-cloud archive the trainer reads.
package main

import (
	"flag"
	"log"

	"github.com/banshee-data/shapegen/internal/gen/dataset"
)

var (
	objectsPath = flag.String("objects", "", "Input object set (gob)")
	archivePath = flag.String("archive", "clouds.db", "Output archive path")
)

func main() {
	flag.Parse()
	if *objectsPath == "" {
		log.Fatal("-objects is required")
	}

	set, err := dataset.LoadObjectSet(*objectsPath)
	if err != nil {
		log.Fatal(err)
	}
	archive, err := dataset.OpenArchive(*archivePath)
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	table := dataset.ShapeNetCategories()
	inserted := 0
	for category, splits := range set.Objects {
		synsetID, ok := table.SynsetID(category)
		if !ok {
			log.Fatalf("unknown category %q in object set", category)
		}
		for split, objects := range splits {
			for i, obj := range objects {
				err := archive.InsertCloud(dataset.RawCloud{
					SynsetID:  synsetID,
					Split:     split,
					ObjIndex:  i,
					ViewAngle: obj.ViewAngle,
					Yaw:       obj.Yaw,
					Points:    obj.Points,
				})
				if err != nil {
					log.Fatal(err)
				}
				inserted++
			}
		}
	}
	log.Printf("ingested %d clouds from %s into %s", inserted, *objectsPath, *archivePath)
}
