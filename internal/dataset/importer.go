package dataset

import (
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/imageref"
	"UnShiney/server/internal/models"
)

// PairAdder receives the pairs formed by an import.
type PairAdder interface {
	Add(pair models.ImagePair) (models.ImagePair, error)
}

// PairFiles groups files into (original, clean) pairs.
//
// Exactly two files are one pair in input order. Any other count is sorted by
// name (byte-wise) and grouped consecutively; a trailing odd file is dropped.
func PairFiles(files []imageref.File) [][2]imageref.File {
	if len(files) == 2 {
		return [][2]imageref.File{{files[0], files[1]}}
	}

	sorted := make([]imageref.File, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	pairs := make([][2]imageref.File, 0, len(sorted)/2)
	for i := 0; i+1 < len(sorted); i += 2 {
		pairs = append(pairs, [2]imageref.File{sorted[i], sorted[i+1]})
	}
	return pairs
}

// Importer feeds bulk uploads into a dataset.
type Importer struct {
	dst  PairAdder
	read func(imageref.File) (string, error)
}

// NewImporter creates an importer that validates files with imageref.FromFile.
func NewImporter(dst PairAdder) *Importer {
	return &Importer{dst: dst, read: imageref.FromFile}
}

// ImportBatch pairs files and adds each pair in formation order. A pair with
// an unreadable file is skipped; the added pairs are returned together with
// every failure combined into one error.
func (im *Importer) ImportBatch(files []imageref.File) ([]models.ImagePair, error) {
	var (
		added  []models.ImagePair
		errAll error
	)
	for _, p := range PairFiles(files) {
		original, err := im.read(p[0])
		if err != nil {
			errAll = multierr.Append(errAll, err)
			continue
		}
		clean, err := im.read(p[1])
		if err != nil {
			errAll = multierr.Append(errAll, err)
			continue
		}
		pair, err := im.dst.Add(models.ImagePair{Original: original, Clean: clean})
		if err != nil {
			errAll = multierr.Append(errAll, errors.Wrapf(err, "pair %s + %s", p[0].Name, p[1].Name))
			continue
		}
		added = append(added, pair)
	}

	if len(files)%2 == 1 {
		klog.V(1).Infof("[Importer] odd file count %d, last file by name dropped", len(files))
	}
	klog.Infof("[Importer] %d files -> %d pairs added", len(files), len(added))
	return added, errAll
}
