// Package dataset holds the image-pair dataset: the staging area for manual
// pairing, the ordered store of confirmed pairs and the bulk importer.
package dataset

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

// ExportFileName is the download name of a dataset snapshot.
const ExportFileName = "unshine_dataset.json"

// View is what the dataset panel renders after every mutation.
type View struct {
	Count    int  `json:"count"`
	CanClear bool `json:"can_clear"`
	CanSave  bool `json:"can_save"`
}

// Store is the ordered collection of confirmed pairs. It is not safe for
// concurrent use; the workspace serializes access.
type Store struct {
	pairs    []models.ImagePair
	onChange func(View)
}

// NewStore creates an empty store. onChange may be nil.
func NewStore(onChange func(View)) *Store {
	return &Store{onChange: onChange}
}

// Add appends pair. An empty id is replaced with a fresh one; an id already in
// the store is rejected.
func (s *Store) Add(pair models.ImagePair) (models.ImagePair, error) {
	if pair.ID == "" {
		pair.ID = uuid.NewString()
	}
	if s.indexOf(pair.ID) >= 0 {
		return models.ImagePair{}, errors.Wrapf(errs.ErrInvalidArgument, "pair id %q already in dataset", pair.ID)
	}
	s.pairs = append(s.pairs, pair)
	s.changed()
	return pair, nil
}

// Remove deletes the pair with the given id, or fails with errs.ErrNotFound.
func (s *Store) Remove(id string) error {
	i := s.indexOf(id)
	if i < 0 {
		return errors.Wrapf(errs.ErrNotFound, "pair %q", id)
	}
	s.pairs = append(s.pairs[:i], s.pairs[i+1:]...)
	s.changed()
	return nil
}

// Clear empties the dataset. Confirmation is the caller's job.
func (s *Store) Clear() {
	s.pairs = nil
	s.changed()
}

// Len returns the number of pairs.
func (s *Store) Len() int {
	return len(s.pairs)
}

// Pairs returns a copy of the pairs in order.
func (s *Store) Pairs() []models.ImagePair {
	out := make([]models.ImagePair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Get returns the pair with the given id.
func (s *Store) Get(id string) (models.ImagePair, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.pairs[i], true
	}
	return models.ImagePair{}, false
}

// View derives the count and action state.
func (s *Store) View() View {
	n := len(s.pairs)
	return View{Count: n, CanClear: n > 0, CanSave: n > 0}
}

// Serialize writes the pairs as a JSON array with every field.
func (s *Store) Serialize() ([]byte, error) {
	pairs := s.pairs
	if pairs == nil {
		pairs = []models.ImagePair{}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return nil, errors.Wrap(err, "serialize dataset")
	}
	return data, nil
}

// pairJSON distinguishes absent fields from empty ones.
type pairJSON struct {
	ID       *string `json:"id"`
	Original *string `json:"original"`
	Clean    *string `json:"clean"`
	IsSample bool    `json:"isSample"`
}

// Deserialize replaces the dataset with the pairs in data. Either every
// record is pair-shaped and the whole payload loads, or errs.ErrFormat is
// returned and the current pairs are kept.
func (s *Store) Deserialize(data []byte) error {
	pairs, err := ParsePairs(data)
	if err != nil {
		return err
	}
	s.pairs = pairs
	s.changed()
	return nil
}

// ParsePairs decodes a dataset snapshot without touching any store.
func ParsePairs(data []byte) ([]models.ImagePair, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.Wrap(errs.ErrFormat, "dataset must be a JSON array")
	}
	var raws []pairJSON
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, errors.Wrapf(errs.ErrFormat, "dataset: %v", err)
	}

	pairs := make([]models.ImagePair, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		if raw.ID == nil || *raw.ID == "" || raw.Original == nil || raw.Clean == nil {
			return nil, errors.Wrapf(errs.ErrFormat, "dataset[%d] is not an image pair", i)
		}
		if _, dup := seen[*raw.ID]; dup {
			return nil, errors.Wrapf(errs.ErrFormat, "dataset[%d] repeats id %q", i, *raw.ID)
		}
		seen[*raw.ID] = struct{}{}
		pairs = append(pairs, models.ImagePair{
			ID:       *raw.ID,
			Original: *raw.Original,
			Clean:    *raw.Clean,
			IsSample: raw.IsSample,
		})
	}
	return pairs, nil
}

func (s *Store) indexOf(id string) int {
	for i := range s.pairs {
		if s.pairs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) changed() {
	if s.onChange != nil {
		s.onChange(s.View())
	}
}
