package dataset

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

// Slot names one side of a pending pair.
type Slot string

const (
	SlotOriginal Slot = "original"
	SlotClean    Slot = "clean"
)

// ParseSlot validates a slot name coming from a request path.
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotOriginal, SlotClean:
		return Slot(s), nil
	}
	return "", errors.Wrapf(errs.ErrInvalidArgument, "unknown slot %q", s)
}

// StagingArea holds at most one pending original and one pending clean image.
type StagingArea struct {
	original string
	clean    string
	newID    func() string
}

// NewStagingArea creates an empty staging area that mints pair ids with uuid.
func NewStagingArea() *StagingArea {
	return &StagingArea{newID: uuid.NewString}
}

// Stage replaces whatever was staged in slot.
func (s *StagingArea) Stage(slot Slot, ref string) error {
	if ref == "" {
		return errors.Wrap(errs.ErrInvalidArgument, "empty image reference")
	}
	switch slot {
	case SlotOriginal:
		s.original = ref
	case SlotClean:
		s.clean = ref
	default:
		return errors.Wrapf(errs.ErrInvalidArgument, "unknown slot %q", slot)
	}
	return nil
}

// Staged returns the reference held in slot, if any.
func (s *StagingArea) Staged(slot Slot) (string, bool) {
	switch slot {
	case SlotOriginal:
		return s.original, s.original != ""
	case SlotClean:
		return s.clean, s.clean != ""
	}
	return "", false
}

// IsComplete reports whether both slots are populated.
func (s *StagingArea) IsComplete() bool {
	return s.original != "" && s.clean != ""
}

// Commit moves both staged references into a new pair and empties the slots.
// When a slot is empty it fails with errs.ErrPrecondition and changes nothing.
func (s *StagingArea) Commit() (models.ImagePair, error) {
	if !s.IsComplete() {
		return models.ImagePair{}, errors.Wrap(errs.ErrPrecondition, "both original and clean images must be staged")
	}
	pair := models.ImagePair{
		ID:       s.newID(),
		Original: s.original,
		Clean:    s.clean,
	}
	s.Reset()
	return pair, nil
}

// Reset empties both slots.
func (s *StagingArea) Reset() {
	s.original = ""
	s.clean = ""
}
