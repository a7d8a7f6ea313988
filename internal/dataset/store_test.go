package dataset

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/models"
)

func TestStoreViewTracksLength(t *testing.T) {
	var last View
	calls := 0
	s := NewStore(func(v View) {
		last = v
		calls++
	})

	rng := rand.New(rand.NewSource(7))
	var ids []string
	for i := 0; i < 200; i++ {
		if len(ids) == 0 || rng.Intn(3) > 0 {
			p, err := s.Add(models.ImagePair{Original: fmt.Sprint("o", i), Clean: fmt.Sprint("c", i)})
			require.NoError(t, err)
			ids = append(ids, p.ID)
		} else {
			k := rng.Intn(len(ids))
			require.NoError(t, s.Remove(ids[k]))
			ids = append(ids[:k], ids[k+1:]...)
		}
		assert.Equal(t, len(ids), last.Count)
		assert.Equal(t, len(ids), s.Len())
		assert.Equal(t, len(ids) > 0, last.CanClear)
		assert.Equal(t, len(ids) > 0, last.CanSave)
	}
	assert.Equal(t, 200, calls)

	s.Clear()
	assert.Equal(t, View{}, last)
	assert.Equal(t, View{}, s.View())
}

func TestStoreAddAssignsUniqueIDs(t *testing.T) {
	s := NewStore(nil)
	a, err := s.Add(models.ImagePair{Original: "x", Clean: "y"})
	require.NoError(t, err)
	b, err := s.Add(models.ImagePair{Original: "x", Clean: "y"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = s.Add(models.ImagePair{ID: a.ID, Original: "z", Clean: "z"})
	assert.True(t, errs.Is(err, errs.ErrInvalidArgument))
	assert.Equal(t, 2, s.Len())
}

func TestStoreRemoveMissing(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Add(models.ImagePair{ID: "a", Original: "o", Clean: "c"})
	require.NoError(t, err)

	err = s.Remove("nope")
	assert.True(t, errs.Is(err, errs.ErrNotFound))
	assert.Equal(t, 1, s.Len())
}

func TestStoreSerializeRoundTrip(t *testing.T) {
	src := NewStore(nil)
	for i := 0; i < 4; i++ {
		_, err := src.Add(models.ImagePair{
			Original: fmt.Sprintf("data:image/png;base64,o%d", i),
			Clean:    fmt.Sprintf("data:image/png;base64,c%d", i),
			IsSample: i%2 == 0,
		})
		require.NoError(t, err)
	}

	data, err := src.Serialize()
	require.NoError(t, err)

	dst := NewStore(nil)
	require.NoError(t, dst.Deserialize(data))
	assert.Equal(t, src.Pairs(), dst.Pairs())
}

func TestStoreSerializeEmptyIsArray(t *testing.T) {
	data, err := NewStore(nil).Serialize()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestStoreDeserializeIsAllOrNothing(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Add(models.ImagePair{ID: "keep", Original: "o", Clean: "c"})
	require.NoError(t, err)
	before := s.Pairs()

	bad := []string{
		``,
		`{"id":"a"}`,
		`not json`,
		`[{"id":"a","original":"o","clean":"c"},{"id":"b","original":"o"}]`,
		`[{"id":"a","original":"o","clean":"c"},{"id":"a","original":"o","clean":"c"}]`,
		`[{"original":"o","clean":"c"}]`,
		`[1, 2]`,
	}
	for _, payload := range bad {
		err := s.Deserialize([]byte(payload))
		assert.True(t, errs.Is(err, errs.ErrFormat), "payload %q: %v", payload, err)
		assert.Equal(t, before, s.Pairs(), "payload %q", payload)
	}

	require.NoError(t, s.Deserialize([]byte(`[{"id":"n","original":"o2","clean":"c2","isSample":true}]`)))
	assert.Equal(t, []models.ImagePair{{ID: "n", Original: "o2", Clean: "c2", IsSample: true}}, s.Pairs())
}
