package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/imageref"
)

func named(names ...string) []imageref.File {
	files := make([]imageref.File, len(names))
	for i, n := range names {
		files[i] = imageref.File{Name: n}
	}
	return files
}

func pairNames(pairs [][2]imageref.File) [][2]string {
	out := make([][2]string, len(pairs))
	for i, p := range pairs {
		out[i] = [2]string{p[0].Name, p[1].Name}
	}
	return out
}

func TestPairFilesSortsByName(t *testing.T) {
	got := pairNames(PairFiles(named("c", "a", "b", "d")))
	assert.Equal(t, [][2]string{{"a", "b"}, {"c", "d"}}, got)
}

func TestPairFilesTwoKeepsInputOrder(t *testing.T) {
	got := pairNames(PairFiles(named("z_clean.png", "a_orig.png")))
	assert.Equal(t, [][2]string{{"z_clean.png", "a_orig.png"}}, got)
}

func TestPairFilesOddDropsOne(t *testing.T) {
	for n := 1; n <= 9; n += 2 {
		names := make([]string, n)
		for i := range names {
			names[i] = string(rune('a' + n - 1 - i))
		}
		pairs := PairFiles(named(names...))
		assert.Len(t, pairs, n/2, "n=%d", n)
	}
	got := pairNames(PairFiles(named("e", "b", "a", "d", "c")))
	assert.Equal(t, [][2]string{{"a", "b"}, {"c", "d"}}, got)
}

func TestPairFilesOrdinalComparison(t *testing.T) {
	got := pairNames(PairFiles(named("b", "B", "a", "A")))
	assert.Equal(t, [][2]string{{"A", "B"}, {"a", "b"}}, got)
}

func pngFile(t *testing.T, name string) imageref.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return imageref.File{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}

func TestImportBatchAddsInFormationOrder(t *testing.T) {
	s := NewStore(nil)
	im := NewImporter(s)
	files := []imageref.File{pngFile(t, "2_clean.png"), pngFile(t, "1_orig.png"), pngFile(t, "1_clean.png"), pngFile(t, "2_orig.png")}

	added, err := im.ImportBatch(files)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, added, s.Pairs())
	for _, p := range added {
		assert.Contains(t, p.Original, "data:image/png;base64,")
		assert.Contains(t, p.Clean, "data:image/png;base64,")
	}
}

func TestImportBatchSkipsInvalidPairs(t *testing.T) {
	s := NewStore(nil)
	im := NewImporter(s)
	files := []imageref.File{
		pngFile(t, "a.png"),
		{Name: "b.txt", ContentType: "text/plain", Data: []byte("hello")},
		pngFile(t, "c.png"),
		pngFile(t, "d.png"),
	}

	added, err := im.ImportBatch(files)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrValidation))
	assert.Len(t, multierr.Errors(err), 1)
	assert.Len(t, added, 1)
	assert.Equal(t, 1, s.Len())
}
