package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/imageref"
)

func newUpstream(t *testing.T, mux *http.ServeMux) *DeshineClient {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewDeshineClient(srv.URL, 5*time.Second)
}

func TestProcessSendsMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "shiny.png", hdr.Filename)
		assert.Equal(t, []byte("PNGDATA"), data)
		assert.Equal(t, "conv", r.FormValue("model_type"))
		_ = json.NewEncoder(w).Encode(map[string]string{"processed_image": "data:image/png;base64,QUJD"})
	})
	c := newUpstream(t, mux)

	out, err := c.Process(context.Background(), imageref.File{Name: "shiny.png", ContentType: "image/png", Data: []byte("PNGDATA")}, "conv")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,QUJD", out)
}

func TestServerErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"No image provided"}`))
	})
	mux.HandleFunc("/train", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"busy"}`))
	})
	mux.HandleFunc("/generate_synthetic_dataset", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := newUpstream(t, mux)
	ctx := context.Background()

	_, err := c.Process(ctx, imageref.File{Name: "a.png", Data: []byte{1}}, "dense")
	assert.True(t, errs.Is(err, errs.ErrServer))
	assert.Contains(t, err.Error(), "No image provided")

	err = c.Train(ctx, "dense")
	assert.True(t, errs.Is(err, errs.ErrServer))

	_, err = c.GenerateSyntheticDataset(ctx)
	assert.True(t, errs.Is(err, errs.ErrServer))

	unreachable := NewDeshineClient("http://127.0.0.1:1", time.Second)
	assert.True(t, errs.Is(unreachable.HealthCheck(ctx), errs.ErrServer))
}

func TestGenerateAndFetchDataset(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/generate_synthetic_dataset", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"id":"ds-7"}`))
	})
	mux.HandleFunc("/datasets/ds-7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"item_count":12,"preview":[{"original":"o1","clean":"c1"},{"original":"o2","clean":"c2"}]}`))
	})
	mux.HandleFunc("/train", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hybrid", body["model_type"])
		_, _ = w.Write([]byte(`{"status":"Model trained successfully"}`))
	})
	c := newUpstream(t, mux)
	ctx := context.Background()

	id, err := c.GenerateSyntheticDataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ds-7", id)

	ds, err := c.GetDataset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 12, ds.ItemCount)
	assert.Equal(t, []PreviewPair{{"o1", "c1"}, {"o2", "c2"}}, ds.Preview)

	assert.NoError(t, c.Train(ctx, "hybrid"))
}

func TestGetDatasetEscapesID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/datasets/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/datasets/ds%207%2Fpreview%3Fall", r.URL.EscapedPath())
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"item_count":0,"preview":[]}`))
	})
	c := newUpstream(t, mux)

	ds, err := c.GetDataset(context.Background(), "ds 7/preview?all")
	require.NoError(t, err)
	assert.Equal(t, 0, ds.ItemCount)
}
