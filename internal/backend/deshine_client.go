// Package backend talks to the deshine service that does the real image
// processing, training and synthetic dataset generation.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"UnShiney/server/internal/errs"
	"UnShiney/server/internal/imageref"
)

const (
	defaultBaseURL = "http://localhost:5000"
	defaultTimeout = 60 * time.Second
	maxReplyBytes  = 64 << 20
)

// DeshineClient calls the upstream deshine HTTP endpoints.
type DeshineClient struct {
	httpClient *http.Client
	baseURL    string
}

// PreviewPair is one entry of a generated dataset preview.
type PreviewPair struct {
	Original string `json:"original"`
	Clean    string `json:"clean"`
}

// GeneratedDataset describes a synthetic dataset built by the server.
type GeneratedDataset struct {
	ItemCount int           `json:"item_count"`
	Preview   []PreviewPair `json:"preview"`
}

// NewDeshineClient creates a client for baseURL. Zero values pick defaults.
func NewDeshineClient(baseURL string, timeout time.Duration) *DeshineClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &DeshineClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL returns the upstream address.
func (c *DeshineClient) BaseURL() string {
	return c.baseURL
}

// Process uploads an image for deshining and returns the processed image as a data URI.
func (c *DeshineClient) Process(ctx context.Context, image imageref.File, modelType string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, image.Name))
	header.Set("Content-Type", image.MediaType())
	part, err := w.CreatePart(header)
	if err != nil {
		return "", errors.Wrap(err, "build process request")
	}
	if _, err := part.Write(image.Data); err != nil {
		return "", errors.Wrap(err, "build process request")
	}
	if err := w.WriteField("model_type", modelType); err != nil {
		return "", errors.Wrap(err, "build process request")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(err, "build process request")
	}

	klog.V(1).Infof("[Deshine] process %s (%s) model_type=%s", image.Name, humanize.Bytes(uint64(len(image.Data))), modelType)

	var reply struct {
		ProcessedImage string `json:"processed_image"`
	}
	if err := c.do(ctx, http.MethodPost, "/process", w.FormDataContentType(), &body, &reply); err != nil {
		return "", err
	}
	if reply.ProcessedImage == "" {
		return "", errors.Wrap(errs.ErrServer, "process reply has no processed_image")
	}
	return reply.ProcessedImage, nil
}

// Train asks the server to train modelType. The reply payload is ignored.
func (c *DeshineClient) Train(ctx context.Context, modelType string) error {
	payload, err := json.Marshal(map[string]string{"model_type": modelType})
	if err != nil {
		return errors.Wrap(err, "encode train request")
	}
	return c.do(ctx, http.MethodPost, "/train", "application/json", bytes.NewReader(payload), nil)
}

// GenerateSyntheticDataset starts a synthetic dataset and returns its id.
func (c *DeshineClient) GenerateSyntheticDataset(ctx context.Context) (string, error) {
	var reply struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/generate_synthetic_dataset", "application/json", strings.NewReader("{}"), &reply); err != nil {
		return "", err
	}
	if reply.ID == "" {
		return "", errors.Wrap(errs.ErrServer, "generate reply has no id")
	}
	return reply.ID, nil
}

// GetDataset fetches a generated dataset's preview.
func (c *DeshineClient) GetDataset(ctx context.Context, id string) (*GeneratedDataset, error) {
	var ds GeneratedDataset
	if err := c.do(ctx, http.MethodGet, "/datasets/"+url.PathEscape(id), "", nil, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// HealthCheck checks that the server answers on its index route.
func (c *DeshineClient) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/", "", nil, nil)
}

// do sends a request and decodes a JSON reply into out. Transport failures,
// non-2xx statuses and {"error": ...} bodies all become errs.ErrServer.
func (c *DeshineClient) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		klog.Warningf("[Deshine] %s %s: %v", method, path, err)
		return errors.Wrapf(errs.ErrServer, "%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return errors.Wrapf(errs.ErrServer, "%s %s: read reply: %v", method, path, err)
	}
	klog.V(1).Infof("[Deshine] %s %s -> %d (%s, %v)", method, path, resp.StatusCode, humanize.Bytes(uint64(len(data))), time.Since(start))

	var failure struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(data, &failure)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if failure.Error != "" {
			return errors.Wrapf(errs.ErrServer, "%s %s: status %d: %s", method, path, resp.StatusCode, failure.Error)
		}
		return errors.Wrapf(errs.ErrServer, "%s %s: status %d", method, path, resp.StatusCode)
	}
	if failure.Error != "" {
		return errors.Wrapf(errs.ErrServer, "%s %s: %s", method, path, failure.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(errs.ErrServer, "%s %s: decode reply: %v", method, path, err)
	}
	return nil
}
