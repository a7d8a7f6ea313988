// Package imageref turns uploaded files into the image references stored in
// the dataset (data URIs) and back.
package imageref

import (
	"bytes"
	"encoding/base64"
	"image"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"UnShiney/server/internal/errs"
)

const dataURIPrefix = "data:"

// File is an uploaded file as seen by the importers.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// MediaType returns the declared content type, sniffing the bytes when none was sent.
func (f File) MediaType() string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return http.DetectContentType(f.Data)
}

// FromFile validates that f is a decodable image and returns it as a data URI.
func FromFile(f File) (string, error) {
	mediaType := f.MediaType()
	if !strings.HasPrefix(mediaType, "image/") {
		return "", errors.Wrapf(errs.ErrValidation, "%s: please upload an image file (got %s)", f.Name, mediaType)
	}
	if _, err := imaging.Decode(bytes.NewReader(f.Data)); err != nil {
		return "", errors.Wrapf(errs.ErrValidation, "%s: cannot decode image: %v", f.Name, err)
	}
	return Encode(mediaType, f.Data), nil
}

// Encode builds a base64 data URI.
func Encode(mediaType string, data []byte) string {
	return dataURIPrefix + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Decode splits a base64 data URI into its media type and payload.
func Decode(ref string) (mediaType string, data []byte, err error) {
	if !strings.HasPrefix(ref, dataURIPrefix) {
		return "", nil, errors.Wrap(errs.ErrFormat, "not a data URI")
	}
	header, payload, ok := strings.Cut(ref[len(dataURIPrefix):], ",")
	if !ok {
		return "", nil, errors.Wrap(errs.ErrFormat, "data URI has no payload")
	}
	mediaType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return "", nil, errors.Wrap(errs.ErrFormat, "data URI is not base64 encoded")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, errors.Wrapf(errs.ErrFormat, "data URI payload: %v", err)
	}
	return mediaType, data, nil
}

// Thumbnail shrinks the referenced image to fit in a size×size box and
// returns it as a PNG data URI.
func Thumbnail(ref string, size int) (string, error) {
	_, data, err := Decode(ref)
	if err != nil {
		return "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrapf(errs.ErrValidation, "cannot decode image: %v", err)
	}
	var thumb image.Image = img
	if b := img.Bounds(); b.Dx() > size || b.Dy() > size {
		thumb = imaging.Fit(img, size, size, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		return "", errors.Wrap(err, "encode thumbnail")
	}
	return Encode("image/png", buf.Bytes()), nil
}
