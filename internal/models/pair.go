package models

// ImagePair is one training example: an image with shine and its clean counterpart.
// Original and Clean hold image references, normally data URIs.
type ImagePair struct {
	ID       string `json:"id"`
	Original string `json:"original"`
	Clean    string `json:"clean"`
	IsSample bool   `json:"isSample"`
}
