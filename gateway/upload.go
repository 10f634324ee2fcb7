package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
)

const ipfsScheme = "ipfs://"

// ContentRef is an ipfs://<cid> reference to a pinned attachment.
type ContentRef string

// CID returns the hash part of the reference.
func (r ContentRef) CID() string {
	return strings.TrimPrefix(string(r), ipfsScheme)
}

// Uploader pins an attachment and returns its content reference.
type Uploader interface {
	Upload(ctx context.Context, filename string, body io.Reader) (ContentRef, error)
}

// PinataUploader posts attachments to a Pinata-compatible pinFileToIPFS endpoint.
type PinataUploader struct {
	endpoint  string
	apiKey    string
	secretKey string
	client    *http.Client
	metrics   *Metrics
}

// NewPinataUploader builds an uploader. A zero timeout leaves requests
// bounded only by the caller's context.
func NewPinataUploader(endpoint, apiKey, secretKey string, timeout time.Duration, metrics *Metrics) *PinataUploader {
	return &PinataUploader{
		endpoint:  endpoint,
		apiKey:    apiKey,
		secretKey: secretKey,
		client:    &http.Client{Timeout: timeout},
		metrics:   metrics,
	}
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// Upload sends body as the multipart field "file". Every failure is an *UploadError.
func (u *PinataUploader) Upload(ctx context.Context, filename string, body io.Reader) (ref ContentRef, err error) {
	start := time.Now()
	var size int64
	defer func() { u.metrics.observeUpload(start, size, err) }()

	if u.apiKey == "" || u.secretKey == "" {
		return "", &UploadError{Err: errors.New("pinning credentials are not configured")}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", &UploadError{Err: err}
	}
	if size, err = io.Copy(part, body); err != nil {
		return "", &UploadError{Err: fmt.Errorf("read attachment: %w", err)}
	}
	if err := mw.Close(); err != nil {
		return "", &UploadError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &buf)
	if err != nil {
		return "", &UploadError{Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("pinata_api_key", u.apiKey)
	req.Header.Set("pinata_secret_api_key", u.secretKey)

	res, err := u.client.Do(req)
	if err != nil {
		return "", &UploadError{Err: err}
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", &UploadError{StatusCode: res.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if res.StatusCode != http.StatusOK {
		logger.Warningf("Pinning service returned %d: %s", res.StatusCode, string(respBody))
		return "", &UploadError{StatusCode: res.StatusCode, Err: errors.New(strings.TrimSpace(string(respBody)))}
	}

	var pinned pinResponse
	if err := json.Unmarshal(respBody, &pinned); err != nil {
		return "", &UploadError{StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if pinned.IpfsHash == "" {
		return "", &UploadError{StatusCode: res.StatusCode, Err: errors.New("response carries no IpfsHash")}
	}

	ref = ContentRef(ipfsScheme + canonicalHash(pinned.IpfsHash))
	logger.Infof("Pinned '%s' (%d bytes) as %s", filename, size, ref)
	return ref, nil
}

// canonicalHash re-encodes a parseable CID in its canonical form. Hashes the
// cid library cannot parse are kept verbatim; the pinning service owns them.
func canonicalHash(hash string) string {
	c, err := cid.Decode(hash)
	if err != nil {
		logger.Debugf("Pinned hash %q is not a parseable CID: %v", hash, err)
		return hash
	}
	return c.String()
}
