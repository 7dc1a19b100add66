package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ironsheep/layersmith/internal/imaging"
)

// RemoteClient talks to an HTTP inference server exposing /segment, /classify and
// /upscale. Images travel as base64 PNG strings.
type RemoteClient struct {
	endpoint string
	client   *http.Client
}

// NewRemoteClient creates a client for endpoint. A zero timeout means none.
func NewRemoteClient(endpoint string, timeout time.Duration) (*RemoteClient, error) {
	if endpoint == "" {
		return nil, errors.New("inference: remote endpoint is empty")
	}
	return &RemoteClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type segmentRequest struct {
	Image string `json:"image"`
}

type regionsResponse struct {
	Regions []string `json:"regions"`
}

type classifyRequest struct {
	Regions []string `json:"regions"`
}

type classifyResponse struct {
	Scores []float64 `json:"scores"`
}

type upscaleRequest struct {
	Images []string `json:"images"`
}

type upscaleResponse struct {
	Images []string `json:"images"`
}

// Segment implements Segmenter.
func (c *RemoteClient) Segment(ctx context.Context, img *imaging.Raster) ([]*imaging.Raster, error) {
	enc, err := encodeRasters([]*imaging.Raster{img})
	if err != nil {
		return nil, err
	}
	var resp regionsResponse
	if err := c.post(ctx, "/segment", segmentRequest{Image: enc[0]}, &resp); err != nil {
		return nil, err
	}
	return decodeRasters(resp.Regions)
}

// Classify implements Classifier. The server returns one score per region and the
// threshold is applied locally.
func (c *RemoteClient) Classify(ctx context.Context, regions []*imaging.Raster, threshold float64) ([]*imaging.Raster, error) {
	if len(regions) == 0 {
		return nil, nil
	}
	enc, err := encodeRasters(regions)
	if err != nil {
		return nil, err
	}
	var resp classifyResponse
	if err := c.post(ctx, "/classify", classifyRequest{Regions: enc}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Scores) != len(regions) {
		return nil, fmt.Errorf("inference: classify returned %d scores for %d regions", len(resp.Scores), len(regions))
	}
	return keepScored(regions, resp.Scores, threshold), nil
}

// Upscale implements Upscaler.
func (c *RemoteClient) Upscale(ctx context.Context, imgs []*imaging.Raster) ([]*imaging.Raster, error) {
	if len(imgs) == 0 {
		return nil, nil
	}
	enc, err := encodeRasters(imgs)
	if err != nil {
		return nil, err
	}
	var resp upscaleResponse
	if err := c.post(ctx, "/upscale", upscaleRequest{Images: enc}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Images) != len(imgs) {
		return nil, fmt.Errorf("inference: upscale returned %d images for %d inputs", len(resp.Images), len(imgs))
	}
	return decodeRasters(resp.Images)
}

func (c *RemoteClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return statusError(path, resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// statusError maps out-of-memory answers to ErrResourceExhausted.
func statusError(path string, status int, body string) error {
	body = strings.TrimSpace(body)
	if status == http.StatusInsufficientStorage || status == http.StatusServiceUnavailable ||
		strings.Contains(strings.ToLower(body), "out of memory") {
		return fmt.Errorf("inference %s returned status %d: %s: %w", path, status, body, ErrResourceExhausted)
	}
	return fmt.Errorf("inference %s returned status %d: %s", path, status, body)
}

func encodeRasters(rs []*imaging.Raster) ([]string, error) {
	out := make([]string, len(rs))
	for i, r := range rs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		b, err := imaging.EncodePNG(r)
		if err != nil {
			return nil, err
		}
		out[i] = base64.StdEncoding.EncodeToString(b)
	}
	return out, nil
}

func decodeRasters(in []string) ([]*imaging.Raster, error) {
	out := make([]*imaging.Raster, len(in))
	for i, s := range in {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("inference: image %d: %w", i, err)
		}
		r, _, err := imaging.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("inference: image %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}
