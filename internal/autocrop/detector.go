package autocrop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Frame is one sampled source frame encoded as JPEG. Width and Height are the
// dimensions of the encoded image, which may be downscaled from the source.
type Frame struct {
	Time   float64
	Image  []byte
	Width  int
	Height int
}

// Detection is a subject bounding box in frame pixel coordinates
type Detection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label,omitempty"`
}

// Detector finds subjects (faces, people, objects) in a frame
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// FrameSampler extracts frames from a source every interval seconds
type FrameSampler interface {
	SampleFrames(ctx context.Context, source string, interval float64) ([]Frame, error)
}

// DetectorFunc adapts a function to the Detector interface
type DetectorFunc func(ctx context.Context, frame Frame) ([]Detection, error)

// Detect implements Detector
func (f DetectorFunc) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	return f(ctx, frame)
}

// NopDetector never detects anything, so analysis falls back to a center crop
type NopDetector struct{}

// Detect implements Detector
func (NopDetector) Detect(context.Context, Frame) ([]Detection, error) {
	return nil, nil
}

// HTTPDetector posts JPEG frames to an external detection service which
// answers with {"detections": [{x, y, width, height, confidence, label}]}.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector creates a detector client for the service at url
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type detectResponse struct {
	Detections []Detection `json:"detections"`
}

// Detect implements Detector
func (d *HTTPDetector) Detect(ctx context.Context, frame Frame) ([]Detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(frame.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to create detection request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("X-Frame-Time", strconv.FormatFloat(frame.Time, 'f', 3, 64))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode detector response: %w", err)
	}
	return out.Detections, nil
}
