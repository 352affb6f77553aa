package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
)

// CameraInferenceClient implements airquality.CameraInference against an HTTP
// model server that accepts a multipart "image" upload and answers
// {"pm25": <ug/m3>, "confidence": <0..1>}.
type CameraInferenceClient struct {
	name     string
	endpoint string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

func NewCameraInferenceClient(client *http.Client, endpoint string, logger *slog.Logger) *CameraInferenceClient {
	return &CameraInferenceClient{
		name:     "camera-inference",
		endpoint: endpoint,
		httpCfg: HTTPClientConfig{
			Client: client,
			// inference is expensive; retry once
			Backoff: BackoffConfig{MaxRetries: 1, InitialInterval: 250 * time.Millisecond, MaxInterval: time.Second},
		},
		circuit: newBreaker("camera-inference", logger),
	}
}

func (c *CameraInferenceClient) Name() string {
	return c.name
}

func (c *CameraInferenceClient) Infer(ctx context.Context, image []byte, at fusion.Coordinate) (airquality.CameraPrediction, error) {
	if c.endpoint == "" {
		return airquality.CameraPrediction{}, fmt.Errorf("camera inference endpoint is not configured")
	}
	if len(image) == 0 {
		return airquality.CameraPrediction{}, fmt.Errorf("%w: empty image", errNoData)
	}

	body, contentType, err := encodeImageForm(image, at)
	if err != nil {
		return airquality.CameraPrediction{}, err
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return airquality.CameraPrediction{}, err
	}
	defer resp.Body.Close()

	var pred airquality.CameraPrediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return airquality.CameraPrediction{}, fmt.Errorf("decoding inference response: %w", err)
	}
	return pred, nil
}

func encodeImageForm(image []byte, at fusion.Coordinate) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("image", "capture.jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	for k, v := range map[string]float64{"lat": at.Lat, "lon": at.Lon} {
		if err := w.WriteField(k, strconv.FormatFloat(v, 'f', -1, 64)); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
