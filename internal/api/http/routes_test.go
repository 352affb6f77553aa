package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
	"github.com/i474232898/air-quality-fusion/internal/store"
)

// sizeCamera "infers" PM2.5 from the image length.
type sizeCamera struct{}

func (sizeCamera) Name() string { return "size" }

func (sizeCamera) Infer(_ context.Context, image []byte, _ fusion.Coordinate) (airquality.CameraPrediction, error) {
	return airquality.CameraPrediction{PM25: float64(len(image)), Confidence: 0.7}, nil
}

type estimateResponse struct {
	Result   fusion.Result `json:"result"`
	Category string        `json:"category"`
	Label    string        `json:"label"`
	Low      float64       `json:"low"`
	High     float64       `json:"high"`
}

func newTestApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore(10, 0)
	svc := airquality.NewService(airquality.Dependencies{
		Store:  memStore,
		Camera: sizeCamera{},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, airquality.DefaultSettings())

	app := fiber.New()
	RegisterRoutes(app, svc)
	return app, memStore
}

func do(t *testing.T, app *fiber.App, req *http.Request, out any) int {
	t.Helper()
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCurrentRequiresLocationAndReports404(t *testing.T) {
	app, _ := newTestApp(t)

	code := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/airquality/current?city=Paris", nil), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/airquality/current?city=Paris&country=FR", nil), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHistory(t *testing.T) {
	app, memStore := newTestApp(t)
	loc := airquality.Location{City: "Paris", Country: "FR", Lat: 48.85, Lon: 2.35}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, memStore.SaveSnapshot(context.Background(), airquality.Snapshot{
		ID: "a", Location: loc, Timestamp: ts,
		Result:   fusion.Result{PM25: 8, Confidence: 0.9},
		Category: airquality.CategoryGood,
	}))

	// to before from
	code := do(t, app, httptest.NewRequest(http.MethodGet,
		"/api/v1/airquality/history?city=Paris&country=FR&from=2024-03-02T00:00:00Z&to=2024-03-01T00:00:00Z", nil), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, app, httptest.NewRequest(http.MethodGet,
		"/api/v1/airquality/history?city=Paris&country=FR&from=yesterday&to=today", nil), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	var body struct {
		Snapshots []struct {
			ID    string `json:"id"`
			Label string `json:"label"`
		} `json:"snapshots"`
	}
	from := ts.Add(-time.Hour).Unix()
	code = do(t, app, httptest.NewRequest(http.MethodGet,
		"/api/v1/airquality/history?city=paris&country=fr&from="+strconv.FormatInt(from, 10)+"&to=2024-03-01T13:00:00Z", nil), &body)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body.Snapshots, 1)
	assert.Equal(t, "a", body.Snapshots[0].ID)
	assert.Equal(t, "Good", body.Snapshots[0].Label)

	code = do(t, app, httptest.NewRequest(http.MethodGet,
		"/api/v1/airquality/history?city=Paris&country=FR&from=2020-01-01T00:00:00Z&to=2020-01-02T00:00:00Z", nil), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetEstimateWithoutSourcesFallsBack(t *testing.T) {
	app, _ := newTestApp(t)

	var got estimateResponse
	code := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/airquality/estimate?lat=37.57&lon=126.98", nil), &got)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, got.Result.NoData)
	assert.Equal(t, 25.0, got.Result.PM25)
	assert.Equal(t, 0.1, got.Result.Confidence)
	assert.Equal(t, "moderate", got.Category)
}

func TestGetEstimateValidatesCoordinates(t *testing.T) {
	app, _ := newTestApp(t)

	for _, q := range []string{"lat=37.57", "lat=91&lon=0", "lat=0&lon=-181", "lat=north&lon=0"} {
		code := do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/airquality/estimate?"+q, nil), nil)
		assert.Equal(t, http.StatusBadRequest, code, q)
	}
}

func TestPostEstimateWithCameraValueIsStored(t *testing.T) {
	app, _ := newTestApp(t)

	var got estimateResponse
	code := do(t, app, jsonRequest(http.MethodPost, "/api/v1/airquality/estimate",
		`{"lat":37.57,"lon":126.98,"city":"Seoul","country":"KR","camera":{"pm25":40,"confidence":0.8}}`), &got)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, got.Result.NoData)
	assert.InDelta(t, 40, got.Result.PM25, 1e-9)
	require.Len(t, got.Result.Contributions, 1)
	assert.Equal(t, fusion.SourceCamera, got.Result.Contributions[0].Source)
	assert.Equal(t, "unhealthy", got.Category)
	assert.Less(t, got.Low, got.High)

	var latest estimateResponse
	code = do(t, app, httptest.NewRequest(http.MethodGet, "/api/v1/airquality/current?city=Seoul&country=KR", nil), &latest)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 40, latest.Result.PM25, 1e-9)
}

func TestPostEstimateRejectsBadCamera(t *testing.T) {
	app, _ := newTestApp(t)

	code := do(t, app, jsonRequest(http.MethodPost, "/api/v1/airquality/estimate",
		`{"lat":37.57,"lon":126.98,"camera":{"pm25":40,"confidence":1.5}}`), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, app, jsonRequest(http.MethodPost, "/api/v1/airquality/estimate", `{"lon":126.98}`), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPostEstimateMultipartImage(t *testing.T) {
	app, _ := newTestApp(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "sky.jpg")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0xff}, 33))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("lat", "37.57"))
	require.NoError(t, w.WriteField("lon", "126.98"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/airquality/estimate", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	var got estimateResponse
	code := do(t, app, req, &got)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 33, got.Result.PM25, 1e-9)
	assert.Equal(t, "moderate", got.Category)
}

func TestPostEstimateMultipartRequiresImage(t *testing.T) {
	app, _ := newTestApp(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("lat", "37.57"))
	require.NoError(t, w.WriteField("lon", "126.98"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/airquality/estimate", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, do(t, app, req, nil))
}

func TestFusionEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	var got struct {
		Result   fusion.Result `json:"result"`
		Category string        `json:"category"`
	}
	code := do(t, app, jsonRequest(http.MethodPost, "/api/v1/fusion",
		`{"station":{"value":30,"confidence":0.7}}`), &got)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 30, got.Result.PM25, 1e-9)
	assert.InDelta(t, 0.7, got.Result.Confidence, 1e-9)
	assert.Equal(t, "moderate", got.Category)

	code = do(t, app, jsonRequest(http.MethodPost, "/api/v1/fusion", `{}`), &got)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, got.Result.NoData)

	code = do(t, app, jsonRequest(http.MethodPost, "/api/v1/fusion", `{"satellite":{"value":-1,"confidence":0.5}}`), nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = do(t, app, jsonRequest(http.MethodPost, "/api/v1/fusion", `{"station":`), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
