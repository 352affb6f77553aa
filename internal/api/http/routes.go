package httpapi

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/air-quality-fusion/internal/airquality"
	"github.com/i474232898/air-quality-fusion/internal/fusion"
	"github.com/i474232898/air-quality-fusion/internal/store"
)

var validate = validator.New()

// maxImageBytes caps camera uploads.
const maxImageBytes = 8 << 20

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *airquality.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/airquality/current", func(c *fiber.Ctx) error {
		locReq, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshot, err := service.GetLatest(c.UserContext(), locReq.toLocation())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no air quality data for requested location")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch air quality data")
		}

		return c.JSON(newSnapshotView(snapshot))
	})

	v1.Get("/airquality/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		loc := req.Location.toLocation()
		snapshots, err := service.GetRange(c.UserContext(), loc, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no air quality history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch air quality history")
		}

		views := make([]snapshotView, len(snapshots))
		for i, s := range snapshots {
			views[i] = newSnapshotView(s)
		}
		return c.JSON(fiber.Map{
			"location":  loc,
			"from":      req.From,
			"to":        req.To,
			"snapshots": views,
		})
	})

	v1.Get("/airquality/estimate", func(c *fiber.Ctx) error {
		var q estimateQuery
		if err := c.QueryParser(&q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return estimate(c, service, airquality.EstimateRequest{Location: q.toLocation()})
	})

	v1.Post("/airquality/estimate", func(c *fiber.Ctx) error {
		req, err := bindEstimate(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return estimate(c, service, req)
	})

	v1.Post("/fusion", func(c *fiber.Ctx) error {
		var body fusionBody
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		station, err := body.Station.estimate(fusion.SourceStation)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		camera, err := body.Camera.estimate(fusion.SourceCamera)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		satellite, err := body.Satellite.estimate(fusion.SourceSatellite)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		result := service.Policy().Fuse(station, camera, satellite)
		low, high := result.Range()
		return c.JSON(fiber.Map{
			"result":   result,
			"low":      low,
			"high":     high,
			"category": airquality.CategoryFor(result.PM25),
		})
	})
}

func estimate(c *fiber.Ctx, service *airquality.Service, req airquality.EstimateRequest) error {
	snapshot, err := service.Estimate(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, fusion.ErrInvalidCoordinate) || errors.Is(err, fusion.ErrInvalidEstimate) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to estimate air quality")
	}
	return c.JSON(newSnapshotView(snapshot))
}

// snapshotView adds the category presentation to a snapshot.
type snapshotView struct {
	airquality.Snapshot
	Label  string `json:"label"`
	Color  string `json:"color"`
	Advice string `json:"advice"`
}

func newSnapshotView(s airquality.Snapshot) snapshotView {
	return snapshotView{
		Snapshot: s,
		Label:    s.Category.Label(),
		Color:    s.Category.Color(),
		Advice:   s.Category.Advice(),
	}
}

// locationQuery holds query parameters for identifying a location.
type locationQuery struct {
	City    string `validate:"required"`
	Country string `validate:"required"`
}

func (l locationQuery) toLocation() airquality.Location {
	return airquality.Location{
		City:    l.City,
		Country: l.Country,
	}
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery

	q.City = c.Query("city")
	q.Country = c.Query("country")

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location locationQuery
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

// estimateQuery is shared by the GET query string and the POST bodies.
type estimateQuery struct {
	Lat     *float64 `query:"lat" json:"lat" form:"lat" validate:"required,gte=-90,lte=90"`
	Lon     *float64 `query:"lon" json:"lon" form:"lon" validate:"required,gte=-180,lte=180"`
	City    string   `query:"city" json:"city" form:"city"`
	Country string   `query:"country" json:"country" form:"country"`
}

func (q estimateQuery) toLocation() airquality.Location {
	return airquality.Location{City: q.City, Country: q.Country, Lat: *q.Lat, Lon: *q.Lon}
}

type estimateBody struct {
	estimateQuery
	Camera *airquality.CameraPrediction `json:"camera"`
}

// bindEstimate accepts either JSON (optionally with a pre-computed camera
// value) or a multipart form carrying an "image" file for inference.
func bindEstimate(c *fiber.Ctx) (airquality.EstimateRequest, error) {
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		return bindEstimateForm(c)
	}

	var body estimateBody
	if err := c.BodyParser(&body); err != nil {
		return airquality.EstimateRequest{}, err
	}
	if err := validate.Struct(body.estimateQuery); err != nil {
		return airquality.EstimateRequest{}, err
	}
	return airquality.EstimateRequest{Location: body.toLocation(), Camera: body.Camera}, nil
}

func bindEstimateForm(c *fiber.Ctx) (airquality.EstimateRequest, error) {
	var q estimateQuery
	for key, dst := range map[string]**float64{"lat": &q.Lat, "lon": &q.Lon} {
		raw := c.FormValue(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return airquality.EstimateRequest{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = &v
	}
	q.City = c.FormValue("city")
	q.Country = c.FormValue("country")
	if err := validate.Struct(q); err != nil {
		return airquality.EstimateRequest{}, err
	}

	fh, err := c.FormFile("image")
	if err != nil {
		return airquality.EstimateRequest{}, errors.New("multipart estimate requires an image file")
	}
	if fh.Size > maxImageBytes {
		return airquality.EstimateRequest{}, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return airquality.EstimateRequest{}, err
	}
	defer f.Close()

	image, err := io.ReadAll(f)
	if err != nil {
		return airquality.EstimateRequest{}, err
	}
	return airquality.EstimateRequest{Location: q.toLocation(), Image: image}, nil
}

// sourceInput is one client-supplied source value for the stateless fusion endpoint.
type sourceInput struct {
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
}

func (s *sourceInput) estimate(kind fusion.SourceKind) (*fusion.PollutantEstimate, error) {
	if s == nil {
		return nil, nil
	}
	return fusion.NewPollutantEstimate(kind, s.Value, s.Confidence)
}

type fusionBody struct {
	Station   *sourceInput `json:"station"`
	Camera    *sourceInput `json:"camera"`
	Satellite *sourceInput `json:"satellite"`
}
