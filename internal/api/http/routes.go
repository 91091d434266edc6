package httpapi

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/meteogram-sources/internal/store"
	"github.com/i474232898/meteogram-sources/internal/weather"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("variable", func(fl validator.FieldLevel) bool {
		return weather.IsVariable(fl.Field().String())
	})
	return v
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/sources", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sources": service.Sources(),
		})
	})

	v1.Get("/meteogram", func(c *fiber.Ctx) error {
		var req meteogramQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		table, err := service.Fetch(c.UserContext(), weather.FetchRequest{
			Query: weather.Query{
				Lat:       req.Lat,
				Lon:       req.Lon,
				Start:     req.From,
				End:       req.To,
				Variables: req.Vars,
			},
			Source: req.Source,
		})
		if err != nil {
			return fetchError(err)
		}

		return c.JSON(tableResponse(table))
	})

	v1.Get("/meteogram/latest", func(c *fiber.Ctx) error {
		loc, err := parseNameQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshot, err := service.GetLatest(loc)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no meteogram for requested location")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load meteogram")
		}

		resp := tableResponse(snapshot.Table)
		resp["location"] = snapshot.Location
		resp["fetchedAt"] = snapshot.FetchedAt
		return c.JSON(resp)
	})

	v1.Get("/meteogram/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshots, err := service.GetRange(req.Location, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no meteograms for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load meteograms")
		}

		fetched := make([]fiber.Map, 0, len(snapshots))
		for _, s := range snapshots {
			fetched = append(fetched, fiber.Map{
				"fetchedAt": s.FetchedAt,
				"source":    s.Table.Source,
				"model":     s.Table.Model,
				"rows":      s.Table.Len(),
			})
		}
		return c.JSON(fiber.Map{
			"location":  req.Location,
			"from":      req.From,
			"to":        req.To,
			"snapshots": fetched,
		})
	})
}

// fetchError maps service failures to HTTP statuses.
func fetchError(err error) error {
	switch {
	case errors.Is(err, weather.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, weather.ErrNoSource):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}

func tableResponse(t weather.Table) fiber.Map {
	return fiber.Map{
		"source":  t.Source,
		"quality": t.Quality,
		"model":   t.Model,
		"points":  t.Points(),
	}
}

// meteogramQuery holds query parameters for the meteogram endpoint.
type meteogramQuery struct {
	Lat    float64   `validate:"gte=-90,lte=90"`
	Lon    float64   `validate:"gte=-180,lte=180"`
	From   time.Time `validate:"required"`
	To     time.Time `validate:"required,gtfield=From"`
	Source string
	Vars   []string `validate:"dive,variable"`
}

func (m *meteogramQuery) bind(c *fiber.Ctx) error {
	latStr, lonStr := c.Query("lat"), c.Query("lon")
	if latStr == "" || lonStr == "" {
		return errors.New("lat and lon query parameters are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return errors.New("lat must be a decimal number")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return errors.New("lon must be a decimal number")
	}
	m.Lat, m.Lon = lat, lon

	if m.From, m.To, err = parseWindow(c); err != nil {
		return err
	}

	m.Source = c.Query("source")
	for _, v := range strings.Split(c.Query("vars"), ",") {
		if v = strings.TrimSpace(v); v != "" {
			m.Vars = append(m.Vars, v)
		}
	}
	return nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location weather.Location
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	loc, err := parseNameQuery(c)
	if err != nil {
		return err
	}
	h.Location = loc
	h.From, h.To, err = parseWindow(c)
	return err
}

func parseNameQuery(c *fiber.Ctx) (weather.Location, error) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		return weather.Location{}, errors.New("name query parameter is required")
	}
	return weather.Location{Name: name}, nil
}

func parseWindow(c *fiber.Ctx) (time.Time, time.Time, error) {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
