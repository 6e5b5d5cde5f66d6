package mirror

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cardio/cardio/internal/domain/record"
	"github.com/cardio/cardio/pkg/pagination"
)

// Handler exposes the mirror's read-only query API.
type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/mirror")
	g.GET("/patients", h.ListPatients)
	g.GET("/patients/:id", h.GetPatient)
	g.GET("/medical-measurements", h.ListMeasurements)
	g.GET("/diagnoses", h.DiagnosesByDisease)
	g.GET("/diagnoses/counts", h.DiseaseCounts)
	g.GET("/stats", h.Stats)
	g.GET("/health", h.Health)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	docs, total := h.reader.ListPatients(c.Request().Context(), pg.Skip, pg.Limit)
	return c.JSON(http.StatusOK, pagination.NewResponse(docs, int(total), pg))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doc, err := h.reader.GetPatient(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) ListMeasurements(c echo.Context) error {
	pg := pagination.FromContext(c)
	docs, total := h.reader.ListMeasurements(c.Request().Context(), pg.Skip, pg.Limit)
	return c.JSON(http.StatusOK, pagination.NewResponse(docs, int(total), pg))
}

// DiagnosesByDisease filters on ?has_disease=, defaulting to true.
func (h *Handler) DiagnosesByDisease(c echo.Context) error {
	hasDisease := true
	if v := c.QueryParam("has_disease"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "has_disease must be a boolean")
		}
		hasDisease = b
	}
	pg := pagination.FromContext(c)
	docs, total := h.reader.DiagnosesByDisease(c.Request().Context(), hasDisease, pg.Skip, pg.Limit)
	return c.JSON(http.StatusOK, pagination.NewResponse(docs, int(total), pg))
}

func (h *Handler) DiseaseCounts(c echo.Context) error {
	return c.JSON(http.StatusOK, h.reader.DiseaseCounts(c.Request().Context()))
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.reader.Stats(c.Request().Context())
	if err != nil {
		stats.Reachable = false
		stats.Error = err.Error()
		return c.JSON(http.StatusServiceUnavailable, stats)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Health(c echo.Context) error {
	r := h.reader.Health(c.Request().Context())
	if r.Status != record.StoreUp {
		return c.JSON(http.StatusServiceUnavailable, r)
	}
	return c.JSON(http.StatusOK, r)
}
