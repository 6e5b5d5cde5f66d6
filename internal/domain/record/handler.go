package record

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cardio/cardio/pkg/pagination"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/latest", h.LatestPatient)
	api.GET("/patients/:id", h.GetPatient)
	api.PUT("/patients/:id", h.UpdatePatient)
	api.DELETE("/patients/:id", h.DeletePatient)
	api.GET("/patients/:id/medical-measurements", h.ListPatientMeasurements)
	api.GET("/patients/:id/lifestyle-factors", h.ListPatientLifestyle)
	api.GET("/patients/:id/diagnoses", h.ListPatientDiagnoses)
	api.GET("/patients/:id/risk-assessments", h.ListRiskAssessments)
	api.POST("/patients/:id/risk-assessments", h.ScorePatient)

	api.POST("/medical-measurements", h.CreateMeasurement)
	api.GET("/medical-measurements", h.ListMeasurements)
	api.GET("/medical-measurements/:id", h.GetMeasurement)
	api.PUT("/medical-measurements/:id", h.UpdateMeasurement)
	api.DELETE("/medical-measurements/:id", h.DeleteMeasurement)

	api.POST("/lifestyle-factors", h.CreateLifestyle)
	api.GET("/lifestyle-factors", h.ListLifestyle)
	api.GET("/lifestyle-factors/:id", h.GetLifestyle)
	api.PUT("/lifestyle-factors/:id", h.UpdateLifestyle)
	api.DELETE("/lifestyle-factors/:id", h.DeleteLifestyle)

	api.POST("/diagnoses", h.CreateDiagnosis)
	api.GET("/diagnoses", h.ListDiagnoses)
	api.GET("/diagnoses/:id", h.GetDiagnosis)
	api.PUT("/diagnoses/:id", h.UpdateDiagnosis)
	api.DELETE("/diagnoses/:id", h.DeleteDiagnosis)
	api.GET("/diagnoses/:id/log", h.GetDiagnosisLog)

	api.GET("/diagnosis-log", h.ListDiagnosisLog)
}

// RegisterSystemRoutes mounts the per-store health and stats endpoints.
func (h *Handler) RegisterSystemRoutes(g *echo.Group) {
	g.GET("/health", h.Health)
	g.GET("/stats", h.Stats)
}

// httpError maps the coordinator's typed failures onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInsufficientData):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
	}
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Patient Handlers --

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.coord.CreatePatient(c.Request().Context(), &p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := h.coord.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) LatestPatient(c echo.Context) error {
	p, err := h.coord.LatestPatient(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	patients, total, err := h.coord.ListPatients(c.Request().Context(), pg.Skip, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var u PatientUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.coord.UpdatePatient(c.Request().Context(), id, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.coord.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPatientMeasurements(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	out, err := h.coord.ListMeasurementsByPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListPatientLifestyle(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	out, err := h.coord.ListLifestyleByPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListPatientDiagnoses(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	out, err := h.coord.ListDiagnosesByPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// -- Risk Handlers --

func (h *Handler) ScorePatient(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.coord.Score(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListRiskAssessments(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	out, err := h.coord.ListRiskAssessments(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// -- Medical Measurement Handlers --

func (h *Handler) CreateMeasurement(c echo.Context) error {
	var m MedicalMeasurement
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.coord.CreateMeasurement(c.Request().Context(), &m)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetMeasurement(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	m, err := h.coord.GetMeasurement(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) ListMeasurements(c echo.Context) error {
	pg := pagination.FromContext(c)
	out, total, err := h.coord.ListMeasurements(c.Request().Context(), pg.Skip, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg))
}

func (h *Handler) UpdateMeasurement(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var u MeasurementUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.coord.UpdateMeasurement(c.Request().Context(), id, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMeasurement(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.coord.DeleteMeasurement(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Lifestyle Factors Handlers --

func (h *Handler) CreateLifestyle(c echo.Context) error {
	var l LifestyleFactors
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.coord.CreateLifestyle(c.Request().Context(), &l)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetLifestyle(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	l, err := h.coord.GetLifestyle(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListLifestyle(c echo.Context) error {
	pg := pagination.FromContext(c)
	out, total, err := h.coord.ListLifestyle(c.Request().Context(), pg.Skip, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg))
}

func (h *Handler) UpdateLifestyle(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var u LifestyleUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.coord.UpdateLifestyle(c.Request().Context(), id, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) DeleteLifestyle(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.coord.DeleteLifestyle(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Diagnosis Handlers --

func (h *Handler) CreateDiagnosis(c echo.Context) error {
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.coord.CreateDiagnosis(c.Request().Context(), &d)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetDiagnosis(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	d, err := h.coord.GetDiagnosis(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDiagnoses(c echo.Context) error {
	pg := pagination.FromContext(c)
	out, total, err := h.coord.ListDiagnoses(c.Request().Context(), pg.Skip, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg))
}

func (h *Handler) UpdateDiagnosis(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var u DiagnosisUpdate
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.coord.UpdateDiagnosis(c.Request().Context(), id, u)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDiagnosis(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.coord.DeleteDiagnosis(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Diagnosis Log Handlers --

func (h *Handler) ListDiagnosisLog(c echo.Context) error {
	pg := pagination.FromContext(c)
	out, total, err := h.coord.ListDiagnosisLog(c.Request().Context(), pg.Skip, pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg))
}

func (h *Handler) GetDiagnosisLog(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	out, err := h.coord.ListDiagnosisLogByDiagnosis(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

// -- Health & Stats --

func (h *Handler) Health(c echo.Context) error {
	r := h.coord.Health(c.Request().Context())
	code := http.StatusOK
	if r.Status == HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, r)
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.coord.Stats(c.Request().Context()))
}
