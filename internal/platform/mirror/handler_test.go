package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardio/cardio/internal/domain/record"
)

type fakeReader struct {
	patients   []PatientDocument
	diagnoses  []DiagnosisDocument
	down       bool
	lastFilter *bool
}

func (f *fakeReader) ListPatients(ctx context.Context, skip, limit int) ([]PatientDocument, int64) {
	if f.down {
		return []PatientDocument{}, 0
	}
	end := skip + limit
	if end > len(f.patients) {
		end = len(f.patients)
	}
	if skip > end {
		skip = end
	}
	return f.patients[skip:end], int64(len(f.patients))
}

func (f *fakeReader) GetPatient(ctx context.Context, id int64) (*PatientDocument, error) {
	for i := range f.patients {
		if f.patients[i].PatientID == id && !f.down {
			return &f.patients[i], nil
		}
	}
	return nil, &record.NotFoundError{Entity: record.EntityPatient, ID: id}
}

func (f *fakeReader) ListMeasurements(ctx context.Context, skip, limit int) ([]MeasurementDocument, int64) {
	return []MeasurementDocument{}, 0
}

func (f *fakeReader) DiagnosesByDisease(ctx context.Context, hasDisease bool, skip, limit int) ([]DiagnosisDocument, int64) {
	f.lastFilter = &hasDisease
	out := []DiagnosisDocument{}
	for _, d := range f.diagnoses {
		if d.Diagnosis.CardiovascularDisease == hasDisease {
			out = append(out, d)
		}
	}
	return out, int64(len(out))
}

func (f *fakeReader) DiseaseCounts(ctx context.Context) DiseaseCounts {
	var c DiseaseCounts
	for _, d := range f.diagnoses {
		if d.Diagnosis.CardiovascularDisease {
			c.Positive++
		} else {
			c.Negative++
		}
	}
	return c
}

func (f *fakeReader) Stats(ctx context.Context) (record.StoreStats, error) {
	if f.down {
		return record.StoreStats{Store: "mongodb"}, errors.New("server selection timeout")
	}
	return record.StoreStats{Store: "mongodb", Reachable: true, Counts: map[string]int64{CollPatients: int64(len(f.patients))}}, nil
}

func (f *fakeReader) Health(ctx context.Context) HealthReport {
	if f.down {
		return HealthReport{Status: record.StoreDown, Error: "server selection timeout", Collections: []string{}}
	}
	return HealthReport{Status: record.StoreUp, Reachable: true, Collections: Collections}
}

func newReader() *fakeReader {
	return &fakeReader{
		patients: []PatientDocument{{PatientID: 1}, {PatientID: 2}, {PatientID: 3}},
		diagnoses: []DiagnosisDocument{
			{DiagnosisID: 1, PatientID: 1, Diagnosis: DiagnosisDetail{CardiovascularDisease: true}},
			{DiagnosisID: 2, PatientID: 2, Diagnosis: DiagnosisDetail{CardiovascularDisease: false}},
			{DiagnosisID: 3, PatientID: 3, Diagnosis: DiagnosisDetail{CardiovascularDisease: true}},
		},
	}
}

func serve(h *Handler, target string, fn func(*Handler, echo.Context) error, params ...string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	return rec, fn(h, c)
}

func TestHandler_ListPatients(t *testing.T) {
	h := NewHandler(newReader())

	rec, err := serve(h, "/api/v1/mirror/patients?skip=1&limit=1", (*Handler).ListPatients)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data  []PatientDocument `json:"data"`
		Total int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, int64(2), body.Data[0].PatientID)
	assert.Equal(t, 3, body.Total)
}

func TestHandler_ListPatients_MirrorDown(t *testing.T) {
	r := newReader()
	r.down = true
	h := NewHandler(r)

	rec, err := serve(h, "/api/v1/mirror/patients", (*Handler).ListPatients)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestHandler_GetPatient(t *testing.T) {
	h := NewHandler(newReader())

	rec, err := serve(h, "/", (*Handler).GetPatient, "id", "2")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = serve(h, "/", (*Handler).GetPatient, "id", "99")
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusNotFound, he.Code)

	_, err = serve(h, "/", (*Handler).GetPatient, "id", "x")
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestHandler_DiagnosesByDisease(t *testing.T) {
	r := newReader()
	h := NewHandler(r)

	rec, err := serve(h, "/api/v1/mirror/diagnoses", (*Handler).DiagnosesByDisease)
	require.NoError(t, err)
	require.NotNil(t, r.lastFilter)
	assert.True(t, *r.lastFilter)
	assert.Contains(t, rec.Body.String(), `"total":2`)

	rec, err = serve(h, "/api/v1/mirror/diagnoses?has_disease=false", (*Handler).DiagnosesByDisease)
	require.NoError(t, err)
	assert.False(t, *r.lastFilter)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	_, err = serve(h, "/api/v1/mirror/diagnoses?has_disease=maybe", (*Handler).DiagnosesByDisease)
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

func TestHandler_DiseaseCounts(t *testing.T) {
	h := NewHandler(newReader())

	rec, err := serve(h, "/api/v1/mirror/diagnoses/counts", (*Handler).DiseaseCounts)
	require.NoError(t, err)

	var counts DiseaseCounts
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &counts))
	assert.Equal(t, DiseaseCounts{Positive: 2, Negative: 1}, counts)
}

func TestHandler_HealthAndStats(t *testing.T) {
	r := newReader()
	h := NewHandler(r)

	rec, err := serve(h, "/api/v1/mirror/health", (*Handler).Health)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, err = serve(h, "/api/v1/mirror/stats", (*Handler).Stats)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	r.down = true
	rec, err = serve(h, "/api/v1/mirror/health", (*Handler).Health)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"down"`)

	rec, err = serve(h, "/api/v1/mirror/stats", (*Handler).Stats)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reachable":false`)
}
