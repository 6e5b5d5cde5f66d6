package openapi

import (
	"net/http"
	"sort"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
)

// RouteLister is satisfied by *echo.Echo.
type RouteLister interface {
	Routes() []*echo.Route
}

// Generator builds an OpenAPI 3.0 spec from the registered routes, so the
// document always matches what the server actually serves.
type Generator struct {
	routes  RouteLister
	version string
	baseURL string
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(routes RouteLister, version, baseURL string) *Generator {
	return &Generator{routes: routes, version: version, baseURL: baseURL}
}

// collection describes the payloads of one resource collection.
type collection struct {
	tag    string
	entity string
	create string
	update string
}

// mirrorLists are the paged read-only mirror endpoints.
var mirrorLists = map[string]bool{
	"/api/v1/mirror/patients":             true,
	"/api/v1/mirror/medical-measurements": true,
	"/api/v1/mirror/diagnoses":            true,
}

// httpMethods excludes the pseudo-methods echo uses for not-found routes.
var httpMethods = map[string]string{
	http.MethodGet:    "get",
	http.MethodPost:   "post",
	http.MethodPut:    "put",
	http.MethodDelete: "delete",
	http.MethodPatch:  "patch",
}

var collections = map[string]collection{
	"/api/v1/patients":             {"patients", "Patient", "PatientCreate", "PatientUpdate"},
	"/api/v1/medical-measurements": {"medical-measurements", "MedicalMeasurement", "MeasurementCreate", "MeasurementUpdate"},
	"/api/v1/lifestyle-factors":    {"lifestyle-factors", "LifestyleFactors", "LifestyleCreate", "LifestyleUpdate"},
	"/api/v1/diagnoses":            {"diagnoses", "Diagnosis", "DiagnosisCreate", "DiagnosisUpdate"},
	"/api/v1/diagnosis-log":        {"diagnosis-log", "DiagnosisLogEntry", "", ""},
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.routes.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	for _, r := range routes {
		if r.Path == "/openapi.json" || r.Path == "/docs" {
			continue
		}
		method, ok := httpMethods[r.Method]
		if !ok || strings.HasSuffix(r.Path, "/*") {
			continue
		}
		path := toOpenAPIPath(r.Path)
		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}
		item[method] = g.buildOperation(r.Method, path, r.Name)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Cardiovascular Records API",
			"version":     g.version,
			"description": "Patient records kept in PostgreSQL and mirrored best-effort to MongoDB",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
		},
	}
}

// toOpenAPIPath rewrites echo's ":param" segments as "{param}".
func toOpenAPIPath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		if strings.HasPrefix(s, ":") {
			parts[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(parts, "/")
}

// operationID extracts the method name from an echo handler name such as
// "github.com/x/record.(*Handler).CreatePatient-fm".
func operationID(handlerName string) string {
	name := handlerName
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	if name == "" || strings.HasPrefix(name, "func") {
		// anonymous handler
		return ""
	}
	runes := []rune(name)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

// pathOperationID derives an id like "getMetrics" from the method and path.
func pathOperationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '-' || r == '.' }) {
		if strings.HasPrefix(seg, "{") {
			continue
		}
		runes := []rune(seg)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	return b.String()
}

// summarize turns "ListPatientMeasurements" into "List patient measurements".
func summarize(id string) string {
	var b strings.Builder
	for i, r := range id {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte(' ')
			r = unicode.ToLower(r)
		}
		if i == 0 {
			r = unicode.ToUpper(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tagFor(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if rest == path {
		return "system"
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func (g *Generator) buildOperation(method, path, handlerName string) map[string]interface{} {
	id := operationID(handlerName)
	if id == "" {
		id = pathOperationID(method, path)
	}
	op := map[string]interface{}{
		"operationId": id,
		"summary":     summarize(id),
		"tags":        []string{tagFor(path)},
	}

	var params []map[string]interface{}
	if strings.Contains(path, "{id}") {
		params = append(params, map[string]interface{}{
			"name": "id", "in": "path", "required": true,
			"schema": map[string]interface{}{"type": "integer", "format": "int64", "minimum": 1},
		})
	}

	coll, isCollection := collections[path]
	item, isItem := collections[strings.TrimSuffix(path, "/{id}")]
	isItem = isItem && strings.HasSuffix(path, "/{id}")

	switch {
	case method == http.MethodGet && (isCollection || mirrorLists[path]):
		params = append(params, pageParameters()...)
		if path == "/api/v1/mirror/diagnoses" {
			params = append(params, map[string]interface{}{
				"name": "has_disease", "in": "query",
				"schema":      map[string]interface{}{"type": "boolean", "default": true},
				"description": "Filter by cardiovascular disease presence",
			})
		}
	case method == http.MethodPost && isCollection && coll.create != "":
		op["requestBody"] = buildRequestBody(coll.create)
	case method == http.MethodPut && isItem:
		op["requestBody"] = buildRequestBody(item.update)
	}
	if len(params) > 0 {
		op["parameters"] = params
	}

	op["responses"] = buildResponses(method, path, coll, isCollection, item, isItem)
	return op
}

func pageParameters() []map[string]interface{} {
	return []map[string]interface{}{
		{"name": "skip", "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 0, "default": 0}, "description": "Number of records to skip"},
		{"name": "limit", "in": "query", "schema": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 1000, "default": 100}, "description": "Maximum number of records to return"},
	}
}

func buildResponses(method, path string, coll collection, isCollection bool, item collection, isItem bool) map[string]interface{} {
	responses := map[string]interface{}{
		"500": buildResponseWithSchema("Primary store failure", "#/components/schemas/Error"),
	}

	switch method {
	case http.MethodPost:
		schema := "#/components/schemas/" + coll.entity
		if !isCollection {
			schema = "#/components/schemas/RiskAssessment"
		}
		responses["201"] = buildResponseWithSchema("Created", schema)
		responses["400"] = buildResponseWithSchema("Invalid payload", "#/components/schemas/Error")
		responses["404"] = buildResponseWithSchema("Patient not found or insufficient data", "#/components/schemas/Error")
		if path == "/api/v1/patients" {
			responses["409"] = buildResponseWithSchema("Patient already exists", "#/components/schemas/Error")
		}
	case http.MethodPut:
		responses["200"] = buildResponseWithSchema("Updated", "#/components/schemas/"+item.entity)
		responses["400"] = buildResponseWithSchema("Invalid payload", "#/components/schemas/Error")
		responses["404"] = buildResponseWithSchema("Not found", "#/components/schemas/Error")
	case http.MethodDelete:
		responses["204"] = map[string]interface{}{"description": "Deleted"}
		responses["404"] = buildResponseWithSchema("Not found", "#/components/schemas/Error")
	default:
		switch {
		case isCollection || mirrorLists[path]:
			responses["200"] = buildResponseWithSchema("Page of "+tagFor(path), "#/components/schemas/Page")
		case isItem:
			responses["200"] = buildResponseWithSchema("Success", "#/components/schemas/"+item.entity)
			responses["404"] = buildResponseWithSchema("Not found", "#/components/schemas/Error")
		default:
			responses["200"] = map[string]interface{}{"description": "Success"}
		}
		if path == "/health" || strings.HasSuffix(path, "/mirror/health") || strings.HasSuffix(path, "/mirror/stats") {
			responses["503"] = map[string]interface{}{"description": "Store unreachable"}
		}
	}
	return responses
}

// buildRequestBody creates the OpenAPI requestBody for POST/PUT operations.
func buildRequestBody(schema string) map[string]interface{} {
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{
					"$ref": "#/components/schemas/" + schema,
				},
			},
		},
	}
}

// buildResponseWithSchema creates an OpenAPI response with content schema reference.
func buildResponseWithSchema(description, schemaRef string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{
					"$ref": schemaRef,
				},
			},
		},
	}
}

// ── Component schemas ───────────────────────────────────────────────────

func intRange(min, max int) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "minimum": min, "maximum": max}
}

func flag() map[string]interface{} {
	return map[string]interface{}{"type": "integer", "enum": []int{0, 1}}
}

func level() map[string]interface{} {
	return map[string]interface{}{"type": "integer", "enum": []int{1, 2, 3}, "description": "1 normal, 2 above normal, 3 high"}
}

func readOnly(schema map[string]interface{}) map[string]interface{} {
	schema["readOnly"] = true
	return schema
}

func timestamp() map[string]interface{} {
	return readOnly(map[string]interface{}{"type": "string", "format": "date-time"})
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func buildComponentSchemas() map[string]interface{} {
	patientInput := func() map[string]interface{} {
		return map[string]interface{}{
			"age_days":  map[string]interface{}{"type": "integer", "minimum": 1},
			"gender":    map[string]interface{}{"type": "integer", "enum": []int{1, 2}, "description": "1 female, 2 male"},
			"height_cm": intRange(1, 250),
			"weight_kg": map[string]interface{}{"type": "number", "exclusiveMinimum": true, "minimum": 0, "maximum": 300},
		}
	}
	measurementInput := func() map[string]interface{} {
		return map[string]interface{}{
			"ap_hi":       intRange(70, 250),
			"ap_lo":       map[string]interface{}{"type": "integer", "minimum": 40, "maximum": 150, "description": "Must be below ap_hi"},
			"cholesterol": level(),
			"glucose":     level(),
		}
	}
	lifestyleInput := func() map[string]interface{} {
		return map[string]interface{}{"smoke": flag(), "alcohol": flag(), "physical_activity": flag()}
	}
	id := func() map[string]interface{} {
		return map[string]interface{}{"type": "integer", "format": "int64", "minimum": 1}
	}

	patientCreate := patientInput()
	patientCreate["patient_id"] = id()

	patient := patientInput()
	patient["patient_id"] = id()
	patient["age_years"] = readOnly(map[string]interface{}{"type": "number"})
	patient["bmi"] = readOnly(map[string]interface{}{"type": "number"})
	patient["created_at"] = timestamp()
	patient["updated_at"] = timestamp()

	measurementCreate := measurementInput()
	measurementCreate["patient_id"] = id()
	measurement := measurementInput()
	measurement["measurement_id"] = readOnly(id())
	measurement["patient_id"] = id()
	measurement["measured_at"] = timestamp()

	lifestyleCreate := lifestyleInput()
	lifestyleCreate["patient_id"] = id()
	lifestyle := lifestyleInput()
	lifestyle["lifestyle_id"] = readOnly(id())
	lifestyle["patient_id"] = id()
	lifestyle["recorded_at"] = timestamp()

	return map[string]interface{}{
		"PatientCreate": object(patientCreate, "patient_id", "age_days", "gender", "height_cm", "weight_kg"),
		"PatientUpdate": object(patientInput()),
		"Patient":       object(patient),

		"MeasurementCreate":  object(measurementCreate, "patient_id", "ap_hi", "ap_lo", "cholesterol", "glucose"),
		"MeasurementUpdate":  object(measurementInput()),
		"MedicalMeasurement": object(measurement),

		"LifestyleCreate":  object(lifestyleCreate, "patient_id", "smoke", "alcohol", "physical_activity"),
		"LifestyleUpdate":  object(lifestyleInput()),
		"LifestyleFactors": object(lifestyle),

		"DiagnosisCreate": object(map[string]interface{}{"patient_id": id(), "cardiovascular_disease": flag()}, "patient_id", "cardiovascular_disease"),
		"DiagnosisUpdate": object(map[string]interface{}{"cardiovascular_disease": flag()}),
		"Diagnosis": object(map[string]interface{}{
			"diagnosis_id":           readOnly(id()),
			"patient_id":             id(),
			"cardiovascular_disease": flag(),
			"diagnosed_at":           timestamp(),
		}),
		"DiagnosisLogEntry": object(map[string]interface{}{
			"log_id":                 id(),
			"diagnosis_id":           id(),
			"patient_id":             id(),
			"action":                 map[string]interface{}{"type": "string", "enum": []string{"INSERT", "UPDATE"}},
			"cardiovascular_disease": flag(),
			"logged_at":              timestamp(),
		}),
		"RiskAssessment": object(map[string]interface{}{
			"assessment_id": id(),
			"patient_id":    id(),
			"risk_score":    map[string]interface{}{"type": "integer", "minimum": 0},
			"risk_level":    map[string]interface{}{"type": "string", "enum": []string{"LOW", "MODERATE", "HIGH", "CRITICAL"}},
			"assessed_at":   timestamp(),
		}),
		"Page": object(map[string]interface{}{
			"data":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "object"}},
			"total":    map[string]interface{}{"type": "integer", "minimum": 0},
			"skip":     map[string]interface{}{"type": "integer", "minimum": 0},
			"limit":    map[string]interface{}{"type": "integer", "minimum": 1},
			"has_more": map[string]interface{}{"type": "boolean"},
		}),
		"Error": object(map[string]interface{}{"message": map[string]interface{}{"type": "string"}}, "message"),
	}
}

// ── Swagger UI ──────────────────────────────────────────────────────────

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Cardiovascular Records API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(root *echo.Group) {
	root.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	root.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
