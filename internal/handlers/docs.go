package handlers

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
)

type object = map[string]interface{}

func queryParam(name, description, typ string, def interface{}) object {
	schema := object{"type": typ}
	if def != nil {
		schema["default"] = def
	}
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

func jsonResponse(description string, schema object) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": schema},
		},
	}
}

func errorResponse(description string) object {
	return jsonResponse(description, object{"$ref": "#/components/schemas/Error"})
}

func paginated(item string) object {
	return object{
		"type": "object",
		"properties": object{
			"data":        object{"type": "array", "items": object{"$ref": "#/components/schemas/" + item}},
			"total":       object{"type": "integer"},
			"page":        object{"type": "integer"},
			"limit":       object{"type": "integer"},
			"total_pages": object{"type": "integer"},
		},
	}
}

func nullableNumber() object {
	return object{"type": "number", "nullable": true}
}

var pagingParams = []object{
	queryParam("page", "Page number", "integer", 1),
	queryParam("limit", "Records per page, at most 1000", "integer", defaultLimit),
}

var readingParams = append([]object{
	queryParam("measurement", "Filter by measurement name", "string", nil),
	queryParam("station_id", "Filter by weather station ID", "string", nil),
}, pagingParams...)

// OpenAPIDocument builds the OpenAPI 3.0 description of the pipeline API.
func OpenAPIDocument() object {
	notReady := errorResponse("No pipeline run has completed yet")

	return object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Field Weather Pipeline API",
			"description": "Cleaned field survey data and weather measurements extracted from station messages",
			"version":     "1.0.0",
		},
		"servers": []object{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/runs": object{
				"post": object{
					"summary": "Run the pipeline",
					"responses": object{
						"201": jsonResponse("Run completed", object{"$ref": "#/components/schemas/RunSummary"}),
						"409": errorResponse("Another run is in progress"),
						"502": errorResponse("A remote table could not be retrieved or parsed"),
						"500": errorResponse("Run failed"),
					},
				},
			},
			"/api/runs/latest": object{
				"get": object{
					"summary": "Summary of the last completed run",
					"responses": object{
						"200": jsonResponse("Run summary", object{"$ref": "#/components/schemas/RunSummary"}),
						"404": notReady,
					},
				},
			},
			"/api/fields": object{
				"get": object{
					"summary":    "Processed field table",
					"parameters": pagingParams,
					"responses": object{
						"200": jsonResponse("Field rows keyed by column name", paginated("FieldRow")),
						"404": notReady,
					},
				},
			},
			"/api/weather": object{
				"get": object{
					"summary":    "Extracted weather readings",
					"parameters": readingParams,
					"responses": object{
						"200": jsonResponse("Weather readings", paginated("WeatherReading")),
						"404": notReady,
					},
				},
			},
			"/api/weather/stations": object{
				"get": object{
					"summary": "Stations with at least one reading",
					"responses": object{
						"200": jsonResponse("Station IDs", object{
							"type": "object",
							"properties": object{
								"data":  object{"type": "array", "items": object{"type": "string"}},
								"total": object{"type": "integer"},
							},
						}),
						"404": notReady,
					},
				},
			},
			"/api/weather/statistics": object{
				"get": object{
					"summary":    "Per station measurement statistics",
					"parameters": readingParams,
					"responses": object{
						"200": jsonResponse("Statistics", paginated("WeatherStatistics")),
						"404": notReady,
					},
				},
			},
			"/api/validation": object{
				"get": object{
					"summary": "Acceptance checks of the last run",
					"responses": object{
						"200": jsonResponse("Validation report", object{"$ref": "#/components/schemas/ValidationReport"}),
						"404": notReady,
					},
				},
			},
			"/health": object{
				"get": object{
					"summary": "Health check",
					"responses": object{
						"200": jsonResponse("API is healthy", object{
							"type": "object",
							"properties": object{
								"status":               object{"type": "string"},
								"timestamp":            object{"type": "string", "format": "date-time"},
								"last_run_id":          object{"type": "string"},
								"last_run_finished_at": object{"type": "string", "format": "date-time"},
							},
						}),
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary": "Prometheus metrics",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"Error": object{
					"type": "object",
					"properties": object{
						"error":   object{"type": "string"},
						"message": object{"type": "string"},
						"kind":    object{"type": "string"},
						"code":    object{"type": "integer"},
					},
				},
				"RunSummary": object{
					"type": "object",
					"properties": object{
						"run_id":            object{"type": "string", "format": "uuid"},
						"started_at":        object{"type": "string", "format": "date-time"},
						"finished_at":       object{"type": "string", "format": "date-time"},
						"duration_ms":       object{"type": "integer"},
						"field_rows":        object{"type": "integer"},
						"field_columns":     object{"type": "integer"},
						"weather_rows":      object{"type": "integer"},
						"validation_passed": object{"type": "boolean"},
					},
				},
				"FieldRow": object{
					"type":                 "object",
					"additionalProperties": true,
				},
				"WeatherReading": object{
					"type": "object",
					"properties": object{
						"station_id":  object{"type": "string"},
						"message":     object{"type": "string"},
						"measurement": object{"type": "string"},
						"value":       nullableNumber(),
					},
				},
				"WeatherStatistics": object{
					"type": "object",
					"properties": object{
						"station_id":    object{"type": "string"},
						"measurement":   object{"type": "string"},
						"reading_count": object{"type": "integer"},
						"missing_count": object{"type": "integer"},
						"min":           nullableNumber(),
						"max":           nullableNumber(),
						"mean":          nullableNumber(),
					},
				},
				"ValidationReport": object{
					"type": "object",
					"properties": object{
						"passed": object{"type": "boolean"},
						"checks": object{
							"type": "array",
							"items": object{
								"type": "object",
								"properties": object{
									"name":   object{"type": "string"},
									"passed": object{"type": "boolean"},
									"detail": object{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}
}

// OpenAPISpec serves the OpenAPI document as JSON
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(OpenAPIDocument())
}

var swaggerPage = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [SwaggerUIBundle.presets.apis]
            });
        };
    </script>
</body>
</html>`))

// SwaggerUI serves an interactive page for the OpenAPI document
func SwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	swaggerPage.Execute(w, struct {
		Title   string
		SpecURL string
	}{
		Title:   "Field Weather Pipeline API Documentation",
		SpecURL: "/api/docs/openapi.json",
	})
}

// RegisterDocsRoutes registers the API documentation routes
func RegisterDocsRoutes(router *mux.Router) {
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
}
