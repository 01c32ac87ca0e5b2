// Package docs holds the OpenAPI description served under /swagger.
// Regenerate with: swag init -g cmd/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "API Support",
            "url": "https://github.com/guttosm/spimexpulse"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/last_dates": {
            "get": {
                "description": "Returns the most recent distinct trading dates, newest first",
                "produces": ["application/json"],
                "tags": ["trading"],
                "summary": "Last trading dates",
                "parameters": [
                    {"type": "integer", "default": 10, "description": "Number of dates (1-1000)", "name": "limit_days", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Success", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.DateResponse"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "503": {"description": "Unavailable", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/api/v1/dynamics": {
            "get": {
                "description": "Returns the records traded between start_date and end_date (inclusive)",
                "produces": ["application/json"],
                "tags": ["trading"],
                "summary": "Trading dynamics",
                "parameters": [
                    {"type": "string", "example": "2024-03-01", "description": "Range start: YYYY-MM-DD, YYYY.MM.DD, DD.MM.YYYY or DD-MM-YYYY", "name": "start_date", "in": "query", "required": true},
                    {"type": "string", "example": "2024-03-05", "description": "Range end, same formats as start_date", "name": "end_date", "in": "query", "required": true},
                    {"type": "string", "example": "A592", "description": "Oil product type, first 4 characters of the product code", "name": "oil_id", "in": "query"},
                    {"type": "string", "example": "F", "description": "Delivery type, last character of the product code", "name": "delivery_type_id", "in": "query"},
                    {"type": "string", "example": "UFM", "description": "Delivery basis, characters 5-7 of the product code", "name": "delivery_basis_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Success", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.TradeResponse"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "503": {"description": "Unavailable", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/api/v1/trading_results": {
            "get": {
                "description": "Returns the latest records, optionally filtered by the product code parts",
                "produces": ["application/json"],
                "tags": ["trading"],
                "summary": "Latest trading results",
                "parameters": [
                    {"type": "integer", "default": 10, "description": "Number of records (1-1000)", "name": "limit_trades", "in": "query"},
                    {"type": "string", "example": "A592", "description": "Oil product type", "name": "oil_id", "in": "query"},
                    {"type": "string", "example": "F", "description": "Delivery type", "name": "delivery_type_id", "in": "query"},
                    {"type": "string", "example": "UFM", "description": "Delivery basis", "name": "delivery_basis_id", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Success", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.TradeResponse"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}},
                    "503": {"description": "Unavailable", "schema": {"$ref": "#/definitions/dto.ErrorResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "description": "Always returns ok if the service is running",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}}
            }
        },
        "/readyz": {
            "get": {
                "description": "Returns ready if the service dependencies (DB, data directory) are reachable",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Readiness probe",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object", "additionalProperties": {"type": "string"}}}
                }
            }
        }
    },
    "definitions": {
        "dto.DateResponse": {
            "type": "object",
            "properties": {
                "date": {"type": "string", "example": "2024-10-14"}
            }
        },
        "dto.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "connection refused"},
                "message": {"type": "string", "example": "failed to fetch trading results"},
                "timestamp": {"type": "string", "example": "2024-10-14T14:12:00Z"}
            }
        },
        "dto.TradeResponse": {
            "type": "object",
            "properties": {
                "count": {"type": "number", "example": 1},
                "date": {"type": "string", "example": "2024-10-14"},
                "delivery_basis_id": {"type": "string", "example": "NVY"},
                "delivery_basis_name": {"type": "string", "example": "ст. Новоярославская"},
                "delivery_type_id": {"type": "string", "example": "F"},
                "exchange_product_id": {"type": "string", "example": "A100NVY060F"},
                "exchange_product_name": {"type": "string", "example": "Бензин (АИ-100-К5)"},
                "id": {"type": "integer", "example": 42},
                "oil_id": {"type": "string", "example": "A100"},
                "total": {"type": "number", "example": 5241660},
                "volume": {"type": "number", "example": 60}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "spimexpulse API",
	Description:      "SPIMEX oil products trading results: crawl, ingest and read API.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
