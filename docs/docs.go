// Package docs registers the Swagger spec for the HTTP API with
// swaggo/swag, so http-swagger can serve it from /swagger/. The JSON
// below is written by hand and committed directly rather than generated
// at build time. It covers only some of the routes annotated in
// internal/api/handlers.go, and its tags and summaries are its own rather
// than copies of those annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/status": {
            "get": {
                "description": "Returns a fixed \"active\" status and the firehose client's current global filter",
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Service status",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/filters/create": {
            "post": {
                "description": "Creates a new (repository, collection) filtered subscription",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["filters"],
                "summary": "Create a filter subscription",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"}
                }
            }
        },
        "/api/filters/update": {
            "post": {
                "description": "Updates the firehose client's global (repository, collection) filter",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["filters"],
                "summary": "Update the global filter",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request"}
                }
            }
        },
        "/api/subscriptions": {
            "get": {
                "description": "Lists every active filter subscription",
                "produces": ["application/json"],
                "tags": ["subscriptions"],
                "summary": "List subscriptions",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/stats": {
            "get": {
                "description": "Returns connection and filter counters",
                "produces": ["application/json"],
                "tags": ["stats"],
                "summary": "Subscription manager statistics",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "atrepo firehose API",
	Description:      "Subscribes to the AT Protocol firehose, decodes repository commits, and fans matching records out over WebSocket.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
