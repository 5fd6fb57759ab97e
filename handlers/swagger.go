package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>jotion - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "jotion", "version": "v0.1.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } },
    "schemas": {
      "Document": {
        "type": "object",
        "properties": {
          "id": {"type":"string"}, "title": {"type":"string"}, "content": {"type":"string"},
          "coverImage": {"type":"string"}, "icon": {"type":"string"}, "parentId": {"type":"string"},
          "ownerId": {"type":"string"}, "isArchived": {"type":"boolean"}, "isPublished": {"type":"boolean"},
          "createdAt": {"type":"string","format":"date-time"}, "updatedAt": {"type":"string","format":"date-time"}
        }
      },
      "CascadeJob": {
        "type": "object",
        "properties": {
          "id": {"type":"string"}, "kind": {"type":"string","enum":["archive","restore","delete"]},
          "rootId": {"type":"string"}, "status": {"type":"string","enum":["pending","running","succeeded","failed"]},
          "updated": {"type":"integer"}, "error": {"type":"string"}
        }
      }
    }
  },
  "security": [ { "bearer": [] } ],
  "paths": {
    "/auth/login": {
      "post": {
        "summary": "Exchange authorization code / login",
        "security": [],
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"mode":{"type":"string","enum":["password","auth_code"]},"username":{"type":"string"},"password":{"type":"string"},"code":{"type":"string"},"redirect_uri":{"type":"string"}}}}}},
        "responses": { "200": { "description": "tokens returned" }, "401": { "description": "login rejected" } }
      }
    },
    "/auth/refresh": {
      "post": { "summary": "Rotate refresh token and issue a new access token", "security": [], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "new tokens" }, "401": { "description": "invalid refresh" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Drop the refresh session and revoke the access token", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"refreshToken":{"type":"string"}}}}}}, "responses": { "200": { "description": "logged out" } } }
    },
    "/api/v1/me": {
      "get": { "summary": "Current user profile", "responses": { "200": { "description": "user" }, "401": { "description": "unauthenticated" } } }
    },
    "/api/documents": {
      "post": { "summary": "Create a document", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"parentId":{"type":"string"}}}}}}, "responses": { "201": { "description": "created" }, "404": { "description": "parent not found" }, "409": { "description": "parent archived" } } }
    },
    "/api/documents/sidebar": {
      "get": { "summary": "Active children of parentId (root when omitted)", "parameters": [ {"name":"parentId","in":"query","schema":{"type":"string"}} ], "responses": { "200": { "description": "documents" } } }
    },
    "/api/documents/trash": {
      "get": { "summary": "Archived documents", "parameters": [ {"name":"q","in":"query","schema":{"type":"string"}} ], "responses": { "200": { "description": "documents" } } }
    },
    "/api/documents/search": {
      "get": { "summary": "All active documents of the caller", "responses": { "200": { "description": "documents" } } }
    },
    "/api/documents/events": {
      "get": { "summary": "Server-sent change events for the caller", "responses": { "200": { "description": "text/event-stream" } } }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Get a document; published documents are public", "security": [ {}, { "bearer": [] } ], "responses": { "200": { "description": "document" }, "401": { "description": "unauthenticated" }, "403": { "description": "forbidden" }, "404": { "description": "not found" } } },
      "patch": { "summary": "Partial update", "responses": { "200": { "description": "document" }, "400": { "description": "invalid" } } },
      "delete": { "summary": "Remove a document", "parameters": [ {"name":"children","in":"query","schema":{"type":"string","enum":["orphan","subtree","reject"]}} ], "responses": { "200": { "description": "removed document" }, "409": { "description": "has children" } } }
    },
    "/api/documents/{id}/archive": {
      "post": { "summary": "Archive a document and its subtree", "responses": { "200": { "description": "document and finished job" }, "202": { "description": "document and running job" } } }
    },
    "/api/documents/{id}/restore": {
      "post": { "summary": "Restore a document and its subtree", "responses": { "200": { "description": "document and finished job" }, "202": { "description": "document and running job" } } }
    },
    "/api/documents/{id}/icon": {
      "delete": { "summary": "Clear the icon", "responses": { "200": { "description": "document" } } }
    },
    "/api/documents/{id}/cover": {
      "post": { "summary": "Upload a cover image", "requestBody": { "content": { "multipart/form-data": { "schema": {"type":"object","properties":{"file":{"type":"string","format":"binary"}}}}}}, "responses": { "200": { "description": "document" }, "413": { "description": "too large" }, "503": { "description": "no storage" } } },
      "delete": { "summary": "Clear the cover image", "responses": { "200": { "description": "document" } } }
    },
    "/api/cascades/{id}": {
      "get": { "summary": "Cascade job status", "responses": { "200": { "description": "job" }, "404": { "description": "unknown or expired" } } }
    },
    "/api/files/{key}": {
      "get": { "summary": "Hosted cover image", "security": [], "responses": { "200": { "description": "image" }, "404": { "description": "not found" } } }
    },
    "/preview/{id}": {
      "get": { "summary": "Public preview of a published document", "security": [ {}, { "bearer": [] } ], "responses": { "200": { "description": "document" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "security": [], "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "security": [], "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } },
    "/metrics": { "get": { "summary": "Prometheus metrics", "security": [], "responses": { "200": { "description": "metrics" } } } }
  }
}`
