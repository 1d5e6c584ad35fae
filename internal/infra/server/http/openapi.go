package httpserver

const openAPISpec = `{
  "openapi": "3.0.3",
  "info": {
    "title": "Beckn Gateway API",
    "version": "1.0.0"
  },
  "paths": {
    "/client/v1/{action}": {
      "post": {
        "summary": "Dispatch a client action to network participants",
        "parameters": [
          { "name": "action", "in": "path", "required": true, "schema": { "type": "string", "enum": ["search", "select", "init", "confirm", "status", "track", "cancel", "update", "rating", "support"] } }
        ],
        "requestBody": {
          "required": true,
          "content": { "application/json": { "schema": { "type": "object" } } }
        },
        "responses": {
          "200": { "description": "At least one participant acknowledged" },
          "400": { "description": "Invalid request" },
          "404": { "description": "No participant found" },
          "500": { "description": "Registry, store or participant failure" }
        }
      }
    },
    "/client/v1/on_{action}": {
      "get": {
        "summary": "Poll callbacks recorded for a message id",
        "parameters": [
          { "name": "action", "in": "path", "required": true, "schema": { "type": "string" } },
          { "name": "messageId", "in": "query", "required": true, "schema": { "type": "string" } }
        ],
        "responses": {
          "200": { "description": "Aggregated callbacks" },
          "400": { "description": "messageId missing" },
          "404": { "description": "No message with the given ID" }
        }
      }
    },
    "/protocol/v1/on_{action}": {
      "post": {
        "summary": "Receive a participant callback",
        "requestBody": {
          "required": true,
          "content": { "application/json": { "schema": { "type": "object" } } }
        },
        "responses": {
          "200": { "description": "Callback acknowledged" },
          "400": { "description": "Malformed callback" }
        }
      }
    },
    "/healthz": {
      "get": {
        "summary": "Liveness and store health",
        "responses": {
          "200": { "description": "Healthy" },
          "503": { "description": "Correlation store unreachable" }
        }
      }
    }
  }
}`
