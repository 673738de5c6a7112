package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "CT Study API",
        "description": "Enrollment, counterbalanced assignment and session scheduling for a three-session longitudinal study",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Enrollment", "description": "Registration code claiming and resume"},
        {"name": "Sessions", "description": "Session lifecycle and routing"},
        {"name": "Auth", "description": "Operator authentication"},
        {"name": "Admin", "description": "Operator tooling"}
    ],
    "paths": {
        "/claims": {
            "post": {
                "tags": ["Enrollment"],
                "summary": "Claim a registration code",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClaimRequest"}},
                    {"name": "route", "in": "query", "type": "boolean", "description": "Include a routing decision in the response"}
                ],
                "responses": {
                    "200": {"description": "Code resumed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "201": {"description": "Code claimed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown registration code"},
                    "503": {"description": "Transient contention, retry"}
                }
            }
        },
        "/participants/{id}/route": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Routing decision for a participant",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/participants/{id}/sessions/{n}/begin": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Begin a session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "n", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/BeginSessionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Session already started or out of order"}
                }
            }
        },
        "/participants/{id}/sessions/{n}/complete": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Complete a session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "n", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Session was never started"}
                }
            }
        },
        "/participants/{id}/sessions/{n}/withdraw": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Withdraw from a session",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "n", "in": "path", "required": true, "type": "integer"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Operator login",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/admin/balance": {
            "get": {
                "tags": ["Admin"],
                "summary": "Counterbalancing counter snapshot",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/codes/{code}": {
            "get": {
                "tags": ["Admin"],
                "summary": "Registration code lookup",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/admin/mappings/{code}/complete": {
            "post": {
                "tags": ["Admin"],
                "summary": "Mark identity mapping completed",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/admin/participants/{id}/events": {
            "get": {
                "tags": ["Admin"],
                "summary": "Enrollment event trail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/participants/{id}/events.csv": {
            "get": {
                "tags": ["Admin"],
                "summary": "Enrollment event trail as CSV",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "CSV payload"}
                }
            }
        }
    },
    "definitions": {
        "ClaimRequest": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "group": {"type": "string"},
                "language": {"type": "string"},
                "country": {"type": "string"}
            },
            "required": ["code"]
        },
        "BeginSessionRequest": {
            "type": "object",
            "properties": {
                "lang": {"type": "string"}
            }
        },
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "ParticipantIdentity": {
            "type": "object",
            "properties": {
                "participant_id": {"type": "string"},
                "group": {"type": "string"},
                "version": {"type": "integer"},
                "next_session": {"type": "string"},
                "resumed": {"type": "boolean"}
            }
        },
        "RouteOutcome": {
            "type": "object",
            "properties": {
                "proceed": {"type": "boolean"},
                "stage": {"type": "string"},
                "reason": {"type": "string"},
                "session": {"type": "integer"},
                "window_open_at": {"type": "string"},
                "window_close_at": {"type": "string"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
