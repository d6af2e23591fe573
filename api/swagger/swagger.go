package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Timetable API",
        "description": "Weekly timetable generation, publication, and teacher availability service",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Timetable", "description": "Feasibility, preview, publish, delete workflow"},
        {"name": "Availability", "description": "Teacher weekly availability grids"},
        {"name": "Constraints", "description": "Structural scheduling rules"},
        {"name": "Exports", "description": "Background CSV/PDF exports of published grids"}
    ],
    "paths": {
        "/timetable/feasibility": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Check whether a class can be scheduled",
                "description": "Runs every feasibility check and reports the complete obstruction list without generating a timetable.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/FeasibilityRequest"}}
                ],
                "responses": {
                    "200": {"description": "Feasibility report", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Class is infeasible; obstructions listed"}
                }
            }
        },
        "/timetable/previews": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Generate a timetable preview for every section of a class",
                "description": "Validates feasibility, distributes slots, and holds the result in memory under a token. Nothing is persisted until the preview is published.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GeneratePreviewRequest"}}
                ],
                "responses": {
                    "201": {"description": "Preview held under token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Schedule name or identity already published"},
                    "422": {"description": "Infeasible or generation failed"}
                }
            }
        },
        "/timetable/previews/{token}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Fetch a held preview by token",
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Preview", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown or expired token"}
                }
            },
            "delete": {
                "tags": ["Timetable"],
                "summary": "Discard a held preview",
                "description": "Drops the in-memory candidate. Never touches published schedules or teacher availability.",
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "Discarded"}
                }
            }
        },
        "/timetable/previews/{token}/publish": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Publish a held preview atomically",
                "description": "Re-validates teacher availability under lock, inserts every cell, and flips the consumed slots in one transaction.",
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown or expired token"},
                    "409": {"description": "Name conflict or availability changed since preview"}
                }
            }
        },
        "/timetable/publish": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Publish a timetable",
                "description": "Publishes a held preview by token, or regenerates and publishes in one step when identity fields are supplied instead.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PublishRequest"}}
                ],
                "responses": {
                    "200": {"description": "Published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Name conflict or availability changed since preview"},
                    "422": {"description": "Infeasible or generation failed"}
                }
            }
        },
        "/timetable/schedule": {
            "delete": {
                "tags": ["Timetable"],
                "summary": "Delete a published schedule",
                "description": "Removes the grid's cells and restores the assigned availability slots of its teachers in one transaction.",
                "parameters": [
                    {"name": "academicYearId", "in": "query", "type": "string", "required": true},
                    {"name": "sessionType", "in": "query", "type": "string", "required": true, "enum": ["morning", "evening"]},
                    {"name": "classId", "in": "query", "type": "string", "required": true},
                    {"name": "section", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Deletion result", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No published schedule for the identity"}
                }
            }
        },
        "/timetable/conflicts": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Inspect published schedules for conflicts",
                "parameters": [
                    {"name": "academicYearId", "in": "query", "type": "string", "required": true},
                    {"name": "sessionType", "in": "query", "type": "string", "required": true, "enum": ["morning", "evening"]},
                    {"name": "classId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Conflict list", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/weekly": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Render one published section grid as a weekly matrix",
                "parameters": [
                    {"name": "academicYearId", "in": "query", "type": "string", "required": true},
                    {"name": "sessionType", "in": "query", "type": "string", "required": true, "enum": ["morning", "evening"]},
                    {"name": "classId", "in": "query", "type": "string", "required": true},
                    {"name": "section", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Weekly view", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No published schedule for the identity"}
                }
            }
        },
        "/timetable/schedules": {
            "get": {
                "tags": ["Timetable"],
                "summary": "List published schedules for a year and session",
                "parameters": [
                    {"name": "academicYearId", "in": "query", "type": "string", "required": true},
                    {"name": "sessionType", "in": "query", "type": "string", "required": true, "enum": ["morning", "evening"]}
                ],
                "responses": {
                    "200": {"description": "Published summaries", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/runs": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Page through generation run history",
                "parameters": [
                    {"name": "academicYearId", "in": "query", "type": "string", "required": true},
                    {"name": "sessionType", "in": "query", "type": "string", "required": true, "enum": ["morning", "evening"]},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Run history", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/metrics": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Aggregated generation and publish counters",
                "responses": {
                    "200": {"description": "Metrics snapshot", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/exports": {
            "post": {
                "tags": ["Exports"],
                "summary": "Queue a timetable export",
                "description": "Renders one published section grid to CSV or PDF in the background. Poll the returned job for a signed download link.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateExportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Job queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No published schedule for the identity"}
                }
            }
        },
        "/timetable/exports/{id}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Get export job status",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Job status", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown job"}
                }
            }
        },
        "/timetable/exports/download/{token}": {
            "get": {
                "tags": ["Exports"],
                "summary": "Download a finished export via signed token",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        },
        "/availability/teachers/{id}": {
            "get": {
                "tags": ["Availability"],
                "summary": "Get a teacher's weekly availability grid",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Availability grid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Availability"],
                "summary": "Replace a teacher's self-declared availability",
                "description": "Slots consumed by a published schedule stay assigned; redeclaring them is rejected with the conflicting cells listed.",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateAvailabilityRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated grid", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Blocked cells are consumed by a published schedule"}
                }
            }
        },
        "/availability/summary": {
            "get": {
                "tags": ["Availability"],
                "summary": "Aggregate availability for a class's teachers",
                "parameters": [
                    {"name": "classId", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Per-teacher free/assigned/unavailable counts", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/constraints": {
            "post": {
                "tags": ["Constraints"],
                "summary": "Register a scheduling constraint",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateConstraintRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Constraints"],
                "summary": "List scheduling constraints",
                "parameters": [
                    {"name": "academicYearId", "in": "query", "type": "string", "required": true},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "subjectId", "in": "query", "type": "string"},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string", "enum": ["forbidden", "required", "max_consecutive", "min_break"]},
                    {"name": "activeOnly", "in": "query", "type": "boolean"}
                ],
                "responses": {
                    "200": {"description": "Constraints", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/constraints/{id}": {
            "get": {
                "tags": ["Constraints"],
                "summary": "Get one scheduling constraint",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "Constraint", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown constraint"}
                }
            },
            "put": {
                "tags": ["Constraints"],
                "summary": "Replace a scheduling constraint",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateConstraintRequest"}}
                ],
                "responses": {
                    "200": {"description": "Updated", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown constraint"}
                }
            },
            "delete": {
                "tags": ["Constraints"],
                "summary": "Delete a scheduling constraint",
                "parameters": [
                    {"name": "id", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "204": {"description": "Deleted"}
                }
            }
        }
    },
    "definitions": {
        "FeasibilityRequest": {
            "type": "object",
            "properties": {
                "academicYearId": {"type": "string"},
                "sessionType": {"type": "string", "enum": ["morning", "evening"]},
                "classId": {"type": "string"}
            },
            "required": ["academicYearId", "sessionType", "classId"]
        },
        "GeneratePreviewRequest": {
            "type": "object",
            "properties": {
                "academicYearId": {"type": "string"},
                "sessionType": {"type": "string", "enum": ["morning", "evening"]},
                "classId": {"type": "string"},
                "scheduleName": {"type": "string"}
            },
            "required": ["academicYearId", "sessionType", "classId", "scheduleName"]
        },
        "PublishRequest": {
            "type": "object",
            "properties": {
                "previewToken": {"type": "string"},
                "academicYearId": {"type": "string"},
                "sessionType": {"type": "string", "enum": ["morning", "evening"]},
                "classId": {"type": "string"},
                "scheduleName": {"type": "string"}
            }
        },
        "UpdateAvailabilityRequest": {
            "type": "object",
            "properties": {
                "slots": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/AvailabilitySlot"}
                }
            },
            "required": ["slots"]
        },
        "AvailabilitySlot": {
            "type": "object",
            "properties": {
                "day": {"type": "integer", "minimum": 0, "maximum": 4},
                "period": {"type": "integer", "minimum": 0, "maximum": 5},
                "status": {"type": "string", "enum": ["free", "assigned", "unavailable"]}
            },
            "required": ["day", "period", "status"]
        },
        "CreateConstraintRequest": {
            "type": "object",
            "properties": {
                "academicYearId": {"type": "string"},
                "type": {"type": "string", "enum": ["forbidden", "required", "max_consecutive", "min_break"]},
                "classId": {"type": "string"},
                "subjectId": {"type": "string"},
                "teacherId": {"type": "string"},
                "day": {"type": "integer"},
                "period": {"type": "integer"},
                "periodRangeStart": {"type": "integer"},
                "periodRangeEnd": {"type": "integer"},
                "maxConsecutive": {"type": "integer"},
                "minBreak": {"type": "integer"},
                "appliesToAllSections": {"type": "boolean"},
                "sessionType": {"type": "string", "enum": ["morning", "evening", "both"]},
                "priority": {"type": "integer", "minimum": 1, "maximum": 4},
                "description": {"type": "string"},
                "active": {"type": "boolean"}
            },
            "required": ["academicYearId", "type", "sessionType", "priority"]
        },
        "UpdateConstraintRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["forbidden", "required", "max_consecutive", "min_break"]},
                "classId": {"type": "string"},
                "subjectId": {"type": "string"},
                "teacherId": {"type": "string"},
                "day": {"type": "integer"},
                "period": {"type": "integer"},
                "periodRangeStart": {"type": "integer"},
                "periodRangeEnd": {"type": "integer"},
                "maxConsecutive": {"type": "integer"},
                "minBreak": {"type": "integer"},
                "appliesToAllSections": {"type": "boolean"},
                "sessionType": {"type": "string", "enum": ["morning", "evening", "both"]},
                "priority": {"type": "integer", "minimum": 1, "maximum": 4},
                "description": {"type": "string"},
                "active": {"type": "boolean"}
            },
            "required": ["type", "sessionType", "priority"]
        },
        "CreateExportRequest": {
            "type": "object",
            "properties": {
                "academicYearId": {"type": "string"},
                "sessionType": {"type": "string", "enum": ["morning", "evening"]},
                "classId": {"type": "string"},
                "section": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            },
            "required": ["academicYearId", "sessionType", "classId", "section", "format"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
