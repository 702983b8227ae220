package openapi

// Spec generates the OpenAPI 3.0 specification for the fixed route set
func Spec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":       "Provisionr API",
			"description": "Template provisioning service: register templates, render per-device configurations with generated credentials",
			"version":     "1.0.0",
		},
		"servers": []map[string]any{
			{"url": "/", "description": "Current server"},
		},
		"paths":      buildPaths(),
		"components": buildComponents(),
	}
}

func errorContent() map[string]any {
	return map[string]any{
		"application/json": map[string]any{
			"schema": map[string]any{"$ref": "#/components/schemas/ErrorResponse"},
		},
	}
}

func statusContent() map[string]any {
	return map[string]any{
		"application/json": map[string]any{
			"schema": map[string]any{"$ref": "#/components/schemas/StatusResponse"},
		},
	}
}

func transportResponses() map[string]any {
	return map[string]any{
		"503": map[string]any{"description": "Command queue full"},
		"504": map[string]any{"description": "Command timed out"},
	}
}

func buildPaths() map[string]any {
	paths := make(map[string]any)

	nameParam := map[string]any{
		"name":        "name",
		"in":          "path",
		"required":    true,
		"description": "Template name",
		"schema":      map[string]any{"type": "string"},
	}

	merge := func(base map[string]any, extra map[string]any) map[string]any {
		out := make(map[string]any, len(base)+len(extra))
		for k, v := range base {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	paths["/api/v1/template/{name}"] = map[string]any{
		"post": map[string]any{
			"summary":     "Register or replace template content",
			"description": "Multipart upload; the file is validated against the template engine before it is stored",
			"tags":        []string{"Templates"},
			"parameters":  []map[string]any{nameParam},
			"requestBody": map[string]any{
				"required": true,
				"content": map[string]any{
					"multipart/form-data": map[string]any{
						"schema": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"file": map[string]any{"type": "string", "format": "binary"},
							},
						},
					},
				},
			},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{"description": "Template stored", "content": statusContent()},
				"400": map[string]any{"description": "Invalid template syntax or missing file", "content": errorContent()},
			}),
		},
		"get": map[string]any{
			"summary":     "Render a template for one device",
			"description": "Query parameters become template variables; the identity field selects the cached artifact if one exists",
			"tags":        []string{"Rendering"},
			"parameters": []map[string]any{
				nameParam,
				{
					"name":        "mac_address",
					"in":          "query",
					"required":    false,
					"description": "Identity value (parameter name follows the template's id_field)",
					"schema":      map[string]any{"type": "string"},
				},
			},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{
					"description": "Rendered content",
					"content": map[string]any{
						"text/plain": map[string]any{
							"schema": map[string]any{"type": "string"},
						},
					},
				},
				"400": map[string]any{
					"description": "Unknown template, empty template, missing identity, or render failure",
					"content":     errorContent(),
				},
			}),
		},
		"delete": map[string]any{
			"summary":     "Delete a template",
			"description": "Removes the template registration; previously rendered artifacts are kept",
			"tags":        []string{"Templates"},
			"parameters":  []map[string]any{nameParam},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{"description": "Template deleted", "content": statusContent()},
			}),
		},
	}

	paths["/api/v1/template/{name}/values"] = map[string]any{
		"put": map[string]any{
			"summary":    "Set default values for a template",
			"tags":       []string{"Templates"},
			"parameters": []map[string]any{nameParam},
			"requestBody": map[string]any{
				"required": true,
				"content": map[string]any{
					"application/yaml": map[string]any{
						"schema": map[string]any{"type": "string"},
					},
				},
			},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{"description": "Values stored", "content": statusContent()},
				"400": map[string]any{"description": "Unknown template or invalid YAML", "content": errorContent()},
			}),
		},
	}

	paths["/api/v1/config/{name}"] = map[string]any{
		"get": map[string]any{
			"summary":    "Get template configuration",
			"tags":       []string{"Templates"},
			"parameters": []map[string]any{nameParam},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{
					"description": "Template configuration",
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"$ref": "#/components/schemas/TemplateConfig"},
						},
					},
				},
				"404": map[string]any{"description": "Template not found", "content": errorContent()},
			}),
		},
		"put": map[string]any{
			"summary":    "Set template configuration",
			"tags":       []string{"Templates"},
			"parameters": []map[string]any{nameParam},
			"requestBody": map[string]any{
				"required": true,
				"content": map[string]any{
					"application/json": map[string]any{
						"schema": map[string]any{"$ref": "#/components/schemas/TemplateConfig"},
					},
				},
			},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{"description": "Configuration stored", "content": statusContent()},
				"400": map[string]any{"description": "Unknown template or invalid configuration", "content": errorContent()},
			}),
		},
	}

	paths["/api/v1/rendered/{name}"] = map[string]any{
		"get": map[string]any{
			"summary":    "List rendered artifacts for a template",
			"tags":       []string{"Rendering"},
			"parameters": []map[string]any{nameParam},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{
					"description": "Rendered artifact summaries, newest first",
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{
								"type":  "array",
								"items": map[string]any{"$ref": "#/components/schemas/RenderedSummary"},
							},
						},
					},
				},
			}),
		},
	}

	paths["/api/v1/rendered/{name}/{id_value}"] = map[string]any{
		"get": map[string]any{
			"summary": "Fetch a stored artifact",
			"tags":    []string{"Rendering"},
			"parameters": []map[string]any{
				nameParam,
				{
					"name":        "id_value",
					"in":          "path",
					"required":    true,
					"description": "Identity field value",
					"schema":      map[string]any{"type": "string"},
				},
			},
			"responses": merge(transportResponses(), map[string]any{
				"200": map[string]any{
					"description": "Stored artifact",
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{"$ref": "#/components/schemas/RenderedArtifact"},
						},
					},
				},
				"404": map[string]any{"description": "No artifact for this identity", "content": errorContent()},
			}),
		},
	}

	paths["/health"] = map[string]any{
		"get": map[string]any{
			"summary":     "Health check",
			"description": "Returns service and catalogue health status",
			"tags":        []string{"System"},
			"responses": map[string]any{
				"200": map[string]any{"description": "Service is healthy"},
				"503": map[string]any{"description": "Catalogue unavailable"},
			},
		},
	}

	paths["/metrics"] = map[string]any{
		"get": map[string]any{
			"summary":     "Metrics snapshot",
			"description": "Request counts, latencies, cache hit rates, and runtime statistics",
			"tags":        []string{"System"},
			"responses": map[string]any{
				"200": map[string]any{"description": "Metrics snapshot"},
			},
		},
	}

	paths["/config/loglevel"] = map[string]any{
		"get": map[string]any{
			"summary": "Get current log level",
			"tags":    []string{"System"},
			"responses": map[string]any{
				"200": map[string]any{"description": "Current log level"},
			},
		},
		"post": map[string]any{
			"summary":     "Change log level",
			"description": "Change log level at runtime without restart",
			"tags":        []string{"System"},
			"parameters": []map[string]any{
				{
					"name":        "level",
					"in":          "query",
					"required":    true,
					"description": "Log level to set",
					"schema": map[string]any{
						"type": "string",
						"enum": []string{"debug", "info", "warn", "error"},
					},
				},
			},
			"responses": map[string]any{
				"200": map[string]any{"description": "Log level changed"},
				"400": map[string]any{"description": "Invalid level"},
			},
		},
	}

	return paths
}

func buildComponents() map[string]any {
	return map[string]any{
		"schemas": map[string]any{
			"StatusResponse": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{
						"type":    "string",
						"example": "ok",
					},
					"message": map[string]any{
						"type": "string",
					},
				},
			},
			"ErrorResponse": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{
						"type":    "string",
						"example": "error",
					},
					"error": map[string]any{
						"type":        "string",
						"description": "Error message",
					},
				},
			},
			"TemplateConfig": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id_field": map[string]any{
						"type":        "string",
						"description": "Query parameter identifying the device",
						"default":     "mac_address",
					},
					"dynamic_fields": map[string]any{
						"type":  "array",
						"items": map[string]any{"$ref": "#/components/schemas/DynamicField"},
					},
				},
			},
			"DynamicField": map[string]any{
				"type":     "object",
				"required": []string{"field_name", "type"},
				"properties": map[string]any{
					"field_name": map[string]any{
						"type": "string",
					},
					"type": map[string]any{
						"type": "string",
						"enum": []string{"alphanumeric", "passphrase"},
					},
					"length": map[string]any{
						"type":        "integer",
						"description": "Character count (alphanumeric only)",
					},
					"word_count": map[string]any{
						"type":        "integer",
						"description": "Word count (passphrase only)",
					},
					"hashing_algorithm": map[string]any{
						"type":    "string",
						"enum":    []string{"none", "sha512", "yescrypt"},
						"default": "none",
					},
				},
			},
			"RenderedSummary": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id_field_value": map[string]any{"type": "string"},
					"created_at":     map[string]any{"type": "string", "format": "date-time"},
				},
			},
			"RenderedArtifact": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":               map[string]any{"type": "integer"},
					"template_name":    map[string]any{"type": "string"},
					"id_field_value":   map[string]any{"type": "string"},
					"rendered_content": map[string]any{"type": "string"},
					"generated_values": map[string]any{
						"type":        "string",
						"description": "YAML document of generated (post-hash) values",
					},
					"created_at": map[string]any{"type": "string", "format": "date-time"},
				},
			},
		},
	}
}
