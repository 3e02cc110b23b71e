// Package handler implements the function, shell, and MCP tool handlers
// dispatched by tool.Registry: schema validation, worker-thread
// execution, execution-policy gating, and pooled MCP calls.
package handler

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/indubitably/tool"
)

// dangerousCommandPatterns are substrings that always fail validation for
// any argument the schema identifies as a shell command, regardless of
// sandbox or approval settings.
var dangerousCommandPatterns = []string{
	"rm -rf /",
	"dd if=",
	":(){ :|:& };:",
}

// ValidationError carries the field path for the caller's error_type
// metadata.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ValidateArgs strictly validates args against schema: rejects unknown
// properties when AdditionalProperties is false (the default per the
// spec's wire contract), enforces Required, checks each declared
// property's Type/Enum, and rejects a handful of always-dangerous shell
// command patterns wherever a "command"-shaped string argument is found.
func ValidateArgs(schema *tool.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if schema.AdditionalProperties == nil || !*schema.AdditionalProperties {
		for key := range args {
			if _, ok := schema.Properties[key]; !ok {
				return &ValidationError{Field: key, Msg: "additional property not permitted"}
			}
		}
	}
	for _, req := range schema.Required {
		if _, ok := args[req]; !ok {
			return &ValidationError{Field: req, Msg: "required property missing"}
		}
	}
	for key, prop := range schema.Properties {
		val, present := args[key]
		if !present {
			continue
		}
		if err := validateProperty(key, prop, val); err != nil {
			return err
		}
		if key == "command" || key == "cmd" || key == "script" {
			if s, ok := val.(string); ok {
				if pattern := matchDangerousPattern(s); pattern != "" {
					return &ValidationError{Field: key, Msg: "refused: matches dangerous command pattern " + pattern}
				}
			}
		}
	}
	return nil
}

func matchDangerousPattern(command string) string {
	for _, pattern := range dangerousCommandPatterns {
		if strings.Contains(command, pattern) {
			return pattern
		}
	}
	return ""
}

func validateProperty(key string, prop *tool.Property, val any) error {
	if prop == nil {
		return nil
	}
	if len(prop.Enum) > 0 {
		s, ok := val.(string)
		if !ok || !stringInSlice(s, prop.Enum) {
			return &ValidationError{Field: key, Msg: fmt.Sprintf("must be one of %v", prop.Enum)}
		}
	}
	switch prop.Type {
	case "string":
		if _, ok := val.(string); !ok {
			return &ValidationError{Field: key, Msg: "must be a string"}
		}
	case "integer", "number":
		switch val.(type) {
		case float64, int, int64:
		default:
			return &ValidationError{Field: key, Msg: "must be a number"}
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return &ValidationError{Field: key, Msg: "must be a boolean"}
		}
	case "array":
		if _, ok := val.([]any); !ok {
			return &ValidationError{Field: key, Msg: "must be an array"}
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return &ValidationError{Field: key, Msg: "must be an object"}
		}
	}
	return nil
}

func stringInSlice(s string, list []string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
