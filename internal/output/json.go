// Package output renders the single JSON document every aqua invocation
// writes to stdout. Agents parse this envelope; human-oriented logging
// goes to stderr via slog, never here.
package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/aqua-kernel/aqua/internal/models"
)

const schemaVersion = "v1"

// Response is the envelope wrapping every command result. Exactly one
// Response is printed per invocation, success or failure.
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            any               `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// Success wraps a command result.
func Success(data any) Response {
	return Response{SchemaVersion: schemaVersion, Success: true, Data: data}
}

// Error wraps a failure. Errors implementing models.RecoverableError also
// carry their kind, context identifiers, and a remediation hint.
func Error(err error) Response {
	resp := Response{SchemaVersion: schemaVersion, Error: err.Error()}
	var re models.RecoverableError
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
		resp.SuggestedAction = re.SuggestedAction()
	}
	return resp
}

// Encode writes v as JSON to w. Compact unless pretty is set; a trailing
// newline either way.
func Encode(w io.Writer, pretty bool, v any) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// PrettyEnabled reports whether the caller asked for indented output.
// Compact is the default: agents consume this, and compact JSON keeps
// token counts down.
func PrettyEnabled() bool {
	v := os.Getenv("AQUA_PRETTY_JSON")
	return v == "1" || v == "true"
}

// PrintSuccess prints a success envelope to stdout.
func PrintSuccess(data any) error {
	return Encode(os.Stdout, PrettyEnabled(), Success(data))
}

// PrintError prints a failure envelope to stdout.
func PrintError(err error) error {
	return Encode(os.Stdout, PrettyEnabled(), Error(err))
}
