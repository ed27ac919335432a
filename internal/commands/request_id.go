package commands

import (
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// resolveRequestID returns the caller-supplied idempotency key from
// --request-id or $AQUA_REQUEST_ID, or "" if neither is set.
func resolveRequestID(cmd *cobra.Command) string {
	if v, err := cmd.Flags().GetString("request-id"); err == nil && v != "" {
		return v
	}
	return os.Getenv("AQUA_REQUEST_ID")
}

// requireRequestID resolves a request id, generating a fresh one if the
// caller didn't supply one. Mutating operations always run idempotently; an auto-generated id just
// means this particular invocation cannot itself be safely retried by a
// caller who lost the id, which is the caller's choice, not an error.
func requireRequestID(cmd *cobra.Command) string {
	if rid := resolveRequestID(cmd); rid != "" {
		return rid
	}
	return generateRequestID()
}

// generateRequestID mints a fresh id via google/uuid, used as the default
// idempotency key.
func generateRequestID() string {
	return uuid.NewString()
}
