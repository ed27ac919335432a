package commands

import (
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/aqua-kernel/aqua/internal/output"
)

// commandSchema describes one subcommand for machine consumers: agents
// discover the surface by reading this instead of parsing --help text.
type commandSchema struct {
	Command     string       `json:"command"`
	Description string       `json:"description"`
	Flags       []flagSchema `json:"flags,omitempty"`
}

type flagSchema struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewSchemaCmd emits a JSON description of every command and its flags.
func NewSchemaCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Describe every command and flag as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out []commandSchema
			collectSchemas(root, &out)
			return output.PrintSuccess(out)
		},
	}
}

func collectSchemas(cmd *cobra.Command, out *[]commandSchema) {
	if cmd.Runnable() && cmd.Name() != "aqua" && cmd.Name() != "schema" && !cmd.Hidden {
		*out = append(*out, describeCommand(cmd))
	}
	for _, child := range cmd.Commands() {
		collectSchemas(child, out)
	}
}

func describeCommand(cmd *cobra.Command) commandSchema {
	s := commandSchema{
		Command:     cmd.CommandPath(),
		Description: cmd.Short,
	}
	seen := map[string]bool{}
	addFlag := func(f *pflag.Flag) {
		if f.Hidden || seen[f.Name] {
			return
		}
		seen[f.Name] = true
		s.Flags = append(s.Flags, flagSchema{
			Name:        f.Name,
			Type:        flagJSONType(f.Value.Type()),
			Default:     flagDefault(f.Value.Type(), f.DefValue),
			Description: f.Usage,
		})
	}
	cmd.NonInheritedFlags().VisitAll(addFlag)
	cmd.InheritedFlags().VisitAll(addFlag)
	return s
}

func flagJSONType(flagType string) string {
	switch flagType {
	case "int", "int64", "int32", "uint", "uint64", "uint32":
		return "integer"
	case "bool":
		return "boolean"
	default:
		return "string"
	}
}

func flagDefault(flagType, raw string) any {
	if raw == "" {
		return nil
	}
	switch flagType {
	case "bool":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	case "int", "int64", "int32", "uint", "uint64", "uint32":
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return raw
}
