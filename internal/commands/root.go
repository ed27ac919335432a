package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/app"
	"github.com/aqua-kernel/aqua/internal/output"
)

// Execute runs the CLI application.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "aqua",
		Short:         "A local coordination substrate for cooperating agent processes",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if projectDir, err := cmd.Flags().GetString("project-dir"); err == nil && projectDir != "" {
				app.SetProjectDirOverride(projectDir)
			}
			return nil
		},
	}

	root.PersistentFlags().String("project-dir", "", "Override the directory searched for .aqua (default: walk up from cwd)")
	root.PersistentFlags().StringP("request-id", "r", "", "Idempotency key for mutating operations (default: $AQUA_REQUEST_ID)")
	root.Flags().BoolP("version", "v", false, "Print the aqua version")

	root.AddCommand(NewInitCmd())
	root.AddCommand(NewJoinCmd())
	root.AddCommand(NewLeaveCmd())
	root.AddCommand(NewWhoamiCmd())
	root.AddCommand(NewAgentsCmd())
	root.AddCommand(NewTaskCmd())
	root.AddCommand(NewLockCmd())
	root.AddCommand(NewLeaderCmd())
	root.AddCommand(NewEventsCmd())
	root.AddCommand(NewDoctorCmd())
	root.AddCommand(NewStatusCmd())
	for _, c := range NewMessageCmds() {
		root.AddCommand(c)
	}
	root.AddCommand(NewSchemaCmd(root))

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Default().Error("command failed", "error", err.Error())
		}
	}
	return err
}
