package commands

import (
	"github.com/spf13/cobra"

	"github.com/aqua-kernel/aqua/internal/app"
	"github.com/aqua-kernel/aqua/internal/output"
	"github.com/aqua-kernel/aqua/internal/store"
)

// NewInitCmd creates ".aqua/{aqua.db,sessions/,config.yaml}" in the current
// directory.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an Aqua project in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			aquaDir, err := app.EnsureAquaDir()
			if err != nil {
				return cmdErr(err)
			}

			if err := app.WriteDefaultConfig(app.ConfigPath(aquaDir)); err != nil {
				return cmdErr(err)
			}

			dbPath := app.DBPath(aquaDir)
			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = store.CloseDB(db) }()

			current, latest, err := store.SchemaVersion(db)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				AquaDir       string `json:"aqua_dir"`
				DBPath        string `json:"db_path"`
				SchemaVersion int64  `json:"schema_version"`
				LatestVersion int64  `json:"latest_version"`
			}
			return output.PrintSuccess(resp{AquaDir: aquaDir, DBPath: dbPath, SchemaVersion: current, LatestVersion: latest})
		},
	}
	return cmd
}
