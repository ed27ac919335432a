// Aqua is a local coordination substrate for cooperating agent processes.
// It stores agent registration, leader election, task queues, file locks,
// and messages in SQLite, giving independent short-lived CLI invocations a
// single consistent view of shared state.
package main

import (
	"errors"
	"os"
	"runtime/debug"

	"github.com/aqua-kernel/aqua/internal/commands"
	"github.com/aqua-kernel/aqua/internal/models"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}

	err := commands.Execute(version)
	if err == nil {
		os.Exit(0)
	}

	var re models.RecoverableError
	if errors.As(err, &re) {
		os.Exit(models.ErrorKind(re.ErrorCode()).ExitCode())
	}
	// Unclassified failures report as a store error; exit 1 is reserved
	// for "not initialized" in the exit-code contract.
	os.Exit(models.KindStoreBusy.ExitCode())
}
