package app

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
)

// SessionKey derives the deterministic session key for this invocation:
// the first of AQUA_SESSION_ID, the controlling terminal
// device path, the parent process id, else the literal string "default".
// The "default" fallback exists because AI agents often run without a
// TTY; it keeps their identity stable across invocations in one project.
func SessionKey() string {
	if v := os.Getenv("AQUA_SESSION_ID"); v != "" {
		return v
	}
	if tty, ok := controllingTTY(); ok {
		return tty
	}
	if ppid := os.Getppid(); ppid > 1 {
		return "ppid:" + strconv.Itoa(ppid)
	}
	// Reparented to init: no stable parent to key off.
	return "default"
}

// controllingTTY reports the device path of fd 0 if it is a terminal. The
// path is read from the /proc/self/fd/0 link; where that link cannot be
// read (no /proc), the file descriptor number stands in for it, which is
// the same string for every terminal.
func controllingTTY() (string, bool) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return "", false
	}
	if p, err := os.Readlink("/proc/self/fd/0"); err == nil && p != "" {
		return p, true
	}
	return fmt.Sprintf("tty:%d", os.Stdin.Fd()), true
}

// sessionHash hashes a session key into the filename used under
// .aqua/sessions/, so arbitrary session key characters (tty paths
// contain slashes) never leak into a path segment.
func sessionHash(sessionKey string) string {
	sum := sha256.Sum256([]byte(sessionKey))
	return hex.EncodeToString(sum[:])[:16]
}

// SessionFilePath returns the path of the session-to-agent-id file for a
// given session key, under an already-resolved .aqua directory.
func SessionFilePath(aquaDir, sessionKey string) string {
	return SessionsDir(aquaDir) + "/" + sessionHash(sessionKey)
}

// ResolveAgentID resolves "who am I?" in precedence order:
//  1. AQUA_AGENT_ID env var, if set, names the agent directly.
//  2. Otherwise read the session file for the derived session key.
//
// Returns ok=false (not an error) if no identity can be resolved; most
// callers then suggest `aqua join`, matching the KindNotJoined guidance.
func ResolveAgentID(aquaDir string) (agentID string, sessionKey string, ok bool, err error) {
	if v := os.Getenv("AQUA_AGENT_ID"); v != "" {
		return v, "", true, nil
	}
	sessionKey = SessionKey()
	path := SessionFilePath(aquaDir, sessionKey)
	data, readErr := os.ReadFile(path)
	if os.IsNotExist(readErr) {
		return "", sessionKey, false, nil
	}
	if readErr != nil {
		return "", sessionKey, false, fmt.Errorf("read session file: %w", readErr)
	}
	agentID = string(data)
	if agentID == "" {
		return "", sessionKey, false, nil
	}
	return agentID, sessionKey, true, nil
}

// WriteSessionFile persists the session-to-agent-id mapping. Mode 0600
// since the file records a caller's live identity within the project.
func WriteSessionFile(aquaDir, sessionKey, agentID string) error {
	if err := os.MkdirAll(SessionsDir(aquaDir), 0o700); err != nil {
		return fmt.Errorf("ensure sessions dir: %w", err)
	}
	path := SessionFilePath(aquaDir, sessionKey)
	if err := os.WriteFile(path, []byte(agentID), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

// DeleteSessionFile removes the session-to-agent mapping. Missing
// files are not an error; the
// caller may be leaving a session that was never persisted, or retrying
// after a partially-applied leave.
func DeleteSessionFile(aquaDir, sessionKey string) error {
	err := os.Remove(SessionFilePath(aquaDir, sessionKey))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}
