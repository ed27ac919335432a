package store

import (
	"fmt"
	"strconv"

	"github.com/aqua-kernel/aqua/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained so
// callers can reference store.RecoverableError interchangeably with
// models.RecoverableError.
type RecoverableError = models.RecoverableError

// LockHeldError is returned when acquiring a file lock that another agent
// already holds.
type LockHeldError struct {
	Path         string
	CurrentOwner string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("lock on %q is held by agent %s", e.Path, e.CurrentOwner)
}
func (e *LockHeldError) ErrorCode() string { return string(models.KindAlreadyHeld) }
func (e *LockHeldError) Context() map[string]string {
	return map[string]string{"path": e.Path, "current_owner": e.CurrentOwner}
}
func (e *LockHeldError) SuggestedAction() string {
	return fmt.Sprintf("wait for agent %s to release %q, or choose a different path", e.CurrentOwner, e.Path)
}

// LockNotOwnedError is returned when releasing a lock the caller does not hold.
type LockNotOwnedError struct {
	Path        string
	RequestedBy string
}

func (e *LockNotOwnedError) Error() string {
	return fmt.Sprintf("lock on %q is not owned by %s", e.Path, e.RequestedBy)
}
func (e *LockNotOwnedError) ErrorCode() string { return string(models.KindPermissionDenied) }
func (e *LockNotOwnedError) Context() map[string]string {
	return map[string]string{"path": e.Path, "requested_by": e.RequestedBy}
}
func (e *LockNotOwnedError) SuggestedAction() string {
	return "only the owning agent may release this lock"
}

// RaceLostError is returned when a conditional (CAS) update affected zero
// rows: the caller lost a race to another writer.
type RaceLostError struct {
	Operation string
	ID        string
}

func (e *RaceLostError) Error() string {
	return fmt.Sprintf("%s: lost race updating %s", e.Operation, e.ID)
}
func (e *RaceLostError) ErrorCode() string { return string(models.KindRaceLost) }
func (e *RaceLostError) Context() map[string]string {
	return map[string]string{"operation": e.Operation, "id": e.ID}
}
func (e *RaceLostError) SuggestedAction() string {
	return "retry the operation; another agent committed first"
}

// VersionConflictError is returned when an optimistic-concurrency update
// targets a stale version.
type VersionConflictError struct {
	Entity  string
	ID      string
	Version int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("%s %s: version %d is stale", e.Entity, e.ID, e.Version)
}
func (e *VersionConflictError) ErrorCode() string { return string(models.KindStaleVersion) }
func (e *VersionConflictError) Context() map[string]string {
	return map[string]string{
		"entity":  e.Entity,
		"id":      e.ID,
		"version": strconv.Itoa(e.Version),
	}
}
func (e *VersionConflictError) SuggestedAction() string {
	return "reload the record and retry with its current version"
}

// CycleError is returned when adding a task dependency would introduce a
// cycle in the dependency graph.
type CycleError struct {
	TaskID   string
	ParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("adding dependency %s -> %s would create a cycle", e.TaskID, e.ParentID)
}
func (e *CycleError) ErrorCode() string { return string(models.KindCycleDetected) }
func (e *CycleError) Context() map[string]string {
	return map[string]string{"task_id": e.TaskID, "parent_id": e.ParentID}
}
func (e *CycleError) SuggestedAction() string {
	return "remove one of the conflicting dependency edges"
}

// NoTaskError is returned by claim when no pending task is claimable:
// the queue is empty, every candidate has an unsatisfied dependency, or
// another agent claimed the last candidate first.
type NoTaskError struct{}

func (e *NoTaskError) Error() string     { return "no task available" }
func (e *NoTaskError) ErrorCode() string { return string(models.KindNoTask) }
func (e *NoTaskError) Context() map[string]string {
	return map[string]string{}
}
func (e *NoTaskError) SuggestedAction() string {
	return "add tasks, or wait for a dependency of an existing task to complete"
}

// NotFoundError is returned when a row referenced by id does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Entity, e.ID) }
func (e *NotFoundError) ErrorCode() string { return string(models.KindNotFound) }
func (e *NotFoundError) Context() map[string]string {
	return map[string]string{"entity": e.Entity, "id": e.ID}
}
func (e *NotFoundError) SuggestedAction() string {
	return fmt.Sprintf("verify the %s id and try again", e.Entity)
}
