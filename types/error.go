package types

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
)

var (
	_ error = &MalformedDefinitionError{}
	_ error = &CyclicDependencyError{}
	_ error = &UnknownDependencyError{}
	_ error = &DuplicateTaskError{}
	_ error = &LaunchFailedError{}
	_ error = &RemoteExecutionFailedError{}
	_ error = &BackendUnavailableError{}
)

// MalformedDefinitionError names the field of the workflow text that failed to parse.
type MalformedDefinitionError struct {
	Field  string
	Reason string
}

func NewMalformedDefinition(field, format string, args ...any) error {
	return &MalformedDefinitionError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *MalformedDefinitionError) Error() string {
	if e.Field == "" {
		return "malformed definition: " + e.Reason
	}
	return fmt.Sprintf("malformed definition: %s: %s", e.Field, e.Reason)
}

type CyclicDependencyError struct {
	Tasks []string
}

func NewCyclicDependency(tasks ...string) error {
	return &CyclicDependencyError{Tasks: tasks}
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency among tasks: " + strings.Join(e.Tasks, ", ")
}

type UnknownDependencyError struct {
	Task       string
	Dependency string
}

func NewUnknownDependency(task, dependency string) error {
	return &UnknownDependencyError{Task: task, Dependency: dependency}
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s depends on unknown task %s", e.Task, e.Dependency)
}

type DuplicateTaskError struct {
	Task string
}

func NewDuplicateTask(task string) error {
	return &DuplicateTaskError{Task: task}
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %s is defined more than once", e.Task)
}

// LaunchFailedError is terminal for the task; it is never retried.
type LaunchFailedError struct {
	TaskID string
	Cause  error
}

func NewLaunchFailed(taskID string, cause error) error {
	return &LaunchFailedError{TaskID: taskID, Cause: cause}
}

func (e *LaunchFailedError) Error() string {
	return fmt.Sprintf("launch task %s failed: %v", e.TaskID, e.Cause)
}

func (e *LaunchFailedError) Unwrap() error {
	return e.Cause
}

// RemoteExecutionFailedError is reported by the backend after the run started.
type RemoteExecutionFailedError struct {
	TaskID      string
	RunHandle   RunHandle
	ResultState string
	Message     string
}

func (e *RemoteExecutionFailedError) Error() string {
	s := fmt.Sprintf("run %s of task %s ended with %s", e.RunHandle, e.TaskID, e.ResultState)
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// BackendUnavailableError is transient: the poller skips the cycle instead
// of failing the task.
type BackendUnavailableError struct {
	Cause error
}

func NewBackendUnavailable(cause error) error {
	return &BackendUnavailableError{Cause: cause}
}

func NewBackendUnavailablef(format string, args ...any) error {
	return NewBackendUnavailable(errors.Errorf(format, args...))
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Cause)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Cause
}

func IsMalformedDefinition(err error) bool {
	var e *MalformedDefinitionError
	return errors.As(err, &e)
}

func IsCyclicDependency(err error) bool {
	var e *CyclicDependencyError
	return errors.As(err, &e)
}

func IsUnknownDependency(err error) bool {
	var e *UnknownDependencyError
	return errors.As(err, &e)
}

func IsDuplicateTask(err error) bool {
	var e *DuplicateTaskError
	return errors.As(err, &e)
}

// IsDefinitionError reports errors that reject a submission as a whole.
func IsDefinitionError(err error) bool {
	return IsMalformedDefinition(err) || IsCyclicDependency(err) ||
		IsUnknownDependency(err) || IsDuplicateTask(err)
}

func IsLaunchFailed(err error) bool {
	var e *LaunchFailedError
	return errors.As(err, &e)
}

func IsBackendUnavailable(err error) bool {
	var e *BackendUnavailableError
	return errors.As(err, &e)
}
