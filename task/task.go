// Package task defines the TaskSpec/TaskResult envelope every executor in
// this module speaks: manifest sync, pointer repair, and pipeline steps
// all produce and consume these same two shapes, journaled by task_id.
package task

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Status is a TaskResult's terminal outcome.
type Status string

const (
	StatusOK      Status = "OK"
	StatusPartial Status = "PARTIAL"
	StatusError   Status = "ERROR"
)

// Input references one of a task's source objects.
type Input struct {
	Kind string   `json:"kind"`
	IDs  []string `json:"ids"`
}

// Spec is a unit of planned work, append-only once journaled.
type Spec struct {
	TaskID         string         `json:"task_id"`
	Type           string         `json:"type"`
	CreatedAt      string         `json:"created_at"`
	ParentTaskID   string         `json:"parent_task_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Inputs         []Input        `json:"inputs,omitempty"`
	Params         map[string]any `json:"params"`
}

// Output is one artifact a TaskResult produced.
type Output struct {
	Kind string         `json:"kind"`
	ID   string         `json:"id,omitempty"`
	URI  string         `json:"uri,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Diagnostic is a single machine-readable note attached to a TaskResult.
type Diagnostic struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Stats carries cheap execution telemetry for a TaskResult.
type Stats struct {
	ElapsedMS int `json:"elapsed_ms"`
	TokensIn  int `json:"tokens_in"`
	TokensOut int `json:"tokens_out"`
}

// Provenance records what produced a TaskResult.
type Provenance struct {
	Tool          string  `json:"tool"`
	ToolVersion   string  `json:"tool_version"`
	Model         *string `json:"model"`
	PromptVersion *string `json:"prompt_version"`
}

// Result is the outcome of executing a Spec.
type Result struct {
	TaskID      string       `json:"task_id"`
	Status      Status       `json:"status"`
	Outputs     []Output     `json:"outputs"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Stats       Stats        `json:"stats"`
	Provenance  Provenance   `json:"provenance"`
}

// ToolName is stamped into every Result's provenance.
const ToolName = "mimobrain-memory-system"

// ToolVersion is stamped into every Result's provenance.
const ToolVersion = "0.1"

// NewResult builds a Result with provenance and stats already filled in.
func NewResult(taskID string, status Status, outputs []Output, diags []Diagnostic, elapsed time.Duration) Result {
	return Result{
		TaskID:      taskID,
		Status:      status,
		Outputs:     outputs,
		Diagnostics: diags,
		Stats:       Stats{ElapsedMS: int(elapsed.Milliseconds())},
		Provenance:  Provenance{Tool: ToolName, ToolVersion: ToolVersion},
	}
}

// NewTaskID mints a random "t_<32hex>" task identifier.
func NewTaskID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return "t_" + hex.EncodeToString(b[:])
}
