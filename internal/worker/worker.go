// Package worker implements the task execution runtime: a worker takes one
// task at a time, reports progress into the run stream, and can drive the
// task through an LLM tool loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/config"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/types"
)

var (
	// ErrNotIdle indicates a task was offered to a busy or errored worker.
	ErrNotIdle = errors.New("worker is not idle")

	// ErrNoTask indicates progress or completion without a current task.
	ErrNoTask = errors.New("worker has no current task")

	// ErrInvalidProgress rejects progress outside [0,100].
	ErrInvalidProgress = errors.New("progress must be within [0,100]")
)

// Worker executes one task at a time. State transitions append worker.*
// events to the run stream.
type Worker struct {
	ID  string
	log *akashic.Log
	llm types.LLMClient
	cfg config.WorkerConfig

	mu       sync.Mutex
	state    string
	runID    string
	taskID   string
	progress float64
}

// New creates an idle worker.
func New(id string, log *akashic.Log, llm types.LLMClient, cfg config.WorkerConfig) *Worker {
	return &Worker{ID: id, log: log, llm: llm, cfg: cfg, state: akashic.WorkerIdle}
}

// State returns the worker's current state.
func (w *Worker) State() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// CurrentTask returns the task the worker holds, or "".
func (w *Worker) CurrentTask() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.taskID
}

func (w *Worker) emit(runID string, typ akashic.EventType, payload map[string]interface{}) {
	if w.log == nil {
		return
	}
	e := akashic.NewEvent(typ, w.ID, runID, payload)
	e.WorkerID = w.ID
	e.TaskID = w.taskID
	if _, err := w.log.Append(runID, e); err != nil {
		logging.Worker("record %s failed: %v", typ, err)
	}
}

// ReceiveTask flips IDLE → WORKING and records worker.started. The
// payload carries the tool context the Sentinel's policy scan reads.
func (w *Worker) ReceiveTask(runID, taskID, toolName string, confirmed bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != akashic.WorkerIdle {
		return fmt.Errorf("%w: %s is %s", ErrNotIdle, w.ID, w.state)
	}
	w.state = akashic.WorkerWorking
	w.runID = runID
	w.taskID = taskID
	w.progress = 0

	w.emit(runID, akashic.EventWorkerStarted, map[string]interface{}{
		"task_id":   taskID,
		"tool_name": toolName,
		"confirmed": confirmed,
	})
	return nil
}

// ReportProgress records worker.progress for the current task.
func (w *Worker) ReportProgress(progress float64, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.taskID == "" {
		return ErrNoTask
	}
	if progress < 0 || progress > 100 {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, progress)
	}
	w.progress = progress
	w.emit(w.runID, akashic.EventWorkerProgress, map[string]interface{}{
		"progress": progress,
		"message":  message,
	})
	return nil
}

// CompleteTask records worker.completed and returns the worker to IDLE.
func (w *Worker) CompleteTask(result map[string]interface{}, deliverables []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.taskID == "" {
		return ErrNoTask
	}
	w.emit(w.runID, akashic.EventWorkerCompleted, map[string]interface{}{
		"result":       result,
		"deliverables": deliverables,
	})
	w.state = akashic.WorkerIdle
	w.taskID = ""
	w.runID = ""
	return nil
}

// FailTask records worker.failed. Recoverable failures return the worker
// to IDLE; unrecoverable ones leave it in ERROR.
func (w *Worker) FailTask(reason string, recoverable bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.taskID == "" {
		return ErrNoTask
	}
	w.emit(w.runID, akashic.EventWorkerFailed, map[string]interface{}{
		"reason":      reason,
		"recoverable": recoverable,
	})
	if recoverable {
		w.state = akashic.WorkerIdle
	} else {
		w.state = akashic.WorkerError
	}
	w.taskID = ""
	w.runID = ""
	return nil
}

// ExecuteTaskWithLLM glues receive → LLM loop → complete/fail. The loop's
// final text becomes the task result.
func (w *Worker) ExecuteTaskWithLLM(ctx context.Context, runID, taskID, goal string, registry *ToolRegistry) (map[string]interface{}, error) {
	if err := w.ReceiveTask(runID, taskID, "llm_loop", true); err != nil {
		return nil, err
	}

	text, err := w.runLoop(ctx, runID, goal, registry)
	if err != nil {
		recoverable := !errors.Is(err, context.Canceled)
		_ = w.FailTask(err.Error(), recoverable)
		return nil, err
	}

	result := map[string]interface{}{"text": text}
	if err := w.CompleteTask(result, nil); err != nil {
		return nil, err
	}
	return result, nil
}
