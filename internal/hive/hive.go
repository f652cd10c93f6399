// Package hive is the coordination boundary: the Beekeeper drives goals
// through requirement analysis and the pipeline, Queens own colonies and
// their workers, and Handlers expose every public operation over the
// event log with typed errors.
package hive

import (
	"context"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/fsm"
	"github.com/k-iijima/hiveforge/internal/honeycomb"
	"github.com/k-iijima/hiveforge/internal/logging"
	"github.com/k-iijima/hiveforge/internal/messenger"
	"github.com/k-iijima/hiveforge/internal/pipeline"
	"github.com/k-iijima/hiveforge/internal/ra"
	"github.com/k-iijima/hiveforge/internal/referee"
	"github.com/k-iijima/hiveforge/internal/scout"
	"github.com/k-iijima/hiveforge/internal/types"
	"github.com/k-iijima/hiveforge/internal/worker"
)

// =============================================================================
// BEEKEEPER
// =============================================================================

// Beekeeper is the user-facing coordinator. All collaborators are
// explicit fields; nil optional collaborators disable their stage.
type Beekeeper struct {
	Log      *akashic.Log
	Pipeline *pipeline.Pipeline
	Analyzer *ra.Analyzer       // nil skips requirement analysis
	Recorder *honeycomb.Recorder // nil skips episode finalization
	Scout    *scout.Scout
	Referee  *referee.Referee
	Ask      types.AskFunc
	LLM      types.LLMClient
}

// HandleGoal runs requirement analysis (when configured) and then the
// execution pipeline. An abandoned analysis blocks dispatch.
func (b *Beekeeper) HandleGoal(ctx context.Context, runID, goal string, opts pipeline.Options) (*pipeline.ColonyResult, error) {
	if b.Analyzer != nil {
		analysis, err := b.Analyzer.Analyze(ctx, runID, goal)
		if err != nil {
			return nil, classify(err)
		}
		if analysis.Outcome == fsm.RAAbandoned {
			return nil, NewError(CodeValidationFailed, "requirement analysis abandoned the goal").
				With("outcome", analysis.Outcome)
		}
		logging.Hive("run %s cleared analysis with outcome %s", runID, analysis.Outcome)
	}

	result, err := b.Pipeline.ExecuteGoal(ctx, runID, goal, opts)
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// ResumeWithApproval forwards an approval decision into the pipeline.
func (b *Beekeeper) ResumeWithApproval(ctx context.Context, requestID string, approved bool, reason string) (*pipeline.ColonyResult, error) {
	result, err := b.Pipeline.ResumeWithApproval(ctx, requestID, approved, reason)
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// FinalizeRun records the finished run as an episode.
func (b *Beekeeper) FinalizeRun(runID string, opts honeycomb.RecordOptions) (*honeycomb.Episode, error) {
	if b.Recorder == nil {
		return nil, nil
	}
	ep, err := b.Recorder.RecordEpisode(runID, opts)
	if err != nil {
		return nil, classify(err)
	}
	return ep, nil
}

// =============================================================================
// QUEEN
// =============================================================================

// Queen owns one colony: its message queue registration, its lock
// holdings and its workers.
type Queen struct {
	ColonyID  string
	Log       *akashic.Log
	Messenger *messenger.Messenger
	Locks     *messenger.LockManager

	workers map[string]*worker.Worker
}

// NewQueen creates a queen and registers its colony with the messenger.
func NewQueen(colonyID string, log *akashic.Log, m *messenger.Messenger, locks *messenger.LockManager) *Queen {
	if m != nil {
		m.Register(colonyID)
	}
	return &Queen{
		ColonyID:  colonyID,
		Log:       log,
		Messenger: m,
		Locks:     locks,
		workers:   map[string]*worker.Worker{},
	}
}

// AddWorker places a worker under this queen.
func (q *Queen) AddWorker(w *worker.Worker) {
	q.workers[w.ID] = w
}

// IdleWorker returns any idle worker, or nil when all are busy.
func (q *Queen) IdleWorker() *worker.Worker {
	for _, w := range q.workers {
		if w.State() == akashic.WorkerIdle {
			return w
		}
	}
	return nil
}

// Suspend appends colony.suspended and drains the colony: queued
// messages are discarded and held locks are released so waiters can
// proceed. The caller appends the triggering alert first.
func (q *Queen) Suspend(runID, reason string) error {
	e := akashic.NewEvent(akashic.EventColonySuspended, "queen", runID, map[string]interface{}{
		"colony_id": q.ColonyID,
		"reason":    reason,
	})
	e.ColonyID = q.ColonyID
	if _, err := q.Log.Append(runID, e); err != nil {
		return classify(err)
	}
	q.drain()
	logging.Hive("colony %s suspended on %s: %s", q.ColonyID, runID, reason)
	return nil
}

// Resume appends colony.resumed and re-registers the message queue.
func (q *Queen) Resume(runID string) error {
	e := akashic.NewEvent(akashic.EventColonyResumed, "queen", runID, map[string]interface{}{
		"colony_id": q.ColonyID,
	})
	e.ColonyID = q.ColonyID
	if _, err := q.Log.Append(runID, e); err != nil {
		return classify(err)
	}
	if q.Messenger != nil {
		q.Messenger.Register(q.ColonyID)
	}
	return nil
}

func (q *Queen) drain() {
	if q.Messenger != nil {
		q.Messenger.DiscardFor(q.ColonyID)
	}
	if q.Locks != nil {
		q.Locks.ReleaseAllHeldBy(q.ColonyID)
	}
}
