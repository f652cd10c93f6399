package akashic

import (
	"sort"
	"sync"
	"time"
)

// =============================================================================
// PROJECTED STATES
// =============================================================================

// Run states.
const (
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
	RunAborted   = "ABORTED"
)

// Task states.
const (
	TaskPending    = "PENDING"
	TaskInProgress = "IN_PROGRESS"
	TaskBlocked    = "BLOCKED"
	TaskCompleted  = "COMPLETED"
	TaskFailed     = "FAILED"
)

// Requirement states.
const (
	RequirementPending  = "PENDING"
	RequirementApproved = "APPROVED"
	RequirementRejected = "REJECTED"
)

// Colony states.
const (
	ColonyPending    = "PENDING"
	ColonyInProgress = "IN_PROGRESS"
	ColonyCompleted  = "COMPLETED"
	ColonyFailed     = "FAILED"
	ColonySuspended  = "SUSPENDED"
)

// Worker states.
const (
	WorkerIdle    = "IDLE"
	WorkerWorking = "WORKING"
	WorkerError   = "ERROR"
)

// =============================================================================
// PROJECTIONS
// =============================================================================

// TaskProjection is the folded view of one task's lifecycle events.
type TaskProjection struct {
	TaskID     string                 `json:"task_id"`
	Title      string                 `json:"title,omitempty"`
	Status     string                 `json:"status"`
	Assignee   string                 `json:"assignee,omitempty"`
	Progress   float64                `json:"progress"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RetryCount int                    `json:"retry_count"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// RequirementProjection is the folded view of a confirmation request.
type RequirementProjection struct {
	RequirementID string    `json:"requirement_id"`
	Question      string    `json:"question,omitempty"`
	Status        string    `json:"status"`
	Answer        string    `json:"answer,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ColonyProjection is the folded view of one colony.
type ColonyProjection struct {
	ColonyID  string    `json:"colony_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WorkerProjection is the folded view of one worker.
type WorkerProjection struct {
	WorkerID  string    `json:"worker_id"`
	Status    string    `json:"status"`
	TaskID    string    `json:"task_id,omitempty"`
	Progress  float64   `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunProjection is the folded state of one run stream: the run status plus
// every task, requirement, colony and worker the stream touches.
type RunProjection struct {
	RunID         string                            `json:"run_id"`
	Goal          string                            `json:"goal,omitempty"`
	Status        string                            `json:"status"`
	Tasks         map[string]*TaskProjection        `json:"tasks"`
	Requirements  map[string]*RequirementProjection `json:"requirements"`
	Colonies      map[string]*ColonyProjection      `json:"colonies"`
	Workers       map[string]*WorkerProjection      `json:"workers"`
	EventCount    int                               `json:"event_count"`
	UnknownCount  int                               `json:"unknown_count"`
	LastHeartbeat time.Time                         `json:"last_heartbeat,omitempty"`
	StartedAt     time.Time                         `json:"started_at,omitempty"`
	FinishedAt    time.Time                         `json:"finished_at,omitempty"`
}

// IncompleteTaskIDs returns the ids of tasks not yet COMPLETED, sorted by
// task id for stable reporting.
func (p *RunProjection) IncompleteTaskIDs() []string {
	var ids []string
	for id, t := range p.Tasks {
		if t.Status != TaskCompleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// NewRunProjection returns the empty accumulator for a run stream.
func NewRunProjection(runID string) *RunProjection {
	return &RunProjection{
		RunID:        runID,
		Status:       RunRunning,
		Tasks:        map[string]*TaskProjection{},
		Requirements: map[string]*RequirementProjection{},
		Colonies:     map[string]*ColonyProjection{},
		Workers:      map[string]*WorkerProjection{},
	}
}

// Project folds a stream's events into a RunProjection. The fold is pure:
// same events, same result. Unknown event types are counted and otherwise
// ignored.
func Project(runID string, events []*Event) *RunProjection {
	p := NewRunProjection(runID)
	for _, e := range events {
		p.apply(e)
	}
	return p
}

func (p *RunProjection) apply(e *Event) {
	p.EventCount++
	if !e.Type.Known() {
		p.UnknownCount++
		return
	}

	switch e.Type {
	case EventRunStarted:
		p.Status = RunRunning
		p.StartedAt = e.Timestamp
		if g := e.PayloadString("goal"); g != "" {
			p.Goal = g
		}
	case EventRunCompleted:
		p.Status = RunCompleted
		p.FinishedAt = e.Timestamp
	case EventRunFailed:
		p.Status = RunFailed
		p.FinishedAt = e.Timestamp
	case EventRunAborted, EventSystemEmergencyStop:
		p.Status = RunAborted
		p.FinishedAt = e.Timestamp

	case EventTaskCreated:
		t := p.task(e)
		if t.Status == TaskFailed {
			t.RetryCount++
		}
		t.Status = TaskPending
		if title := e.PayloadString("title"); title != "" {
			t.Title = title
		}
		t.UpdatedAt = e.Timestamp
	case EventTaskAssigned:
		t := p.task(e)
		t.Status = TaskInProgress
		t.Assignee = e.PayloadString("assignee")
		t.UpdatedAt = e.Timestamp
	case EventTaskProgressed:
		t := p.task(e)
		t.Progress = e.PayloadFloat("progress")
		t.UpdatedAt = e.Timestamp
	case EventTaskCompleted:
		t := p.task(e)
		t.Status = TaskCompleted
		t.Progress = 100
		if r, ok := e.Payload["result"].(map[string]interface{}); ok {
			t.Result = r
		}
		t.UpdatedAt = e.Timestamp
	case EventTaskFailed:
		t := p.task(e)
		t.Status = TaskFailed
		if reason := e.PayloadString("reason"); reason != "" {
			t.Error = reason
		} else {
			t.Error = e.PayloadString("error")
		}
		t.UpdatedAt = e.Timestamp
	case EventTaskBlocked:
		t := p.task(e)
		t.Status = TaskBlocked
		t.UpdatedAt = e.Timestamp
	case EventTaskUnblocked:
		t := p.task(e)
		t.Status = TaskInProgress
		t.UpdatedAt = e.Timestamp

	case EventRequirementCreated:
		r := p.requirement(e)
		r.Status = RequirementPending
		r.Question = e.PayloadString("question")
		r.UpdatedAt = e.Timestamp
	case EventRequirementApproved:
		r := p.requirement(e)
		r.Status = RequirementApproved
		r.Answer = e.PayloadString("answer")
		r.UpdatedAt = e.Timestamp
	case EventRequirementRejected:
		r := p.requirement(e)
		r.Status = RequirementRejected
		r.Answer = e.PayloadString("answer")
		r.UpdatedAt = e.Timestamp

	case EventColonyCreated:
		c := p.colony(e)
		c.Status = ColonyPending
		c.UpdatedAt = e.Timestamp
	case EventColonyStarted, EventColonyResumed:
		c := p.colony(e)
		c.Status = ColonyInProgress
		c.UpdatedAt = e.Timestamp
	case EventColonyCompleted:
		c := p.colony(e)
		c.Status = ColonyCompleted
		c.UpdatedAt = e.Timestamp
	case EventColonyFailed:
		c := p.colony(e)
		c.Status = ColonyFailed
		c.Reason = e.PayloadString("reason")
		c.UpdatedAt = e.Timestamp
	case EventColonySuspended:
		c := p.colony(e)
		c.Status = ColonySuspended
		c.Reason = e.PayloadString("reason")
		c.UpdatedAt = e.Timestamp

	case EventWorkerStarted:
		w := p.worker(e)
		w.Status = WorkerWorking
		w.TaskID = e.TaskID
		w.Progress = 0
		w.UpdatedAt = e.Timestamp
	case EventWorkerProgress:
		w := p.worker(e)
		w.Progress = e.PayloadFloat("progress")
		w.UpdatedAt = e.Timestamp
	case EventWorkerCompleted:
		w := p.worker(e)
		w.Status = WorkerIdle
		w.TaskID = ""
		w.UpdatedAt = e.Timestamp
	case EventWorkerFailed:
		w := p.worker(e)
		if e.PayloadBool("recoverable") {
			w.Status = WorkerIdle
		} else {
			w.Status = WorkerError
		}
		w.TaskID = ""
		w.UpdatedAt = e.Timestamp

	case EventSystemHeartbeat:
		p.LastHeartbeat = e.Timestamp
	}
}

func (p *RunProjection) task(e *Event) *TaskProjection {
	id := e.TaskID
	if id == "" {
		id = e.PayloadString("task_id")
	}
	t, ok := p.Tasks[id]
	if !ok {
		t = &TaskProjection{TaskID: id, Status: TaskPending}
		p.Tasks[id] = t
	}
	return t
}

func (p *RunProjection) requirement(e *Event) *RequirementProjection {
	id := e.PayloadString("requirement_id")
	if id == "" {
		id = e.ID
	}
	r, ok := p.Requirements[id]
	if !ok {
		r = &RequirementProjection{RequirementID: id, Status: RequirementPending}
		p.Requirements[id] = r
	}
	return r
}

func (p *RunProjection) colony(e *Event) *ColonyProjection {
	id := e.ColonyID
	if id == "" {
		id = e.PayloadString("colony_id")
	}
	c, ok := p.Colonies[id]
	if !ok {
		c = &ColonyProjection{ColonyID: id, Status: ColonyPending}
		p.Colonies[id] = c
	}
	return c
}

func (p *RunProjection) worker(e *Event) *WorkerProjection {
	id := e.WorkerID
	if id == "" {
		id = e.PayloadString("worker_id")
	}
	w, ok := p.Workers[id]
	if !ok {
		w = &WorkerProjection{WorkerID: id, Status: WorkerIdle}
		p.Workers[id] = w
	}
	return w
}

// HiveAggregate summarizes every stream in the vault.
type HiveAggregate struct {
	Streams   map[string]*RunProjection `json:"streams"`
	Active    int                       `json:"active"`
	Completed int                       `json:"completed"`
	Failed    int                       `json:"failed"`
}

// Aggregate projects every stream in the vault.
func Aggregate(log *Log) (*HiveAggregate, error) {
	ids, err := log.ListStreams()
	if err != nil {
		return nil, err
	}
	agg := &HiveAggregate{Streams: map[string]*RunProjection{}}
	for _, id := range ids {
		events, err := log.Replay(id)
		if err != nil {
			return nil, err
		}
		p := Project(id, events)
		agg.Streams[id] = p
		switch p.Status {
		case RunRunning:
			agg.Active++
		case RunCompleted:
			agg.Completed++
		default:
			agg.Failed++
		}
	}
	return agg, nil
}

// =============================================================================
// PROJECTION CACHE
// =============================================================================

// ProjectionCache memoizes per-stream projections and invalidates on
// append. Reads that hit the cache skip the replay entirely.
type ProjectionCache struct {
	log *Log

	mu    sync.RWMutex
	cache map[string]*RunProjection
}

// NewProjectionCache wires a cache to the log's append notifications.
func NewProjectionCache(log *Log) *ProjectionCache {
	c := &ProjectionCache{log: log, cache: map[string]*RunProjection{}}
	log.OnAppend(func(streamID string, _ *Event) {
		c.Invalidate(streamID)
	})
	return c
}

// Get returns the stream's projection, replaying only on a cache miss.
func (c *ProjectionCache) Get(streamID string) (*RunProjection, error) {
	c.mu.RLock()
	if p, ok := c.cache[streamID]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	events, err := c.log.Replay(streamID)
	if err != nil {
		return nil, err
	}
	p := Project(streamID, events)

	c.mu.Lock()
	c.cache[streamID] = p
	c.mu.Unlock()
	return p, nil
}

// Invalidate drops the cached projection for a stream.
func (c *ProjectionCache) Invalidate(streamID string) {
	c.mu.Lock()
	delete(c.cache, streamID)
	c.mu.Unlock()
}
