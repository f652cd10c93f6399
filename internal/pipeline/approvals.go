package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/k-iijima/hiveforge/internal/akashic"
	"github.com/k-iijima/hiveforge/internal/orchestrator"
	"github.com/k-iijima/hiveforge/internal/types"
)

// Approval request statuses.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// ApprovalRequest is one persisted pending approval. The full plan rides
// along so a resume after process restart re-enters with the exact plan
// the user saw.
type ApprovalRequest struct {
	RequestID   string                 `json:"request_id"`
	RunID       string                 `json:"run_id"`
	Goal        string                 `json:"goal"`
	Plan        *orchestrator.TaskPlan `json:"plan"`
	Action      types.ActionClass      `json:"action_class"`
	ContextData map[string]interface{} `json:"context_data,omitempty"`
	Status      string                 `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	ResolvedAt  time.Time              `json:"resolved_at,omitempty"`
}

// ApprovalStore persists approval requests as one JSON file per request
// under <vault>/approvals/.
type ApprovalStore struct {
	dir string
	mu  sync.Mutex
}

// NewApprovalStore creates the store under the vault root.
func NewApprovalStore(vaultRoot string) *ApprovalStore {
	return &ApprovalStore{dir: filepath.Join(vaultRoot, "approvals")}
}

// Create persists a new pending request.
func (s *ApprovalStore) Create(runID, goal string, plan *orchestrator.TaskPlan,
	action types.ActionClass, contextData map[string]interface{}) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := &ApprovalRequest{
		RequestID:   akashic.NewEventID(),
		RunID:       runID,
		Goal:        goal,
		Plan:        plan,
		Action:      action,
		ContextData: contextData,
		Status:      ApprovalPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.write(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Get loads a request by id.
func (s *ApprovalStore) Get(requestID string) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(requestID)
}

// Resolve marks the request approved or rejected. A second resolution
// fails with ErrRequestResolved; the stored decision stands.
func (s *ApprovalStore) Resolve(requestID string, approved bool, reason string) (*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.read(requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != ApprovalPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrRequestResolved, requestID, req.Status)
	}
	if approved {
		req.Status = ApprovalApproved
	} else {
		req.Status = ApprovalRejected
	}
	req.Reason = reason
	req.ResolvedAt = time.Now().UTC()
	if err := s.write(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Pending lists unresolved requests, oldest first.
func (s *ApprovalStore) Pending() ([]*ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*ApprovalRequest
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) != ".json" {
			continue
		}
		req, err := s.read(ent.Name()[:len(ent.Name())-len(".json")])
		if err != nil {
			continue
		}
		if req.Status == ApprovalPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *ApprovalStore) path(requestID string) string {
	return filepath.Join(s.dir, requestID+".json")
}

func (s *ApprovalStore) read(requestID string) (*ApprovalRequest, error) {
	data, err := os.ReadFile(s.path(requestID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		return nil, err
	}
	var req ApprovalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode approval %s: %w", requestID, err)
	}
	return &req, nil
}

func (s *ApprovalStore) write(req *ApprovalRequest) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(req.RequestID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(req.RequestID))
}
