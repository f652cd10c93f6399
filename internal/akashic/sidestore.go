package akashic

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SideStore appends non-chained records (interventions, conferences,
// escalations) to sibling JSONL files next to a stream's event log. Side
// records are line-atomic like events but carry no hash chain.
type SideStore struct {
	log *Log
}

// NewSideStore returns a side store over the same vault as the log.
func NewSideStore(log *Log) *SideStore {
	return &SideStore{log: log}
}

// Side record kinds; each kind is its own JSONL file.
const (
	SideInterventions = "interventions"
	SideConferences   = "conferences"
	SideEscalations   = "escalations"
)

// SideRecord is one appended side-store entry.
type SideRecord struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor"`
	Data      map[string]interface{} `json:"data"`
}

// path resolves a side file as a sibling of the stream's event log.
func (s *SideStore) path(streamID, kind string) (string, error) {
	eventLog, err := s.log.StreamPath(streamID)
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(eventLog), kind+".jsonl"), nil
}

// Append writes one record to the stream's side file for the given kind
// and returns it with id and timestamp assigned.
func (s *SideStore) Append(streamID, kind, actor string, data map[string]interface{}) (*SideRecord, error) {
	path, err := s.path(streamID, kind)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	rec := &SideRecord{
		ID:        NewEventID(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Data:      data,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	lock := newFileLock(path)
	if err := lock.acquire(s.log.lockTimeout); err != nil {
		return nil, err
	}
	defer lock.release()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open side store %s/%s: %w", streamID, kind, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append side record: %w", err)
	}
	return rec, nil
}

// List returns every record of the given kind for a stream, in append
// order. A missing file lists as empty.
func (s *SideStore) List(streamID, kind string) ([]*SideRecord, error) {
	path, err := s.path(streamID, kind)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []*SideRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), tailChunkMax)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec SideRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, scanner.Err()
}

// Get returns one record by id, or nil when absent.
func (s *SideStore) Get(streamID, kind, id string) (*SideRecord, error) {
	records, err := s.List(streamID, kind)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, nil
}
