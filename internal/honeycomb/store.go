package honeycomb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/k-iijima/hiveforge/internal/scout"
)

var ErrEpisodeNotFound = errors.New("episode not found")

// Store is the SQLite episode index. The event log stays the source of
// truth; the index only spares callers a full vault rescan.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (or creates) the index database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open episode index: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		run_id TEXT PRIMARY KEY,
		colony_id TEXT,
		template_used TEXT,
		outcome TEXT NOT NULL,
		duration_seconds REAL NOT NULL,
		token_count INTEGER NOT NULL,
		failure_class TEXT,
		intervention_count INTEGER NOT NULL,
		kpi_json TEXT NOT NULL,
		features_json TEXT,
		parents_json TEXT,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_colony ON episodes(colony_id);
	CREATE INDEX IF NOT EXISTS idx_episodes_template ON episodes(template_used);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create episodes table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts an episode. Episodes are immutable once recorded, so a
// duplicate run id is a caller error.
func (s *Store) Put(ep *Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kpi, err := json.Marshal(ep.KPIScores)
	if err != nil {
		return fmt.Errorf("marshal kpi scores: %w", err)
	}
	features, err := json.Marshal(ep.TaskFeatures)
	if err != nil {
		return fmt.Errorf("marshal task features: %w", err)
	}
	parents, err := json.Marshal(ep.ParentEpisodeIDs)
	if err != nil {
		return fmt.Errorf("marshal parent ids: %w", err)
	}

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM episodes WHERE run_id = ?`, ep.RunID).Scan(&exists); err != nil {
		return fmt.Errorf("check episode: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrEpisodeExists, ep.RunID)
	}

	_, err = s.db.Exec(`
		INSERT INTO episodes
			(run_id, colony_id, template_used, outcome, duration_seconds,
			 token_count, failure_class, intervention_count,
			 kpi_json, features_json, parents_json, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.RunID, ep.ColonyID, ep.TemplateUsed, ep.Outcome, ep.DurationSecs,
		ep.TokenCount, ep.FailureClass, ep.InterventionCount,
		string(kpi), string(features), string(parents), ep.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert episode: %w", err)
	}
	return nil
}

// Get returns one episode by run id.
func (s *Store) Get(runID string) (*Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.query(`WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEpisodeNotFound, runID)
	}
	return &rows[0], nil
}

// All returns every episode, oldest recording first.
func (s *Store) All() ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(``)
}

// ByColony returns the episodes recorded for one colony.
func (s *Store) ByColony(colonyID string) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(`WHERE colony_id = ?`, colonyID)
}

// ByTemplate returns the episodes that ran under one template.
func (s *Store) ByTemplate(template string) ([]Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(`WHERE template_used = ?`, template)
}

// ScoutHistory projects the stored episodes into the scout's input
// shape so recommendations never rescan the vault.
func (s *Store) ScoutHistory() ([]scout.EpisodeFeatures, error) {
	episodes, err := s.All()
	if err != nil {
		return nil, err
	}
	history := make([]scout.EpisodeFeatures, 0, len(episodes))
	for _, ep := range episodes {
		history = append(history, scout.EpisodeFeatures{
			RunID:        ep.RunID,
			TemplateUsed: ep.TemplateUsed,
			Features:     ep.TaskFeatures,
			Success:      ep.Outcome == OutcomeSuccess,
			DurationSecs: ep.DurationSecs,
		})
	}
	return history, nil
}

func (s *Store) query(where string, args ...interface{}) ([]Episode, error) {
	q := `
		SELECT run_id, colony_id, template_used, outcome, duration_seconds,
		       token_count, failure_class, intervention_count,
		       kpi_json, features_json, parents_json, recorded_at
		FROM episodes ` + where + ` ORDER BY recorded_at, run_id`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	var out []Episode
	for rows.Next() {
		var ep Episode
		var kpi, features, parents string
		if err := rows.Scan(&ep.RunID, &ep.ColonyID, &ep.TemplateUsed, &ep.Outcome,
			&ep.DurationSecs, &ep.TokenCount, &ep.FailureClass, &ep.InterventionCount,
			&kpi, &features, &parents, &ep.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		if err := json.Unmarshal([]byte(kpi), &ep.KPIScores); err != nil {
			return nil, fmt.Errorf("decode kpi scores: %w", err)
		}
		if features != "" && features != "null" {
			if err := json.Unmarshal([]byte(features), &ep.TaskFeatures); err != nil {
				return nil, fmt.Errorf("decode task features: %w", err)
			}
		}
		if parents != "" && parents != "null" {
			if err := json.Unmarshal([]byte(parents), &ep.ParentEpisodeIDs); err != nil {
				return nil, fmt.Errorf("decode parent ids: %w", err)
			}
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
