// Package reportstore persists final-answer snapshots to a single
// JSON document, following the same whole-file load/rewrite discipline
// as internal/registry (spec §6, "Persisted state layout":
// `reports.json`, shape `{ reports: [...] }`).
package reportstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/planner"
)

// Report is a persisted snapshot of one final_answer turn (spec §6).
type Report struct {
	ID             string         `json:"id"`
	DatasetID      string         `json:"dataset_id"`
	DatasetName    string         `json:"dataset_name"`
	ConversationID string         `json:"conversation_id"`
	Question       string         `json:"question"`
	Message        string         `json:"message"`
	Tables         []planner.Table `json:"tables"`
	Audit          planner.Audit  `json:"audit"`
	CreatedAt      time.Time      `json:"created_at"`
}

type document struct {
	Reports []Report `json:"reports"`
}

// Store is the process-lifetime report archive, backed by a single
// JSON file under the configured application data directory.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open loads (or creates) the report file at <appDataDir>/reports.json.
func Open(appDataDir string) (*Store, error) {
	path := filepath.Join(appDataDir, "reports.json")
	s := &Store{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeLocked(document{Reports: []Report{}}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) readLocked() (document, error) {
	buf, err := os.ReadFile(s.path)
	if err != nil {
		return document{}, apperrors.Wrap("reportstore.readLocked", apperrors.ErrEngineError, err)
	}
	var doc document
	if err := json.Unmarshal(buf, &doc); err != nil {
		return document{}, apperrors.Wrap("reportstore.readLocked", apperrors.ErrEngineError, err)
	}
	return doc, nil
}

func (s *Store) writeLocked(doc document) error {
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperrors.Wrap("reportstore.writeLocked", apperrors.ErrEngineError, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperrors.Wrap("reportstore.writeLocked", apperrors.ErrEngineError, err)
	}
	if err := os.WriteFile(s.path, buf, 0o644); err != nil {
		return apperrors.Wrap("reportstore.writeLocked", apperrors.ErrEngineError, err)
	}
	return nil
}

// Save appends a new report and returns it with its minted id and
// timestamp filled in.
func (s *Store) Save(datasetID, datasetName, conversationID, question, message string, tables []planner.Table, audit planner.Audit) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return Report{}, err
	}

	r := Report{
		ID:             "rpt-" + uuid.NewString(),
		DatasetID:      datasetID,
		DatasetName:    datasetName,
		ConversationID: conversationID,
		Question:       question,
		Message:        message,
		Tables:         tables,
		Audit:          audit,
		CreatedAt:      time.Now().UTC(),
	}
	doc.Reports = append(doc.Reports, r)

	if err := s.writeLocked(doc); err != nil {
		return Report{}, err
	}
	return r, nil
}

// Get looks up a report by id.
func (s *Store) Get(id string) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return Report{}, err
	}
	for _, r := range doc.Reports {
		if r.ID == id {
			return r, nil
		}
	}
	return Report{}, apperrors.New("reportstore.Get", apperrors.ErrDatasetNotFound,
		"no report found with the given id")
}

// List returns every persisted report, most recent first.
func (s *Store) List() ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Report, len(doc.Reports))
	for i, r := range doc.Reports {
		out[len(doc.Reports)-1-i] = r
	}
	return out, nil
}
