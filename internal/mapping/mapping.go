// ABOUTME: Persisted task -> conversation mapping backed by a single JSON file
// ABOUTME: The file is read and written wholesale; a process-wide mutex serialises updates

package mapping

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultFileName is the mapping file name inside the data directory.
const DefaultFileName = "asana_task_mapping.json"

// Entry is one task -> conversation pair.
type Entry struct {
	TaskGID        string `json:"task_gid"`
	ConversationID string `json:"conversation_id"`
}

// Store maps Asana task gids to conversation ids. There is at most one
// conversation per task. Concurrent processes sharing a file can still lose
// updates; within one process all read-modify-write cycles are serialised.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a Store for the JSON file at path. The file is created on
// first write.
func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger.With("component", "mapping"),
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the conversation mapped to a task.
func (s *Store) Get(taskGID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.load()[taskGID]
	return id, ok
}

// Set maps a task to a conversation, replacing any previous mapping.
func (s *Store) Set(taskGID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.load()
	m[taskGID] = conversationID
	if err := s.save(m); err != nil {
		return err
	}
	s.logger.Debug("mapping stored", "task_gid", taskGID, "conversation_id", conversationID)
	return nil
}

// Delete removes a task's mapping. Removing a missing task is not an error.
func (s *Store) Delete(taskGID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.load()
	if _, ok := m[taskGID]; !ok {
		return nil
	}
	delete(m, taskGID)
	return s.save(m)
}

// RemoveConversation drops every mapping that points at conversationID and
// returns the task gid it was mapped from.
func (s *Store) RemoveConversation(conversationID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.load()
	var taskGID string
	for task, conv := range m {
		if conv == conversationID {
			taskGID = task
			delete(m, task)
		}
	}
	if taskGID == "" {
		return "", false, nil
	}
	if err := s.save(m); err != nil {
		return "", false, err
	}
	s.logger.Info("mapping removed", "task_gid", taskGID, "conversation_id", conversationID)
	return taskGID, true, nil
}

// All returns every mapping sorted by task gid.
func (s *Store) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.load()
	entries := make([]Entry, 0, len(m))
	for task, conv := range m {
		entries = append(entries, Entry{TaskGID: task, ConversationID: conv})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TaskGID < entries[j].TaskGID })
	return entries
}

// load reads the file. A missing or corrupt file reads as empty.
func (s *Store) load() map[string]string {
	m := make(map[string]string)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m
	}
	if err != nil {
		s.logger.Warn("failed to read mapping file", "path", s.path, "error", err)
		return m
	}
	if len(data) == 0 {
		return m
	}
	if err := json.Unmarshal(data, &m); err != nil {
		s.logger.Warn("mapping file is corrupt, starting empty", "path", s.path, "error", err)
		return make(map[string]string)
	}
	if m == nil {
		// a literal null decodes without error
		m = make(map[string]string)
	}
	return m
}

// save writes the whole mapping through a temp file and rename.
func (s *Store) save(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating mapping directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mapping: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing mapping: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing mapping: %w", err)
	}
	return nil
}
