package json

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gojson "github.com/goccy/go-json"

	"github.com/fwojciec/relay"
)

// Interface compliance check.
var _ relay.Store = (*FileStore)(nil)

// envelope is the v1 wire format for a persisted conversation.
type envelope struct {
	Version        int        `json:"version"`
	ConversationID string     `json:"conversation_id"`
	Events         []eventDTO `json:"events"`
}

// FileStore persists each conversation as one JSON file under a directory.
// Writes are atomic (temp file plus rename).
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// AppendEvents appends events after the stored tail. Every event must carry
// an OrderKey greater than the current tail key.
func (s *FileStore) AppendEvents(_ context.Context, conversationID string, events []relay.Event) error {
	path, err := s.path(conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := load(path)
	if errors.Is(err, os.ErrNotExist) {
		env = envelope{Version: 1, ConversationID: conversationID}
	} else if err != nil {
		return err
	}

	tail := ""
	if n := len(env.Events); n > 0 {
		tail = env.Events[n-1].OrderKey
	}
	for i, e := range events {
		if e.OrderKey == "" || e.OrderKey <= tail {
			return fmt.Errorf("event %d: order key %q not after tail %q", i, e.OrderKey, tail)
		}
		dto, err := toDTO(e)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		env.Events = append(env.Events, dto)
		tail = e.OrderKey
	}
	return save(path, env)
}

// LoadOrdered returns the conversation's events in ascending key order.
func (s *FileStore) LoadOrdered(_ context.Context, conversationID string) ([]relay.Event, error) {
	path, err := s.path(conversationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	env, err := load(path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", conversationID, relay.ErrConversationNotFound)
	}
	if err != nil {
		return nil, err
	}

	sort.SliceStable(env.Events, func(i, j int) bool {
		return env.Events[i].OrderKey < env.Events[j].OrderKey
	})
	return fromDTOs(env.Events)
}

func (s *FileStore) path(conversationID string) (string, error) {
	if conversationID == "" || strings.ContainsAny(conversationID, `/\`) || conversationID != filepath.Base(conversationID) {
		return "", fmt.Errorf("invalid conversation id %q: %w", conversationID, relay.ErrValidation)
	}
	return filepath.Join(s.dir, conversationID+".json"), nil
}

// save writes a conversation envelope to a JSON file, creating parent
// directories as needed.
func save(path string, env envelope) error {
	data, err := gojson.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func load(path string) (envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := gojson.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return envelope{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	return env, nil
}
