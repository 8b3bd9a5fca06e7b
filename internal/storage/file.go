package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "github.com/engels74/mover-status-sub004/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.deliveries.jsonl   (append-only JSON Lines)
//   - <prefix>.runstate.json      (atomic snapshot, rewritten on change)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	deliveryFile *os.File
	runStatePath string

	runState    RunState
	hasRunState bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	deliveryPath := prefix + ".deliveries.jsonl"
	runStatePath := prefix + ".runstate.json"

	df, err := os.OpenFile(deliveryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		deliveryFile: df,
		runStatePath: runStatePath,
	}
	s.hasRunState = loadRunState(runStatePath, &s.runState)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return nil
	}
	err := s.deliveryFile.Close()
	s.deliveryFile = nil
	return err
}

func (s *fileStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryFile == nil {
		return errors.New("delivery log closed")
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	return json.NewEncoder(s.deliveryFile).Encode(r)
}

func (s *fileStore) PutRunState(ctx context.Context, st RunState) error {
	_ = ctx
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runState = st
	s.hasRunState = true

	// atomic write so a crash mid-save never leaves a torn snapshot
	tmp := s.runStatePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(st); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.runStatePath)
}

func (s *fileStore) GetRunState(ctx context.Context) (RunState, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasRunState {
		return RunState{}, false, nil
	}
	return s.runState, true, nil
}

func loadRunState(path string, out *RunState) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var st RunState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return false
	}
	*out = st
	return true
}
