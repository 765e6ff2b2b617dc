package engine

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"

	"postkeeper/internal/kv"
	"postkeeper/internal/model"
)

// compactMinRecords is the replay length below which a segment is never rewritten.
const compactMinRecords = 256

// LogStore is a kv.Store whose state lives in memory and whose every change is
// appended to a commit log. Opening the store replays the log.
type LogStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	log    *CommitLogManager
	cancel context.CancelFunc
	closed bool
}

var _ kv.Store = (*LogStore)(nil)

func OpenLogStore(ctx context.Context, cfg CommitLogCfg) (*LogStore, error) {
	if err := compactIfBloated(cfg.Path); err != nil {
		glog.Warningf("commit log %s: compaction skipped: %v", cfg.Path, err)
	}

	m, cancel, err := NewCommitLogManager(ctx, cfg)
	if err != nil {
		return nil, err
	}
	muts, err := m.Load()
	if err != nil {
		cancel()
		<-m.Done()
		return nil, err
	}
	return &LogStore{
		data:   replay(muts),
		log:    m,
		cancel: cancel,
	}, nil
}

func replay(muts []model.Mutation) map[string][]byte {
	data := make(map[string][]byte)
	for _, mut := range muts {
		switch mut.Op {
		case model.PUT:
			data[string(mut.Key)] = mut.Value
		case model.DELETE:
			delete(data, string(mut.Key))
		}
	}
	return data
}

// compactIfBloated rewrites the segment as one PUT per live key when most of
// its records are superseded.
func compactIfBloated(path string) error {
	muts, _, err := readSegment(path)
	if err != nil {
		return err
	}
	live := replay(muts)
	if len(muts) < compactMinRecords || len(muts) < 2*len(live) {
		return nil
	}

	compacted := make([]model.Mutation, 0, len(live))
	seq := muts[len(muts)-1].Sequence - uint64(len(live))
	for _, mut := range muts {
		v, ok := live[string(mut.Key)]
		if !ok || mut.Op != model.PUT {
			continue
		}
		seq++
		compacted = append(compacted, model.Mutation{Sequence: seq, Op: model.PUT, Key: mut.Key, Value: v})
		delete(live, string(mut.Key))
	}
	glog.Infof("compacting commit log %s: %d records -> %d", path, len(muts), len(compacted))
	return writeSegment(path, compacted)
}

func (s *LogStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, kv.ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *LogStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	v := append([]byte(nil), value...)
	if err := s.log.Append(model.Mutation{Op: model.PUT, Key: []byte(key), Value: v}); err != nil {
		return err
	}
	s.data[key] = v
	return nil
}

func (s *LogStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	if _, ok := s.data[key]; !ok {
		return nil
	}
	if err := s.log.Append(model.Mutation{Op: model.DELETE, Key: []byte(key)}); err != nil {
		return err
	}
	delete(s.data, key)
	return nil
}

func (s *LogStore) Clear(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	for key := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := s.log.Append(model.Mutation{Op: model.DELETE, Key: []byte(key)}); err != nil {
			return err
		}
		delete(s.data, key)
	}
	return nil
}

// Sync forces buffered mutations to disk.
func (s *LogStore) Sync() error {
	return s.log.Sync()
}

// Close flushes the commit log and waits for the writer to exit.
func (s *LogStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.log.Done()
	return nil
}
