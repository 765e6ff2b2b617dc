package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"

	"postkeeper/internal/model"
	"postkeeper/internal/storage"
)

var (
	ErrEnqueueTimeout = errors.New("timeout waiting for mutation to be added to commit log")
	ErrLogClosed      = errors.New("commit log closed")
)

type CommitLogCfg struct {
	Path           string
	EnqueueTimeout time.Duration
	FlushInterval  time.Duration
	MaxEnqueued    int
	BufferBytes    int
}

const (
	defaultBufferBytes    = 4 * 1024 * 1024
	minimalBufferBytes    = 128
	defaultMaxEnqueued    = 1024
	defaultEnqueueTimeout = 2 * time.Second
	defaultFlushInterval  = time.Second
)

func (cfg *CommitLogCfg) normalize() {
	if cfg.BufferBytes <= 0 {
		cfg.BufferBytes = defaultBufferBytes
	}
	if cfg.BufferBytes < minimalBufferBytes {
		cfg.BufferBytes = minimalBufferBytes
	}
	if cfg.MaxEnqueued <= 0 {
		cfg.MaxEnqueued = defaultMaxEnqueued
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
}

type flusher struct {
	segment        *os.File
	buffer         bytes.Buffer
	maxBufferBytes int
}

type logRequest struct {
	data []byte // nil asks for a flush + fsync
	done chan error
}

/*
CommitLogManager keeps a single writer goroutine in charge of the segment:
  - the channel preserves request order and only the writer touches the file;
  - a bounded channel plus a timeout lets callers fail fast under backpressure;
  - each request carries its own done channel so callers learn when their bytes
    are buffered (Append) or on disk (Sync);
  - on context cancellation the writer flushes what it holds before closing.
*/
type CommitLogManager struct {
	cfg      CommitLogCfg
	requests chan logRequest
	flushT   *time.Ticker
	flusher  flusher
	stopped  chan struct{}

	// seqMu orders sequence assignment with enqueueing.
	seqMu   sync.Mutex
	nextSeq uint64
}

// NewCommitLogManager opens (or creates) the segment at cfg.Path, drops any
// corrupt tail left by a crash, and starts the writer goroutine. Cancelling
// the returned func flushes and closes the segment; Done reports when that
// has finished.
func NewCommitLogManager(ctx context.Context, cfg CommitLogCfg) (*CommitLogManager, context.CancelFunc, error) {
	cfg.normalize()

	muts, validEnd, err := readSegment(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	if size := storage.Size(cfg.Path); size > validEnd {
		glog.Warningf("commit log %s: dropping %d bytes of corrupt tail", cfg.Path, size-validEnd)
		if err := os.Truncate(cfg.Path, validEnd); err != nil {
			return nil, nil, fmt.Errorf("truncate corrupt tail: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	var next uint64 = 1
	if n := len(muts); n > 0 {
		next = muts[n-1].Sequence + 1
	}

	m := &CommitLogManager{
		cfg:      cfg,
		requests: make(chan logRequest, cfg.MaxEnqueued),
		flushT:   time.NewTicker(cfg.FlushInterval),
		flusher: flusher{
			segment:        f,
			maxBufferBytes: cfg.BufferBytes,
		},
		stopped: make(chan struct{}),
		nextSeq: next,
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(m.stopped)
		m.run(runCtx)
		m.flushT.Stop()
		if err := m.flusher.flush(); err != nil {
			glog.Errorf("commit log shutdown flush: %v", err)
		}
		_ = m.flusher.segment.Close()
	}()
	return m, cancel, nil
}

// Append assigns the next sequence number to mut and hands it to the writer.
// It returns once the record is buffered, not once it is on disk.
func (cm *CommitLogManager) Append(mut model.Mutation) error {
	cm.seqMu.Lock()
	defer cm.seqMu.Unlock()

	mut.Sequence = cm.nextSeq
	if err := cm.submit(encodeMutation(mut)); err != nil {
		return err
	}
	cm.nextSeq++
	return nil
}

// Sync blocks until everything appended so far is flushed and fsynced.
func (cm *CommitLogManager) Sync() error {
	return cm.submit(nil)
}

func (cm *CommitLogManager) submit(data []byte) error {
	req := logRequest{data: data, done: make(chan error, 1)}
	timer := time.NewTimer(cm.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case cm.requests <- req:
	case <-cm.stopped:
		return ErrLogClosed
	case <-timer.C:
		return ErrEnqueueTimeout
	}
	select {
	case err := <-req.done:
		return err
	case <-cm.stopped:
		return ErrLogClosed
	}
}

// Load replays every intact record of the segment in sequence order.
func (cm *CommitLogManager) Load() ([]model.Mutation, error) {
	muts, _, err := readSegment(cm.cfg.Path)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("loaded %d mutations from commit log %s", len(muts), cm.cfg.Path)
	return muts, nil
}

// Done is closed after the writer has flushed and closed the segment.
func (cm *CommitLogManager) Done() <-chan struct{} {
	return cm.stopped
}

func (cm *CommitLogManager) run(ctx context.Context) {
	for {
		select {
		case req := <-cm.requests:
			if req.data == nil {
				req.done <- cm.flusher.flush()
				continue
			}
			req.done <- cm.flusher.write(req.data)
		case <-cm.flushT.C:
			glog.V(2).Infof("periodic flush of commit log %s", cm.cfg.Path)
			if err := cm.flusher.flush(); err != nil {
				glog.Errorf("commit log periodic flush: %v", err)
			}
		case <-ctx.Done():
			glog.V(1).Infof("commit log %s shutting down", cm.cfg.Path)
			return
		}
	}
}

func (f *flusher) write(data []byte) error {
	if f.segment == nil {
		return errors.New("no active segment")
	}
	if len(data) > f.maxBufferBytes {
		return fmt.Errorf("commit log entry (%d bytes) exceeds buffer size (%d bytes)", len(data), f.maxBufferBytes)
	}
	if f.buffer.Len()+len(data) > f.maxBufferBytes {
		if err := f.flush(); err != nil {
			return err
		}
	}
	_, err := f.buffer.Write(data)
	return err
}

func (f *flusher) flush() error {
	if f.segment == nil {
		return errors.New("no active segment")
	}
	if f.buffer.Len() == 0 {
		return nil
	}
	if err := storage.Write(f.segment, f.buffer.Bytes()); err != nil {
		return err
	}
	if err := f.segment.Sync(); err != nil {
		return err
	}
	f.buffer.Reset()
	return nil
}
