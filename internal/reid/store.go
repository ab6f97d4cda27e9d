package reid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is the persisted form of a Ledger.
type Snapshot struct {
	Persons      []Person `msgpack:"persons"`
	NextPersonID int      `msgpack:"next_person_id"`
}

// FileStore reads and writes ledger snapshots as a single msgpack blob.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is reported as fs.ErrNotExist.
func (s *FileStore) Load() (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(s.path)
	if err != nil {
		return snap, fmt.Errorf("read ledger %s: %w", s.path, err)
	}
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode ledger %s: %w", s.path, err)
	}
	return snap, nil
}

// Write replaces the stored snapshot atomically.
func (s *FileStore) Write(snap Snapshot) error {
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// LoadInto restores l from the store. A missing file leaves l empty; other
// failures are logged and l keeps running in memory.
func (s *FileStore) LoadInto(l *Ledger) {
	snap, err := s.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Infof("Re-ID: no ledger at %s, starting empty", s.path)
		return
	case err != nil:
		log.Warnf("Re-ID: failed to load ledger, starting empty: %v", err)
		return
	}
	l.Restore(snap)
	log.Infof("Re-ID: loaded %d persons from %s", l.Len(), s.path)
}

type snapshotWriter interface {
	Write(Snapshot) error
}

// Persister writes snapshots on its own goroutine so the frame loop never
// waits for the disk. Only the latest pending snapshot is kept.
type Persister struct {
	w       snapshotWriter
	pending chan Snapshot
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewPersister starts the background writer.
func NewPersister(w snapshotWriter) *Persister {
	p := &Persister{
		w:       w,
		pending: make(chan Snapshot, 1),
		stop:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Save queues snap, replacing any snapshot not yet written.
func (p *Persister) Save(snap Snapshot) {
	for {
		select {
		case p.pending <- snap:
			return
		default:
		}
		select {
		case <-p.pending:
		default:
		}
	}
}

func (p *Persister) run() {
	defer p.wg.Done()
	for {
		select {
		case snap := <-p.pending:
			p.write(snap)
		case <-p.stop:
			select {
			case snap := <-p.pending:
				p.write(snap)
			default:
			}
			return
		}
	}
}

func (p *Persister) write(snap Snapshot) {
	if err := p.w.Write(snap); err != nil {
		log.Errorf("Re-ID: failed to save ledger: %v", err)
		return
	}
	log.Debugf("Re-ID: ledger saved (%d persons)", len(snap.Persons))
}

// Close flushes the last pending snapshot and stops the writer.
func (p *Persister) Close() error {
	p.once.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
	return nil
}
