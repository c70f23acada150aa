package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/llmos-dev/llmos-actions/pkg/schema"
)

const archivePrefix = "actions-"

// Archiver writes records trimmed from the log to disk. The registry never
// reads them back; they are kept for inspection only.
type Archiver struct {
	Dir    string
	mu     sync.Mutex // Protects concurrent writes to the filesystem
	logger *zap.Logger
	now    func() time.Time
	batch  atomic.Uint64
}

// NewArchiver initializes an archiver rooted at dir.
func NewArchiver(dir string, logger *zap.Logger) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{Dir: dir, logger: logger, now: time.Now}, nil
}

// Save writes one batch to its own JSON file atomically.
func (a *Archiver) Save(batch []schema.ActionRecord) error {
	if len(batch) == 0 {
		return nil
	}
	return a.saveAs(a.nextName(), batch)
}

// nextName reserves the file name of the next batch. Names sort in the order
// they were reserved, across restarts too, since they start with the wall clock.
func (a *Archiver) nextName() string {
	return fmt.Sprintf("%s%020d-%06d.json", archivePrefix, a.now().UnixNano(), a.batch.Add(1))
}

func (a *Archiver) saveAs(name string, batch []schema.ActionRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	filePath := filepath.Join(a.Dir, name)
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return err
	}
	// Rename is atomic on POSIX: readers see the old directory listing or the complete file.
	return os.Rename(tempPath, filePath)
}

// LoadAll returns every archived record in archive order: batches by file
// name, records within a batch as saved. Sequence numbers restart with each
// process, so they are not used for ordering.
func (a *Archiver) LoadAll() ([]schema.ActionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	files, err := os.ReadDir(a.Dir)
	if err != nil {
		return nil, err
	}

	var all []schema.ActionRecord
	for _, file := range files {
		name := file.Name()
		if !strings.HasPrefix(name, archivePrefix) || filepath.Ext(name) != ".json" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(a.Dir, name))
		if err != nil {
			a.logger.Warn("could not read archive file", zap.String("file", name), zap.Error(err))
			continue
		}
		var batch []schema.ActionRecord
		if err := json.Unmarshal(content, &batch); err != nil {
			a.logger.Warn("could not decode archive file", zap.String("file", name), zap.Error(err))
			continue
		}
		all = append(all, batch...)
	}
	return all, nil
}
