package eventbus

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/a-swarm/evolution-core/internal/aserr"
)

// wal is a daily-rotated write-ahead log: one events-YYYY-MM-DD.jsonl
// file per day, one JSON-encoded event per line. Rotation within a day
// (size/backup retention) is handled by the underlying lumberjack
// logger; fsync discipline is left to the OS.
type wal struct {
	mu          sync.Mutex
	dir         string
	maxSizeMB   int
	maxBackups  int
	maxAgeDays  int
	currentDate string
	logger      *lumberjack.Logger
}

func newWAL(cfg Config) *wal {
	return &wal{
		dir:        cfg.WALDir,
		maxSizeMB:  cfg.WALMaxSizeMB,
		maxBackups: cfg.WALMaxBackups,
		maxAgeDays: cfg.WALMaxAgeDays,
	}
}

// rotate switches to today's WAL file if the calendar date has advanced
// since the last write. A failure here is the one WAL condition that
// fails the emit outright (spec: "a daily WAL rotation error fails the
// emit with wal_write_failed").
func (w *wal) rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	date := timeNow().UTC().Format("2006-01-02")
	if w.logger != nil && date == w.currentDate {
		return nil
	}
	if w.logger != nil {
		if err := w.logger.Close(); err != nil {
			return aserr.Wrap(aserr.KindWALWrite, "rotate wal", err)
		}
	}
	w.logger = &lumberjack.Logger{
		Filename:   filepath.Join(w.dir, fmt.Sprintf("events-%s.jsonl", date)),
		MaxSize:    w.maxSizeMB,
		MaxBackups: w.maxBackups,
		MaxAge:     w.maxAgeDays,
		Compress:   false,
	}
	w.currentDate = date
	return nil
}

// writeLine appends one event as a JSON line to the current WAL file.
// A failure here is logged and counted by the caller but does not
// block the in-memory enqueue.
func (w *wal) writeLine(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.logger == nil {
		return aserr.New(aserr.KindWALWrite, "wal not rotated")
	}
	line, err := json.Marshal(e)
	if err != nil {
		return aserr.Wrap(aserr.KindWALWrite, "marshal event", err)
	}
	line = append(line, '\n')
	if _, err := w.logger.Write(line); err != nil {
		return aserr.Wrap(aserr.KindWALWrite, "write wal line", err)
	}
	return nil
}

func (w *wal) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger == nil {
		return nil
	}
	return w.logger.Close()
}
