package logger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogger is the file tier: JSON lines written in batches to a file
// rotated by lumberjack. Entries are dropped when the queue is full.
type FileLogger struct {
	out       *lumberjack.Logger
	queue     chan *LogEntry
	batchSize int
	interval  time.Duration
	closeOnce sync.Once
	closeChan chan struct{}
	wg        sync.WaitGroup
}

// NewFileLogger creates the file tier
func NewFileLogger(config *Config) (*FileLogger, error) {
	if !config.File.Enabled {
		return nil, fmt.Errorf("file logging is not enabled")
	}

	queueSize := config.File.BufferSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	fl := &FileLogger{
		out: &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    config.File.MaxSizeMB,
			MaxBackups: config.File.MaxBackups,
			MaxAge:     config.File.MaxAgeDays,
			Compress:   config.File.Compress,
		},
		queue:     make(chan *LogEntry, queueSize),
		batchSize: config.File.BatchSize,
		interval:  config.File.BatchInterval,
		closeChan: make(chan struct{}),
	}

	fl.wg.Add(1)
	go fl.run()

	return fl, nil
}

func (fl *FileLogger) write(entry *LogEntry) {
	select {
	case fl.queue <- entry:
	default:
	}
}

func (fl *FileLogger) run() {
	defer fl.wg.Done()

	ticker := time.NewTicker(fl.interval)
	defer ticker.Stop()

	batch := make([]*LogEntry, 0, fl.batchSize)
	for {
		select {
		case entry := <-fl.queue:
			batch = append(batch, entry)
			if len(batch) >= fl.batchSize {
				batch = fl.flush(batch)
			}
		case <-ticker.C:
			batch = fl.flush(batch)
		case <-fl.closeChan:
			// Drain whatever was queued before Close.
			for {
				select {
				case entry := <-fl.queue:
					batch = append(batch, entry)
				default:
					fl.flush(batch)
					return
				}
			}
		}
	}
}

func (fl *FileLogger) flush(batch []*LogEntry) []*LogEntry {
	for _, entry := range batch {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		_, _ = fl.out.Write(append(data, '\n'))
	}
	return batch[:0]
}

// Close flushes queued entries and closes the file
func (fl *FileLogger) Close() error {
	fl.closeOnce.Do(func() { close(fl.closeChan) })
	fl.wg.Wait()

	if err := fl.out.Close(); err != nil {
		return fmt.Errorf("failed to close file logger: %w", err)
	}
	return nil
}

// Rotate triggers manual log rotation
func (fl *FileLogger) Rotate() error {
	return fl.out.Rotate()
}
