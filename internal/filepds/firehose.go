package filepds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/repo"
	"github.com/atkit-dev/atkit/syntax"
)

// tailFromEnd makes openFirehose skip existing history.
const tailFromEnd int64 = -1

// pollInterval backs up the watcher; some filesystems drop events.
const pollInterval = 500 * time.Millisecond

// Firehose tails firehose.jsonl, converting appended lines to events.
// It owns its watcher and background task; Close tears both down.
type Firehose struct {
	store  *Store
	log    *zap.Logger
	events chan firehoseItem
	done   chan struct{}

	closeOnce sync.Once
}

type firehoseItem struct {
	event *repo.Event
	err   error
}

func openFirehose(ctx context.Context, store *Store, cursor int64, logger *zap.Logger) (*Firehose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filepds: create watcher: %w", err)
	}
	// Watch the directory, not the file: the log may not exist yet.
	if err := watcher.Add(store.Dir()); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("filepds: watch %s: %w", store.Dir(), err)
	}

	f := &Firehose{
		store:  store,
		log:    logger,
		events: make(chan firehoseItem, 64),
		done:   make(chan struct{}),
	}

	// Fix the starting position before returning so writes that land
	// after open are never mistaken for history.
	offset, seq, err := f.seek(cursor)
	if err != nil {
		watcher.Close()
		return nil, err
	}

	go f.run(watcher, cursor, offset, seq)
	return f, nil
}

// Next blocks until the next event, ctx cancellation, or stream end.
// Returns io.EOF after Close.
func (f *Firehose) Next(ctx context.Context) (*repo.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case item, ok := <-f.events:
		if !ok {
			return nil, io.EOF
		}
		return item.event, item.err
	}
}

// Close stops the watcher and background task.
func (f *Firehose) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *Firehose) run(watcher *fsnotify.Watcher, cursor, offset, seq int64) {
	defer close(f.events)
	defer watcher.Close()

	// Replay history past the cursor before going live.
	if cursor != tailFromEnd {
		offset, seq = f.drain(offset, seq)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != f.store.firehosePath() || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			offset, seq = f.drain(offset, seq)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.log.Debug("firehose watcher error", zap.Error(err))
		case <-ticker.C:
			offset, seq = f.drain(offset, seq)
		}
	}
}

// seek computes the starting byte offset and sequence number. cursor is
// a count of log lines to skip; tailFromEnd skips everything present.
func (f *Firehose) seek(cursor int64) (int64, int64, error) {
	data, err := os.ReadFile(f.store.firehosePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("filepds: read firehose: %w", err)
	}

	var offset, seq int64
	for {
		idx := bytes.IndexByte(data[offset:], '\n')
		if idx < 0 {
			break
		}
		if cursor != tailFromEnd && seq >= cursor {
			break
		}
		offset += int64(idx) + 1
		seq++
	}
	return offset, seq, nil
}

// drain reads whole lines appended past offset and emits them. Partial
// tail lines (a writer mid-append in another process) stay unread until
// their newline lands.
func (f *Firehose) drain(offset, seq int64) (int64, int64) {
	file, err := os.Open(f.store.firehosePath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.send(firehoseItem{err: fmt.Errorf("filepds: open firehose: %w", err)})
		}
		return offset, seq
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		f.send(firehoseItem{err: fmt.Errorf("filepds: seek firehose: %w", err)})
		return offset, seq
	}
	data, err := io.ReadAll(file)
	if err != nil {
		f.send(firehoseItem{err: fmt.Errorf("filepds: read firehose: %w", err)})
		return offset, seq
	}

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		data = data[idx+1:]
		offset += int64(idx) + 1
		seq++

		event, err := convertLine(line, seq)
		if err != nil {
			if !f.send(firehoseItem{err: err}) {
				return offset, seq
			}
			continue
		}
		if !f.send(firehoseItem{event: event}) {
			return offset, seq
		}
	}
	return offset, seq
}

func (f *Firehose) send(item firehoseItem) bool {
	select {
	case f.events <- item:
		return true
	case <-f.done:
		return false
	}
}

// convertLine maps one log line to a single-op commit event.
func convertLine(line []byte, seq int64) (*repo.Event, error) {
	var ev logEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, aterr.NewProtocol(0, "InvalidEvent", fmt.Sprintf("firehose line %d is not valid JSON", seq), string(line), "")
	}

	uri, err := syntax.ParseATURI(ev.URI)
	if err != nil {
		return nil, aterr.NewProtocol(0, "InvalidEvent", fmt.Sprintf("firehose line %d has invalid uri %q", seq, ev.URI), string(line), "")
	}

	op := repo.CommitOp{
		Path:   uri.Collection().String() + "/" + uri.RecordKey().String(),
		Action: ev.Op,
	}
	if len(ev.Value) > 0 {
		var value repo.Value
		if err := json.Unmarshal(ev.Value, &value); err == nil {
			op.Value = &value
		}
		if recordCID, err := ComputeCID(ev.Value); err == nil {
			op.CID = recordCID
		}
	}

	return &repo.Event{Commit: &repo.Commit{
		Seq:  seq,
		Repo: uri.Repo(),
		Rev:  fmt.Sprintf("%d", seq),
		Time: ev.Time,
		Ops:  []repo.CommitOp{op},
	}}, nil
}
