package engine

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samaelod/scpsim/types"
)

const (
	defaultLogLines      = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = 100 * time.Millisecond
)

// ring is a fixed-capacity line buffer that overwrites the oldest line.
type ring struct {
	lines []string
	head  int
	count int
}

func newRing(capacity int) ring {
	if capacity <= 0 {
		capacity = defaultLogLines
	}
	return ring{lines: make([]string, capacity)}
}

func (r *ring) add(line string) {
	r.lines[r.head] = line
	r.head = (r.head + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

func (r *ring) all() []string {
	start := 0
	if r.count >= len(r.lines) {
		start = r.head
	}
	out := make([]string, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

func (r *ring) reset() {
	for i := range r.lines {
		r.lines[i] = ""
	}
	r.head = 0
	r.count = 0
}

// Logger is the event log: an in-memory ring for the UI, a channel that
// wakes readers, and a batched append-only file.
type Logger struct {
	mu     sync.Mutex
	buf    ring
	file   *os.File
	ch     chan string // readers, lossy
	fileCh chan string // file writer
	done   chan struct{}

	filePath string
	closed   bool
}

func NewLogger(filePath string, capacity int) *Logger {
	l := &Logger{
		buf:      newRing(capacity),
		filePath: filePath,
		ch:       make(chan string, 100),
		fileCh:   make(chan string, 1024),
		done:     make(chan struct{}),
	}

	if err := l.openFile(); err != nil {
		l.file = nil
	}

	go l.writer()

	return l
}

func (l *Logger) openFile() error {
	if l.filePath == "" {
		return nil
	}

	if dir := filepath.Dir(l.filePath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// Report appends the event as a timestamped line. A cleared event empties
// the in-memory log first.
func (l *Logger) Report(ev types.Event) {
	if ev.Kind == types.EventCleared {
		l.Reset()
	}
	l.Write("[" + ev.Time.Format("15:04:05") + "] " + FormatEvent(ev))
}

func (l *Logger) Write(msg string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	l.buf.add(msg)

	select {
	case l.ch <- msg:
	default:
	}
	select {
	case l.fileCh <- msg:
	default:
	}
}

func (l *Logger) ReadAll() string {
	if l == nil {
		return ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lines := l.buf.all()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Reset empties the in-memory buffer; the file keeps its history.
func (l *Logger) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.buf.reset()
	l.mu.Unlock()
}

func (l *Logger) Chan() <-chan string {
	if l == nil {
		return nil
	}
	return l.ch
}

// writer drains fileCh into the file. Lines that do not fit the channel
// still reach the ring but are skipped in the file.
func (l *Logger) writer() {
	defer close(l.done)

	batch := make([]string, 0, defaultBatchSize)
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 || l.file == nil {
			batch = batch[:0]
			return
		}
		for _, msg := range batch {
			l.file.WriteString(msg + "\n")
		}
		batch = batch[:0]
	}

	for {
		select {
		case msg, ok := <-l.fileCh:
			if !ok {
				flush()
				if l.file != nil {
					l.file.Close()
				}
				return
			}
			batch = append(batch, msg)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Close flushes pending lines and closes the file.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	close(l.fileCh)
	l.mu.Unlock()

	<-l.done
}
