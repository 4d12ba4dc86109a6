// Package state owns the per-workspace supervision directory: activity and
// error logs, the progress and lessons documents the agent edits, and the
// persisted iteration counter.
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DirName = ".ralph"

	activityLogName = "activity.jsonl"
	errorLogName    = "errors.jsonl"
	progressName    = "PROGRESS.md"
	lessonsName     = "LESSONS.md"
	counterName     = "iteration.json"
	logsDirName     = "logs"
)

const progressSeed = `# Progress

Running narrative of what has been built so far. The agent updates this
between work sessions; humans are welcome to edit it too.
`

const lessonsSeed = `# Lessons

Hard-won constraints and gotchas from previous iterations. Every entry is
replayed into the next iteration's instructions.
`

// ErrorEntry is one line of the append-only error log.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Iteration int       `json:"iteration,omitempty"`
	Task      string    `json:"task,omitempty"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Hint      string    `json:"hint,omitempty"`
	Count     int       `json:"count,omitempty"`
}

// Counter is the persisted iteration position. Task tracks which task the
// count belongs to so a task change resets it.
type Counter struct {
	Iteration int    `json:"iteration"`
	Task      string `json:"task,omitempty"`
}

// Dir is an opened state directory.
type Dir struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// Open ensures the state directory exists under workdir and seeds the
// editable documents on first use.
func Open(workdir string) (*Dir, error) {
	root := filepath.Join(workdir, DirName)
	if err := os.MkdirAll(filepath.Join(root, logsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dir := &Dir{root: root, now: time.Now}
	if err := dir.seedIfMissing(progressName, progressSeed); err != nil {
		return nil, err
	}
	if err := dir.seedIfMissing(lessonsName, lessonsSeed); err != nil {
		return nil, err
	}
	return dir, nil
}

func (d *Dir) seedIfMissing(name, content string) error {
	path := filepath.Join(d.root, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	return nil
}

func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) ActivityLogPath() string {
	return filepath.Join(d.root, activityLogName)
}

func (d *Dir) ErrorLogPath() string {
	return filepath.Join(d.root, errorLogName)
}

func (d *Dir) LogsDir() string {
	return filepath.Join(d.root, logsDirName)
}

func (d *Dir) ProgressPath() string {
	return filepath.Join(d.root, progressName)
}

func (d *Dir) LessonsPath() string {
	return filepath.Join(d.root, lessonsName)
}

// StderrPath names the per-iteration agent stderr capture file.
func (d *Dir) StderrPath(iteration int) string {
	return filepath.Join(d.LogsDir(), fmt.Sprintf("iteration-%03d.stderr.log", iteration))
}

// AppendError writes one entry to the error log. A zero timestamp is
// filled in.
func (d *Dir) AppendError(entry ErrorEntry) error {
	if entry.Kind == "" {
		return fmt.Errorf("error entry needs a kind")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = d.now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	file, err := os.OpenFile(d.ErrorLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append error log: %w", err)
	}
	return nil
}

// RecentErrors returns up to limit entries from the end of the error log,
// oldest first. Unparseable lines are skipped.
func (d *Dir) RecentErrors(limit int) ([]ErrorEntry, error) {
	file, err := os.Open(d.ErrorLogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := []ErrorEntry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		entry := ErrorEntry{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

// ReadProgress returns the progress narrative, empty when absent.
func (d *Dir) ReadProgress() (string, error) {
	return d.readDocument(progressName)
}

// ReadLessons returns the lessons document, empty when absent.
func (d *Dir) ReadLessons() (string, error) {
	return d.readDocument(lessonsName)
}

func (d *Dir) readDocument(name string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(d.root, name))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// AppendLesson adds one dated bullet to the lessons document.
func (d *Dir) AppendLesson(lesson string) error {
	if lesson == "" {
		return nil
	}
	line := fmt.Sprintf("- %s %s\n", d.now().UTC().Format("2006-01-02"), lesson)

	d.mu.Lock()
	defer d.mu.Unlock()
	file, err := os.OpenFile(filepath.Join(d.root, lessonsName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open lessons: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("append lessons: %w", err)
	}
	return nil
}

// LoadCounter reads the iteration counter, zero when absent.
func (d *Dir) LoadCounter() (Counter, error) {
	raw, err := os.ReadFile(filepath.Join(d.root, counterName))
	if os.IsNotExist(err) {
		return Counter{}, nil
	}
	if err != nil {
		return Counter{}, err
	}
	counter := Counter{}
	if err := json.Unmarshal(raw, &counter); err != nil {
		return Counter{}, fmt.Errorf("parse %s: %w", counterName, err)
	}
	return counter, nil
}

// SaveCounter persists the counter atomically.
func (d *Dir) SaveCounter(counter Counter) error {
	raw, err := json.MarshalIndent(counter, "", "  ")
	if err != nil {
		return err
	}

	temp, err := os.CreateTemp(d.root, ".iteration-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp counter: %w", err)
	}
	tempPath := temp.Name()
	saved := false
	defer func() {
		if !saved {
			temp.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := temp.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write temp counter: %w", err)
	}
	if err := temp.Sync(); err != nil {
		return fmt.Errorf("sync temp counter: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("close temp counter: %w", err)
	}
	if err := os.Rename(tempPath, filepath.Join(d.root, counterName)); err != nil {
		return fmt.Errorf("replace counter: %w", err)
	}
	saved = true
	return nil
}
