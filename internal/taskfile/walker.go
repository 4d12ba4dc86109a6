package taskfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultWalkDepth bounds how many chain links a single walk will follow.
const DefaultWalkDepth = 50

type WalkStatus string

const (
	// WalkActive: the task still has unchecked criteria.
	WalkActive WalkStatus = "active"
	// WalkNeedsVerification: criteria done, quality check not yet passed.
	WalkNeedsVerification WalkStatus = "needs_verification"
	// WalkChainComplete: the last task is done and verified.
	WalkChainComplete WalkStatus = "chain_complete"
	// WalkCycle: a successor pointed back at a task already visited.
	WalkCycle WalkStatus = "cycle"
	// WalkBrokenLink: a successor reference does not exist on disk.
	WalkBrokenLink WalkStatus = "broken_link"
	// WalkDepthExceeded: the chain is longer than the depth bound.
	WalkDepthExceeded WalkStatus = "depth_exceeded"
)

// Terminal reports whether the walk ended without an actionable task.
func (s WalkStatus) Terminal() bool {
	return s == WalkChainComplete
}

// WalkResult carries the walk outcome. Task is nil only for
// WalkChainComplete. Structural problems keep the current task so the run
// continues instead of losing work.
type WalkResult struct {
	Status  WalkStatus
	Task    *File
	Visited []string
	Detail  string
}

// Walker resolves the active task by following next_task references.
type Walker struct {
	depth int
}

func NewWalker() *Walker {
	return &Walker{depth: DefaultWalkDepth}
}

// WithDepth overrides the walk bound, for tests.
func (w *Walker) WithDepth(depth int) *Walker {
	if depth > 0 {
		w.depth = depth
	}
	return w
}

// Walk starts at entryPath and follows the chain until it finds something
// actionable. Successor references resolve relative to the directory of the
// file that declares them. The returned error only reports unreadable task
// files; chain problems are statuses.
func (w *Walker) Walk(entryPath string) (WalkResult, error) {
	visited := map[string]bool{}
	order := []string{}
	path := filepath.Clean(entryPath)
	var file *File

	for step := 0; step < w.depth; step++ {
		visited[path] = true
		order = append(order, path)

		var err error
		file, err = Load(path)
		if err != nil {
			return WalkResult{}, err
		}

		if !file.AllChecked() {
			return WalkResult{Status: WalkActive, Task: file, Visited: order}, nil
		}
		if !file.Meta.QualityCheckPassed {
			return WalkResult{Status: WalkNeedsVerification, Task: file, Visited: order}, nil
		}

		next := file.Meta.NextTask
		if next == "" {
			return WalkResult{Status: WalkChainComplete, Visited: order}, nil
		}
		nextPath := resolveReference(path, next)

		if visited[nextPath] {
			revisited, err := Load(nextPath)
			if err != nil {
				return WalkResult{}, err
			}
			return WalkResult{
				Status:  WalkCycle,
				Task:    revisited,
				Visited: order,
				Detail:  fmt.Sprintf("%s links back to %s", path, nextPath),
			}, nil
		}
		if _, err := os.Stat(nextPath); err != nil {
			return WalkResult{
				Status:  WalkBrokenLink,
				Task:    file,
				Visited: order,
				Detail:  fmt.Sprintf("%s names successor %s which does not exist", path, next),
			}, nil
		}
		path = nextPath
	}

	return WalkResult{
		Status:  WalkDepthExceeded,
		Task:    file,
		Visited: order,
		Detail:  fmt.Sprintf("chain exceeds %d links", w.depth),
	}, nil
}

func resolveReference(fromPath, reference string) string {
	if filepath.IsAbs(reference) {
		return filepath.Clean(reference)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(fromPath), reference))
}
