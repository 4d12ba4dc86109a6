package watchdog

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ProcScanner reads the process table from a proc filesystem. Root is
// swappable so tests can lay out a fake tree under t.TempDir.
type ProcScanner struct {
	Root string
}

func NewProcScanner() *ProcScanner {
	return &ProcScanner{Root: "/proc"}
}

func (s *ProcScanner) Descendants(rootPID int) ([]ProcessInfo, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, err
	}

	parents := map[int]int{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		ppid, ok := s.parentOf(pid)
		if !ok {
			continue
		}
		parents[pid] = ppid
	}

	children := map[int][]int{}
	for pid, ppid := range parents {
		children[ppid] = append(children[ppid], pid)
	}

	descendants := []ProcessInfo{}
	queue := append([]int(nil), children[rootPID]...)
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		queue = append(queue, children[pid]...)

		command, ok := s.commandOf(pid)
		if !ok {
			continue
		}
		descendants = append(descendants, ProcessInfo{PID: pid, Command: command})
	}
	return descendants, nil
}

// parentOf reads the ppid from the stat file. The comm field may contain
// spaces or parentheses, so parsing starts after the last closing paren.
func (s *ProcScanner) parentOf(pid int) (int, bool) {
	raw, err := os.ReadFile(filepath.Join(s.Root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, false
	}
	closing := bytes.LastIndexByte(raw, ')')
	if closing < 0 || closing+2 > len(raw) {
		return 0, false
	}
	fields := strings.Fields(string(raw[closing+1:]))
	if len(fields) < 2 {
		return 0, false
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return ppid, true
}

func (s *ProcScanner) commandOf(pid int) ([]string, bool) {
	raw, err := os.ReadFile(filepath.Join(s.Root, strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return nil, false
	}
	raw = bytes.TrimRight(raw, "\x00")
	if len(raw) == 0 {
		return nil, false
	}
	parts := bytes.Split(raw, []byte{0})
	command := make([]string, 0, len(parts))
	for _, part := range parts {
		command = append(command, string(part))
	}
	return command, true
}
