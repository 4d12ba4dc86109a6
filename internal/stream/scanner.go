package stream

import (
	"bufio"
	"io"
)

// MaxLineBytes bounds one stream-JSON line. Tool results carry whole file
// contents inline, so lines far beyond bufio's default are routine.
const MaxLineBytes = 8 << 20

// NewLineScanner returns a line scanner sized for agent output.
func NewLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return scanner
}
