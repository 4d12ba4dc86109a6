package stream

import (
	"strconv"
	"strings"
)

// Control sigils are literal markers the agent embeds in its prose. The
// delimiters are fixed so detection is a substring scan, never a parse of
// the surrounding text.
const (
	sigilOpen  = "<<RALPH:"
	sigilClose = ">>"
)

type SigilKind string

const (
	SigilComplete SigilKind = "COMPLETE"
	SigilGutter   SigilKind = "GUTTER"
	SigilQCPass   SigilKind = "QC-PASS"
	SigilQCFail   SigilKind = "QC-FAIL"
)

// Sigil is one decoded control marker. CriterionIndex is the optional
// 1-based index on QC-FAIL; zero means "not given".
type Sigil struct {
	Kind           SigilKind
	CriterionIndex int
}

// Marker renders the literal text of a sigil, for prompts and tests.
func Marker(kind SigilKind) string {
	return sigilOpen + string(kind) + sigilClose
}

// FindSigil scans text for the first well-formed sigil. Malformed markers
// are skipped and scanning continues; only one sigil is ever reported per
// text block.
func FindSigil(text string) (Sigil, bool) {
	rest := text
	for {
		start := strings.Index(rest, sigilOpen)
		if start < 0 {
			return Sigil{}, false
		}
		rest = rest[start+len(sigilOpen):]
		end := strings.Index(rest, sigilClose)
		if end < 0 {
			return Sigil{}, false
		}
		body := rest[:end]
		rest = rest[end+len(sigilClose):]

		sigil, ok := parseSigilBody(body)
		if ok {
			return sigil, true
		}
	}
}

func parseSigilBody(body string) (Sigil, bool) {
	body = strings.TrimSpace(body)
	switch SigilKind(body) {
	case SigilComplete:
		return Sigil{Kind: SigilComplete}, true
	case SigilGutter:
		return Sigil{Kind: SigilGutter}, true
	case SigilQCPass:
		return Sigil{Kind: SigilQCPass}, true
	case SigilQCFail:
		return Sigil{Kind: SigilQCFail}, true
	}
	if rawIndex, found := strings.CutPrefix(body, string(SigilQCFail)+":"); found {
		index, err := strconv.Atoi(strings.TrimSpace(rawIndex))
		if err != nil || index < 1 {
			return Sigil{}, false
		}
		return Sigil{Kind: SigilQCFail, CriterionIndex: index}, true
	}
	return Sigil{}, false
}
