// Package stream decodes the agent's stream-JSON output line by line and
// feeds what it sees into the budget tracker, the stuck detector and the
// control latch. Lines it cannot decode are logged and dropped; the agent
// process is never interrupted over malformed output.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/budget"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/control"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/logging"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/stuck"
)

const droppedLineHeadBytes = 200

// ParserConfig wires one Parser to its iteration-scoped collaborators. All
// fields are optional; a nil collaborator turns its concern off, which the
// tests use to exercise paths in isolation.
type ParserConfig struct {
	Budget    *budget.Tracker
	Detector  *stuck.Detector
	Latch     *control.Latch
	Events    contracts.EventSink
	Logger    *logging.StructuredLogger
	Iteration int
	Task      string
}

type pendingTool struct {
	name    string
	kind    ToolKind
	command string
	detail  string
}

// Parser consumes one agent session's stdout. It is not safe for concurrent
// use; the iteration controller owns it and calls HandleLine from the single
// stdout reader goroutine.
type Parser struct {
	cfg       ParserConfig
	sessionID string
	pending   map[string]pendingTool
}

func NewParser(cfg ParserConfig) *Parser {
	return &Parser{
		cfg:     cfg,
		pending: map[string]pendingTool{},
	}
}

// SessionID returns the session identifier announced by the agent, used as
// the resume token for the next iteration after a natural exit.
func (p *Parser) SessionID() string {
	return p.sessionID
}

// HandleLine processes one line of agent output. Undecodable and unknown
// lines are dropped after a debug log entry. The returned error only ever
// reports sink failures, never input problems.
func (p *Parser) HandleLine(ctx context.Context, line []byte) error {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	record, err := DecodeRecord(trimmed)
	if err != nil {
		p.debug("dropped undecodable stream line", map[string]interface{}{
			"line_head":    lineHead(trimmed),
			"decode_error": err.Error(),
		})
		return nil
	}
	if !record.Known() {
		p.debug("skipped unknown stream record", map[string]interface{}{
			"record_type": string(record.Type),
		})
		return nil
	}

	switch record.Type {
	case RecordSystem:
		return p.handleSystem(ctx, record)
	case RecordAssistant:
		return p.handleAssistant(ctx, record)
	case RecordUser:
		return p.handleToolResults(ctx, record)
	case RecordResult:
		return p.handleResult(ctx, record)
	}
	return nil
}

func (p *Parser) handleSystem(ctx context.Context, record Record) error {
	if record.SessionID != "" {
		p.sessionID = record.SessionID
	}
	if record.Subtype != "init" {
		return nil
	}
	return p.emit(ctx, contracts.Event{
		Type:    contracts.EventSessionStarted,
		Detail:  record.Model,
		Message: record.SessionID,
	})
}

func (p *Parser) handleAssistant(ctx context.Context, record Record) error {
	if record.Message == nil {
		return nil
	}
	var errs []error
	for _, item := range record.Message.Content {
		switch item.Type {
		case "text":
			errs = append(errs, p.handleAssistantText(ctx, item.Text))
		case "tool_use":
			errs = append(errs, p.handleToolUse(ctx, item))
		}
	}
	if usage := record.Message.Usage; usage != nil && p.cfg.Budget != nil {
		signal := p.cfg.Budget.RecordUsage(budget.Usage{
			OutputTokens:        usage.OutputTokens,
			CacheReadTokens:     usage.CacheReadInputTokens,
			CacheCreationTokens: usage.CacheCreationInputTokens,
		})
		snapshot := p.cfg.Budget.Snapshot()
		errs = append(errs, p.emit(ctx, contracts.Event{
			Type:   contracts.EventUsageUpdated,
			Tokens: &snapshot,
		}))
		errs = append(errs, p.applyBudgetSignal(ctx, signal))
	}
	return joinErrs(errs)
}

func (p *Parser) handleAssistantText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	var errs []error
	errs = append(errs, p.emit(ctx, contracts.Event{
		Type:    contracts.EventAssistantText,
		Message: text,
	}))
	if p.cfg.Budget != nil {
		errs = append(errs, p.applyBudgetSignal(ctx, p.cfg.Budget.RecordAssistantText(text)))
	}
	if sigil, ok := FindSigil(text); ok {
		errs = append(errs, p.handleSigil(ctx, sigil))
	}
	return joinErrs(errs)
}

func (p *Parser) handleSigil(ctx context.Context, sigil Sigil) error {
	switch sigil.Kind {
	case SigilComplete:
		p.offer(control.Verdict{
			Signal: control.SignalComplete,
			Origin: "agent",
			Reason: "completion sigil in assistant text",
		})
		return p.emitControl(ctx, control.SignalComplete, "agent", "agent declared the task complete")
	case SigilGutter:
		p.offer(control.Verdict{
			Signal: control.SignalGutter,
			Origin: "agent",
			Reason: "gutter sigil in assistant text",
		})
		return p.emitControl(ctx, control.SignalGutter, "agent", "agent declared itself stuck")
	case SigilQCPass, SigilQCFail:
		// Quality verdicts only mean something inside a quality gate run.
		message := fmt.Sprintf("quality verdict %s outside a quality gate run", Marker(sigil.Kind))
		if sigil.CriterionIndex > 0 {
			message = fmt.Sprintf("quality verdict %s:%d outside a quality gate run", Marker(sigil.Kind), sigil.CriterionIndex)
		}
		return p.emit(ctx, contracts.Event{
			Type:    contracts.EventControlSignal,
			Signal:  string(sigil.Kind),
			Detail:  "agent",
			Message: message,
		})
	}
	return nil
}

func (p *Parser) handleToolUse(ctx context.Context, item ContentItem) error {
	kind := ClassifyTool(item.Name)
	input := decodeToolInput(item.Input)
	detail := toolDetail(kind, input)
	if item.ID != "" {
		p.pending[item.ID] = pendingTool{
			name:    item.Name,
			kind:    kind,
			command: input.Command,
			detail:  detail,
		}
	}

	var errs []error
	errs = append(errs, p.emit(ctx, contracts.Event{
		Type:   contracts.EventToolInvoked,
		Tool:   item.Name,
		Detail: detail,
	}))

	switch kind {
	case ToolShell:
		if rule, blocked := MatchBlocking(input.Command); blocked {
			errs = append(errs, p.emit(ctx, contracts.Event{
				Type:    contracts.EventCommandBlocked,
				Tool:    item.Name,
				Detail:  input.Command,
				Message: rule.Name,
				Hint:    rule.Hint,
			}))
			errs = append(errs, p.recordFailure(ctx, input.Command))
		}
	case ToolWrite:
		path := input.FilePath
		if path == "" {
			path = input.Path
		}
		if p.cfg.Detector != nil {
			if detection, fired := p.cfg.Detector.RecordWrite(path); fired {
				errs = append(errs, p.applyDetection(ctx, detection))
			}
		}
		if p.cfg.Budget != nil {
			written := len(input.Content) + len(input.NewString)
			errs = append(errs, p.applyBudgetSignal(ctx, p.cfg.Budget.RecordWrite(written)))
		}
	}
	return joinErrs(errs)
}

func (p *Parser) handleToolResults(ctx context.Context, record Record) error {
	if record.Message == nil {
		return nil
	}
	var errs []error
	for _, item := range record.Message.Content {
		if item.Type != "tool_result" {
			continue
		}
		pend, known := p.pending[item.ToolUseID]
		delete(p.pending, item.ToolUseID)

		text := flattenResultContent(item.Content)
		if p.cfg.Budget != nil {
			errs = append(errs, p.applyBudgetSignal(ctx, p.cfg.Budget.RecordRead(len(text))))
		}

		event := contracts.Event{
			Type:   contracts.EventToolCompleted,
			Tool:   pend.name,
			Detail: pend.detail,
		}
		if !known {
			event.Detail = item.ToolUseID
		}
		if item.IsError {
			event.Err = headRunes(text, 200)
			if known && pend.kind == ToolShell && pend.command != "" {
				errs = append(errs, p.recordFailure(ctx, pend.command))
			}
		}
		errs = append(errs, p.emit(ctx, event))
	}
	return joinErrs(errs)
}

func (p *Parser) handleResult(ctx context.Context, record Record) error {
	event := contracts.Event{
		Type:       contracts.EventSessionFinished,
		Detail:     record.Subtype,
		DurationMS: record.DurationMS,
		Message:    fmt.Sprintf("cost_usd=%.4f turns=%d", record.TotalCostUSD, record.NumTurns),
	}
	if p.cfg.Budget != nil {
		snapshot := p.cfg.Budget.Snapshot()
		event.Tokens = &snapshot
	}
	return p.emit(ctx, event)
}

func (p *Parser) recordFailure(ctx context.Context, command string) error {
	if p.cfg.Detector == nil {
		return nil
	}
	detection, fired := p.cfg.Detector.RecordFailure(command)
	if !fired {
		return nil
	}
	return p.applyDetection(ctx, detection)
}

func (p *Parser) applyDetection(ctx context.Context, detection stuck.Detection) error {
	p.offer(control.Verdict{
		Signal: detection.Signal,
		Origin: "stuck",
		Reason: detection.Summary,
	})
	return p.emitControl(ctx, detection.Signal, detection.Kind, detection.Summary)
}

func (p *Parser) applyBudgetSignal(ctx context.Context, signal control.Signal) error {
	switch signal {
	case control.SignalWarn:
		return p.emitControl(ctx, control.SignalWarn, "budget",
			fmt.Sprintf("context estimate reached %d tokens", p.cfg.Budget.ContextTokens()))
	case control.SignalRotate:
		p.offer(control.Verdict{
			Signal: control.SignalRotate,
			Origin: "budget",
			Reason: fmt.Sprintf("context estimate reached %d tokens", p.cfg.Budget.ContextTokens()),
		})
		return p.emitControl(ctx, control.SignalRotate, "budget",
			fmt.Sprintf("context estimate reached %d tokens", p.cfg.Budget.ContextTokens()))
	}
	return nil
}

func (p *Parser) emitControl(ctx context.Context, signal control.Signal, origin, message string) error {
	event := contracts.Event{
		Type:    contracts.EventControlSignal,
		Signal:  string(signal),
		Detail:  origin,
		Message: message,
	}
	if p.cfg.Budget != nil {
		snapshot := p.cfg.Budget.Snapshot()
		event.Tokens = &snapshot
	}
	return p.emit(ctx, event)
}

func (p *Parser) offer(v control.Verdict) {
	if p.cfg.Latch != nil {
		p.cfg.Latch.Offer(v)
	}
}

func (p *Parser) emit(ctx context.Context, event contracts.Event) error {
	if p.cfg.Events == nil {
		return nil
	}
	event.Timestamp = time.Now().UTC()
	event.Iteration = p.cfg.Iteration
	event.Task = p.cfg.Task
	return p.cfg.Events.Emit(ctx, event)
}

func (p *Parser) debug(message string, fields map[string]interface{}) {
	if p.cfg.Logger == nil {
		return
	}
	_ = p.cfg.Logger.Event("debug", message, fields)
}

func toolDetail(kind ToolKind, input toolInput) string {
	switch kind {
	case ToolShell:
		return input.Command
	case ToolRead, ToolWrite:
		if input.FilePath != "" {
			return input.FilePath
		}
		return input.Path
	case ToolSearch:
		if input.Pattern != "" {
			return input.Pattern
		}
		return input.Path
	case ToolList:
		return input.Path
	case ToolFetch:
		return input.URL
	case ToolSubagent:
		return headRunes(input.Prompt, 120)
	}
	return ""
}

func lineHead(line []byte) string {
	if len(line) <= droppedLineHeadBytes {
		return string(line)
	}
	return string(line[:droppedLineHeadBytes])
}

func headRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func joinErrs(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
