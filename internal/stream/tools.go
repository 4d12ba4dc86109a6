package stream

// ToolKind buckets agent tool names into the categories the supervisor
// reasons about. The mapping is fixed; unknown tools land in ToolOther.
type ToolKind string

const (
	ToolRead     ToolKind = "read"
	ToolWrite    ToolKind = "write"
	ToolShell    ToolKind = "shell"
	ToolSearch   ToolKind = "search"
	ToolList     ToolKind = "list"
	ToolTodo     ToolKind = "todo"
	ToolFetch    ToolKind = "fetch"
	ToolSubagent ToolKind = "subagent"
	ToolOther    ToolKind = "other"
)

var toolKinds = map[string]ToolKind{
	"Read":         ToolRead,
	"Write":        ToolWrite,
	"Edit":         ToolWrite,
	"MultiEdit":    ToolWrite,
	"NotebookEdit": ToolWrite,
	"Bash":         ToolShell,
	"Grep":         ToolSearch,
	"Glob":         ToolSearch,
	"WebSearch":    ToolSearch,
	"LS":           ToolList,
	"TodoWrite":    ToolTodo,
	"WebFetch":     ToolFetch,
	"Task":         ToolSubagent,
}

func ClassifyTool(name string) ToolKind {
	if kind, ok := toolKinds[name]; ok {
		return kind
	}
	return ToolOther
}
