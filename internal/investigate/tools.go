package investigate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	mcpschema "github.com/mark3labs/mcp-go/mcp"

	"github.com/nikolaivetrov/crashlens/internal/facade"
	"github.com/nikolaivetrov/crashlens/internal/model"
	"github.com/nikolaivetrov/crashlens/internal/runtimereader"
)

// toolSpecs is the fixed tool set — the orchestrator never adds or removes
// tools at runtime. Each tool's schema is built with
// mcp-go's generic JSON-schema helpers rather than hand-rolled maps, the
// same builder the MCP server side uses for its own tool registration.
func toolSpecs() []ToolSpec {
	return []ToolSpec{
		fromMCPTool(mcpschema.NewTool("exec",
			mcpschema.WithDescription("Execute a debugger command via the facade, subject to the unsafe-command filter."),
			mcpschema.WithString("command", mcpschema.Required(), mcpschema.Description("The raw debugger command to run.")),
		)),
		fromMCPTool(mcpschema.NewTool("inspect",
			mcpschema.WithDescription("Dereference a managed object address via the managed-runtime reader."),
			mcpschema.WithString("address", mcpschema.Required(), mcpschema.Description("Hex address of the object, e.g. 0x7f0000")),
			mcpschema.WithNumber("max_depth", mcpschema.Description("Pointer-chase depth, 1-5; defaults to 3.")),
		)),
		fromMCPTool(mcpschema.NewTool("get_thread_stack",
			mcpschema.WithDescription("Return a thread's recorded call stack, resolved by thread id, hex os_thread_id, managed_thread_id, or decimal os_thread_id."),
			mcpschema.WithString("thread_id", mcpschema.Required()),
		)),
		withStringArrayProps(fromMCPTool(mcpschema.NewTool("analysis_complete",
			mcpschema.WithDescription("Terminate the investigation loop with a root-cause conclusion."),
			mcpschema.WithString("root_cause", mcpschema.Required()),
			mcpschema.WithString("confidence", mcpschema.Required(), mcpschema.Enum("high", "medium", "low", "unknown")),
			mcpschema.WithString("reasoning"),
		)), "recommendations", "additional_findings"),
	}
}

// withStringArrayProps adds string-array properties to spec's schema.
// mcp.NewTool's option helpers only cover scalar property types, so the
// two list fields analysis_complete takes are appended directly.
func withStringArrayProps(spec ToolSpec, names ...string) ToolSpec {
	props, _ := spec.InputSchema["properties"].(map[string]interface{})
	if props == nil {
		props = map[string]interface{}{}
		spec.InputSchema["properties"] = props
	}
	for _, name := range names {
		props[name] = map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}}
	}
	return spec
}

// fromMCPTool converts an mcp.Tool (built with the server-side schema
// helpers) into the Transport-facing ToolSpec, round-tripping through JSON
// so it only depends on mcp.Tool's public wire shape.
func fromMCPTool(t mcpschema.Tool) ToolSpec {
	data, err := json.Marshal(t)
	if err != nil {
		return ToolSpec{Name: t.Name, Description: t.Description}
	}
	var spec struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		InputSchema map[string]interface{} `json:"inputSchema"`
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return ToolSpec{Name: t.Name, Description: t.Description}
	}
	return ToolSpec{Name: spec.Name, Description: spec.Description, InputSchema: spec.InputSchema}
}

// toolBackend executes the three non-terminal tools against the report,
// the facade and the managed-runtime reader.
type toolBackend struct {
	report *model.Report
	f      *facade.Facade
	reader *runtimereader.Reader
}

func (b *toolBackend) execute(ctx context.Context, name string, input map[string]interface{}) (string, bool) {
	switch name {
	case "exec":
		return b.exec(ctx, input)
	case "inspect":
		return b.inspect(ctx, input)
	case "get_thread_stack":
		return b.getThreadStack(input)
	default:
		return fmt.Sprintf("unknown tool %q", name), true
	}
}

func (b *toolBackend) exec(ctx context.Context, input map[string]interface{}) (string, bool) {
	command, _ := input["command"].(string)
	if command == "" {
		return "exec: missing required field \"command\"", true
	}
	out, err := b.f.Execute(ctx, command)
	if err != nil {
		return err.Error(), true
	}
	return out, false
}

func (b *toolBackend) inspect(ctx context.Context, input map[string]interface{}) (string, bool) {
	if b.reader == nil {
		hint, _ := json.Marshal(map[string]string{
			"hint": "managed-runtime reader unavailable; fall back to an SOS command via exec (e.g. !DumpObj <address>)",
		})
		return string(hint), false
	}
	addrStr, _ := input["address"].(string)
	addr, err := parseHexAddress(addrStr)
	if err != nil {
		return fmt.Sprintf("inspect: %v", err), true
	}
	maxDepth := 3
	if v, ok := input["max_depth"]; ok {
		maxDepth = intFromAny(v, maxDepth)
	}
	obj, err := b.reader.Inspect(ctx, addr, maxDepth)
	if err != nil {
		return err.Error(), true
	}
	out, _ := json.Marshal(obj)
	return string(out), false
}

func (b *toolBackend) getThreadStack(input map[string]interface{}) (string, bool) {
	threadID, _ := input["thread_id"].(string)
	if threadID == "" {
		return "get_thread_stack: missing required field \"thread_id\"", true
	}
	if b.report.ThreadsInfo == nil {
		return "get_thread_stack: report has no thread information", true
	}
	for _, t := range b.report.ThreadsInfo.Threads {
		if threadMatches(t, threadID) {
			out, _ := json.Marshal(t.CallStack)
			return string(out), false
		}
	}
	return fmt.Sprintf("get_thread_stack: no thread matches %q", threadID), true
}

// threadMatches resolves threadID against any of the four identifiers the
// spec allows: the display thread_id, a normalized hex os_thread_id, the
// managed_thread_id, or the decimal rendering of os_thread_id.
func threadMatches(t model.ThreadInfo, query string) bool {
	if t.ThreadID == query {
		return true
	}
	if normalizeHex(t.OSThreadID) == normalizeHex(query) {
		return true
	}
	if t.ManagedThreadID > 0 && strconv.Itoa(t.ManagedThreadID) == query {
		return true
	}
	if dec, err := parseHexAddress(t.OSThreadID); err == nil {
		if strconv.FormatUint(dec, 10) == query {
			return true
		}
	}
	return false
}

func normalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "0x")
}

func parseHexAddress(s string) (uint64, error) {
	s = normalizeHex(s)
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	return strconv.ParseUint(s, 16, 64)
}

func intFromAny(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return fallback
}
