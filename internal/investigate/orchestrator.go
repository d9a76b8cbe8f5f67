package investigate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nikolaivetrov/crashlens/internal/facade"
	"github.com/nikolaivetrov/crashlens/internal/model"
	"github.com/nikolaivetrov/crashlens/internal/runtimereader"
)

// Config bundles every tunable the CLI/config surface exposes. Callers
// that only need the defaults should start from DefaultConfig.
type Config struct {
	MaxIterations                int
	MaxTokensPerRequest          int
	MaxToolCalls                 int
	InitialPromptTruncationChars int
	ToolOutputTruncationChars    int
}

// DefaultConfig returns the orchestrator's fixed default budgets.
func DefaultConfig() Config {
	return Config{
		MaxIterations:                100,
		MaxTokensPerRequest:          4096,
		MaxToolCalls:                 50,
		InitialPromptTruncationChars: 200000,
		ToolOutputTruncationChars:    50000,
	}
}

// ExecutedCommand records one tool invocation for the result's audit trail.
type ExecutedCommand struct {
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input"`
	Output    string          `json:"output"`
	Iteration int             `json:"iteration"`
	Duration  time.Duration   `json:"duration"`
}

// Result is the orchestrator's terminal output: always a structured value,
// never a raw error. Cancellation also ends in a Result (low confidence,
// Reasoning set to the context error, no root cause); Run returns no error
// value.
type Result struct {
	RootCause          string            `json:"rootCause"`
	Confidence         string            `json:"confidence"`
	Reasoning          string            `json:"reasoning,omitempty"`
	Recommendations    []string          `json:"recommendations,omitempty"`
	AdditionalFindings []string          `json:"additionalFindings,omitempty"`
	Iterations         int               `json:"iterations"`
	CommandsExecuted   []ExecutedCommand `json:"commandsExecuted"`
}

// Orchestrator drives Transport through the bounded tool-use loop over a
// finalized Report.
type Orchestrator struct {
	cfg       Config
	transport Transport
	backend   *toolBackend
}

// New builds an Orchestrator. reader may be nil when no managed runtime was
// located; inspect then returns an SOS-fallback hint instead of erroring.
func New(cfg Config, transport Transport, f *facade.Facade, reader *runtimereader.Reader, report *model.Report) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		transport: transport,
		backend:   &toolBackend{report: report, f: f, reader: reader},
	}
}

// Run executes the tool-use loop to termination.
func (o *Orchestrator) Run(ctx context.Context, systemPrompt string) Result {
	if !o.transport.IsSamplingSupported() || !o.transport.IsToolUseSupported() {
		return Result{
			RootCause:  "AI analysis unavailable: transport does not support sampling and tool use.",
			Confidence: "low",
		}
	}

	reportJSON, err := json.Marshal(o.backend.report)
	if err != nil {
		return Result{RootCause: "AI analysis failed: could not serialize report.", Confidence: "low", Reasoning: err.Error()}
	}
	initial := headAndTail(string(reportJSON), o.cfg.InitialPromptTruncationChars)

	messages := []Message{
		{Role: RoleUser, Content: []ContentBlock{{Type: "text", Text: initial}}},
	}

	var executed []ExecutedCommand
	toolCalls := 0

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		select {
		case <-ctx.Done():
			return Result{RootCause: "", Confidence: "low", Reasoning: ctx.Err().Error(), Iterations: iteration - 1, CommandsExecuted: executed}
		default:
		}

		resp, err := o.transport.Sample(ctx, Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			MaxTokens:    o.cfg.MaxTokensPerRequest,
			Tools:        toolSpecs(),
			ToolChoice:   "auto",
		})
		if err != nil {
			return Result{
				RootCause:        "AI analysis failed: sampling request error.",
				Confidence:       "low",
				Reasoning:        err.Error(),
				Iterations:       iteration - 1,
				CommandsExecuted: executed,
			}
		}

		messages = append(messages, Message{Role: RoleAssistant, Content: resp.Content})

		var toolResults []ContentBlock
		for _, block := range resp.Content {
			if block.Type != "tool_use" {
				continue
			}

			if block.Name == "analysis_complete" {
				return buildCompletionResult(block.Input, iteration, executed)
			}

			if block.ID == "" {
				messages = append(messages, Message{
					Role:    RoleUser,
					Content: []ContentBlock{{Type: "text", Text: "tool_use block missing a required id; retry the call with a valid id"}},
				})
				continue
			}

			toolCalls++
			if toolCalls > o.cfg.MaxToolCalls {
				return Result{
					RootCause:        "",
					Confidence:       "low",
					Reasoning:        fmt.Sprintf("tool-call budget of %d exceeded", o.cfg.MaxToolCalls),
					Iterations:       iteration,
					CommandsExecuted: executed,
				}
			}

			start := time.Now()
			output, isError := o.backend.execute(ctx, block.Name, block.Input)
			duration := time.Since(start)
			truncated := headAndTail(output, o.cfg.ToolOutputTruncationChars)

			inputJSON, _ := json.Marshal(block.Input)
			executed = append(executed, ExecutedCommand{
				Tool:      block.Name,
				Input:     inputJSON,
				Output:    truncated,
				Iteration: iteration,
				Duration:  duration,
			})

			toolResults = append(toolResults, ContentBlock{
				Type:      "tool_result",
				ToolUseID: block.ID,
				IsError:   isError,
				Text:      truncated,
			})
		}

		if len(toolResults) > 0 {
			messages = append(messages, Message{Role: RoleUser, Content: toolResults})
		}
	}

	return Result{
		RootCause:        "AI analysis returned an answer but did not call analysis_complete",
		Confidence:       "low",
		Iterations:       o.cfg.MaxIterations,
		CommandsExecuted: executed,
	}
}

func buildCompletionResult(input map[string]interface{}, iteration int, executed []ExecutedCommand) Result {
	r := Result{Iterations: iteration, CommandsExecuted: executed}
	r.RootCause, _ = input["root_cause"].(string)
	r.Confidence, _ = input["confidence"].(string)
	if r.Confidence == "" {
		r.Confidence = "unknown"
	}
	r.Reasoning, _ = input["reasoning"].(string)
	r.Recommendations = stringSlice(input["recommendations"])
	r.AdditionalFindings = stringSlice(input["additional_findings"])
	return r
}

func stringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
