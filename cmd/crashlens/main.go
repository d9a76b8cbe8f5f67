// crashlens — native crash-dump analyzer and AI-assisted investigator.
//
// Drives lldb or cdb/WinDbg against a core dump or minidump, parses the
// output into a structured report, derives findings and root-cause
// hypotheses, and optionally hands the report to a tool-using AI
// transport for deeper investigation.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nikolaivetrov/crashlens/internal/analyzer"
	"github.com/nikolaivetrov/crashlens/internal/compare"
	"github.com/nikolaivetrov/crashlens/internal/investigate"
	crashlensmcp "github.com/nikolaivetrov/crashlens/internal/mcp"
	"github.com/nikolaivetrov/crashlens/internal/model"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "crashlens",
		Short:   "Crash-dump analyzer and AI-assisted investigator",
		Version: version,
		Long: `crashlens — single Go binary for post-mortem crash analysis.

Drives lldb (Linux/macOS core dumps) or cdb/WinDbg (Windows minidumps),
parses exceptions, threads, modules and managed-runtime metadata into a
structured JSON report, and derives deterministic findings and ranked
root-cause hypotheses. Optionally hands the report to a tool-using AI
transport for an interactive investigation.`,
	}

	rootCmd.AddCommand(newAnalyzeCmd(), newInvestigateCmd(), newCompareCmd(), newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAnalyzeCmd() *cobra.Command {
	var (
		dialectFlag  string
		debuggerPath string
		outputPath   string
		noRedact     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <dump>",
		Short: "Run the crash pipeline over a dump and produce a finalized report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dialect := model.Dialect(dialectFlag)
			if dialect == "" {
				dialect = analyzer.DetectDialect(args[0])
			}
			warnOnLimitedCapability(cmd, dialect, debuggerPath)

			report, err := analyzer.Analyze(cmd.Context(), args[0], dialect, debuggerPath, !noRedact)
			if err != nil {
				return err
			}
			return writeJSON(report, outputPath)
		},
	}
	cmd.Flags().StringVar(&dialectFlag, "dialect", "", "Force dialect: lldb or windbg (default: guess from extension)")
	cmd.Flags().StringVar(&debuggerPath, "debugger-path", "", "Path to the lldb/cdb binary (default: look up on PATH)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output report path (- for stdout)")
	cmd.Flags().BoolVar(&noRedact, "no-redact", false, "Disable redaction of sensitively-named environment variables and raw command text (--redact is the implicit default)")
	return cmd
}

func newInvestigateCmd() *cobra.Command {
	var (
		dialectFlag   string
		debuggerPath  string
		outputPath    string
		maxIterations int
		maxToolCalls  int
		prompt        string
		noRedact      bool
	)

	cmd := &cobra.Command{
		Use:   "investigate <dump>",
		Short: "Run the crash pipeline, then hand the report to an AI tool-use loop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dialect := model.Dialect(dialectFlag)
			if dialect == "" {
				dialect = analyzer.DetectDialect(args[0])
			}
			warnOnLimitedCapability(cmd, dialect, debuggerPath)

			report, err := analyzer.Analyze(ctx, args[0], dialect, debuggerPath, !noRedact)
			if err != nil {
				return err
			}

			cfg := investigate.DefaultConfig()
			if maxIterations > 0 {
				cfg.MaxIterations = maxIterations
			}
			if maxToolCalls > 0 {
				cfg.MaxToolCalls = maxToolCalls
			}

			// The pipeline's own session is already closed by the time
			// Analyze returns; the tool-use loop needs a live one of its
			// own to issue further commands against the same dump.
			f, err := analyzer.OpenFacade(ctx, report.Dialect, debuggerPath, report.DumpPath)
			if err != nil {
				return err
			}
			defer analyzer.CloseFacade(ctx, f, report.Dialect)
			_, reader := analyzer.NewReader(f, report.Dialect)

			orch := investigate.New(cfg, investigate.NullTransport{}, f, reader, report)
			result := orch.Run(ctx, prompt)

			return writeJSON(result, outputPath)
		},
	}
	cmd.Flags().StringVar(&dialectFlag, "dialect", "", "Force dialect: lldb or windbg (default: guess from extension)")
	cmd.Flags().StringVar(&debuggerPath, "debugger-path", "", "Path to the lldb/cdb binary (default: look up on PATH)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output investigation result path (- for stdout)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override the orchestrator's iteration budget")
	cmd.Flags().IntVar(&maxToolCalls, "max-tool-calls", 0, "Override the orchestrator's tool-call budget")
	cmd.Flags().StringVar(&prompt, "system-prompt", "Investigate this crash report and determine its root cause.", "System prompt handed to the AI transport")
	cmd.Flags().BoolVar(&noRedact, "no-redact", false, "Disable redaction of sensitively-named environment variables and raw command text (--redact is the implicit default)")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "compare <baseline.json> <current.json>",
		Short: "Diff two finalized crashlens reports",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			baseline, err := compare.LoadReport(args[0])
			if err != nil {
				return fmt.Errorf("load baseline: %w", err)
			}
			current, err := compare.LoadReport(args[1])
			if err != nil {
				return fmt.Errorf("load current: %w", err)
			}

			result := compare.Compare(baseline, current)

			if outputPath == "-" {
				fmt.Print(compare.FormatResult(result))
				return nil
			}
			return writeJSON(result, outputPath)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "Output diff path (- for human-readable stdout)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start a minimal stdio MCP server exposing analyze_dump",
		Long: `Starts a JSON-RPC server implementing the Model Context Protocol (MCP),
exposing a single stateless analyze_dump tool that wraps the crash
pipeline. Communication happens over standard input/output (stdio).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := crashlensmcp.NewServer(version)
			return srv.Start(cmd.Context())
		},
	}
}

// warnOnLimitedCapability prints a one-line diagnostic to stderr when the
// configured debugger is missing or can't reach managed-runtime state; it
// never blocks the run, it only saves the operator a confusing downstream
// DialectUnsupported/empty-report surprise.
func warnOnLimitedCapability(cmd *cobra.Command, dialect model.Dialect, debuggerPath string) {
	caps := analyzer.DetectDebuggerCapabilities(dialect, debuggerPath)
	switch analyzer.CapabilityTier(dialect, caps) {
	case analyzer.CapabilityNone:
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: debugger for dialect %q not found on PATH; analysis will fail\n", dialect)
	case analyzer.CapabilityPartial:
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: no SOS plugin found for lldb; managed-runtime enrichment will be empty\n")
	}
}

func writeJSON(v interface{}, outputPath string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if outputPath == "-" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(outputPath, data, 0644)
}
