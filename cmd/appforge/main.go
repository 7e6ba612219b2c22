package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"appforge/internal/config"
	"appforge/internal/gemini"
	"appforge/internal/lint"
	"appforge/internal/logging"
	"appforge/internal/pipeline"
	"appforge/internal/status"
	"appforge/internal/store"
)

var (
	// Global flags
	verbose   bool
	workspace string
	outDir    string
	noStream  bool
	attach    []string

	logger *zap.Logger
	cfg    *config.Config
)

var (
	styleHeading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleErr     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var rootCmd = &cobra.Command{
	Use:   "appforge",
	Short: "appforge - prompt-to-project web app generator",
	Long: `appforge turns a natural-language prompt into a complete Vite + React
project. Model output is coerced through JSON recovery, structural
validation, syntax and quality checks, and bounded repair loops before
anything reaches disk.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize category logging: %w", err)
		}

		cfg, err = config.Load(workspace)
		if err != nil {
			return err
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate a new project from a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runGenerate,
}

var editCmd = &cobra.Command{
	Use:   "edit [prompt]",
	Short: "Apply a change request to an existing generated project",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEdit,
}

var statusCmd = &cobra.Command{
	Use:   "status [request-id]",
	Short: "Show request status, or recent history when no ID is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [request-id]",
	Short: "Request cancellation of a running generation",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove expired status records and prune old history",
	RunE:  runGC,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")

	generateCmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: ./<request-id>)")
	generateCmd.Flags().BoolVar(&noStream, "no-stream", false, "disable streamed first-attempt generation")
	editCmd.Flags().StringVarP(&outDir, "out", "o", "", "project directory to edit (required)")
	editCmd.Flags().StringSliceVar(&attach, "attach", nil, "image files to send as reference context")
	_ = editCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(generateCmd, editCmd, statusCmd, cancelCmd, gcCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, styleErr.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

// runtime bundles the stores every generation-side command needs.
type runtime struct {
	statusStore *status.Store
	history     *store.History
}

func openRuntime() (*runtime, error) {
	st, err := status.NewStore(filepath.Join(workspace, cfg.Status.Dir), cfg.StatusTTL())
	if err != nil {
		return nil, err
	}
	hist, err := store.Open(filepath.Join(workspace, cfg.History.Path))
	if err != nil {
		return nil, err
	}
	return &runtime{statusStore: st, history: hist}, nil
}

func (rt *runtime) close() {
	if rt.history != nil {
		_ = rt.history.Close()
	}
}

func buildPipeline(rt *runtime, backend pipeline.Backend, progress pipeline.ProgressFunc) *pipeline.Pipeline {
	opts := pipeline.Options{
		Progress:  progress,
		Cancelled: rt.statusStore.IsCancelled,
	}
	if cfg.Lint.Enabled {
		svc := lint.NewHTTPService(cfg.Lint.Endpoint, cfg.LintTimeout())
		opts.Linter = lint.NewRunner(svc, cfg.Lint.BatchSize)
	}
	return pipeline.New(backend, cfg, opts)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	requestID := uuid.NewString()
	if outDir == "" {
		outDir = filepath.Join(workspace, requestID)
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if _, err := rt.statusStore.Create(requestID); err != nil {
		return err
	}
	if err := rt.history.Begin(ctx, requestID, prompt, status.PhaseGenerating); err != nil {
		return err
	}
	_ = rt.statusStore.SetPhase(requestID, status.PhaseGenerating)

	fmt.Println(styleHeading.Render("appforge generate"))
	fmt.Println(styleDim.Render("request " + requestID))

	client := gemini.NewClient(gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		Model:           cfg.Gemini.Model,
		Timeout:         cfg.GeminiTimeout(),
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
	})

	var backend pipeline.Backend = client
	if !noStream {
		backend = newStreamingBackend(client)
	}

	p := buildPipeline(rt, backend, progressPrinter(rt, requestID))

	res, err := p.Generate(ctx, pipeline.Request{ID: requestID, Prompt: prompt})
	if err != nil {
		return finishFailed(ctx, rt, requestID, err)
	}

	if err := writeProject(outDir, res); err != nil {
		return finishFailed(ctx, rt, requestID, err)
	}

	_ = rt.statusStore.Complete(requestID, outDir)
	_ = rt.history.Finish(ctx, requestID, status.PhaseComplete, totalAttempts(res), nil, outDir)

	printResult(res, outDir)
	return nil
}

func runEdit(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	requestID := uuid.NewString()

	existing, err := readProject(outDir)
	if err != nil {
		return err
	}

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	if _, err := rt.statusStore.Create(requestID); err != nil {
		return err
	}
	if err := rt.history.Begin(ctx, requestID, prompt, status.PhaseGenerating); err != nil {
		return err
	}
	_ = rt.statusStore.SetPhase(requestID, status.PhaseGenerating)

	fmt.Println(styleHeading.Render("appforge edit"))
	fmt.Println(styleDim.Render(fmt.Sprintf("request %s, %d existing files", requestID, len(existing.Files))))

	attachments, err := loadAttachments(attach)
	if err != nil {
		return err
	}

	client := gemini.NewClient(gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		Model:           cfg.Gemini.Model,
		Timeout:         cfg.GeminiTimeout(),
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
	})
	p := buildPipeline(rt, client, progressPrinter(rt, requestID))

	res, err := p.Edit(ctx, existing, pipeline.Request{ID: requestID, Prompt: prompt, Attachments: attachments})
	if err != nil {
		return finishFailed(ctx, rt, requestID, err)
	}

	if err := writeProject(outDir, res); err != nil {
		return finishFailed(ctx, rt, requestID, err)
	}

	_ = rt.statusStore.Complete(requestID, outDir)
	_ = rt.history.Finish(ctx, requestID, status.PhaseComplete, totalAttempts(res), nil, outDir)

	printResult(res, outDir)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if len(args) == 1 {
		rec, err := rt.statusStore.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Println(styleHeading.Render(rec.ID))
		fmt.Printf("  phase:   %s\n", phaseStyle(rec.Phase).Render(rec.Phase))
		if rec.Error != "" {
			fmt.Printf("  error:   %s\n", styleErr.Render(rec.Error))
		}
		if rec.ResultPath != "" {
			fmt.Printf("  result:  %s\n", rec.ResultPath)
		}
		fmt.Printf("  updated: %s\n", rec.UpdatedAt.Format(time.RFC3339))
		for _, line := range rec.Log {
			fmt.Println(styleDim.Render("  | " + line))
		}
		return nil
	}

	entries, err := rt.history.Recent(cmd.Context(), 20)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println(styleDim.Render("no generation history"))
		return nil
	}
	fmt.Println(styleHeading.Render("recent generations"))
	for _, e := range entries {
		prompt := e.Prompt
		if len(prompt) > 48 {
			prompt = prompt[:48] + "..."
		}
		fmt.Printf("  %s  %-10s  %s\n", e.ID, phaseStyle(e.Phase).Render(e.Phase), styleDim.Render(prompt))
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.statusStore.Get(args[0]); err != nil {
		return err
	}
	if err := rt.statusStore.Cancel(args[0]); err != nil {
		return err
	}
	_ = rt.statusStore.SetPhase(args[0], status.PhaseCancelled)
	fmt.Println(styleWarn.Render("cancellation requested for " + args[0]))
	return nil
}

func runGC(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	removed, err := rt.statusStore.GC()
	if err != nil {
		return err
	}
	pruned, err := rt.history.Prune(cmd.Context(), 30*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d status records, pruned %d history entries\n", removed, pruned)
	return nil
}

func progressPrinter(rt *runtime, requestID string) pipeline.ProgressFunc {
	return func(msg string) {
		fmt.Println(styleDim.Render("  > " + msg))
		_ = rt.statusStore.AppendLog(requestID, msg)
		if strings.HasPrefix(msg, "repairing") {
			_ = rt.statusStore.SetPhase(requestID, status.PhaseRepairing)
		}
	}
}

func finishFailed(ctx context.Context, rt *runtime, requestID string, cause error) error {
	phase := status.PhaseFailed
	if errors.Is(cause, pipeline.ErrCancelled) {
		phase = status.PhaseCancelled
	}
	_ = rt.statusStore.Fail(requestID, cause)
	_ = rt.statusStore.SetPhase(requestID, phase)
	_ = rt.history.Finish(ctx, requestID, phase, 0, cause, "")
	return cause
}

func printResult(res *pipeline.Result, dir string) {
	fmt.Println(styleOK.Render(fmt.Sprintf("wrote %d files to %s", len(res.Files)+1, dir)))
	if res.LastRepair != nil {
		fmt.Println(styleDim.Render(fmt.Sprintf("repairs: %d (last fixed %d issues)",
			res.LastRepair.Number, len(res.LastRepair.Issues))))
	}
	if !res.LintReport.Passed {
		fmt.Println(styleWarn.Render(fmt.Sprintf("lint: %d errors, %d warnings remain",
			res.LintReport.ErrorCount, res.LintReport.WarningCount)))
	} else if res.LintReport.WarningCount > 0 {
		fmt.Println(styleDim.Render(fmt.Sprintf("lint: %d warnings", res.LintReport.WarningCount)))
	}
}

func phaseStyle(phase string) lipgloss.Style {
	switch phase {
	case status.PhaseComplete:
		return styleOK
	case status.PhaseFailed:
		return styleErr
	case status.PhaseCancelled:
		return styleWarn
	default:
		return styleDim
	}
}

func totalAttempts(res *pipeline.Result) int {
	total := 0
	for _, n := range res.Attempts {
		total += n
	}
	return total
}

func loadAttachments(paths []string) ([]gemini.Attachment, error) {
	var out []gemini.Attachment
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading attachment %s: %w", p, err)
		}
		out = append(out, gemini.Attachment{MimeType: mimeForPath(p), Data: data})
	}
	return out, nil
}

func mimeForPath(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
