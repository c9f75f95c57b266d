package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"logbook_autofill/config"
	"logbook_autofill/generator"
	"logbook_autofill/logging"
	"logbook_autofill/publisher"
	"logbook_autofill/server"
)

var (
	configPath string
	verbose    bool
	useMock    bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "logbook",
	Short:         "Fill compliance logbooks with synthetic data from a generative model",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if useMock {
			cfg.LLM.Provider = "mock"
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the built-in logbook templates",
	RunE:  runTemplates,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate every row of a logbook",
	RunE:  runGenerate,
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Infer a logbook template and rows from a document (PDF or image)",
	RunE:  runInfer,
}

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Auto-correct selected rows of a generated logbook",
	RunE:  runFix,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render a generated logbook as HTML or Markdown",
	RunE:  runReport,
}

var (
	serveAddr string

	templateID   string
	templateFile string
	rowsFile     string
	outPath      string
	reportPath   string
	reportOut    string
	docPath      string
	docMIME      string
	rowIndexes   string

	simMode    string
	simFill    int
	simAnomaly int
	simPeriod  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logs")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "use the offline mock model")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")

	for _, c := range []*cobra.Command{generateCmd, fixCmd, reportCmd} {
		c.Flags().StringVarP(&templateID, "template", "t", "", "built-in template id")
		c.Flags().StringVar(&templateFile, "template-file", "", "JSON template (or infer output) to use instead of a built-in")
	}
	for _, c := range []*cobra.Command{generateCmd, inferCmd} {
		c.Flags().StringVar(&simMode, "mode", "realistic", "simulation mode: compliant, realistic or chaos")
		c.Flags().IntVar(&simFill, "fill", 95, "percentage of cells to fill (0-100)")
		c.Flags().IntVar(&simAnomaly, "anomaly", 10, "percentage of rows with a deviation (0-100)")
		c.Flags().StringVar(&simPeriod, "period", time.Now().Format("2006-01"), "target period YYYY-MM")
	}
	generateCmd.Flags().StringVarP(&outPath, "out", "o", "", "write rows JSON here (default stdout)")
	generateCmd.Flags().StringVar(&reportPath, "report", "", "also write an HTML/Markdown report")

	inferCmd.Flags().StringVarP(&docPath, "file", "f", "", "document to read")
	inferCmd.Flags().StringVar(&docMIME, "mime", "", "MIME type (detected when empty)")
	inferCmd.Flags().StringVarP(&outPath, "out", "o", "", "write template + rows JSON here (default stdout)")
	_ = inferCmd.MarkFlagRequired("file")

	fixCmd.Flags().StringVar(&rowsFile, "rows", "", "rows JSON produced by generate")
	fixCmd.Flags().StringVar(&rowIndexes, "index", "", "comma-separated 0-based row indexes to fix")
	fixCmd.Flags().StringVarP(&outPath, "out", "o", "", "write rows JSON here (default stdout)")
	_ = fixCmd.MarkFlagRequired("rows")
	_ = fixCmd.MarkFlagRequired("index")

	reportCmd.Flags().StringVar(&rowsFile, "rows", "", "rows JSON produced by generate")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "report.html", "report path (.md for Markdown)")
	_ = reportCmd.MarkFlagRequired("rows")

	rootCmd.AddCommand(serveCmd, templatesCmd, generateCmd, inferCmd, fixCmd, reportCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, msg := generator.Describe(err)
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	agent, err := buildAgent(cmd.Context())
	if err != nil {
		return err
	}
	srv, err := server.New(agent, cfg.Server, logger)
	if err != nil {
		return err
	}
	listen := cfg.Server.Addr
	if serveAddr != "" {
		listen = serveAddr
	}
	httpSrv := &http.Server{
		Addr:              listen,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting web server", zap.String("addr", listen), zap.String("provider", cfg.LLM.Provider))
		errCh <- httpSrv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}

func runTemplates(cmd *cobra.Command, _ []string) error {
	templates, err := generator.BuiltinTemplates()
	if err != nil {
		return err
	}
	for _, t := range templates {
		fmt.Fprintf(cmd.OutOrStdout(), "%-18s %3d rows  %s\n", t.ID, t.TargetRowCount, t.Name)
	}
	return nil
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	t, err := loadTemplate()
	if err != nil {
		return err
	}
	sim, err := simulationFromFlags()
	if err != nil {
		return err
	}
	agent, err := buildAgent(cmd.Context())
	if err != nil {
		return err
	}
	rows, err := agent.Generate(cmd.Context(), t, sim, func(status string) {
		fmt.Fprintln(cmd.ErrOrStderr(), status)
	})
	if err != nil {
		return err
	}
	if reportPath != "" {
		lb := publisher.Logbook{Template: t, Config: sim, Rows: rows, GeneratedAt: time.Now()}
		if err := publisher.Publish(reportPath, lb); err != nil {
			return err
		}
		logger.Info("report written", zap.String("path", reportPath))
	}
	return writeOutput(cmd, rows)
}

type inferOutput struct {
	Template generator.TableTemplate `json:"template"`
	Rows     []generator.RowRecord   `json:"rows"`
}

func runInfer(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(docPath)
	if err != nil {
		return err
	}
	mimeType := docMIME
	if mimeType == "" {
		mimeType = detectMIME(docPath, data)
	}
	sim, err := simulationFromFlags()
	if err != nil {
		return err
	}
	agent, err := buildAgent(cmd.Context())
	if err != nil {
		return err
	}
	t, rows, err := agent.InferAndGenerate(cmd.Context(), data, mimeType, sim)
	if err != nil {
		return err
	}
	return writeOutput(cmd, inferOutput{Template: t, Rows: rows})
}

func runFix(cmd *cobra.Command, _ []string) error {
	t, err := loadTemplate()
	if err != nil {
		return err
	}
	rows, err := loadRows(rowsFile)
	if err != nil {
		return err
	}
	indexes, err := parseIndexes(rowIndexes)
	if err != nil {
		return err
	}
	agent, err := buildAgent(cmd.Context())
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if idx < 0 || idx >= len(rows) {
			return fmt.Errorf("row index %d out of range (0-%d)", idx, len(rows)-1)
		}
	}
	subset := make([]generator.RowRecord, len(indexes))
	for i, idx := range indexes {
		subset[i] = rows[idx]
	}
	fixed, err := agent.Fix(cmd.Context(), subset, t)
	if err != nil {
		return err
	}
	for i, idx := range indexes {
		rows[idx] = fixed[i]
	}
	logger.Debug("rows fixed", zap.Ints("indexes", indexes))
	return writeOutput(cmd, rows)
}

func runReport(_ *cobra.Command, _ []string) error {
	t, err := loadTemplate()
	if err != nil {
		return err
	}
	rows, err := loadRows(rowsFile)
	if err != nil {
		return err
	}
	lb := publisher.Logbook{Template: t, Rows: rows, GeneratedAt: time.Now()}
	if err := publisher.Publish(reportOut, lb); err != nil {
		return err
	}
	logger.Info("report written", zap.String("path", reportOut))
	return nil
}

// buildOracle picks the model client from config.
func buildOracle(ctx context.Context) (generator.Oracle, error) {
	settings := &generator.LLMSettings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	}
	switch strings.ToLower(cfg.LLM.Provider) {
	case "mock":
		return generator.MockLLM{}, nil
	case "gemini", "":
		return generator.NewGeminiOracle(ctx, settings)
	case "openai", "deepseek":
		// DeepSeek exposes an OpenAI-compatible API and needs base_url.
		return generator.NewOpenAILLMFromConfig(settings)
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}

func buildAgent(ctx context.Context) (*generator.Agent, error) {
	oracle, err := buildOracle(ctx)
	if err != nil {
		return nil, err
	}
	g := cfg.Generation
	pause := g.BatchPause
	if pause == 0 {
		pause = -1 // explicit zero means no pacing
	}
	return generator.NewAgent(oracle, generator.Options{
		BatchSize:  g.BatchSize,
		BatchPause: pause,
		Retry: generator.RetryPolicy{
			MaxAttempts:       g.Retry.MaxAttempts,
			BaseDelay:         g.Retry.BaseDelay,
			MaxDelay:          g.Retry.MaxDelay,
			ServerDelayBuffer: g.Retry.ServerDelayBuffer,
		},
		Logger: logger.Named("generator"),
	})
}

func simulationFromFlags() (generator.SimulationConfig, error) {
	mode, err := generator.ParseMode(simMode)
	if err != nil {
		return generator.SimulationConfig{}, err
	}
	sim := generator.SimulationConfig{
		FillRate:     simFill,
		AnomalyRate:  simAnomaly,
		Mode:         mode,
		TargetPeriod: simPeriod,
	}
	return sim, sim.Validate()
}

func loadTemplate() (generator.TableTemplate, error) {
	if templateFile == "" {
		if templateID == "" {
			return generator.TableTemplate{}, errors.New("--template or --template-file is required")
		}
		return generator.BuiltinTemplate(templateID)
	}
	data, err := os.ReadFile(templateFile)
	if err != nil {
		return generator.TableTemplate{}, err
	}
	var wrapped inferOutput
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Template.Columns) > 0 {
		return wrapped.Template, nil
	}
	var t generator.TableTemplate
	if err := json.Unmarshal(data, &t); err != nil {
		return generator.TableTemplate{}, fmt.Errorf("parse template %s: %w", templateFile, err)
	}
	if len(t.Columns) == 0 {
		return generator.TableTemplate{}, fmt.Errorf("template %s has no columns", templateFile)
	}
	return t, nil
}

func loadRows(path string) ([]generator.RowRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []generator.RowRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse rows %s: %w", path, err)
	}
	return rows, nil
}

func parseIndexes(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid row index %q", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, errors.New("no row indexes given")
	}
	return out, nil
}

func detectMIME(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return http.DetectContentType(data)
}

func writeOutput(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if outPath == "" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(outPath, append(data, '\n'), 0o644)
}
