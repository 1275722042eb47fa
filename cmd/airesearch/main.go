package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/AIResearch/internal/compose"
	"github.com/TobiSchelling/AIResearch/internal/config"
	"github.com/TobiSchelling/AIResearch/internal/database"
	"github.com/TobiSchelling/AIResearch/internal/mcpserver"
	"github.com/TobiSchelling/AIResearch/internal/pipeline"
	"github.com/TobiSchelling/AIResearch/internal/server"
	"github.com/TobiSchelling/AIResearch/internal/workflow"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "airesearch",
	Short:        "Multi-agent research reports",
	Long:         "AIResearch plans a question, searches and summarizes sources, and drafts a cited report that a reviewer agent sends back for revision or more data until it is approved.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine as long as the variables are set.
		_ = godotenv.Load()

		level := slog.LevelInfo
		setLogger(level)

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		level = cfg.Logging.SlogLevel()
		if verbose {
			level = slog.LevelDebug
		}
		setLogger(level)
		logger.Debug("config loaded", "path", path)
		return nil
	},
}

func setLogger(level slog.Level) {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level, AddSource: verbose}))
	slog.SetDefault(logger)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("airesearch", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/airesearch/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose the LLM provider, search backends and iteration limit.")
		return nil
	},
}

// --- run command ---

var (
	maxIterations int
	scrapeOn      bool
	scrapeOff     bool
	outDir        string
	noSave        bool
	writeDiagram  bool
	printReport   bool
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Research a question: plan -> search -> summarize -> synthesize -> review",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			fmt.Print("Enter research question: ")
			input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			query = strings.TrimSpace(input)
		}
		if query == "" {
			return errors.New("a research question is required")
		}
		if scrapeOn && scrapeOff {
			return errors.New("--scrape and --no-scrape are mutually exclusive")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var db *database.DB
		if !noSave {
			var err error
			if db, err = openDB(); err != nil {
				return err
			}
			defer db.Close()
		}

		pipe, err := pipeline.New(ctx, cfg, db, logger)
		if err != nil {
			return err
		}
		pipe.OnTransition = func(_ string, t workflow.Transition) {
			fmt.Fprintf(os.Stderr, "  %-14s -> %-14s (iteration %d)\n", t.From, t.To, t.Iteration)
		}

		opts := pipeline.Options{
			MaxIterations: maxIterations,
			ReportsDir:    outDir,
			NoSave:        noSave,
			Diagram:       writeDiagram,
		}
		switch {
		case scrapeOn:
			opts.Scrape = ptr(true)
		case scrapeOff:
			opts.Scrape = ptr(false)
		}

		fmt.Fprintf(os.Stderr, "Researching: %s\n", query)
		result, err := pipe.Run(ctx, query, opts)
		if err != nil {
			return err
		}

		session := result.Session
		if printReport || noSave || result.Aborted() {
			fmt.Println(result.Markdown)
		}
		if result.Aborted() {
			return fmt.Errorf("session %s aborted at %s (%s)", session.ID, session.Diagnostic.Stage, session.Diagnostic.Kind)
		}

		fmt.Fprintf(os.Stderr, "\nSession %s finished in %s after %d iteration(s)",
			session.ID, session.FinishedAt.Sub(session.StartedAt).Round(time.Second), session.Iterations)
		if session.IterationLimited {
			fmt.Fprint(os.Stderr, " (iteration limit reached)")
		}
		fmt.Fprintln(os.Stderr)
		if result.ReportPath != "" {
			fmt.Fprintf(os.Stderr, "Report: %s\n", result.ReportPath)
		}
		if result.DiagramPath != "" {
			fmt.Fprintf(os.Stderr, "Diagram: %s (render with: dot -Tpng %s -o workflow.png)\n", result.DiagramPath, result.DiagramPath)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override research.max_iterations")
	runCmd.Flags().BoolVar(&scrapeOn, "scrape", false, "Scrape full page text for search hits")
	runCmd.Flags().BoolVar(&scrapeOff, "no-scrape", false, "Summarize from search snippets only")
	runCmd.Flags().StringVar(&outDir, "out", "", "Directory for the report (default output.reports_dir)")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "Print the report instead of saving it and recording the session")
	runCmd.Flags().BoolVar(&writeDiagram, "diagram", false, "Write a Graphviz diagram of the route taken")
	runCmd.Flags().BoolVar(&printReport, "print", false, "Also print the report to stdout")
}

// --- history command ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded research sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.ListSessions(historyLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet. Start one with: airesearch run \"your question\"")
			return nil
		}

		for _, s := range sessions {
			status := s.Status
			if s.IterationLimited {
				status += "*"
			}
			query := s.Query
			if len([]rune(query)) > 60 {
				query = string([]rune(query)[:60]) + "..."
			}
			fmt.Printf("  %s  %-8s %d/%d  %s  %s\n",
				s.ID[:min(8, len(s.ID))], status, s.Iterations, s.MaxIterations,
				s.StartedAt.Local().Format("2006-01-02 15:04"), query)
		}
		fmt.Println("\n* delivered at the iteration limit")
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to list")
}

// --- show command ---

var (
	showDraft   int
	showDiagram bool
)

var showCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Print the report of a recorded session (id or unique prefix)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		s, err := db.GetSession(args[0])
		if err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("session %s not found", args[0])
		}

		if showDiagram {
			ts, err := db.GetTransitions(s.ID)
			if err != nil {
				return err
			}
			edges := make([]compose.Edge, 0, len(ts))
			for _, t := range ts {
				edges = append(edges, compose.Edge{From: t.From, To: t.To})
			}
			fmt.Print(compose.Diagram(edges))
			return nil
		}

		if showDraft > 0 {
			d, err := db.GetDraft(s.ID, showDraft)
			if err != nil {
				return err
			}
			if d == nil {
				return fmt.Errorf("session %s has no draft v%d", s.ID, showDraft)
			}
			fmt.Println(compose.DraftMarkdown(*d))
			return nil
		}

		if s.ReportMarkdown != nil {
			fmt.Println(*s.ReportMarkdown)
			return nil
		}
		fmt.Printf("Session %s: %s\n", s.ID, s.Status)
		if d := s.Diagnostic; d != nil {
			fmt.Printf("  Stage: %s\n  Error kind: %s\n  Iteration: %d\n  Message: %s\n", d.Stage, d.Kind, d.Iteration, d.Message)
		}
		return nil
	},
}

func init() {
	showCmd.Flags().IntVar(&showDraft, "draft", 0, "Print draft version N instead of the delivered report")
	showCmd.Flags().BoolVar(&showDiagram, "diagram", false, "Print the route as a Graphviz diagram")
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and database status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  LLM provider: %s\n", cfg.LLM.Provider)
		fmt.Printf("  Search backends: %s\n", strings.Join(cfg.Search.Backends, ", "))
		fmt.Printf("  Max iterations: %d\n", cfg.Research.MaxIterations)
		fmt.Printf("  Scraping: %v\n", cfg.Scrape.Enabled)
		fmt.Printf("  Database: %s\n", db.Path())
		fmt.Println("\nSessions:")
		fmt.Printf("  Total: %d\n", stats.Sessions)
		fmt.Printf("  Delivered: %d (%d at the iteration limit)\n", stats.Done, stats.IterationLimited)
		fmt.Printf("  Aborted: %d\n", stats.Aborted)
		fmt.Printf("  Average iterations: %.1f\n", stats.AvgIterations)
		fmt.Println("\nDrafts and reviews:")
		fmt.Printf("  Drafts: %d\n", stats.Drafts)
		for _, v := range []string{"approve", "revise_report", "need_more_data"} {
			fmt.Printf("  %s: %d\n", v, stats.Verdicts[v])
		}
		return nil
	},
}

// --- serve command ---

var (
	servePort int
	noMCP     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web viewer and MCP endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		var mcpHandler http.Handler
		if !noMCP {
			pipe, err := pipeline.New(cmd.Context(), cfg, db, logger)
			if err != nil {
				return err
			}
			mcpHandler = mcpserver.Handler(mcpserver.NewServer(pipe, version, logger))
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		if mcpHandler != nil {
			fmt.Printf("MCP endpoint: http://localhost:%d/mcp (tool %s)\n", port, mcpserver.ToolName)
		}
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, mcpHandler, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on (default server.port)")
	serveCmd.Flags().BoolVar(&noMCP, "no-mcp", false, "Do not expose the deep_research MCP tool")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, database.FileName))
}

func ptr[T any](v T) *T { return &v }
