package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"composer/internal/catalog"
	"composer/internal/config"
	"composer/internal/engine"
	"composer/internal/etl"
	"composer/internal/jsonvalue"
	mcpserver "composer/internal/mcp"
	"composer/internal/schema"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// session is the App built by the root command for one invocation.
type session struct {
	configPath string
	logLevel   string
	app        *App
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:           "composer",
		Short:         "Compose API responses and feeds from heterogeneous data sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(s.configPath)
			if err != nil {
				return err
			}
			if s.logLevel != "" {
				cfg.LogLevel = s.logLevel
			}
			log := cfg.NewLogger(cmd.ErrOrStderr())
			slog.SetDefault(log)

			a, err := New(cfg, log)
			if err != nil {
				return err
			}
			s.app = a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if s.app == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.app.Shutdown(ctx)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&s.configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(
		newIndexCmd(s),
		newSynthesizeCmd(s),
		newImportCmd(s),
		newEvaluateCmd(s),
		newRunsCmd(s),
		newServeMCPCmd(s),
	)
	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// refresh samples the given sources, or all of them, and reports failures
// without aborting.
func (s *session) refresh(ctx context.Context, ids []string) error {
	srcs := s.app.Samples().Sources()
	if len(ids) > 0 {
		srcs = srcs[:0:0]
		for _, id := range ids {
			src, ok := s.app.Samples().Source(id)
			if !ok {
				return fmt.Errorf("unknown source %q", id)
			}
			srcs = append(srcs, src)
		}
	}
	if _, err := s.app.Samples().Restore(); err != nil {
		slog.Warn("restore samples", "err", err)
	}
	var failed []error
	for _, r := range s.app.Samples().RefreshAll(ctx, srcs, "") {
		if r.Err != nil {
			failed = append(failed, r.Err)
		}
	}
	if len(failed) == len(srcs) && len(srcs) > 0 {
		return errors.Join(failed...)
	}
	for _, err := range failed {
		slog.Warn("refresh failed; using stored sample if any", "err", err)
	}
	return nil
}

// ── index ──────────────────────────────────────────────────

func newIndexCmd(s *session) *cobra.Command {
	var document string
	cmd := &cobra.Command{
		Use:   "index [source-id...]",
		Short: "Sample sources and print their catalogues",
		Long:  "Sample the named sources (all when none are named) and print every discovered path with its inferred type. With --document, index a local JSON or YAML file instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if document != "" {
				data, err := os.ReadFile(document)
				if err != nil {
					return err
				}
				doc, err := parseDocument(document, data)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s.app.Indexer().Index(doc))
			}

			if err := s.refresh(cmd.Context(), args); err != nil {
				return err
			}
			out := map[string][]catalog.Entry{}
			for _, src := range s.app.Samples().Sources() {
				if len(args) > 0 && !contains(args, src.ID) {
					continue
				}
				out[src.ID] = s.app.Samples().Cache().Entries(src.ID)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&document, "document", "", "Index a local JSON or YAML file")
	return cmd
}

// parseDocument reads YAML files by extension and everything else as JSON.
func parseDocument(name string, data []byte) (jsonvalue.Value, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return jsonvalue.ParseYAML(data)
	}
	return jsonvalue.Parse(data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ── synthesize ─────────────────────────────────────────────

func newSynthesizeCmd(s *session) *cobra.Command {
	var format string
	var save bool
	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Generate a default output schema for a format",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := s.app.Config().Format
			if format != "" {
				var err error
				if f, err = schema.ParseFormat(format); err != nil {
					return err
				}
			}
			if f == schema.FormatJSON || f == schema.FormatCSV || f == schema.FormatXML {
				if err := s.refresh(cmd.Context(), nil); err != nil {
					return err
				}
			}
			root := s.app.Synthesize(f)
			if save {
				if err := s.app.SaveBundle(cmd.Context()); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), root)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (json, xml, csv, rss, atom)")
	cmd.Flags().BoolVar(&save, "save", false, "Write the schema into the bundle file")
	return cmd
}

// ── import ─────────────────────────────────────────────────

func newImportCmd(s *session) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "import <spec-file>",
		Short: "Convert an OpenAPI, Swagger or JSON Schema document into the output schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			root, dialect, err := schema.NewImporter(slog.Default()).Convert(raw)
			if err != nil {
				return err
			}
			s.app.Mapper().SetSchema(root)
			if save {
				if err := s.app.SaveBundle(cmd.Context()); err != nil {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"dialect": dialect,
				"paths":   root.Paths(),
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Write the schema into the bundle file")
	return cmd
}

// ── evaluate ───────────────────────────────────────────────

func newEvaluateCmd(s *session) *cobra.Command {
	var (
		format     string
		useSamples bool
		outDir     string
		target     string
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Compose the output document from the configured sources",
		Long:  "Read every configured source, apply the mapping bundle and render the result. With --samples the cached samples are used instead of full reads.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := s.app.Config().Format
			if format != "" {
				var err error
				if f, err = schema.ParseFormat(format); err != nil {
					return err
				}
			}

			var dest etl.Destination = &etl.WriterDestination{W: cmd.OutOrStdout()}
			if outDir != "" {
				if target == "" {
					target = "output." + string(f)
				}
				dest = &etl.FileDestination{Dir: outDir}
			}

			if useSamples {
				if err := s.refresh(cmd.Context(), nil); err != nil {
					return err
				}
				doc, err := s.app.Engine().EvaluateSamples()
				if err != nil {
					return err
				}
				data, err := engine.Render(f, s.app.Mapper().Config().Schema(), doc)
				if err != nil {
					return err
				}
				_, err = dest.Write(cmd.Context(), target, data)
				return err
			}

			result, err := s.app.Compose(cmd.Context(), f, target, dest)
			if err != nil {
				return err
			}
			slog.Info("composed", "records", result.RecordsKept, "bytes", result.BytesWritten, "duration", result.Duration)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (json, xml, csv, rss, atom)")
	cmd.Flags().BoolVar(&useSamples, "samples", false, "Evaluate against cached samples")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Write into this directory instead of stdout")
	cmd.Flags().StringVar(&target, "target", "", "Output file name within --out")
	return cmd
}

// ── runs ───────────────────────────────────────────────────

func newRunsCmd(s *session) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [source-id]",
		Short: "Show the refresh history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.app.Runs() == nil {
				return errors.New("no data directory configured; refresh runs are not recorded")
			}
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			runs, err := s.app.Runs().List(id, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs")
	return cmd
}

// ── serve-mcp ──────────────────────────────────────────────

func newServeMCPCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Run the MCP server on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := s.app.Startup(cmd.Context()); err != nil {
				return err
			}
			srv := mcpserver.New(mcpserver.Deps{
				Emitter:    s.app.emitter(),
				Engine:     s.app.Engine(),
				Samples:    s.app.Samples(),
				Indexer:    s.app.Indexer(),
				SaveBundle: s.app.saveBundleFunc(),
			})

			errc := make(chan error, 1)
			go func() { errc <- srv.ServeStdio() }()
			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
				slog.Info("mcp: shutting down")
				return nil
			}
		},
	}
}
