package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/campus-assistant/api"
	"github.com/fabfab/campus-assistant/chat"
	"github.com/fabfab/campus-assistant/config"
	"github.com/fabfab/campus-assistant/conversation"
	"github.com/fabfab/campus-assistant/messaging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "campus-assistant",
		Short:        "WhatsApp assistant answering university questions",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(logger), ingestCmd(logger), askCmd(logger), clearCmd(logger))
	return root
}

func serveCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the WhatsApp webhook and JSON API",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := config.Load()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if err := a.index.EnsureCollection(ctx); err != nil {
				return err
			}

			if cfg.Ingest.OnStart {
				if _, err := a.runIngest(ctx, cfg.Ingest.DataDir, cfg.Ingest.Files, false); err != nil {
					logger.Printf("startup ingestion failed, serving the existing index: %v", err)
				}
				a.answers.Probe(ctx, chat.DefaultProbeQuestions...)
			} else if cfg.VectorBackend == config.BackendMemory {
				logger.Printf("warning: memory backend without INGEST_ON_START starts with an empty index")
			}

			gateway := messaging.NewGateway(cfg.Twilio, logger)
			if !gateway.Configured() {
				logger.Printf("warning: twilio credentials missing, webhook replies will fail")
			}

			deps := api.Deps{
				Conversation: conversation.NewService(a.answers, conversation.NewMemoryStore(cfg.ConversationMaxTurns), logger),
				Sender:       gateway,
				Answerer:     a.answers,
				Ingester:     a.ingest,
				PublicURL:    cfg.Twilio.PublicURL,
				AdminToken:   cfg.AdminToken,
				DataDir:      cfg.Ingest.DataDir,
				DataFiles:    cfg.Ingest.Files,
			}
			if a.graph != nil {
				deps.Sources = a.graph
			}
			if cfg.AdminToken == "" {
				logger.Printf("ADMIN_TOKEN not set, /v1 routes are disabled")
			}
			if cfg.Twilio.ValidateSignature {
				if cfg.Twilio.AuthToken == "" {
					return fmt.Errorf("TWILIO_VALIDATE_SIGNATURE requires TWILIO_AUTH_TOKEN")
				}
				deps.Validator = api.NewTwilioValidator(cfg.Twilio.AuthToken)
			}

			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           api.New(deps, logger),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      cfg.AnswerTimeout + 30*time.Second,
				IdleTimeout:       2 * time.Minute,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Printf("listening on %s", cfg.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logger.Printf("shutting down")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancelShutdown()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}

func ingestCmd(logger *log.Logger) *cobra.Command {
	var (
		dir   string
		reset bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Load CSV and PDF sources into the vector index",
		Long: `Loads the given files, or every CSV and PDF file under --dir, and syncs the
vector index with them. Unchanged chunks are not embedded again and chunks
that no longer exist are removed. --reset drops the collection first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if dir == "" {
				dir = cfg.Ingest.DataDir
			}
			files := args
			if len(files) == 0 && !cmd.Flags().Changed("dir") {
				files = cfg.Ingest.Files
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			logger.Printf("ingesting with %s/%s embeddings into %s (%s)",
				strings.ToUpper(cfg.Embeddings.Provider), cfg.Embeddings.Model, cfg.CollectionName, cfg.VectorBackend)

			report, err := a.runIngest(ctx, dir, files, reset)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}

			cmd.Printf("files: %d, documents: %d, chunks: %d\n", report.Files, report.Documents, report.Chunks)
			cmd.Printf("embedded: %d, unchanged: %d, pruned: %d\n", report.Stats.Embedded, report.Stats.Skipped, report.Stats.Pruned)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory with CSV and PDF sources (default DATA_DIR)")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop the collection and embed everything again")
	return cmd
}

func askCmd(logger *log.Logger) *cobra.Command {
	var showContext bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				cmd.Print("Pregunta: ")
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if scanner.Scan() {
					question = scanner.Text()
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read question: %w", err)
				}
			}

			cfg := config.Load()
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger, true)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if cfg.VectorBackend == config.BackendMemory {
				if _, err := a.runIngest(ctx, cfg.Ingest.DataDir, cfg.Ingest.Files, false); err != nil {
					return fmt.Errorf("ingestion failed: %w", err)
				}
			}

			resp := a.answers.Answer(ctx, question)
			cmd.Println(resp.Answer)
			if showContext && resp.Context != "" {
				cmd.Println()
				if resp.Filter != "" {
					cmd.Printf("Filtro: %s (fallback: %t)\n", resp.Filter, resp.Fallback)
				}
				cmd.Println(resp.Context)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showContext, "context", false, "print the retrieved context")
	return cmd
}

func clearCmd(logger *log.Logger) *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the vector collection and the knowledge graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()

			if !confirmed {
				cmd.Printf("This will permanently delete collection %s and the knowledge graph. Continue? [y/N]: ", cfg.CollectionName)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				if !scanner.Scan() {
					if err := scanner.Err(); err != nil {
						return fmt.Errorf("read confirmation: %w", err)
					}
					logger.Println("clear aborted")
					return nil
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "y" && answer != "yes" {
					logger.Println("clear aborted")
					return nil
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if err := a.index.ClearAndReload(ctx, nil); err != nil {
				return fmt.Errorf("clear collection: %w", err)
			}
			logger.Printf("cleared collection %s", cfg.CollectionName)

			if a.graph != nil {
				if err := a.graph.Purge(ctx); err != nil {
					return fmt.Errorf("clear neo4j: %w", err)
				}
				logger.Println("Neo4j sources and chunks cleared")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirmed, "confirm", false, "skip confirmation prompt")
	return cmd
}
