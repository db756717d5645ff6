package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/compliance-review/internal/agent"
	"github.com/danielpatrickdp/compliance-review/internal/audit"
	"github.com/danielpatrickdp/compliance-review/internal/config"
	"github.com/danielpatrickdp/compliance-review/internal/generator"
	"github.com/danielpatrickdp/compliance-review/internal/grader"
	"github.com/danielpatrickdp/compliance-review/internal/httpapi"
	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/lifecycle"
	"github.com/danielpatrickdp/compliance-review/internal/planner"
	"github.com/danielpatrickdp/compliance-review/internal/review"
	"github.com/danielpatrickdp/compliance-review/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the review HTTP server. Recommendations run synchronously inside
the request; the request's status field doubles as the pollable run status.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	index, err := knowledge.NewIndex(st.DB(), knowledge.NewHashingEmbedder())
	if err != nil {
		return err
	}

	recorder := audit.NewRecorder(st.DB())
	machine := lifecycle.NewMachine(st, recorder)

	ag := agent.New(
		index,
		planner.NewKeywordPlanner(),
		grader.NewLexicalGrader(grader.Config{
			RelevanceThreshold: cfg.Grader.RelevanceThreshold,
			PassThreshold:      cfg.Grader.PassThreshold,
		}),
		generator.NewRuleGenerator(generator.DefaultConfig()),
		agent.Config{
			TopK:         cfg.Agent.TopK,
			MaxRewrites:  cfg.Agent.MaxRewrites,
			NodeRetries:  cfg.Agent.NodeRetries,
			RetryBackoff: cfg.Agent.RetryBackoff(),
			NodeTimeout:  cfg.Agent.NodeTimeout(),
			RunBudget:    cfg.Agent.RunBudget(),
		},
	)

	svc := review.NewService(st, machine, ag, recorder)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.NewServer(svc),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVE] listening on %s (db=%s)", cfg.ListenAddr, cfg.DBPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Printf("[SERVE] shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
