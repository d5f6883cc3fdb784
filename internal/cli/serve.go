package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omjadhav9271/code-review-copilot/internal/analysis"
	"github.com/omjadhav9271/code-review-copilot/internal/consolidate"
	"github.com/omjadhav9271/code-review-copilot/internal/fanout"
	"github.com/omjadhav9271/code-review-copilot/internal/github"
	"github.com/omjadhav9271/code-review-copilot/internal/launcher"
	"github.com/omjadhav9271/code-review-copilot/internal/queue"
	"github.com/omjadhav9271/code-review-copilot/internal/specialist"
	"github.com/omjadhav9271/code-review-copilot/internal/store"
	"github.com/omjadhav9271/code-review-copilot/internal/synthesizer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, specialist launchers, and consolidation trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		secret := os.Getenv("GITHUB_WEBHOOK_SECRET")
		if secret == "" {
			return errors.New("GITHUB_WEBHOOK_SECRET environment variable is not set")
		}

		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		st := store.New(database.Conn())
		q := queue.New(database.Conn(),
			time.Duration(cfg.Queue.LeaseSeconds)*time.Second,
			time.Duration(cfg.Queue.PollMillis)*time.Millisecond)
		policy := cfg.RetryPolicy()

		gh, err := github.NewClient(cfg.GitHub.CredentialEnv, cfg.GitHub.APIURL,
			cfg.Review.MaxFileBytes, cfg.Review.Extensions)
		if err != nil {
			return err
		}
		taskModel, err := analysis.NewClient(cfg.Analysis.Model, cfg.Analysis.MaxTokens)
		if err != nil {
			return err
		}
		synthModel, err := analysis.NewClient(cfg.Analysis.SynthesisModel, cfg.Analysis.MaxTokens)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var wg sync.WaitGroup
		runLoop := func(name string, fn func(context.Context) error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fn(ctx); err != nil {
					log.Printf("%s stopped: %v", name, err)
					stop()
				}
			}()
		}

		// One launcher+worker pair per specialist topic.
		for _, role := range cfg.Roles() {
			logger := log.New(os.Stderr, string(role)+": ", log.LstdFlags)
			worker := specialist.NewWorker(role, gh, taskModel, st, policy, logger)
			l := launcher.NewTaskLauncher(role, q, worker, logger)
			runLoop("launcher "+string(role), l.Run)
		}

		// Consolidation trigger and synthesizer.
		trigLogger := log.New(os.Stderr, "consolidate: ", log.LstdFlags)
		trigger := consolidate.NewTrigger(st, q,
			time.Duration(cfg.Review.SweepSeconds)*time.Second, policy, trigLogger)
		runLoop("consolidation trigger", trigger.Run)

		synthLogger := log.New(os.Stderr, "synthesize: ", log.LstdFlags)
		synth := synthesizer.New(st, synthModel, gh, policy, synthLogger)
		runLoop("consolidation launcher",
			launcher.NewConsolidationLauncher(q, synth, synthLogger).Run)

		// Webhook server.
		webLogger := log.New(os.Stderr, "fanout: ", log.LstdFlags)
		initiator := fanout.NewInitiator(st, q, cfg.Roles(), cfg.GitHub.CredentialEnv, webLogger)
		server := fanout.NewServer(initiator, st, []byte(secret), webLogger)
		httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: server.Handler()}

		wg.Add(1)
		go func() {
			defer wg.Done()
			webLogger.Printf("listening on %s", cfg.Server.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				webLogger.Printf("server stopped: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		wg.Wait()
		return nil
	},
}
