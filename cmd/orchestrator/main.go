// Command orchestrator is the engine's bootstrap entrypoint (SPEC_FULL.md
// 2 "Store -> Spool -> ALM -> ER -> QP -> Public Interface"), grounded on
// the teacher's cmd/cliaimonitor/main.go wiring-and-graceful-shutdown
// shape: load config, open storage, construct every collaborator, start
// the background loops, serve HTTP, and tear everything down in reverse
// order on signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orchestrator/agentctl/internal/orchestrator/alm"
	"github.com/orchestrator/agentctl/internal/orchestrator/api"
	"github.com/orchestrator/agentctl/internal/orchestrator/config"
	"github.com/orchestrator/agentctl/internal/orchestrator/notify"
	"github.com/orchestrator/agentctl/internal/orchestrator/promptbuilder"
	"github.com/orchestrator/agentctl/internal/orchestrator/queue"
	"github.com/orchestrator/agentctl/internal/orchestrator/router"
	"github.com/orchestrator/agentctl/internal/orchestrator/sandbox"
	"github.com/orchestrator/agentctl/internal/orchestrator/scm"
	"github.com/orchestrator/agentctl/internal/orchestrator/spool"
	"github.com/orchestrator/agentctl/internal/orchestrator/store"
	"github.com/orchestrator/agentctl/internal/orchestrator/taskstore"
	"github.com/orchestrator/agentctl/internal/orchestrator/ws"

	"github.com/gorilla/mux"
)

func main() {
	configPath := flag.String("config", "", "optional YAML overlay for sandbox defaults")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.EventDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create event dir: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.WorkspacesDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create workspaces dir: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	sp, err := spool.Open(cfg.EventDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open spool: %v\n", err)
		os.Exit(1)
	}

	driver := sandbox.NewProcessDriver(commandForKind)

	var broker *notify.Broker
	var completionSink alm.CompletionSink
	if cfg.EmbeddedNATS {
		broker, err = notify.StartBroker(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded nats broker: %v\n", err)
			os.Exit(1)
		}
		completionSink = broker
		log.Printf("[orchestrator] embedded nats broker listening at %s", broker.URL())
	}

	var desktop alm.DesktopNotifier
	if cfg.DesktopNotifications {
		desktop = notify.NewDesktop("agentctl", fmt.Sprintf("http://localhost:%d", cfg.Port), true)
	}

	logHub := ws.NewHub()

	almMgr := alm.NewManager(st, driver, promptbuilder.Stub{}, scm.Stub{}, taskstore.Stub{}, alm.Options{
		WorkspacesDir:  cfg.WorkspacesDir,
		FlushBatch:     cfg.LogFlushBatchSize,
		FlushInterval:  cfg.LogFlushInterval,
		LogSink:        logHub,
		CompletionSink: completionSink,
		Desktop:        desktop,
	})

	recoverCtx, recoverCancel := context.WithTimeout(context.Background(), 30*time.Second)
	almMgr.RecoverOnStart(recoverCtx)
	recoverCancel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	evRouter := router.New(sp, st, almMgr, router.Options{})
	go evRouter.Run(ctx)

	var queueProc *queue.Processor
	if cfg.EnableQueue {
		queueProc = queue.New(st, sp, almMgr, queue.Options{UseMultiAgentEvents: cfg.UseMultiAgentEvents})
		go queueProc.Run(ctx)
	}

	apiServer := api.NewServer(st, sp, almMgr)
	apiServer.Router().HandleFunc("/agents/{id}/logs/stream", func(w http.ResponseWriter, r *http.Request) {
		logHub.ServeAgentLogs(w, r, mux.Vars(r)["id"])
	}).Methods(http.MethodGet)

	addr := fmt.Sprintf(":%d", cfg.Port)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start(addr)
	}()
	log.Printf("[orchestrator] listening on %s", addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("[orchestrator] server error: %v", err)
		}
	case <-shutdown:
		log.Println("[orchestrator] shutting down (signal received)")
	}

	cancel()
	evRouter.Stop()
	if queueProc != nil {
		queueProc.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[orchestrator] http shutdown error: %v", err)
	}

	almMgr.Shutdown()
	logHub.Shutdown()
	if broker != nil {
		broker.Shutdown()
	}

	log.Println("[orchestrator] goodbye")
}

// commandForKind maps an agent kind to the local command run in its
// workspace. Deployments are expected to point this at a real coding-
// assistant CLI; agentctl-worker is a placeholder argv shape only.
func commandForKind(spec sandbox.Spec) (string, []string) {
	return "agentctl-worker", []string{"--kind", spec.Kind, "--task", spec.TaskID}
}

