package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gingerGarden/bedrock-be-ai/internal/backend"
	"github.com/gingerGarden/bedrock-be-ai/internal/backend/loopback"
	"github.com/gingerGarden/bedrock-be-ai/internal/backend/ollama"
	"github.com/gingerGarden/bedrock-be-ai/internal/config"
	"github.com/gingerGarden/bedrock-be-ai/internal/httpserver"
	"github.com/gingerGarden/bedrock-be-ai/internal/ledger"
	ledgerasync "github.com/gingerGarden/bedrock-be-ai/internal/ledger/async"
	ledgerpg "github.com/gingerGarden/bedrock-be-ai/internal/ledger/postgres"
	ledgersql "github.com/gingerGarden/bedrock-be-ai/internal/ledger/sqlite"
	"github.com/gingerGarden/bedrock-be-ai/internal/logging"
	"github.com/gingerGarden/bedrock-be-ai/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println(version.FullInfo())
		return
	}

	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadChatbotConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024)
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs.
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[chatbotd] ")
	log.Printf("starting %s", version.FullInfo())

	var bot backend.Backend
	switch cfg.Backend {
	case "loopback":
		bot = loopback.New()
	default:
		bot = ollama.New(ollama.Config{
			BaseURL:        cfg.OllamaBaseURL,
			RequestTimeout: cfg.RequestTimeout,
		})
	}
	log.Printf("backend=%s default_model=%s", bot.Name(), cfg.DefaultModel)

	var usageLedger ledger.Store
	switch cfg.LedgerBackend {
	case "sqlite":
		usageLedger, err = ledgersql.New(cfg.LedgerPath)
		if err != nil {
			log.Fatalf("open sqlite ledger: %v", err)
		}
	case "postgres":
		usageLedger, err = ledgerpg.New(cfg.LedgerDSN, 10, 5, 30*time.Minute, 5*time.Minute)
		if err != nil {
			log.Fatalf("open postgres ledger: %v", err)
		}
	case "off":
		log.Printf("usage ledger disabled by configuration")
	}
	if usageLedger != nil && cfg.LedgerAsync {
		usageLedger = ledgerasync.New(usageLedger, ledgerasync.Config{
			Logger: log.New(log.Writer(), "[chatbotd/ledger] ", log.LstdFlags|log.Lmicroseconds),
		})
	}
	if usageLedger != nil {
		defer usageLedger.Close()
	}

	httpSrv := httpserver.New(httpserver.Options{
		Backend:      bot,
		Ledger:       usageLedger,
		DefaultModel: cfg.DefaultModel,
		ModelAliases: cfg.ModelAliases,
	})
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[chatbotd/http] ", log.LstdFlags|log.Lmicroseconds))

	srv := &http.Server{
		Addr:        cfg.HTTPAddress,
		Handler:     httpSrv.Router(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays 0: a fixed write deadline would cut off
		// long-lived SSE streams.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("chat server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
