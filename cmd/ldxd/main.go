package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"example.com/ldxsync/internal/catalog"
	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/config"
	"example.com/ldxsync/internal/discovery"
	"example.com/ldxsync/internal/patch"
	"example.com/ldxsync/internal/queue"
	"example.com/ldxsync/internal/report"
	"example.com/ldxsync/internal/server"
	"example.com/ldxsync/internal/store"
)

var version = "dev"

func setupLogging(cfg config.Config) error {
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logs.Directory, "ldxd.log"),
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	w := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(w)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	common.SetLogOutput(w)
	return nil
}

// autoReconciler replays the queue into LDX files the scanner has not seen
// before, when their car can be inferred from the path.
type autoReconciler struct {
	rec  *queue.Reconciler
	mu   sync.Mutex
	seen map[string]bool
}

func (a *autoReconciler) onScan(res discovery.Result) {
	if res.Status != discovery.StatusSuccess {
		return
	}
	for _, f := range res.LDXFiles {
		a.mu.Lock()
		seen := a.seen[f.Path]
		a.seen[f.Path] = true
		a.mu.Unlock()
		if seen {
			continue
		}
		car := discovery.InferCar(f.Path)
		if car == "" {
			continue
		}
		out, err := a.rec.Apply(context.Background(), f.Path, car)
		if err != nil {
			log.Printf("auto-reconcile %s: %v", f.Name, err)
			continue
		}
		if len(out.Applied) > 0 || len(out.Failed) > 0 {
			log.Printf("auto-reconcile %s (%s): %s", f.Name, car, out.Message)
		}
	}
}

func main() {
	configPath := flag.StringP("config", "c", "config/ldxd.yaml", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("data dir: %v", err)
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	lang, err := report.ParseLanguage(cfg.Lang)
	if err != nil {
		log.Fatalf("lang: %v", err)
	}
	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()
	cat, err := catalog.EnsureLoaded(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}
	metrics := common.NewMetrics()
	opts := patch.Options{
		Catalog:             cat,
		Verify:              patch.VerifyPolicy(cfg.Patch.Verify),
		RequireCatalogEntry: cfg.Patch.RequireCatalogEntry,
		Metrics:             metrics,
	}
	if cfg.Patch.AuditLog != "" {
		opts.AuditLog = common.NewPatchLog(cfg.Patch.AuditLog)
	}
	reconciler := queue.NewReconciler(st, patch.New(opts), queue.NewLocker(), metrics)

	scanner := discovery.New(cfg.DiscoveryConfig(), metrics)
	if cfg.Discovery.AutoReconcile {
		auto := &autoReconciler{rec: reconciler, seen: map[string]bool{}}
		scanner.OnScan(auto.onScan)
	}
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.Discovery.Enabled {
		scanner.Start(ctx)
	}

	srv, err := server.NewServer(server.Options{
		StorageDir: cfg.DataDir,
		Version:    version,
		Lang:       lang,
		Scanner:    scanner,
		Reconciler: reconciler,
		Store:      st,
		Metrics:    metrics,
		AllowedRoots: []string{
			cfg.Discovery.NASBasePath,
			cfg.Discovery.LDScanDir,
			cfg.Session.LDXOutputDir,
			cfg.DataDir,
		},
	})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("ldxd %s listening on %s", version, listenAddr)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	scanner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("ldxd stopped")
}
