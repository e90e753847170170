package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lifegrid.ai/internal/config"
	"lifegrid.ai/internal/logging"
	"lifegrid.ai/internal/protocol"
	"lifegrid.ai/internal/session"
	"lifegrid.ai/internal/store"
	"lifegrid.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to lifegrid.yaml (optional)")
		addr       = flag.String("addr", "", "http listen address")
		dataDir    = flag.String("data", "", "runtime data directory (empty in config disables persistence)")
		backend    = flag.String("store", "", "store backend: memory or redis")
		redisAddr  = flag.String("redis", "", "redis address")
		document   = flag.String("doc", "", "shared document name")
		rows       = flag.Int("rows", 0, "grid rows")
		cols       = flag.Int("cols", 0, "grid cols")
		rule       = flag.String("rule", "", "rule in S/B form, e.g. 23/3")
		viewer     = flag.String("viewer", "", "participant id owning unattributed births (default: random)")
		autoplay   = flag.Bool("autoplay", false, "start ticking at startup")
		logLevel   = flag.String("log_level", "", "debug, info, warn or error")
		devLog     = flag.Bool("dev", false, "console log output")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.HTTP.Addr = *addr
		case "data":
			cfg.Persistence.Dir = *dataDir
		case "store":
			cfg.Store.Backend = *backend
		case "redis":
			cfg.Store.RedisAddr = *redisAddr
		case "doc":
			cfg.Store.Document = *document
		case "rows":
			cfg.Grid.Rows = *rows
		case "cols":
			cfg.Grid.Cols = *cols
		case "rule":
			cfg.Grid.Rule = *rule
		case "viewer":
			cfg.Grid.Viewer = *viewer
		case "autoplay":
			cfg.Grid.Autoplay = *autoplay
		case "log_level":
			cfg.Log.Level = *logLevel
		case "dev":
			cfg.Log.Dev = *devLog
		case "disable_db":
			cfg.Persistence.Index = !*disableDB
		}
	})
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Dev, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	scfg := session.Config{
		Rows:           cfg.Grid.Rows,
		Cols:           cfg.Grid.Cols,
		Rule:           cfg.Grid.Rule,
		Viewer:         cfg.Grid.Viewer,
		TickInterval:   cfg.Grid.TickInterval,
		CommitInterval: cfg.Grid.CommitInterval,
		SubmitTimeout:  cfg.Grid.SubmitTimeout,
		Autoplay:       cfg.Grid.Autoplay,
	}

	var (
		opts []session.Option
		p    *persister
	)
	if cfg.Persistence.Dir != "" {
		p, err = openPersister(ctx, persisterConfig{
			Dir:           cfg.Persistence.Dir,
			Document:      cfg.Store.Document,
			SnapshotEvery: cfg.Persistence.SnapshotEvery,
			SnapshotKeep:  cfg.Persistence.SnapshotKeep,
			Index:         cfg.Persistence.Index,
		}, logger.Named("persist"))
		if err != nil {
			logger.Fatal("open persistence", zap.Error(err))
		}
		defer p.Close()
		p.Seed(&scfg)
		opts = append(opts, session.WithGenerationSink(p), session.WithCommitSink(p))
	}

	sess, err := session.New(scfg, st, logger.Named("session"), opts...)
	if err != nil {
		logger.Fatal("session", zap.Error(err))
	}
	validator, err := protocol.NewValidator()
	if err != nil {
		logger.Fatal("protocol schemas", zap.Error(err))
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session stopped", zap.Error(err))
		}
		cancel()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(cfg.Store.Document, sess, p))
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			Document string         `json:"document"`
			Viewer   string         `json:"viewer"`
			Status   session.Status `json:"status"`
		}{cfg.Store.Document, sess.Viewer(), sess.Status()})
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(sess, validator, logger.Named("ws")).Handler())

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("store", cfg.Store.Backend),
		zap.String("document", cfg.Store.Document),
		zap.String("viewer", sess.Viewer()),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ListenAndServe", zap.Error(err))
		cancel()
	}
	<-runDone
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return store.OpenRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Document: cfg.Document,
		}, logger)
	case config.BackendMemory, "":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
