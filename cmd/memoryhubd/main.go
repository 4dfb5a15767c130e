// Command memoryhubd runs the memory store HTTP service: it wires the
// Postgres+pgvector store, Redis cache, task queue, embedding/extraction
// providers, event bus, and the httpapi request surface, then listens.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"memoryhub/internal/attachments"
	"memoryhub/internal/cache"
	"memoryhub/internal/config"
	"memoryhub/internal/embedding"
	"memoryhub/internal/eventbus"
	"memoryhub/internal/extractor"
	"memoryhub/internal/graph"
	"memoryhub/internal/httpapi"
	"memoryhub/internal/logging"
	"memoryhub/internal/memoryservice"
	"memoryhub/internal/objectstore"
	"memoryhub/internal/retry"
	"memoryhub/internal/search"
	"memoryhub/internal/store"
	"memoryhub/internal/taskqueue"
	"memoryhub/internal/versioning"
)

func main() {
	configPath := flag.String("config", os.Getenv("MEMORYHUB_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}
	defer cleanup()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv}

	go func() {
		log.Info().Str("addr", addr).Msg("memoryhubd listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

// newApp assembles every component C1-C15 reach for, and returns the
// request surface plus a cleanup func that releases pooled resources.
func newApp(ctx context.Context, cfg *config.Config) (*httpapi.Server, func(), error) {
	pool, err := store.OpenPool(ctx, cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open store pool: %w", err)
	}
	if err := store.EnsureSchema(ctx, pool, cfg.Store.EmbeddingDim); err != nil {
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	st := &store.Store{
		Tenants:      store.NewTenantRepo(pool),
		Memories:     store.NewMemoryRepo(pool),
		Versions:     store.NewVersionRepo(pool),
		Corrections:  store.NewCorrectionRepo(pool),
		Attachments:  store.NewAttachmentRepo(pool),
		Entities:     store.NewEntityRepo(pool),
		Relations:    store.NewRelationRepo(pool),
		Associations: store.NewAssociationRepo(pool),
	}

	monitor := store.NewPoolMonitor(pool, cfg.Store.PoolMonitorEvery, cfg.Store.PoolMonitorOver)
	go monitor.Run(ctx)

	kv, err := cache.NewRedisCache(ctx, cfg.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("redis cache unavailable, degrading to noop cache")
		kv = cache.NoopCache{}
	}

	objects, err := objectstore.New(ctx, cfg.Attachment)
	if err != nil {
		return nil, nil, fmt.Errorf("init object store: %w", err)
	}

	embedderBreaker := retry.NewBreaker("embedder", cfg.Retry.Embedder, log.Logger)
	var embedder embedding.Embedder
	if cfg.Embedding.Endpoint != "" {
		embedder = embedding.NewHTTPEmbedder(cfg.Embedding, cfg.Retry.Embedder, embedderBreaker)
	} else {
		log.Warn().Msg("embedding.endpoint unset, falling back to the deterministic stub embedder")
		embedder = embedding.NewStubEmbedder(cfg.Store.EmbeddingDim)
	}

	extractorBreaker := retry.NewBreaker("extractor", cfg.Retry.Extractor, log.Logger)
	var ext extractor.Extractor
	if cfg.Extractor.Endpoint != "" {
		ext = extractor.NewHTTPExtractor(cfg.Extractor, cfg.Retry.Extractor, extractorBreaker)
	} else {
		log.Warn().Msg("extractor.endpoint unset, falling back to the heuristic extractor")
		ext = extractor.NewHeuristicExtractor()
	}

	// No dedicated vision-provider endpoint is configured yet (SPEC_FULL
	// §11 leaves image description as best-effort); BasicAnalyzer covers
	// attachments until one is wired.
	var vision attachments.VisionAnalyzer = attachments.BasicAnalyzer{}

	q := taskqueue.New(cfg.TaskQueue, log.Logger)

	bridge := eventbus.NewBridge(cfg.EventBus, log.Logger)
	bus := eventbus.New(bridge)

	downloader := attachments.NewDownloader(cfg.Attachment, cfg.Retry.Store)
	processor := attachments.NewProcessor(vision, attachments.NewNaivePDFPager(), embedder, objects)
	attSvc := attachments.NewService(st.Attachments, objects, downloader, processor, q, log.Logger)

	vectors, err := store.NewVectorStore(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("init vector store: %w", err)
	}
	if vectors == nil {
		log.Info().Msg("store.vector_backend unset, semantic search ranks through the relational store only")
	}

	g := graph.New(st.Entities, st.Relations, st.Associations, embedder)
	vs := versioning.New(st.Versions)
	memSvc := memoryservice.New(st, kv, vs, g, embedder, ext, attSvc, vectors, q, bus, log.Logger)
	planner := search.New(st, g, embedder, vectors, cfg.Search)

	q.Start(ctx)

	srv := httpapi.NewServer(memSvc, planner, vs, g, cfg.RateLimit)

	cleanup := func() {
		q.Shutdown()
		_ = kv.Close()
		pool.Close()
		if c, ok := vectors.(store.Closer); ok {
			c.Close()
		}
	}
	return srv, cleanup, nil
}
