package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/embeddings"
	"github.com/nickcecere/framegrep/internal/join"
	"github.com/nickcecere/framegrep/internal/region"
	"github.com/nickcecere/framegrep/internal/resilience"
	"github.com/nickcecere/framegrep/internal/search"
	"github.com/nickcecere/framegrep/internal/store"
	"github.com/nickcecere/framegrep/internal/textproc"
	"github.com/nickcecere/framegrep/internal/translate"
	"github.com/nickcecere/framegrep/internal/vecindex"
)

// app holds the services a query command needs.
type app struct {
	cfg    *config.Config
	store  *store.SQLStore
	live   *vecindex.Live
	engine *search.Engine
	ids    search.IDMapper
}

// retryPolicy converts the retry section of cfg.
func retryPolicy(cfg *config.Config) resilience.Policy {
	return resilience.Policy{
		MaxRetries:      cfg.Retry.MaxRetries,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
		Multiplier:      cfg.Retry.Multiplier,
		AttemptTimeout:  cfg.Retry.AttemptTimeout,
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("Received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// openIndex opens the configured vector index backend.
func openIndex(cfg *config.Config, st *store.SQLStore) (vecindex.Index, error) {
	metric, err := vecindex.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return nil, err
	}

	switch cfg.Index.Backend {
	case "sqlite-vec":
		return vecindex.OpenSQLiteVec(st.DB().DB, cfg.Index.Dimension, metric)
	default:
		flat, err := vecindex.LoadFile(cfg.Index.Path, cfg.Index.Dimension)
		if err != nil {
			return nil, err
		}
		if flat.Metric() != metric {
			return nil, fmt.Errorf("snapshot %s uses metric %s, configured %s", cfg.Index.Path, flat.Metric(), metric)
		}
		flat.SetShardSize(cfg.Index.ShardSize)
		return flat, nil
	}
}

// newApp opens the metadata store and index and wires the query engine.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	policy := retryPolicy(cfg)

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	a, err := wireApp(cfg, st, policy)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func wireApp(cfg *config.Config, st *store.SQLStore, policy resilience.Policy) (*app, error) {
	idx, err := openIndex(cfg, st)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	live := vecindex.NewLive(idx)

	resolver, err := join.NewResolver(st, cfg.Cache.Records)
	if err != nil {
		return nil, err
	}

	detector, err := textproc.NewDetector(cfg.Translation.SourceLanguage, cfg.Translation.TargetLanguage)
	if err != nil {
		return nil, err
	}
	normalizer, err := textproc.NewNormalizer(cfg.Normalize.Pipeline)
	if err != nil {
		return nil, err
	}
	translator, err := translate.New(cfg, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}
	chain := textproc.NewChain(detector, translator, normalizer, cfg.Translation.TargetLanguage)

	encoder, err := embeddings.NewGateway(cfg, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding gateway: %w", err)
	}

	regions := region.NewExtractor(region.Options{
		Root:          cfg.Region.ImageRoot,
		MaxImageBytes: cfg.Region.MaxImageBytes,
		JPEGQuality:   cfg.Region.JPEGQuality,
		Policy:        policy,
		S3: region.S3Options{
			Region:    cfg.Region.S3Region,
			Endpoint:  cfg.Region.S3Endpoint,
			PathStyle: cfg.Region.S3PathStyle,
		},
	})

	engine, err := search.New(search.Deps{
		Index:    live,
		Encoder:  encoder,
		Preparer: chain,
		Resolver: resolver,
		Assets:   st,
		Regions:  regions,
	}, cfg.Query.MaxK)
	if err != nil {
		return nil, err
	}

	log.Debug("Engine ready",
		"backend", cfg.Index.Backend,
		"vectors", live.Len(),
		"dimension", live.Dimension(),
		"encoder", encoder.Provider(),
		"model", encoder.ModelName(),
		"translator", cfg.Translation.Provider,
		"pipeline", normalizer.Version(),
	)

	return &app{
		cfg:    cfg,
		store:  st,
		live:   live,
		engine: engine,
		ids:    search.IDMapper{Offset: cfg.Query.DisplayIDOffset},
	}, nil
}

// Close releases the metadata store.
func (a *app) Close() error {
	return a.store.Close()
}
