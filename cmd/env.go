package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/pipeline"
	"github.com/openparl/evidence-cli/internal/reconcile"
	"github.com/openparl/evidence-cli/internal/seeds"
	"github.com/openparl/evidence-cli/internal/sink"
	"github.com/openparl/evidence-cli/internal/store"
	"github.com/openparl/evidence-cli/pkg/dip"
	"github.com/openparl/evidence-cli/pkg/mediawiki"
	"github.com/openparl/evidence-cli/pkg/meili"
)

// appEnv holds the initialized store, cache, clients and sinks shared by
// the pipeline commands.
type appEnv struct {
	Store  store.Store
	Cache  *cache.Store
	Wiki   mediawiki.Client
	Dip    dip.Client
	Graph  *sink.Neo4jSink // nil when not configured
	Search *sink.MeiliSink // nil when not configured
	Runner *pipeline.Runner
}

// Close releases resources held by the environment.
func (e *appEnv) Close(ctx context.Context) {
	if e.Graph != nil {
		_ = e.Graph.Close(ctx)
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "evidence.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initWiki() mediawiki.Client {
	opts := []mediawiki.Option{}
	if cfg.MediaWiki.BaseURL != "" {
		opts = append(opts, mediawiki.WithBaseURL(cfg.MediaWiki.BaseURL))
	}
	if cfg.MediaWiki.UserAgent != "" {
		opts = append(opts, mediawiki.WithUserAgent(cfg.MediaWiki.UserAgent))
	}
	if cfg.MediaWiki.RateRPS > 0 {
		opts = append(opts, mediawiki.WithRateLimit(cfg.MediaWiki.RateRPS))
	}
	return mediawiki.NewClient(opts...)
}

func initDip() dip.Client {
	opts := []dip.Option{}
	if cfg.Dip.BaseURL != "" {
		opts = append(opts, dip.WithBaseURL(cfg.Dip.BaseURL))
	}
	if cfg.Dip.RateRPS > 0 {
		opts = append(opts, dip.WithRateLimit(cfg.Dip.RateRPS))
	}
	if cfg.Dip.PageSize > 0 {
		opts = append(opts, dip.WithPageLimit(cfg.Dip.PageSize))
	}
	return dip.NewClient(cfg.Dip.APIKey, opts...)
}

// initEnv sets up the store, cache, API clients and optional sinks, and
// builds the pipeline runner. Callers should defer env.Close(ctx).
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st, Wiki: initWiki(), Dip: initDip()}

	env.Cache, err = cache.NewStore(cfg.Cache.Dir, pipeline.NewSourceFetcher(env.Wiki, env.Dip))
	if err != nil {
		env.Close(ctx)
		return nil, err
	}

	if cfg.Neo4j.URI != "" {
		env.Graph, err = sink.NewNeo4j(ctx, sink.Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			User:     cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			env.Close(ctx)
			return nil, err
		}
	} else {
		zap.L().Debug("neo4j not configured, graph sink disabled")
	}

	if cfg.Meili.URL != "" {
		env.Search = sink.NewMeiliSink(meili.NewClient(cfg.Meili.URL, cfg.Meili.MasterKey), "")
	} else {
		zap.L().Debug("meilisearch not configured, search sink disabled")
	}

	seedSet, err := seeds.Load(cfg.Seeds.Path)
	if err != nil {
		env.Close(ctx)
		return nil, err
	}

	overrides := map[string]model.LinkOverride{}
	if cfg.Seeds.OverridesPath != "" {
		overrides, err = reconcile.LoadOverrides(cfg.Seeds.OverridesPath)
		if err != nil {
			env.Close(ctx)
			return nil, err
		}
	}

	env.Runner, err = pipeline.NewRunner(pipeline.Deps{
		Cache:              env.Cache,
		Store:              env.Store,
		Seeds:              seedSet,
		Overrides:          overrides,
		Graph:              env.Graph,
		Search:             env.Search,
		ExportRoot:         cfg.Cache.ExportDir,
		MaxConcurrentSeeds: cfg.Pipeline.MaxConcurrentSeeds,
		FetchPersonPages:   cfg.Pipeline.FetchPersonPages,
	})
	if err != nil {
		env.Close(ctx)
		return nil, err
	}
	return env, nil
}
