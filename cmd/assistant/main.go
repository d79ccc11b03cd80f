// Command assistant runs the ArchiQ conversational sales agent: an HTTP
// API in front of a checkpointed multi-node dialogue pipeline over the
// property catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/archiq/assistant/agent"
	"github.com/archiq/assistant/catalog"
	"github.com/archiq/assistant/conversation"
	redisstore "github.com/archiq/assistant/conversation/redis"
	sqlitestore "github.com/archiq/assistant/conversation/sqlite"
	"github.com/archiq/assistant/graph"
	"github.com/archiq/assistant/internal/config"
	"github.com/archiq/assistant/llm"
	"github.com/archiq/assistant/lookup"
	"github.com/archiq/assistant/maintenance"
	"github.com/archiq/assistant/observe"
	otelsink "github.com/archiq/assistant/observe/otel"
	"github.com/archiq/assistant/providers/openai"
	"github.com/archiq/assistant/server"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalogStore, err := catalog.New(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = catalogStore.Close() }()

	if cfg.SeedCatalog {
		if err := seedDemoCatalog(ctx, catalogStore); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	convStore, err := openConversationStore(cfg)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer func() { _ = convStore.Close() }()
	checkpoints := conversation.NewCheckpointer(convStore)

	sink, shutdownTracing, err := buildObserver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer shutdownTracing()

	exec, err := buildExecutor(cfg, catalogStore, checkpoints, sink)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	janitor, err := maintenance.NewJanitor(convStore, cfg.RetentionCron, cfg.CheckpointKeep)
	if err != nil {
		return fmt.Errorf("set up retention: %w", err)
	}
	janitor.Start()
	defer janitor.Stop()

	srv, err := server.NewServer(exec, checkpoints, cfg.Addr)
	if err != nil {
		return err
	}

	log.Printf("assistant listening on %s (model %s)", cfg.Addr, cfg.Model)
	if err := srv.ListenAndServe(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func openConversationStore(cfg config.Config) (conversation.Store, error) {
	if cfg.UseRedis() {
		return redisstore.New(cfg.RedisAddr,
			redisstore.WithPassword(cfg.RedisPassword),
			redisstore.WithDB(cfg.RedisDB),
		)
	}
	return sqlitestore.New(cfg.ConversationDB)
}

func buildExecutor(cfg config.Config, catalogStore *catalog.Store, checkpoints *conversation.Checkpointer, sink observe.Sink) (*graph.Executor, error) {
	providerOpts := []openai.Option{openai.WithModel(cfg.Model)}
	if cfg.OpenAIBaseURL != "" {
		providerOpts = append(providerOpts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	client, err := openai.New(cfg.OpenAIAPIKey, providerOpts...)
	if err != nil {
		return nil, err
	}
	if caps := client.Capabilities(); !caps.Tools || !caps.StructuredOutput {
		return nil, fmt.Errorf("pipeline needs tool calls and structured output: %w", llm.ErrNotSupported)
	}
	provider := llm.Observed(client, sink)

	engine, err := catalog.NewQueryEngine(catalogStore)
	if err != nil {
		return nil, err
	}
	retriever, err := lookup.NewCatalogRetriever(catalogStore)
	if err != nil {
		return nil, err
	}
	registry, err := agent.NewReferenceRegistry(catalogStore, retriever)
	if err != nil {
		return nil, err
	}

	criteriaNode, err := agent.NewCriteriaNode(provider)
	if err != nil {
		return nil, err
	}
	nodes := []graph.Node{
		agent.NewMainNode(provider),
		criteriaNode,
		agent.NewQueryNode(engine),
		agent.NewReferenceNode(provider, registry),
		agent.NewToolsNode(registry).WithObserver(sink),
	}

	return graph.NewExecutor(checkpoints, graph.NodeMain, nodes,
		graph.WithObserver(sink),
		graph.WithTurnTimeout(cfg.TurnTimeout()),
	)
}

// buildObserver returns the event sink and a shutdown hook for the span
// exporter. Failed engine events always reach the process log; spans are
// exported only with tracing enabled, behind an async buffer so a slow
// exporter cannot stall a chat turn.
func buildObserver(ctx context.Context, cfg config.Config) (observe.Sink, func(), error) {
	logSink := observe.SinkFunc(func(_ context.Context, ev observe.Event) error {
		if ev.Status == observe.StatusFailed {
			log.Printf("[observe] %s failed (thread %s): %s", ev.Kind, ev.ThreadID, ev.Error)
		}
		return nil
	})
	if !cfg.TracingEnabled {
		return logSink, func() {}, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", "archiq-assistant")),
	)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	async := observe.NewAsyncSink(observe.NewMultiSink(logSink, otelsink.NewSink(tp)), 512)
	shutdown := func() {
		async.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Printf("tracer shutdown error: %v", err)
		}
	}
	return async, shutdown, nil
}

// seedDemoCatalog loads a small Almaty inventory on first start so the
// agent has something to sell. A populated catalog is left untouched.
func seedDemoCatalog(ctx context.Context, store *catalog.Store) error {
	districts, err := store.ListDistricts(ctx)
	if err != nil {
		return err
	}
	if len(districts) > 0 {
		return nil
	}

	bostandyk, err := store.InsertDistrict(ctx, catalog.District{
		Name:        "Bostandyk",
		Description: "Green district in the upper part of the city, close to the universities and Koktobe.",
	})
	if err != nil {
		return err
	}
	medeu, err := store.InsertDistrict(ctx, catalog.District{
		Name:        "Medeu",
		Description: "Prestigious foothill district near the Medeu skating rink and mountain parks.",
	})
	if err != nil {
		return err
	}

	type seedComplex struct {
		complex    catalog.ResidentialComplex
		floors     int
		properties []catalog.Property
	}
	seeds := []seedComplex{
		{
			complex: catalog.ResidentialComplex{
				DistrictID: bostandyk, Name: "Aspan Tau", Address: "Al-Farabi Avenue 140",
				ClassType: "COMFORT", HeatingType: "central",
				HasElevatorPass: true, HasElevatorCargo: true,
				DescriptionShort: "Comfort-class towers above Al-Farabi with mountain views.",
			},
			floors: 16,
			properties: []catalog.Property{
				{Category: "APARTMENT", Floor: 4, Area: 48.5, Rooms: intPtr(1), Price: floatPtr(32_000_000)},
				{Category: "APARTMENT", Floor: 9, Area: 67.2, Rooms: intPtr(2), Price: floatPtr(45_500_000)},
				{Category: "APARTMENT", Floor: 14, Area: 92.0, Rooms: intPtr(3), Price: floatPtr(64_000_000)},
			},
		},
		{
			complex: catalog.ResidentialComplex{
				DistrictID: medeu, Name: "Koktobe City", Address: "Omarova Street 23",
				ClassType: "BUSINESS", HeatingType: "autonomous",
				HasElevatorPass: true, HasElevatorCargo: true,
				DescriptionShort: "Business-class quarter on the Koktobe hillside.",
			},
			floors: 12,
			properties: []catalog.Property{
				{Category: "APARTMENT", Floor: 3, Area: 75.4, Rooms: intPtr(2), Price: floatPtr(58_000_000)},
				{Category: "APARTMENT", Floor: 10, Area: 118.6, Rooms: intPtr(4), Price: floatPtr(96_000_000)},
			},
		},
	}

	for _, seed := range seeds {
		complexID, err := store.InsertComplex(ctx, seed.complex)
		if err != nil {
			return err
		}
		blockID, err := store.InsertBlock(ctx, catalog.Block{
			ComplexID: complexID, BlockNumber: 1, TotalFloors: seed.floors, BuildingStatus: "UNDER_CONSTRUCTION",
		})
		if err != nil {
			return err
		}
		for _, p := range seed.properties {
			p.BlockID = blockID
			if _, err := store.InsertProperty(ctx, p); err != nil {
				return err
			}
		}
	}
	log.Printf("seeded demo catalog with %d complexes", len(seeds))
	return nil
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
