// Command gateway runs the agent execution gateway: the Conversation
// Orchestrator, Tool Execution Pipeline, Access Resolution, and Conversation
// Event Store wired together behind the chi-based control plane in
// internal/api.
//
// # Configuration
//
// Environment variables (see internal/config for the full list and
// defaults); the most commonly set ones:
//
//	GATEWAY_HTTP_ADDR       - HTTP listen address (default: ":8080")
//	GATEWAY_CONFIG_FILE     - optional YAML overlay file
//	MONGO_URI               - MongoDB connection string (default: in-memory stores)
//	MONGO_DATABASE          - MongoDB database name (default: "gateway")
//	REDIS_URL               - Redis address for manifest/access caches (default: no cache)
//	GATEWAY_JWKS_URL        - JWKS endpoint for bearer token verification
//	GATEWAY_ISSUER          - expected token issuer
//	GATEWAY_AUDIENCE        - expected token audience
//	GATEWAY_LLM_PROVIDER    - "anthropic" | "openai" | "bedrock" (default: "anthropic")
//	GATEWAY_LLM_MODEL       - model id passed to the selected provider
//	ANTHROPIC_API_KEY, OPENAI_API_KEY, AWS_REGION - provider credentials
//
// # Example
//
//	MONGO_URI=mongodb://localhost:27017 REDIS_URL=localhost:6379 \
//	ANTHROPIC_API_KEY=sk-... go run ./cmd/gateway
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/bvandewe/agent-gateway/internal/access"
	accessstore "github.com/bvandewe/agent-gateway/internal/access/store"
	accessmemory "github.com/bvandewe/agent-gateway/internal/access/store/memory"
	accessmongo "github.com/bvandewe/agent-gateway/internal/access/store/mongo"
	"github.com/bvandewe/agent-gateway/internal/api"
	"github.com/bvandewe/agent-gateway/internal/cache"
	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	catalogmemory "github.com/bvandewe/agent-gateway/internal/catalog/store/memory"
	catalogmongo "github.com/bvandewe/agent-gateway/internal/catalog/store/mongo"
	"github.com/bvandewe/agent-gateway/internal/config"
	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	convmemory "github.com/bvandewe/agent-gateway/internal/conversation/store/memory"
	convmongo "github.com/bvandewe/agent-gateway/internal/conversation/store/mongo"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
	esmemory "github.com/bvandewe/agent-gateway/internal/eventstore/memory"
	esmongo "github.com/bvandewe/agent-gateway/internal/eventstore/mongo"
	"github.com/bvandewe/agent-gateway/internal/llmprovider"
	"github.com/bvandewe/agent-gateway/internal/orchestrator"
	"github.com/bvandewe/agent-gateway/internal/ratelimit"
	"github.com/bvandewe/agent-gateway/internal/telemetry"
	"github.com/bvandewe/agent-gateway/internal/toolexec"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zapBase, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapBase.Sync() //nolint:errcheck
	logger := telemetry.NewZapLogger(zapBase)

	var mongoDB *mongo.Database
	if cfg.MongoURI != "" {
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return fmt.Errorf("connect to mongo: %w", err)
		}
		defer func() {
			if err := client.Disconnect(ctx); err != nil {
				log.Printf("disconnect mongo: %v", err)
			}
		}()
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
		dbName := cfg.MongoDB
		if dbName == "" {
			dbName = "gateway"
		}
		mongoDB = client.Database(dbName)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close() //nolint:errcheck
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}

	// Event store: durable Mongo-backed when configured, otherwise an
	// in-memory store suitable for development and single-node setups.
	var esStore eventstore.Store
	if mongoDB != nil {
		m := esmongo.New(mongoDB.Collection("events"))
		if err := m.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure event store indexes: %w", err)
		}
		esStore = m
	} else {
		esStore = esmemory.New()
	}

	// Read-model stores, same mongo-vs-memory split per domain.
	var convReads convstore.Store
	var catalogReads catalogstore.Store
	var policyReads accessstore.Store
	if mongoDB != nil {
		convReads = convmongo.New(mongoDB.Collection("conversations"), mongoDB.Collection("agent_definitions"), mongoDB.Collection("conversation_templates"))
		catalogReads = catalogmongo.New(mongoDB.Collection("upstream_sources"), mongoDB.Collection("source_tools"), mongoDB.Collection("tool_groups"))
		policyReads = accessmongo.New(mongoDB.Collection("access_policies"))
	} else {
		convReads = convmemory.New()
		catalogReads = catalogmemory.New()
		policyReads = accessmemory.New()
	}

	bus := eventstore.NewBus()
	if err := bus.Register(conversation.NewConversationProjection(convReads)); err != nil {
		return err
	}
	if err := bus.Register(conversation.NewDefinitionProjection(convReads)); err != nil {
		return err
	}
	if err := bus.Register(conversation.NewTemplateProjection(convReads)); err != nil {
		return err
	}
	if err := bus.Register(catalog.NewSourceProjection(catalogReads)); err != nil {
		return err
	}
	if err := bus.Register(catalog.NewToolProjection(catalogReads)); err != nil {
		return err
	}
	if err := bus.Register(catalog.NewGroupProjection(catalogReads)); err != nil {
		return err
	}
	if err := bus.Register(access.NewPolicyProjection(policyReads)); err != nil {
		return err
	}

	conversations := eventstore.NewRepository(esStore, bus, conversation.ConversationAggregateType,
		func(id string) *conversation.Conversation { return conversation.New(id).(*conversation.Conversation) })
	definitions := eventstore.NewRepository(esStore, bus, conversation.AgentDefinitionAggregateType,
		func(id string) *conversation.Definition { return conversation.NewDefinition(id).(*conversation.Definition) })
	templates := eventstore.NewRepository(esStore, bus, conversation.TemplateAggregateType,
		func(id string) *conversation.Template { return conversation.NewTemplate(id).(*conversation.Template) })
	sources := eventstore.NewRepository(esStore, bus, catalog.SourceAggregateType,
		func(id string) *catalog.Source { return catalog.NewSource(id).(*catalog.Source) })
	tools := eventstore.NewRepository(esStore, bus, catalog.ToolAggregateType,
		func(id string) *catalog.Tool { return catalog.NewTool(id).(*catalog.Tool) })
	groups := eventstore.NewRepository(esStore, bus, catalog.GroupAggregateType,
		func(id string) *catalog.Group { return catalog.NewGroup(id).(*catalog.Group) })
	policies := eventstore.NewRepository(esStore, bus, access.PolicyAggregateType,
		func(id string) *access.Policy { return access.NewPolicy(id).(*access.Policy) })

	// Manifest/access caches are nil-safe: every call site degrades to a
	// cache miss (recompute from aggregates) when Redis is not configured.
	var manifestCache *catalog.ManifestCache
	var accessCache *cache.Cache
	if redisClient != nil {
		manifestCache = catalog.NewManifestCache(
			cache.New(redisClient, "manifest", "gateway:cache:invalidate", logger),
			time.Duration(cfg.ManifestCacheTTLSeconds)*time.Second)
		accessCache = cache.New(redisClient, "access", "gateway:cache:invalidate", logger)
	}

	resolver := access.NewResolver(access.NewStoreLoader(policyReads), catalogReads, manifestCache, accessCache,
		time.Duration(cfg.AccessCacheTTLSeconds)*time.Second)

	httpDispatcher := toolexec.NewHTTPDispatcher(&http.Client{Timeout: time.Duration(cfg.ToolDefaultTimeoutSeconds) * time.Second})
	pluginTransport := toolexec.NewPluginTransport(logger, nil)
	var exchanger *toolexec.Exchanger
	if tokenURL := os.Getenv("GATEWAY_TOKEN_EXCHANGE_URL"); tokenURL != "" {
		exchanger = toolexec.NewExchanger(toolexec.ExchangerConfig{
			TokenURL:     tokenURL,
			ClientID:     os.Getenv("GATEWAY_TOKEN_EXCHANGE_CLIENT_ID"),
			ClientSecret: os.Getenv("GATEWAY_TOKEN_EXCHANGE_CLIENT_SECRET"),
			DefaultTTL:   time.Duration(cfg.TokenCacheDefaultTTLSeconds) * time.Second,
		})
	}
	pipeline := toolexec.New(catalogReads, exchanger, httpDispatcher, pluginTransport, logger)

	llmClient, err := newLLMClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build llm client: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute:  float64(cfg.RateLimitRequestsPerMinute),
		ConcurrentRequests: cfg.RateLimitConcurrentRequests,
	})

	questions := catalog.NewQuestionBank()

	orch := orchestrator.New(conversations, convReads, catalogReads, pipeline, resolver, llmClient, questions, logger, limiter,
		orchestrator.Config{
			MaxContextMessages:  cfg.MaxContextMessages,
			MaxIterations:       cfg.MaxIterations,
			MaxToolCallsPerIter: cfg.MaxToolCallsPerIteration,
			AgentTimeout:        cfg.AgentTimeout(),
		})

	var verifier *api.Verifier
	if cfg.JWKSURL != "" {
		verifier, err = api.NewVerifier(ctx, api.VerifierConfig{
			JWKSURL:  cfg.JWKSURL,
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
		})
		if err != nil {
			return fmt.Errorf("build jwt verifier: %w", err)
		}
	}

	server := api.NewServer(orch, convReads, catalogReads, policyReads,
		conversations, definitions, templates, sources, tools, groups, policies,
		resolver, pluginTransport, verifier, logger)

	log.Printf("starting gateway on %s", cfg.HTTPAddr)
	return http.ListenAndServe(cfg.HTTPAddr, server.Routes())
}

// newLLMClient selects and constructs the configured model provider
// adapter (§4.1 "LLM provider abstraction").
func newLLMClient(ctx context.Context, cfg config.Config) (llmprovider.Client, error) {
	switch cfg.LLMProvider {
	case "openai":
		return llmprovider.NewOpenAIClientFromAPIKey(cfg.OpenAIKey, llmprovider.OpenAIOptions{DefaultModel: cfg.LLMModel})
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		runtime := bedrockruntime.NewFromConfig(awsCfg)
		return llmprovider.NewBedrockClient(runtime, llmprovider.BedrockOptions{DefaultModel: cfg.LLMModel})
	default:
		return llmprovider.NewAnthropicClientFromAPIKey(cfg.AnthropicKey, llmprovider.AnthropicOptions{DefaultModel: cfg.LLMModel})
	}
}
