package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/bvandewe/agent-gateway/internal/access"
	accessstore "github.com/bvandewe/agent-gateway/internal/access/store"
	"github.com/bvandewe/agent-gateway/internal/catalog"
	catalogstore "github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/conversation"
	convstore "github.com/bvandewe/agent-gateway/internal/conversation/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
	"github.com/bvandewe/agent-gateway/internal/orchestrator"
	"github.com/bvandewe/agent-gateway/internal/telemetry"
)

// Server holds every dependency the control plane's handlers need: the
// orchestrator (chat), the read-model stores (listing/lookup), the
// write-side repositories (commands), the access resolver, and the
// identity verifier. It is the api package's single wiring seam, handed
// fully-constructed collaborators by cmd/gateway.
type Server struct {
	orchestrator *orchestrator.Orchestrator

	convReads    convstore.Store
	catalogReads catalogstore.Store
	policyReads  accessstore.Store

	conversations *eventstore.Repository[*conversation.Conversation]
	definitions   *eventstore.Repository[*conversation.Definition]
	templates     *eventstore.Repository[*conversation.Template]
	sources       *eventstore.Repository[*catalog.Source]
	tools         *eventstore.Repository[*catalog.Tool]
	groups        *eventstore.Repository[*catalog.Group]
	policies      *eventstore.Repository[*access.Policy]

	access   *access.Resolver
	mcp      MCPToolLister
	verifier *Verifier
	logger   telemetry.Logger

	sessions *sessionRegistry
}

// MCPToolLister lists an MCP source's tools for inventory ingestion (§4.3
// step 1: "plugin tools/list"). toolexec.PluginTransport implements it.
type MCPToolLister interface {
	ListSourceTools(ctx context.Context, source *catalogstore.SourceDTO) ([]mcp.Tool, error)
}

// NewServer constructs a Server. Every repository parameter is the
// eventstore.Repository for the matching aggregate type, built by
// cmd/gateway via eventstore.NewRepository with the matching package-level
// New constructor cast to its concrete pointer type (the pattern
// internal/eventstore/repository_test.go establishes).
func NewServer(
	orch *orchestrator.Orchestrator,
	convReads convstore.Store,
	catalogReads catalogstore.Store,
	policyReads accessstore.Store,
	conversations *eventstore.Repository[*conversation.Conversation],
	definitions *eventstore.Repository[*conversation.Definition],
	templates *eventstore.Repository[*conversation.Template],
	sources *eventstore.Repository[*catalog.Source],
	tools *eventstore.Repository[*catalog.Tool],
	groups *eventstore.Repository[*catalog.Group],
	policies *eventstore.Repository[*access.Policy],
	resolver *access.Resolver,
	mcpLister MCPToolLister,
	verifier *Verifier,
	logger telemetry.Logger,
) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{
		orchestrator:  orch,
		convReads:     convReads,
		catalogReads:  catalogReads,
		policyReads:   policyReads,
		conversations: conversations,
		definitions:   definitions,
		templates:     templates,
		sources:       sources,
		tools:         tools,
		groups:        groups,
		policies:      policies,
		access:        resolver,
		mcp:           mcpLister,
		verifier:      verifier,
		logger:        logger,
		sessions:      newSessionRegistry(),
	}
}

// Routes builds the chi router mounting every §6 control-plane endpoint
// behind request logging and (where the endpoint is not itself the
// identity boundary's entry point) bearer/cookie authentication.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogMiddleware(s.logger))

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.verifier))

		r.Post("/chat/send", s.handleChatSend)
		r.Post("/chat/widget/{widget_id}", s.handleChatWidget)
		r.Post("/chat/cancel/{request_id}", s.handleChatCancel)

		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
		r.Put("/conversations/{id}/rename", s.handleRenameConversation)
		r.Post("/conversations/{id}/clear", s.handleClearConversation)

		r.Get("/tools", s.handleListTools)
		r.Get("/tools/search", s.handleSearchTools)
		r.Get("/tools/{id}", s.handleGetTool)
		r.Delete("/tools/{id}", s.handleDeleteTool)
		r.Post("/tools/{id}/enable", s.handleEnableTool)
		r.Post("/tools/{id}/disable", s.handleDisableTool)

		r.Post("/sources", s.handleCreateSource)
		r.Get("/sources", s.handleListSources)
		r.Post("/sources/{id}/refresh", s.handleRefreshSource)
		r.Delete("/sources/{id}", s.handleDeleteSource)

		r.Post("/groups", s.handleCreateGroup)
		r.Get("/groups", s.handleListGroups)
		r.Get("/groups/{id}", s.handleGetGroup)
		r.Put("/groups/{id}", s.handleUpdateGroup)
		r.Delete("/groups/{id}", s.handleDeleteGroup)

		r.Post("/policies", s.handleCreatePolicy)
		r.Get("/policies", s.handleListPolicies)
		r.Get("/policies/{id}", s.handleGetPolicy)
		r.Put("/policies/{id}", s.handleUpdatePolicy)
		r.Delete("/policies/{id}", s.handleDeletePolicy)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
