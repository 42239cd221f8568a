package catalog

import (
	"time"

	"github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/errkind"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

const SourceAggregateType = "upstream_source"

// Event types for the UpstreamSource aggregate.
const (
	SourceEventRegistered     = "source_registered"
	SourceEventRefreshed      = "source_refreshed"
	SourceEventHealthChanged  = "source_health_changed"
	SourceEventEnabledChanged = "source_enabled_changed"
	SourceEventDeleted        = "source_deleted"
)

// PluginConfig lives canonically in internal/catalog/store; see catalog.go.
type PluginConfig = store.PluginConfig

// Source is the UpstreamSource aggregate (§3).
type Source struct {
	id                string
	version           int
	Name              string
	Kind              SourceKind
	BaseURL           string
	SpecURL           string
	AuthMode          AuthMode
	DefaultAudience   string
	RequiredScopes    []string
	Plugin            *PluginConfig
	Health            HealthStatus
	LastSyncAt        time.Time
	InventoryHash     string
	ToolCount         int
	Enabled           bool
	Deleted           bool
}

var _ eventstore.Aggregate = (*Source)(nil)

// NewSource constructs an empty Source ready for event replay or commands.
func NewSource(id string) eventstore.Aggregate { return &Source{id: id} }

func (s *Source) AggregateType() string { return SourceAggregateType }

func (s *Source) ApplyEvent(evt eventstore.Event) error {
	switch evt.Type {
	case SourceEventRegistered:
		var p sourceRegisteredPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		s.Name, s.Kind, s.BaseURL, s.SpecURL = p.Name, p.Kind, p.BaseURL, p.SpecURL
		s.AuthMode, s.DefaultAudience, s.RequiredScopes = p.AuthMode, p.DefaultAudience, p.RequiredScopes
		s.Plugin = p.Plugin
		s.Health = HealthUnknown
		s.Enabled = true
	case SourceEventRefreshed:
		var p sourceRefreshedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		s.InventoryHash, s.ToolCount, s.LastSyncAt = p.InventoryHash, p.ToolCount, evt.Timestamp
	case SourceEventHealthChanged:
		var p sourceHealthChangedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		s.Health = p.Health
	case SourceEventEnabledChanged:
		var p sourceEnabledChangedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		s.Enabled = p.Enabled
	case SourceEventDeleted:
		s.Deleted = true
	}
	s.version++
	return nil
}

type (
	sourceRegisteredPayload struct {
		Name            string        `json:"name"`
		Kind            SourceKind    `json:"kind"`
		BaseURL         string        `json:"base_url"`
		SpecURL         string        `json:"spec_url,omitempty"`
		AuthMode        AuthMode      `json:"auth_mode"`
		DefaultAudience string        `json:"default_audience,omitempty"`
		RequiredScopes  []string      `json:"required_scopes,omitempty"`
		Plugin          *PluginConfig `json:"plugin,omitempty"`
	}
	sourceRefreshedPayload struct {
		InventoryHash string `json:"inventory_hash"`
		ToolCount     int    `json:"tool_count"`
	}
	sourceHealthChangedPayload struct {
		Health HealthStatus `json:"health"`
	}
	sourceEnabledChangedPayload struct {
		Enabled bool `json:"enabled"`
	}
)

// RegisterSource produces the registration event for a brand new source.
func RegisterSource(id, name string, kind SourceKind, baseURL, specURL string, authMode AuthMode, defaultAudience string, requiredScopes []string, plugin *PluginConfig) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(sourceRegisteredPayload{
		Name: name, Kind: kind, BaseURL: baseURL, SpecURL: specURL,
		AuthMode: authMode, DefaultAudience: defaultAudience, RequiredScopes: requiredScopes, Plugin: plugin,
	})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: SourceEventRegistered, Payload: payload}, nil
}

// Refresh records a completed inventory sync.
func (s *Source) Refresh(inventoryHash string, toolCount int) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(sourceRefreshedPayload{InventoryHash: inventoryHash, ToolCount: toolCount})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: SourceEventRefreshed, Payload: payload}, nil
}

// SetHealth records a health-status transition.
func (s *Source) SetHealth(h HealthStatus) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(sourceHealthChangedPayload{Health: h})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: SourceEventHealthChanged, Payload: payload}, nil
}

// SetEnabled enables or disables the source.
func (s *Source) SetEnabled(enabled bool) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(sourceEnabledChangedPayload{Enabled: enabled})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: SourceEventEnabledChanged, Payload: payload}, nil
}

// Delete marks the source deleted. Its tools are not touched here: the
// DELETE /sources handler deprecates each of them afterwards in separate
// per-tool commands (§3: "deleting a Source marks its tools deprecated").
func (s *Source) Delete() (eventstore.NewEvent, error) {
	if s.Deleted {
		return eventstore.NewEvent{}, errkind.New(errkind.InvalidState, "source already deleted")
	}
	return eventstore.NewEvent{Type: SourceEventDeleted}, nil
}
