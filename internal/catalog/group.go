package catalog

import (
	"github.com/bvandewe/agent-gateway/internal/catalog/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

const GroupAggregateType = "tool_group"

// Event types for the ToolGroup aggregate.
const (
	GroupEventCreated      = "group_created"
	GroupEventSelectorsSet = "group_selectors_set"
	GroupEventIncludesSet  = "group_includes_set"
	GroupEventExcludesSet  = "group_excludes_set"
	GroupEventDeleted      = "group_deleted"
)

// SelectorKind, SelectorField, and Selector live canonically in
// internal/catalog/store alongside the rest of the shared vocabulary types;
// see catalog.go for why.
type (
	SelectorKind  = store.SelectorKind
	SelectorField = store.SelectorField
	Selector      = store.Selector
)

const (
	SelectorWildcard = store.SelectorWildcard
	SelectorRegex    = store.SelectorRegex

	SelectorFieldName     = store.SelectorFieldName
	SelectorFieldTags     = store.SelectorFieldTags
	SelectorFieldSourceID = store.SelectorFieldSourceID
)

// Group is the ToolGroup aggregate (§3).
type Group struct {
	id          string
	version     int
	Name        string
	Description string
	Selectors   []Selector
	Includes    []string
	Excludes    []string
	Deleted     bool
}

var _ eventstore.Aggregate = (*Group)(nil)

// NewGroup constructs an empty Group ready for event replay or commands.
func NewGroup(id string) eventstore.Aggregate { return &Group{id: id} }

func (g *Group) AggregateType() string { return GroupAggregateType }

func (g *Group) ApplyEvent(evt eventstore.Event) error {
	switch evt.Type {
	case GroupEventCreated:
		var p groupCreatedPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		g.Name, g.Description = p.Name, p.Description
	case GroupEventSelectorsSet:
		var p groupSelectorsPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		g.Selectors = p.Selectors
	case GroupEventIncludesSet:
		var p groupListPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		g.Includes = p.Items
	case GroupEventExcludesSet:
		var p groupListPayload
		if err := eventstore.Unmarshal(evt.Payload, &p); err != nil {
			return err
		}
		g.Excludes = p.Items
	case GroupEventDeleted:
		g.Deleted = true
	}
	g.version++
	return nil
}

type (
	groupCreatedPayload struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	groupSelectorsPayload struct {
		Selectors []Selector `json:"selectors"`
	}
	groupListPayload struct {
		Items []string `json:"items"`
	}
)

// CreateGroup produces the creation event for a new group.
func CreateGroup(name, description string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(groupCreatedPayload{Name: name, Description: description})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: GroupEventCreated, Payload: payload}, nil
}

// SetSelectors replaces the group's selector list.
func (g *Group) SetSelectors(selectors []Selector) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(groupSelectorsPayload{Selectors: selectors})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: GroupEventSelectorsSet, Payload: payload}, nil
}

// SetIncludes replaces the group's explicit include list.
func (g *Group) SetIncludes(toolIDs []string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(groupListPayload{Items: toolIDs})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: GroupEventIncludesSet, Payload: payload}, nil
}

// SetExcludes replaces the group's explicit exclude list.
func (g *Group) SetExcludes(toolIDs []string) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(groupListPayload{Items: toolIDs})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: GroupEventExcludesSet, Payload: payload}, nil
}

// Delete marks the group deleted.
func (g *Group) Delete() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: GroupEventDeleted}, nil
}

// ToolFacts is the minimal per-tool projection Resolve needs to evaluate
// selectors without depending on the full Tool aggregate.
type ToolFacts struct {
	ID       string
	Name     string
	Tags     []string
	SourceID string
	Enabled  bool
	Active   bool
}

// Resolve computes group membership (§3, §4.3 step 4): start empty, add
// every enabled+active tool matching any selector, add explicit includes,
// remove explicit excludes.
func (g *Group) Resolve(candidates []ToolFacts) []string {
	members := make(map[string]struct{})
	for _, c := range candidates {
		if !c.Enabled || !c.Active {
			continue
		}
		for _, sel := range g.Selectors {
			if sel.Matches(c.Name, c.Tags, c.SourceID) {
				members[c.ID] = struct{}{}
				break
			}
		}
	}
	for _, id := range g.Includes {
		members[id] = struct{}{}
	}
	for _, id := range g.Excludes {
		delete(members, id)
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}
