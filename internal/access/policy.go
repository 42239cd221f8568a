// Package access implements Access Resolution (§4.3): claim-matcher
// evaluation over Access Policy aggregates, producing the set of tool
// groups — and ultimately tool ids — a caller's verified claims grant.
package access

import (
	"sort"

	"github.com/bvandewe/agent-gateway/internal/access/store"
	"github.com/bvandewe/agent-gateway/internal/eventstore"
)

const PolicyAggregateType = "access_policy"

// Event types for the AccessPolicy aggregate.
const (
	PolicyEventCreated   = "policy_created"
	PolicyEventUpdated   = "policy_updated"
	PolicyEventActiveSet = "policy_active_set"
	PolicyEventDeleted   = "policy_deleted"
)

// Operator and ClaimMatcher live canonically in internal/access/store so
// that package can be a DTO-only leaf with no dependency on this package's
// aggregate; they are re-exported here as aliases.
type (
	Operator     = store.Operator
	ClaimMatcher = store.ClaimMatcher
)

const (
	OpEquals     = store.OpEquals
	OpContains   = store.OpContains
	OpStartsWith = store.OpStartsWith
	OpRegex      = store.OpRegex
	OpInList     = store.OpInList
)

// Policy is the AccessPolicy aggregate (§3).
type Policy struct {
	id              string
	version         int
	Name            string
	Matchers        []ClaimMatcher
	AllowedGroupIDs []string
	Priority        int
	Active          bool
	Deleted         bool
}

var _ eventstore.Aggregate = (*Policy)(nil)

// NewPolicy constructs an empty Policy ready for event replay or commands.
func NewPolicy(id string) eventstore.Aggregate { return &Policy{id: id} }

func (p *Policy) AggregateType() string { return PolicyAggregateType }

func (p *Policy) ApplyEvent(evt eventstore.Event) error {
	switch evt.Type {
	case PolicyEventCreated, PolicyEventUpdated:
		var payload policyPayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		p.Name = payload.Name
		p.Matchers = payload.Matchers
		p.AllowedGroupIDs = payload.AllowedGroupIDs
		p.Priority = payload.Priority
		if evt.Type == PolicyEventCreated {
			p.Active = true
		}
	case PolicyEventActiveSet:
		var payload policyActivePayload
		if err := eventstore.Unmarshal(evt.Payload, &payload); err != nil {
			return err
		}
		p.Active = payload.Active
	case PolicyEventDeleted:
		p.Deleted = true
	}
	p.version++
	return nil
}

type (
	policyPayload struct {
		Name            string         `json:"name"`
		Matchers        []ClaimMatcher `json:"matchers"`
		AllowedGroupIDs []string       `json:"allowed_group_ids"`
		Priority        int            `json:"priority"`
	}
	policyActivePayload struct {
		Active bool `json:"active"`
	}
)

// CreatePolicy produces the creation event for a new policy.
func CreatePolicy(name string, matchers []ClaimMatcher, allowedGroupIDs []string, priority int) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(policyPayload{Name: name, Matchers: matchers, AllowedGroupIDs: allowedGroupIDs, Priority: priority})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: PolicyEventCreated, Payload: payload}, nil
}

// Update replaces the policy's matchers, allowed groups, and priority.
func (p *Policy) Update(matchers []ClaimMatcher, allowedGroupIDs []string, priority int) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(policyPayload{Name: p.Name, Matchers: matchers, AllowedGroupIDs: allowedGroupIDs, Priority: priority})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: PolicyEventUpdated, Payload: payload}, nil
}

// SetActive enables or disables policy evaluation for this policy.
func (p *Policy) SetActive(active bool) (eventstore.NewEvent, error) {
	payload, err := eventstore.Marshal(policyActivePayload{Active: active})
	if err != nil {
		return eventstore.NewEvent{}, err
	}
	return eventstore.NewEvent{Type: PolicyEventActiveSet, Payload: payload}, nil
}

// Delete marks the policy deleted.
func (p *Policy) Delete() (eventstore.NewEvent, error) {
	return eventstore.NewEvent{Type: PolicyEventDeleted}, nil
}

// Evaluate reports whether every matcher in the policy matches claims (AND
// within a policy, §4.3 step 2).
func (p *Policy) Evaluate(claims map[string]any) bool {
	if !p.Active || p.Deleted {
		return false
	}
	for _, m := range p.Matchers {
		if !m.Matches(claims) {
			return false
		}
	}
	return true
}

// ResolveAllowedGroups implements resolve_accessible_tools steps 1-3
// (§4.3): enumerate active policies by descending priority, evaluate each,
// and union the allowed_group_ids of every matching policy (OR across
// policies).
func ResolveAllowedGroups(policies []*Policy, claims map[string]any) []string {
	ordered := append([]*Policy(nil), policies...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	seen := make(map[string]struct{})
	var out []string
	for _, p := range ordered {
		if !p.Evaluate(claims) {
			continue
		}
		for _, gid := range p.AllowedGroupIDs {
			if _, ok := seen[gid]; ok {
				continue
			}
			seen[gid] = struct{}{}
			out = append(out, gid)
		}
	}
	return out
}
