package catalog

import (
	"fmt"
	"sort"

	"github.com/openfroyo/froyo-guard/internal/engineerr"
	"github.com/openfroyo/froyo-guard/internal/policy"
)

// Resolver expands a requested selection of policy IDs into the full set
// that must be applied together, and reports conflicts that block the
// selection. Grounded on the teacher's DAGBuilder (pkg/engine/dag.go):
// same adjacency-list-plus-in-degree construction and Kahn's-algorithm level
// computation, with a cycle reported when the in-degree sweep stalls,
// narrowed here to walk only
// DependencyEdge.Gates()==true edges. Conflict edges and overridable
// Recommended edges are tracked separately and never gate expansion or
// ordering; they are surfaced to the caller instead.
type Resolver struct {
	byID map[string]*policy.Policy
}

// NewResolver indexes a loaded catalog by policy ID.
func NewResolver(policies []policy.Policy) *Resolver {
	byID := make(map[string]*policy.Policy, len(policies))
	for i := range policies {
		byID[policies[i].PolicyID] = &policies[i]
	}
	return &Resolver{byID: byID}
}

// Conflict describes a Conflict-kind edge touching the resolved set.
type Conflict struct {
	PolicyID      string
	OtherPolicyID string
	Reason        string
}

// Resolution is the outcome of expanding a requested policy selection.
type Resolution struct {
	// PolicyIDs is the full expanded set: the requested IDs plus every
	// transitive Required and non-overridable-Recommended dependency.
	PolicyIDs []string
	// Levels groups PolicyIDs into execution levels: policies in the
	// same level share no gating edge between them and may be applied
	// in parallel; level i+1 depends on level i.
	Levels [][]string
	// Conflicts lists every Conflict edge declared by a member of the
	// resolved set; edges declared only by policies outside the set are
	// not collected. Conflicts never block resolution themselves;
	// callers (the engine's GATING state) decide whether a conflict is
	// fatal for the requested operation.
	Conflicts []Conflict
	// Recommended lists overridable Recommended edges declared by a
	// member of the resolved set, surfaced for UI display but not
	// auto-included.
	Recommended []Conflict
}

// Resolve expands requestedIDs into the full gating set and computes a
// topological execution order. It returns an error classed
// engineerr.ClassPermanent for unknown policy IDs and circular Required
// dependencies (CodeCircularDependency), since neither is recoverable by
// retrying the same request.
func (r *Resolver) Resolve(requestedIDs []string) (*Resolution, error) {
	for _, id := range requestedIDs {
		if _, ok := r.byID[id]; !ok {
			return nil, engineerr.New(engineerr.ClassPermanent, fmt.Sprintf("unknown policy: %s", id), nil).
				WithCode(engineerr.CodeUnknownPolicy).WithPolicy(id)
		}
	}

	included := make(map[string]bool)
	queue := append([]string{}, requestedIDs...)
	for _, id := range requestedIDs {
		included[id] = true
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		p := r.byID[id]
		for _, dep := range p.Dependencies {
			if !dep.Gates() {
				continue
			}
			if _, ok := r.byID[dep.OtherPolicyID]; !ok {
				return nil, engineerr.New(engineerr.ClassPermanent,
					fmt.Sprintf("policy %s depends on unknown policy %s", id, dep.OtherPolicyID), nil).
					WithCode(engineerr.CodeUnknownPolicy).WithPolicy(dep.OtherPolicyID)
			}
			if !included[dep.OtherPolicyID] {
				included[dep.OtherPolicyID] = true
				queue = append(queue, dep.OtherPolicyID)
			}
		}
	}

	resolvedIDs := make([]string, 0, len(included))
	for id := range included {
		resolvedIDs = append(resolvedIDs, id)
	}
	sort.Strings(resolvedIDs)

	levels, err := r.computeLevels(resolvedIDs)
	if err != nil {
		return nil, err
	}

	conflicts, recommended := r.surfaceNonGatingEdges(resolvedIDs)

	return &Resolution{
		PolicyIDs:   resolvedIDs,
		Levels:      levels,
		Conflicts:   conflicts,
		Recommended: recommended,
	}, nil
}

// computeLevels runs Kahn's algorithm over the gating subgraph restricted
// to resolvedIDs, detecting cycles via a stalled in-degree count: any
// policy still holding a non-zero in-degree after the sweep lies on, or
// depends on, a gating cycle of some length.
func (r *Resolver) computeLevels(resolvedIDs []string) ([][]string, error) {
	inSet := make(map[string]bool, len(resolvedIDs))
	for _, id := range resolvedIDs {
		inSet[id] = true
	}

	adjacency := make(map[string][]string, len(resolvedIDs))
	inDegree := make(map[string]int, len(resolvedIDs))
	for _, id := range resolvedIDs {
		adjacency[id] = nil
		inDegree[id] = 0
	}

	for _, id := range resolvedIDs {
		p := r.byID[id]
		for _, dep := range p.Dependencies {
			if !dep.Gates() || !inSet[dep.OtherPolicyID] {
				continue
			}
			// Edge from dependency -> dependent: the dependency must be
			// applied first.
			adjacency[dep.OtherPolicyID] = append(adjacency[dep.OtherPolicyID], id)
			inDegree[id]++
		}
	}

	var levels [][]string
	current := make([]string, 0)
	for _, id := range resolvedIDs {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}
	sort.Strings(current)

	processed := 0
	for len(current) > 0 {
		levels = append(levels, current)
		processed += len(current)

		nextSet := make(map[string]bool)
		for _, id := range current {
			for _, dependent := range adjacency[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextSet[dependent] = true
				}
			}
		}
		next := make([]string, 0, len(nextSet))
		for id := range nextSet {
			next = append(next, id)
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(resolvedIDs) {
		unresolved := make([]string, 0)
		for _, id := range resolvedIDs {
			if inDegree[id] > 0 {
				unresolved = append(unresolved, id)
			}
		}
		sort.Strings(unresolved)
		return nil, engineerr.New(engineerr.ClassPermanent,
			fmt.Sprintf("circular dependency detected among: %v", unresolved), nil).
			WithCode(engineerr.CodeCircularDependency)
	}

	return levels, nil
}

// surfaceNonGatingEdges collects Conflict edges and overridable
// Recommended edges declared by members of the resolved set, deduplicated
// by unordered pair.
func (r *Resolver) surfaceNonGatingEdges(resolvedIDs []string) (conflicts, recommended []Conflict) {
	seenConflict := make(map[[2]string]bool)
	seenRecommended := make(map[[2]string]bool)

	for _, id := range resolvedIDs {
		p := r.byID[id]
		for _, dep := range p.Dependencies {
			switch {
			case dep.Kind == policy.DependencyConflict:
				key := pairKey(id, dep.OtherPolicyID)
				if seenConflict[key] {
					continue
				}
				seenConflict[key] = true
				conflicts = append(conflicts, Conflict{PolicyID: id, OtherPolicyID: dep.OtherPolicyID, Reason: dep.Reason})
			case dep.Kind == policy.DependencyRecommended && dep.UserOverridable:
				key := pairKey(id, dep.OtherPolicyID)
				if seenRecommended[key] {
					continue
				}
				seenRecommended[key] = true
				recommended = append(recommended, Conflict{PolicyID: id, OtherPolicyID: dep.OtherPolicyID, Reason: dep.Reason})
			}
		}
	}
	return conflicts, recommended
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// ConflictsWithSelection returns the Conflict edges whose two endpoints
// are both members of the resolved selection, the case the engine's
// GATING state must reject outright (spec.md §4.5).
func (r *Resolution) ConflictsWithSelection() []Conflict {
	inSet := make(map[string]bool, len(r.PolicyIDs))
	for _, id := range r.PolicyIDs {
		inSet[id] = true
	}
	var out []Conflict
	for _, c := range r.Conflicts {
		if inSet[c.PolicyID] && inSet[c.OtherPolicyID] {
			out = append(out, c)
		}
	}
	return out
}
