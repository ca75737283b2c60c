// Package reach decides whether a vulnerable package is used via a
// dependency path from the application root.
//
// The engine is deterministic end to end: adjacency is keyed by
// lower-cased package name, traversal order is fixed by sorting, and
// the computedAt stamp is derived from a seed instead of the clock.
package reach

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// Method names the only analysis method this engine implements.
const Method = `dependency-graph-bfs`

// Options configure an Engine.
type Options struct {
	// AnalysisVersion participates in record identity; bump it when the
	// algorithm below changes observably.
	AnalysisVersion string
	// Seed pins computedAt. Identical seeds yield identical stamps.
	Seed string
}

// Engine computes reachability records over a dependency edge set.
type Engine struct {
	version    string
	computedAt string
}

// New constructs an Engine. An empty AnalysisVersion defaults to the
// global analysis contract version.
func New(opts Options) *Engine {
	v := opts.AnalysisVersion
	if v == "" {
		v = argonaut.AnalysisVersion
	}
	return &Engine{
		version:    v,
		computedAt: stampFromSeed(opts.Seed),
	}
}

// StampFromSeed maps a seed string onto a stable RFC 3339 timestamp.
// The value carries no wall-clock meaning; it only has to be equal
// across reruns of the same seed.
func stampFromSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	sec := int64(binary.BigEndian.Uint32(sum[:4]))
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}

type edge struct {
	child string // lower-cased
	name  string // as recorded
	scope string
}

// Analyze computes the reachability record for one finding's target
// package over the given edges.
func (e *Engine) Analyze(ctx context.Context, findingID, pkg, version string, edges []argonaut.DependencyEdge) (argonaut.Reachability, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "reach/Engine.Analyze",
		"package", pkg)

	ids := make([]string, len(edges))
	for i, d := range edges {
		ids[i] = d.DependencyID
	}
	inputsHash, err := canonjson.InputsHash(ids)
	if err != nil {
		return argonaut.Reachability{}, err
	}

	rec := argonaut.Reachability{
		FindingID:       findingID,
		Package:         pkg,
		Version:         version,
		InputsHash:      inputsHash,
		Method:          Method,
		AnalysisVersion: e.version,
		ComputedAt:      e.computedAt,
	}

	switch {
	case pkg == "":
		rec.Status = argonaut.StatusInsufficientData
		rec.Reason = "finding has no target package"
	case len(edges) == 0:
		rec.Status = argonaut.StatusInsufficientData
		rec.Reason = "no dependency edges available"
	default:
		path, scopes := shortestPath(edges, strings.ToLower(pkg))
		if path == nil {
			rec.Status = argonaut.StatusInsufficientData
			rec.Reason = "no path from application root to target package"
		} else {
			rec.Reachable = true
			rec.Status = argonaut.StatusReachable
			rec.Reason = "target package reached from application root"
			rec.EvidencePath = path
			rec.ConfidenceScore = confidence(len(path)-1, scopes, version)
		}
	}

	rec.ReachabilityID, err = canonjson.ReachabilityID(findingID, pkg, version, inputsHash, e.version)
	if err != nil {
		return argonaut.Reachability{}, err
	}
	zlog.Debug(ctx).
		Bool("reachable", rec.Reachable).
		Str("status", rec.Status).
		Msg("reachability computed")
	return rec, nil
}

// ShortestPath runs a BFS from the application root. Ties between
// equal-length paths break on lexicographic order of child names,
// enforced by expanding each node's children in sorted order.
func shortestPath(edges []argonaut.DependencyEdge, target string) (path []string, scopes []string) {
	adj := make(map[string][]edge)
	for _, d := range edges {
		p := strings.ToLower(d.Parent)
		adj[p] = append(adj[p], edge{
			child: strings.ToLower(d.Child),
			name:  d.Child,
			scope: d.Scope,
		})
	}
	for p := range adj {
		children := adj[p]
		sort.Slice(children, func(i, j int) bool {
			if children[i].child != children[j].child {
				return children[i].child < children[j].child
			}
			return children[i].scope < children[j].scope
		})
		adj[p] = children
	}

	root := strings.ToLower(argonaut.RootPackage)
	type hop struct {
		node  string
		name  string
		scope string
		prev  *hop
	}
	start := &hop{node: root, name: argonaut.RootPackage}
	if start.node == target {
		return []string{argonaut.RootPackage}, nil
	}
	visited := map[string]struct{}{root: {}}
	queue := []*hop{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range adj[cur.node] {
			if _, seen := visited[e.child]; seen {
				continue
			}
			visited[e.child] = struct{}{}
			next := &hop{node: e.child, name: e.name, scope: e.scope, prev: cur}
			if e.child == target {
				for h := next; h != nil; h = h.prev {
					path = append([]string{h.name}, path...)
					if h.scope != "" {
						scopes = append(scopes, h.scope)
					}
				}
				return path, scopes
			}
			queue = append(queue, next)
		}
	}
	return nil, nil
}

// Confidence derives a score in [0, 1] from path depth and edge scopes.
// Direct runtime dependencies of the root score highest; every extra
// hop, non-runtime scope, and prerelease version costs confidence.
func confidence(depth int, scopes []string, version string) float64 {
	score := 0.95
	if depth > 1 {
		score -= 0.05 * float64(depth-1)
	}
	for _, s := range scopes {
		if s != argonaut.ScopeRuntime && s != "" {
			score -= 0.15
			break
		}
	}
	if v, err := semver.NewVersion(version); err == nil && v.Prerelease() != "" {
		score -= 0.10
	}
	if score < 0.10 {
		score = 0.10
	}
	return score
}
