// Package lockfile parses npm package-lock.json and yarn.lock files
// into dependency edges.
//
// The virtual parent "__root__" carries direct dependencies; edges are
// keyed by (parent, child, version, scope) and versions are null only
// for unresolved entries.
package lockfile

import (
	"bufio"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// Options parameterize a parse.
type Options struct {
	Repo    string
	BuildID string
	RunID   string
}

// Parse dispatches on the lockfile format: JSON bytes are treated as a
// package-lock.json, anything else as a yarn.lock.
func Parse(ctx context.Context, name string, data []byte, opts Options) ([]argonaut.DependencyEdge, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "ingest/lockfile/Parse",
		"file", name)
	if strings.HasSuffix(strings.ToLower(name), ".json") {
		return parsePackageLock(ctx, data, opts)
	}
	return parseYarnLock(ctx, data, opts)
}

type packageLock struct {
	LockfileVersion int                       `json:"lockfileVersion"`
	Packages        map[string]packageLockPkg `json:"packages"`
	Dependencies    map[string]packageLockDep `json:"dependencies"`
}

type packageLockPkg struct {
	Version      string            `json:"version"`
	Dev          bool              `json:"dev"`
	Optional     bool              `json:"optional"`
	Dependencies map[string]string `json:"dependencies"`
}

type packageLockDep struct {
	Version      string                    `json:"version"`
	Dev          bool                      `json:"dev"`
	Optional     bool                      `json:"optional"`
	Requires     map[string]string         `json:"requires"`
	Dependencies map[string]packageLockDep `json:"dependencies"`
}

func parsePackageLock(ctx context.Context, data []byte, opts Options) ([]argonaut.DependencyEdge, error) {
	var doc packageLock
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &argonaut.Error{
			Op:      "lockfile.Parse",
			Kind:    argonaut.ErrMalformedJSON,
			Message: "package-lock.json is not valid JSON",
			Inner:   err,
		}
	}

	b := newEdgeBuilder(opts)
	switch {
	case len(doc.Packages) > 0:
		// Lockfile v2/v3: the "" entry is the root package.
		versions := make(map[string]string, len(doc.Packages))
		for path, pkg := range doc.Packages {
			versions[pkgName(path)] = pkg.Version
		}
		for _, path := range sortedKeys(doc.Packages) {
			pkg := doc.Packages[path]
			parent := argonaut.RootPackage
			if path != "" {
				parent = pkgName(path)
			}
			for _, child := range sortedKeys(pkg.Dependencies) {
				scope := argonaut.ScopeRuntime
				switch {
				case pkg.Dev:
					scope = argonaut.ScopeDev
				case pkg.Optional:
					scope = argonaut.ScopeOptional
				}
				b.add(parent, child, versionOf(versions[child]), scope)
			}
		}
	case len(doc.Dependencies) > 0:
		// Lockfile v1: nested dependency tree.
		for _, name := range sortedKeys(doc.Dependencies) {
			dep := doc.Dependencies[name]
			b.add(argonaut.RootPackage, name, versionOf(dep.Version), scopeOf(dep))
			walkV1(b, name, dep)
		}
	default:
		zlog.Debug(ctx).Msg("lockfile has no dependencies")
	}
	return b.finish()
}

func walkV1(b *edgeBuilder, parent string, dep packageLockDep) {
	for _, name := range sortedKeys(dep.Requires) {
		b.add(parent, name, nil, scopeOf(dep))
	}
	for _, name := range sortedKeys(dep.Dependencies) {
		child := dep.Dependencies[name]
		b.add(parent, name, versionOf(child.Version), scopeOf(child))
		walkV1(b, name, child)
	}
}

func scopeOf(dep packageLockDep) string {
	switch {
	case dep.Dev:
		return argonaut.ScopeDev
	case dep.Optional:
		return argonaut.ScopeOptional
	}
	return argonaut.ScopeRuntime
}

// PkgName strips the node_modules path prefix from a v2 package key.
func pkgName(path string) string {
	if i := strings.LastIndex(path, "node_modules/"); i >= 0 {
		return path[i+len("node_modules/"):]
	}
	return path
}

// VersionOf returns nil for unresolved entries and flags versions that
// do not parse as semver; the edge keeps the raw string either way.
func versionOf(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// ParseYarnLock handles the classic yarn.lock format:
//
//	name@range, name@range2:
//	  version "1.2.3"
//	  dependencies:
//	    child "^2.0.0"
func parseYarnLock(ctx context.Context, data []byte, opts Options) ([]argonaut.DependencyEdge, error) {
	b := newEdgeBuilder(opts)
	versions := make(map[string]string)
	type entry struct {
		name     string
		version  string
		children []string
	}
	var entries []entry
	var cur *entry
	inDeps := false

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case !strings.HasPrefix(line, " "):
			// New entry header: `name@range, name@range:`.
			if cur != nil {
				entries = append(entries, *cur)
			}
			header := strings.TrimSuffix(strings.TrimSpace(line), ":")
			first := strings.Split(header, ",")[0]
			first = strings.Trim(strings.TrimSpace(first), `"`)
			cur = &entry{name: yarnName(first)}
			inDeps = false
		case cur == nil:
			continue
		case strings.HasPrefix(strings.TrimSpace(line), "version "):
			v := strings.TrimPrefix(strings.TrimSpace(line), "version ")
			cur.version = strings.Trim(v, `"`)
			versions[cur.name] = cur.version
			inDeps = false
		case strings.TrimSpace(line) == "dependencies:":
			inDeps = true
		case inDeps && strings.HasPrefix(line, "    "):
			fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
			if len(fields) > 0 && fields[0] != "" {
				cur.children = append(cur.children, strings.Trim(fields[0], `"`))
			}
		default:
			inDeps = false
		}
	}
	if cur != nil {
		entries = append(entries, *cur)
	}
	if err := sc.Err(); err != nil {
		return nil, &argonaut.Error{
			Op:      "lockfile.Parse",
			Kind:    argonaut.ErrInvalidField,
			Message: "yarn.lock scan failed",
			Inner:   err,
		}
	}

	// Yarn.lock flattens the graph; every entry hangs off the root and
	// declared sub-dependencies become package→package edges.
	for _, e := range entries {
		b.add(argonaut.RootPackage, e.name, versionOf(e.version), argonaut.ScopeRuntime)
		for _, child := range e.children {
			b.add(e.name, child, versionOf(versions[child]), argonaut.ScopeRuntime)
		}
	}
	zlog.Debug(ctx).Int("entries", len(entries)).Msg("parsed yarn.lock")
	return b.finish()
}

// YarnName strips the version range from `name@range`, handling the
// `@scope/name@range` form.
func yarnName(spec string) string {
	if i := strings.LastIndex(spec, "@"); i > 0 {
		return spec[:i]
	}
	return spec
}

// EdgeBuilder dedups edges by identity and keeps emission order
// deterministic.
type edgeBuilder struct {
	opts  Options
	seen  map[string]struct{}
	edges []argonaut.DependencyEdge
	err   error
}

func newEdgeBuilder(opts Options) *edgeBuilder {
	return &edgeBuilder{opts: opts, seen: make(map[string]struct{})}
}

func (b *edgeBuilder) add(parent, child string, version *string, scope string) {
	if b.err != nil {
		return
	}
	id, err := canonjson.DependencyID(b.opts.Repo, b.opts.BuildID, parent, child, version, scope)
	if err != nil {
		b.err = err
		return
	}
	if _, dup := b.seen[id]; dup {
		return
	}
	b.seen[id] = struct{}{}
	b.edges = append(b.edges, argonaut.DependencyEdge{
		Repo:         b.opts.Repo,
		BuildID:      b.opts.BuildID,
		RunID:        b.opts.RunID,
		Parent:       parent,
		Child:        child,
		Version:      version,
		Scope:        scope,
		DependencyID: id,
	})
}

func (b *edgeBuilder) finish() ([]argonaut.DependencyEdge, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.edges == nil {
		return []argonaut.DependencyEdge{}, nil
	}
	return b.edges, nil
}

// Prerelease reports whether a resolved version is a semver prerelease;
// the reachability engine discounts confidence for those.
func Prerelease(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return v.Prerelease() != ""
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
