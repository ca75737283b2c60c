package canonjson

import "sort"

// Typed ID helpers. Each takes the defining fields of an entity and
// hashes their canonical JSON. Changing any list here is a contract
// break: every stored document of that entity re-keys.

// FindingID identifies a finding by {repo, buildId, fingerprint}.
func FindingID(repo, buildID, fingerprint string) (string, error) {
	return Sum(map[string]any{
		"repo":        repo,
		"buildId":     buildID,
		"fingerprint": fingerprint,
	})
}

// Fingerprint derives a finding fingerprint from rule, location, and
// package. CreatedAt must never participate.
func Fingerprint(ruleID, filePath string, lineNumber *int, pkg, version string) (string, error) {
	return Sum(map[string]any{
		"ruleId":     ruleID,
		"filePath":   filePath,
		"lineNumber": lineNumber,
		"package":    pkg,
		"version":    version,
	})
}

// DependencyID identifies a dependency edge by {repo, buildId, parent,
// child, version, scope}.
func DependencyID(repo, buildID, parent, child string, version *string, scope string) (string, error) {
	return Sum(map[string]any{
		"repo":    repo,
		"buildId": buildID,
		"parent":  parent,
		"child":   child,
		"version": version,
		"scope":   scope,
	})
}

// ComponentID identifies an SBOM component. A purl wins over
// name+version as the discriminator.
func ComponentID(repo, buildID, purl, name, version string) (string, error) {
	id := map[string]any{
		"repo":    repo,
		"buildId": buildID,
	}
	if purl != "" {
		id["purl"] = purl
	} else {
		id["name"] = name
		id["version"] = version
	}
	return Sum(id)
}

// ReachabilityID identifies a reachability record by the finding it
// covers and the analysis inputs, including the analysis version.
// inputsHash is [InputsHash] over the dependency IDs the engine walked.
func ReachabilityID(findingID, pkg, version, inputsHash, analysisVersion string) (string, error) {
	return Sum(map[string]any{
		"findingId":       findingID,
		"package":         pkg,
		"version":         version,
		"inputsHash":      inputsHash,
		"analysisVersion": analysisVersion,
	})
}

// InputsHash summarizes the dependency edges fed to the reachability
// engine. The IDs are sorted before hashing so edge order is
// irrelevant.
func InputsHash(dependencyIDs []string) (string, error) {
	sorted := make([]string, len(dependencyIDs))
	copy(sorted, dependencyIDs)
	sort.Strings(sorted)
	return Sum(sorted)
}

// ArtifactID identifies a bundle file by {repo, buildId, runId,
// filename, checksum}.
func ArtifactID(repo, buildID, runID, filename, checksum string) (string, error) {
	return Sum(map[string]any{
		"repo":     repo,
		"buildId":  buildID,
		"runId":    runID,
		"filename": filename,
		"checksum": checksum,
	})
}

// BundleRunID identifies a bundle run record appended to the artifacts
// index at acquire start and end.
func BundleRunID(repo, buildID, runID, status string) (string, error) {
	return Sum(map[string]any{
		"repo":    repo,
		"buildId": buildID,
		"runId":   runID,
		"kind":    "bundle_run",
		"status":  status,
	})
}

// TaskID identifies a task-log document by {runId, stage, taskKey}.
func TaskID(runID, stage, taskKey string) (string, error) {
	return Sum(map[string]any{
		"runId":   runID,
		"stage":   stage,
		"taskKey": taskKey,
	})
}
