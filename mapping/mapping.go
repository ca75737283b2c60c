// Package mapping holds the frozen per-index schema contracts: typed
// field trees, strictness, bootstrap against a live store, and the
// document validator used by tests and the data-plane writers.
//
// Contracts are frozen per release; _meta.version pins the revision on
// every mapping and divergence at bootstrap is an error, never a
// migration.
package mapping

import (
	"fmt"
	"strings"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
)

// FieldType is the document-store type of a leaf field.
type FieldType string

const (
	Keyword FieldType = `keyword`
	Text    FieldType = `text`
	Long    FieldType = `long`
	Double  FieldType = `double`
	Boolean FieldType = `boolean`
	Date    FieldType = `date`
	Object  FieldType = `object`
	// Flattened accepts arbitrary sub-structure; used for payloads and
	// params that are hashed, not queried.
	Flattened FieldType = `flattened`
)

// Field is one node of a mapping tree.
type Field struct {
	Type   FieldType
	Fields map[string]Field
}

// Dynamic mode of an index.
const (
	DynamicStrict = `strict`
	DynamicFalse  = `false`
)

// Settings are the fixed index settings.
type Settings struct {
	Shards   int `json:"number_of_shards"`
	Replicas int `json:"number_of_replicas"`
}

// Contract is the frozen schema of one index.
type Contract struct {
	Index    datastore.Index
	Settings Settings
	Dynamic  string
	Fields   map[string]Field
}

// Body renders the create-index request body.
func (c *Contract) Body() map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   c.Settings.Shards,
			"number_of_replicas": c.Settings.Replicas,
		},
		"mappings": c.Mappings(),
	}
}

// Mappings renders the mappings section alone, the unit compared at
// bootstrap.
func (c *Contract) Mappings() map[string]any {
	return map[string]any{
		"dynamic":        c.Dynamic,
		"date_detection": false,
		"_meta":          map[string]any{"version": argonaut.MappingVersion},
		"properties":     renderFields(c.Fields),
	}
}

func renderFields(fields map[string]Field) map[string]any {
	out := make(map[string]any, len(fields))
	for name, f := range fields {
		node := map[string]any{}
		if f.Type != "" && f.Type != Object {
			node["type"] = string(f.Type)
		}
		if len(f.Fields) > 0 {
			node["properties"] = renderFields(f.Fields)
		}
		out[name] = node
	}
	return out
}

// FieldTypeAt resolves a dotted path ("context.threat.epss") to its
// declared type.
func (c *Contract) FieldTypeAt(path string) (FieldType, bool) {
	parts := strings.Split(path, ".")
	cur := c.Fields
	for i, p := range parts {
		f, ok := cur[p]
		if !ok {
			return "", false
		}
		if i == len(parts)-1 {
			if f.Type == "" {
				return Object, true
			}
			return f.Type, true
		}
		cur = f.Fields
	}
	return "", false
}

// Get returns the contract for idx.
func Get(idx datastore.Index) (*Contract, error) {
	c, ok := contracts[idx]
	if !ok {
		return nil, fmt.Errorf("mapping: no contract for index %q", idx)
	}
	return c, nil
}

// All returns every contract keyed by index.
func All() map[datastore.Index]*Contract { return contracts }

var defaultSettings = Settings{Shards: 1, Replicas: 1}

var scoreInputFields = map[string]Field{
	"kev":             {Type: Boolean},
	"epss":            {Type: Double},
	"reachable":       {Type: Boolean},
	"internetExposed": {Type: Boolean},
	"blastRadius":     {Type: Long},
}

var explanationFields = map[string]Field{
	"explanationId":      {Type: Keyword},
	"findingId":          {Type: Keyword},
	"explanationVersion": {Type: Keyword},
	"score":              {Type: Long},
	"reasonCodes":        {Type: Keyword},
	"contributions": {Type: Object, Fields: map[string]Field{
		"factor": {Type: Keyword},
		"points": {Type: Long},
	}},
	"inputs": {Type: Object, Fields: scoreInputFields},
}

// The frozen contract set. Domain documents are strict; workflow
// documents (actions, artifacts, runs, task logs) are dynamic:false so
// ancillary fields are stored but never indexed.
var contracts = map[datastore.Index]*Contract{
	datastore.IndexFindings: {
		Index:    datastore.IndexFindings,
		Settings: defaultSettings,
		Dynamic:  DynamicStrict,
		Fields: map[string]Field{
			"findingId":   {Type: Keyword},
			"repo":        {Type: Keyword},
			"buildId":     {Type: Keyword},
			"runId":       {Type: Keyword},
			"ruleId":      {Type: Keyword},
			"severity":    {Type: Keyword},
			"cve":         {Type: Keyword},
			"cves":        {Type: Keyword},
			"package":     {Type: Keyword},
			"version":     {Type: Keyword},
			"filePath":    {Type: Keyword},
			"lineNumber":  {Type: Long},
			"tool":        {Type: Keyword},
			"fingerprint": {Type: Keyword},
			"createdAt":   {Type: Date},
			"context": {Type: Object, Fields: map[string]Field{
				"threat": {Type: Object, Fields: map[string]Field{
					"kev":    {Type: Boolean},
					"epss":   {Type: Double},
					"cve":    {Type: Keyword},
					"source": {Type: Keyword},
				}},
				"reachability": {Type: Object, Fields: map[string]Field{
					"reachable":       {Type: Boolean},
					"confidenceScore": {Type: Double},
					"method":          {Type: Keyword},
					"status":          {Type: Keyword},
					"reason":          {Type: Keyword},
					"evidencePath":    {Type: Keyword},
					"analysisVersion": {Type: Keyword},
				}},
			}},
			"priorityScore":       {Type: Long},
			"priorityExplanation": {Type: Object, Fields: explanationFields},
			"internetExposed":     {Type: Boolean},
			"blastRadius":         {Type: Long},
		},
	},
	datastore.IndexDependencies: {
		Index:    datastore.IndexDependencies,
		Settings: defaultSettings,
		Dynamic:  DynamicStrict,
		Fields: map[string]Field{
			"dependencyId": {Type: Keyword},
			"repo":         {Type: Keyword},
			"buildId":      {Type: Keyword},
			"runId":        {Type: Keyword},
			"parent":       {Type: Keyword},
			"child":        {Type: Keyword},
			"version":      {Type: Keyword},
			"scope":        {Type: Keyword},
		},
	},
	datastore.IndexSBOMComponents: {
		Index:    datastore.IndexSBOMComponents,
		Settings: defaultSettings,
		Dynamic:  DynamicStrict,
		Fields: map[string]Field{
			"componentId": {Type: Keyword},
			"repo":        {Type: Keyword},
			"buildId":     {Type: Keyword},
			"runId":       {Type: Keyword},
			"purl":        {Type: Keyword},
			"name":        {Type: Keyword},
			"version":     {Type: Keyword},
			"scope":       {Type: Keyword},
		},
	},
	datastore.IndexReachability: {
		Index:    datastore.IndexReachability,
		Settings: defaultSettings,
		Dynamic:  DynamicStrict,
		Fields: map[string]Field{
			"reachabilityId":  {Type: Keyword},
			"findingId":       {Type: Keyword},
			"runId":           {Type: Keyword},
			"package":         {Type: Keyword},
			"version":         {Type: Keyword},
			"inputsHash":      {Type: Keyword},
			"reachable":       {Type: Boolean},
			"confidenceScore": {Type: Double},
			"status":          {Type: Keyword},
			"reason":          {Type: Keyword},
			"evidencePath":    {Type: Keyword},
			"method":          {Type: Keyword},
			"analysisVersion": {Type: Keyword},
			"computedAt":      {Type: Date},
		},
	},
	datastore.IndexThreatIntel: {
		Index:    datastore.IndexThreatIntel,
		Settings: defaultSettings,
		Dynamic:  DynamicStrict,
		Fields: map[string]Field{
			"intelId": {Type: Keyword},
			"cve":     {Type: Keyword},
			"kev":     {Type: Boolean},
			"epss":    {Type: Double},
			"source":  {Type: Keyword},
		},
	},
	datastore.IndexActions: {
		Index:    datastore.IndexActions,
		Settings: defaultSettings,
		Dynamic:  DynamicFalse,
		Fields: map[string]Field{
			"actionId":        {Type: Keyword},
			"idempotencyKey":  {Type: Keyword},
			"type":            {Type: Keyword},
			"repo":            {Type: Keyword},
			"buildId":         {Type: Keyword},
			"runId":           {Type: Keyword},
			"findingId":       {Type: Keyword},
			"findingIds":      {Type: Keyword},
			"status":          {Type: Keyword},
			"payload":         {Type: Flattened},
			"payloadHash":     {Type: Keyword},
			"templateVersion": {Type: Keyword},
			"attempt":         {Type: Long},
			"dryRun":          {Type: Boolean},
			"createdAt":       {Type: Date},
		},
	},
	datastore.IndexArtifacts: {
		Index:    datastore.IndexArtifacts,
		Settings: defaultSettings,
		Dynamic:  DynamicFalse,
		Fields: map[string]Field{
			"artifactId":   {Type: Keyword},
			"repo":         {Type: Keyword},
			"buildId":      {Type: Keyword},
			"runId":        {Type: Keyword},
			"bundleId":     {Type: Keyword},
			"filename":     {Type: Keyword},
			"artifactType": {Type: Keyword},
			"tool":         {Type: Keyword},
			"checksum":     {Type: Keyword},
			"bytes":        {Type: Long},
			"kind":         {Type: Keyword},
			"status":       {Type: Keyword},
			"createdAt":    {Type: Date},
		},
	},
	datastore.IndexRuns: {
		Index:    datastore.IndexRuns,
		Settings: defaultSettings,
		Dynamic:  DynamicFalse,
		Fields: map[string]Field{
			"runId":      {Type: Keyword},
			"repo":       {Type: Keyword},
			"buildId":    {Type: Keyword},
			"bundleId":   {Type: Keyword},
			"status":     {Type: Keyword},
			"startedAt":  {Type: Date},
			"finishedAt": {Type: Date},
			"error":      {Type: Text},
		},
	},
	datastore.IndexTaskLogs: {
		Index:    datastore.IndexTaskLogs,
		Settings: defaultSettings,
		Dynamic:  DynamicFalse,
		Fields: map[string]Field{
			"taskId":    {Type: Keyword},
			"runId":     {Type: Keyword},
			"stage":     {Type: Keyword},
			"taskKey":   {Type: Keyword},
			"status":    {Type: Keyword},
			"message":   {Type: Text},
			"stack":     {Type: Text},
			"params":    {Type: Flattened},
			"timestamp": {Type: Date},
		},
	},
}
