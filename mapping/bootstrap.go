package mapping

import (
	"context"
	"fmt"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
	"github.com/argus-sec/argonaut/datastore"
)

// Bootstrapper is the slice of a store client that bootstrap needs.
// Implemented by es.Client.
type Bootstrapper interface {
	// IndexMappings returns the live mappings section for an index, or
	// (nil, nil) when the index does not exist.
	IndexMappings(ctx context.Context, index datastore.Index) (map[string]any, error)
	// CreateIndex creates an index with the given body.
	CreateIndex(ctx context.Context, index datastore.Index, body map[string]any) error
}

// Bootstrap creates every missing index and verifies every existing one
// against its frozen contract by canonical JSON comparison. Divergence
// is a MAPPING_DRIFT error; no migration is ever attempted.
func Bootstrap(ctx context.Context, client Bootstrapper) error {
	ctx = zlog.ContextWithValues(ctx, "component", "mapping/Bootstrap")
	for _, idx := range datastore.Indexes() {
		c, err := Get(idx)
		if err != nil {
			return err
		}
		live, err := client.IndexMappings(ctx, idx)
		if err != nil {
			return fmt.Errorf("mapping: inspect %q: %w", idx, err)
		}
		if live == nil {
			if err := client.CreateIndex(ctx, idx, c.Body()); err != nil {
				return fmt.Errorf("mapping: create %q: %w", idx, err)
			}
			zlog.Info(ctx).Str("index", string(idx)).Msg("created index")
			continue
		}
		wantJSON, err := canonjson.Marshal(c.Mappings())
		if err != nil {
			return err
		}
		gotJSON, err := canonjson.Marshal(live)
		if err != nil {
			return err
		}
		if string(wantJSON) != string(gotJSON) {
			return &argonaut.Error{
				Op:      "mapping.Bootstrap",
				Kind:    argonaut.ErrMappingDrift,
				Message: fmt.Sprintf("index %q diverges from the frozen contract", idx),
			}
		}
		zlog.Debug(ctx).Str("index", string(idx)).Msg("mapping verified")
	}
	return nil
}
