package ingest

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
)

func TestParseManifest(t *testing.T) {
	t.Parallel()
	tt := []struct {
		Name string
		In   string
		Want error
	}{
		{
			Name: "OK",
			In:   `{"manifestVersion":"1.0","bundleId":"x","repo":"r","buildId":"b","createdAt":"t","artifacts":[]}`,
		},
		{
			Name: "Malformed",
			In:   `{"manifestVersion":`,
			Want: argonaut.ErrMalformedJSON,
		},
		{
			Name: "UnsupportedVersion",
			In:   `{"manifestVersion":"2.0"}`,
			Want: argonaut.ErrUnsupportedVersion,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tc.In))
			if tc.Want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.Want) {
				t.Errorf("got %v, want %v", err, tc.Want)
			}
		})
	}
}

func TestBuildManifestSortedBySHA(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dir := writeBundle(t, map[string][]byte{
		"b.sarif":   []byte(`bbbb`),
		"a.sarif":   []byte(`aaaa`),
		"yarn.lock": []byte(`# yarn`),
	})
	b, err := Load(ctx, dir, "acme/app", "b-100")
	if err != nil {
		t.Fatal(err)
	}
	m, err := BuildManifest(b, "r-1", "bundles", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if !sort.SliceIsSorted(m.Artifacts, func(i, j int) bool {
		return m.Artifacts[i].SHA256 < m.Artifacts[j].SHA256
	}) {
		t.Error("artifacts not sorted by sha256")
	}
	for _, a := range m.Artifacts {
		want := ObjectKey("bundles", b.BundleID, a.Filename)
		if a.ObjectKey != want {
			t.Errorf("object key: got %q, want %q", a.ObjectKey, want)
		}
	}
}

func TestEncodeManifestStable(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dir := writeBundle(t, map[string][]byte{"a.sarif": []byte(`aaaa`)})
	b, err := Load(ctx, dir, "acme/app", "b-100")
	if err != nil {
		t.Fatal(err)
	}
	m, err := BuildManifest(b, "r-1", "bundles", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	first, err := EncodeManifest(m)
	if err != nil {
		t.Fatal(err)
	}
	if first[len(first)-1] != '\n' {
		t.Error("missing trailing newline")
	}
	for i := 0; i < 8; i++ {
		again, err := EncodeManifest(m)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("serialization unstable")
		}
	}
	// Round-trip back through the parser.
	back, err := ParseManifest(first)
	if err != nil {
		t.Fatal(err)
	}
	if back.BundleID != b.BundleID {
		t.Errorf("bundle ID: got %q, want %q", back.BundleID, b.BundleID)
	}
}
