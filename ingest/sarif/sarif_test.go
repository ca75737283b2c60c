package sarif

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
)

var parseOpts = Options{
	Repo:            "acme/app",
	BuildID:         "b-100",
	RunID:           "r-1",
	DefaultFilePath: "package-lock.json",
	CreatedAt:       "2026-01-01T00:00:00Z",
}

func TestParseMalformed(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	_, err := Parse(ctx, []byte(`{"version":`), parseOpts)
	if !errors.Is(err, argonaut.ErrMalformedJSON) {
		t.Errorf("got %v, want MALFORMED_JSON", err)
	}
}

func TestParseUnsupportedVersion(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	got, err := Parse(ctx, []byte(`{"version":"2.0.0","runs":[{"results":[{"ruleId":"x"}]}]}`), parseOpts)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("unsupported version must emit nothing, got %d findings", len(got))
	}
}

const sampleLog = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "semgrep"}},
    "results": [
      {
        "ruleId": "js.lodash.prototype-pollution",
        "level": "error",
        "message": {"text": "Prototype pollution in lodash, see CVE-2020-8203."},
        "locations": [{"physicalLocation": {
          "artifactLocation": {"uri": "src/merge.js"},
          "region": {"startLine": 42}
        }}],
        "properties": {"package": "lodash", "version": "4.17.15", "cve": "cve-2020-8203"}
      },
      {
        "ruleId": "generic.audit",
        "level": "warning",
        "message": {"text": "no location"}
      }
    ]
  }]
}`

func TestParseNormalization(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	got, err := Parse(ctx, []byte(sampleLog), parseOpts)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d findings, want 2", len(got))
	}

	f := got[0]
	if f.Severity != "HIGH" {
		t.Errorf("level error must map to HIGH, got %q", f.Severity)
	}
	if f.CVE != "CVE-2020-8203" {
		t.Errorf("cve not normalized uppercase: %q", f.CVE)
	}
	if !cmp.Equal(f.CVEs, []string{"CVE-2020-8203"}) {
		t.Errorf("cves: %v (text scan and property must dedup)", f.CVEs)
	}
	if f.FilePath != "src/merge.js" || f.LineNumber == nil || *f.LineNumber != 42 {
		t.Errorf("location: %q %v", f.FilePath, f.LineNumber)
	}
	if f.Tool != "semgrep" {
		t.Errorf("tool: %q", f.Tool)
	}
	if f.Fingerprint == "" || f.FindingID == "" {
		t.Error("missing fingerprint or finding ID")
	}

	g := got[1]
	if g.Severity != "MEDIUM" {
		t.Errorf("level warning must map to MEDIUM, got %q", g.Severity)
	}
	if g.FilePath != parseOpts.DefaultFilePath {
		t.Errorf("locationless result must fall back to default path, got %q", g.FilePath)
	}
	if g.LineNumber != nil {
		t.Error("line number must stay null without a region")
	}
	if len(g.CVEs) != 0 {
		t.Errorf("cves: %v", g.CVEs)
	}
}

func TestParseDeterministic(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	first, err := Parse(ctx, []byte(sampleLog), parseOpts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		again, err := Parse(ctx, []byte(sampleLog), parseOpts)
		if err != nil {
			t.Fatal(err)
		}
		if !cmp.Equal(first, again) {
			t.Fatal(cmp.Diff(first, again))
		}
	}
}

func TestCreatedAtNotInIdentity(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	a, err := Parse(ctx, []byte(sampleLog), parseOpts)
	if err != nil {
		t.Fatal(err)
	}
	shifted := parseOpts
	shifted.CreatedAt = "2026-02-02T00:00:00Z"
	b, err := Parse(ctx, []byte(sampleLog), shifted)
	if err != nil {
		t.Fatal(err)
	}
	if a[0].FindingID != b[0].FindingID || a[0].Fingerprint != b[0].Fingerprint {
		t.Error("createdAt leaked into identity")
	}
}
