package seed

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
)

func fp(v float64) *float64 { return &v }

func TestLoadNormalizes(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	got, err := Load(ctx, []Entry{
		{CVE: " cve-2024-2222 ", KEV: false, EPSS: fp(0.26), Source: "epss-feed"},
		{CVE: "CVE-2024-1111", KEV: true, EPSS: fp(0.91)},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []argonaut.ThreatIntel{
		{IntelID: "CVE-2024-1111", CVE: "CVE-2024-1111", KEV: true, EPSS: fp(0.91), Source: DefaultSource},
		{IntelID: "CVE-2024-2222", CVE: "CVE-2024-2222", KEV: false, EPSS: fp(0.26), Source: "epss-feed"},
	}
	if !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestLoadRejectsNonCVE(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	_, err := Load(ctx, []Entry{{CVE: "GHSA-xxxx-yyyy"}})
	if !errors.Is(err, argonaut.ErrInvalidField) {
		t.Errorf("got %v, want INVALID_FIELD", err)
	}
}

func TestLoadClampsEPSS(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	got, err := Load(ctx, []Entry{
		{CVE: "CVE-2024-1111", EPSS: fp(1.5)},
		{CVE: "CVE-2024-2222", EPSS: fp(-0.1)},
		{CVE: "CVE-2024-3333"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if *got[0].EPSS != 1 || *got[1].EPSS != 0 {
		t.Errorf("clamp: %v %v", *got[0].EPSS, *got[1].EPSS)
	}
	if got[2].EPSS != nil {
		t.Error("null EPSS must stay null")
	}
}

func TestLoadDuplicateCVELastWins(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	got, err := Load(ctx, []Entry{
		{CVE: "CVE-2024-1111", KEV: false},
		{CVE: "cve-2024-1111", KEV: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].KEV {
		t.Errorf("got %+v", got)
	}
}

func TestParse(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	got, err := Parse(ctx, []byte(`[{"cve":"CVE-2024-1111","kev":true,"epss":0.91}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].IntelID != "CVE-2024-1111" {
		t.Errorf("got %+v", got)
	}
	_, err = Parse(ctx, []byte(`[{`))
	if !errors.Is(err, argonaut.ErrMalformedJSON) {
		t.Errorf("got %v, want MALFORMED_JSON", err)
	}
}
