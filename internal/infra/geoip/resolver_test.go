package geoip

import (
	"errors"
	"testing"
)

type fakeResolver struct {
	got  string
	code string
	err  error
}

func (f *fakeResolver) CountryCode(ip string) (string, error) {
	f.got = ip
	return f.code, f.err
}

func TestCountryOfStripsPort(t *testing.T) {
	r := &fakeResolver{code: "MX"}
	if got := CountryOf(r, "203.0.113.7:51234"); got != "MX" {
		t.Fatalf("CountryOf = %q, want MX", got)
	}
	if r.got != "203.0.113.7" {
		t.Fatalf("resolver saw %q, want bare ip", r.got)
	}
}

func TestCountryOfTolerantOfFailures(t *testing.T) {
	if got := CountryOf(nil, "203.0.113.7:1"); got != "" {
		t.Fatalf("nil resolver returned %q", got)
	}
	if got := CountryOf(&fakeResolver{err: errors.New("boom")}, "203.0.113.7"); got != "" {
		t.Fatalf("failing resolver returned %q", got)
	}
}

func TestNewResolverEmptyPath(t *testing.T) {
	r, err := NewResolver(" ")
	if err != nil || r != nil {
		t.Fatalf("NewResolver(\"\") = (%v, %v), want (nil, nil)", r, err)
	}
}
