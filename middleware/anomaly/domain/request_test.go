package domain

import "testing"

func TestResolveClientKey(t *testing.T) {
	cases := []struct {
		name   string
		xff    string
		remote string
		trust  bool
		want   ClientKey
	}{
		{name: "xff first entry", xff: "1.2.3.4, 5.6.7.8", remote: "10.0.0.9:5555", trust: true, want: "1.2.3.4"},
		{name: "xff ignored when untrusted", xff: "1.2.3.4", remote: "10.0.0.9:5555", trust: false, want: "10.0.0.9"},
		{name: "blank xff entry falls back", xff: " ,5.6.7.8", remote: "10.0.0.9:5555", trust: true, want: "10.0.0.9"},
		{name: "remote without port", remote: "10.0.0.9", want: "10.0.0.9"},
		{name: "ipv6 remote", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "nothing resolves", want: LoopbackKey},
	}

	for _, tc := range cases {
		if got := ResolveClientKey(tc.xff, tc.remote, tc.trust); got != tc.want {
			t.Fatalf("%s: ResolveClientKey(%q, %q, %v)=%q want=%q", tc.name, tc.xff, tc.remote, tc.trust, got, tc.want)
		}
	}
}

func TestPeerPort(t *testing.T) {
	cases := map[string]int{
		"10.0.0.1:1234":  1234,
		"[::1]:8080":     8080,
		"10.0.0.1":       0,
		"10.0.0.1:http":  0,
		"10.0.0.1:70000": 0,
		"":               0,
	}
	for in, want := range cases {
		if got := PeerPort(in); got != want {
			t.Fatalf("PeerPort(%q)=%d want=%d", in, got, want)
		}
	}
}

func TestRequestMetaHeaderValueWithoutLookup(t *testing.T) {
	var m RequestMeta
	if got := m.HeaderValue("X-Attack-Type"); got != "" {
		t.Fatalf("expected empty header value, got %q", got)
	}

	m.Header = func(name string) string { return "v:" + name }
	if got := m.HeaderValue("X-A"); got != "v:X-A" {
		t.Fatalf("unexpected header value %q", got)
	}
}
