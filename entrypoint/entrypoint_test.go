package entrypoint

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"a.m", "a", ""}
	for _, s := range cases {
		ep, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := ep.String(); got != s {
			t.Errorf("Parse(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestEqual(t *testing.T) {
	a := New("svc", "m")
	b := New("svc", "m")
	if !a.Equal(b) {
		t.Fatal("expected equal entry points")
	}
	if New("svc", "m").Equal(New("svc", "n")) {
		t.Fatal("expected different methods to be unequal")
	}
	if Null().Equal(Null()) {
		t.Fatal("Null must never equal anything, including itself")
	}
}

func TestRoutingKeyForbiddenOnNull(t *testing.T) {
	if _, err := Null().RoutingKey(); err == nil {
		t.Fatal("expected error computing routing key of Null entry point")
	}
	rk, err := New("svc", "m").RoutingKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rk != "svc.m" {
		t.Errorf("RoutingKey() = %q, want svc.m", rk)
	}
}

func TestServiceOnly(t *testing.T) {
	ep := Service("svc")
	if ep.Method() != "" {
		t.Errorf("expected empty method, got %q", ep.Method())
	}
	if ep.String() != "svc" {
		t.Errorf("String() = %q, want svc", ep.String())
	}
}

func TestSourceDestinationTagging(t *testing.T) {
	src, err := ParseSource("a.m")
	if err != nil {
		t.Fatal(err)
	}
	if !src.IsSource() {
		t.Error("expected IsSource true")
	}
	dst, err := ParseDestination("b.n")
	if err != nil {
		t.Fatal(err)
	}
	if !dst.IsDestination() {
		t.Error("expected IsDestination true")
	}
}
