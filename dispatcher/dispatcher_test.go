package dispatcher

import (
	"testing"

	"github.com/miladsoleymani/tavrida/apperror"
	"github.com/miladsoleymani/tavrida/envelope"
)

func TestRegisterAndResolve(t *testing.T) {
	d := New()
	if err := d.Register("create", envelope.KindRequest, "HandleCreate", ArgSpec{Required: []string{"name"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	id, spec, err := d.HandlerFor("create", envelope.KindRequest)
	if err != nil {
		t.Fatalf("HandlerFor: %v", err)
	}
	if id != "HandleCreate" {
		t.Errorf("id = %q, want HandleCreate", id)
	}
	if len(spec.Required) != 1 || spec.Required[0] != "name" {
		t.Errorf("spec = %+v", spec)
	}
}

func TestDuplicatedEntryPointRegistration(t *testing.T) {
	d := New()
	if err := d.Register("create", envelope.KindRequest, "A", ArgSpec{}); err != nil {
		t.Fatal(err)
	}
	err := d.Register("create", envelope.KindRequest, "B", ArgSpec{})
	if _, ok := err.(*apperror.DuplicatedEntryPointRegistration); !ok {
		t.Fatalf("got %T, want DuplicatedEntryPointRegistration", err)
	}
}

func TestDuplicatedMethodRegistration(t *testing.T) {
	d := New()
	if err := d.Register("create", envelope.KindRequest, "A", ArgSpec{}); err != nil {
		t.Fatal(err)
	}
	err := d.Register("update", envelope.KindRequest, "A", ArgSpec{})
	if _, ok := err.(*apperror.DuplicatedMethodRegistration); !ok {
		t.Fatalf("got %T, want DuplicatedMethodRegistration", err)
	}
}

func TestHandlerNotFound(t *testing.T) {
	d := New()
	_, _, err := d.HandlerFor("missing", envelope.KindRequest)
	if _, ok := err.(*apperror.HandlerNotFound); !ok {
		t.Fatalf("got %T, want HandlerNotFound", err)
	}
}

func TestArgSpecFilter(t *testing.T) {
	spec := ArgSpec{Required: []string{"id"}, Optional: []string{"note"}}
	out, err := spec.Filter(map[string]any{"id": 1, "note": "x", "extra": true})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if _, ok := out["extra"]; ok {
		t.Error("unexpected field survived filtering")
	}
	if out["id"] != 1 || out["note"] != "x" {
		t.Errorf("out = %v", out)
	}

	if _, err := spec.Filter(map[string]any{}); err == nil {
		t.Fatal("expected error for missing required field")
	}
}
