package discovery

import (
	"os"
	"testing"

	"github.com/miladsoleymani/tavrida/apperror"
)

func TestTableRegisterAndResolve(t *testing.T) {
	tb := New()
	tb.RegisterRemote("orders", "orders.rpc")
	tb.RegisterRemotePublisher("orders", "orders.events")
	tb.RegisterLocalPublisher("billing", "billing.events")

	if got, err := tb.Remote("orders"); err != nil || got != "orders.rpc" {
		t.Fatalf("Remote() = %q, %v", got, err)
	}
	if got, err := tb.RemotePublisher("orders"); err != nil || got != "orders.events" {
		t.Fatalf("RemotePublisher() = %q, %v", got, err)
	}
	if got, err := tb.LocalPublisher("billing"); err != nil || got != "billing.events" {
		t.Fatalf("LocalPublisher() = %q, %v", got, err)
	}
}

func TestTableUnknownServiceIsUnableToDiscover(t *testing.T) {
	tb := New()
	_, err := tb.Remote("missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*apperror.UnableToDiscover); !ok {
		t.Fatalf("got %T, want *apperror.UnableToDiscover", err)
	}
	if !apperror.IsAckable(err) {
		t.Error("UnableToDiscover should be ackable")
	}
}

func TestTableUnregister(t *testing.T) {
	tb := New()
	tb.RegisterRemote("orders", "orders.rpc")
	tb.UnregisterRemote("orders")
	if _, err := tb.Remote("orders"); err == nil {
		t.Fatal("expected error after unregister")
	}
}

func TestAllExchanges(t *testing.T) {
	tb := New()
	tb.RegisterRemote("a", "a.rpc")
	tb.RegisterRemotePublisher("b", "b.events")
	tb.RegisterLocalPublisher("c", "c.events")

	all := tb.AllExchanges()
	if len(all["remote"]) != 1 || all["remote"][0] != "a.rpc" {
		t.Errorf("remote = %v", all["remote"])
	}
	if len(all["remote_publisher"]) != 1 || all["remote_publisher"][0] != "b.events" {
		t.Errorf("remote_publisher = %v", all["remote_publisher"])
	}
	if len(all["local_publisher"]) != 1 || all["local_publisher"][0] != "c.events" {
		t.Errorf("local_publisher = %v", all["local_publisher"])
	}
}

func TestLoadINI(t *testing.T) {
	content := `
[orders]
exchange=orders.rpc
notifications=orders.events

[billing]
exchange=billing.rpc
`
	f, err := os.CreateTemp(t.TempDir(), "dsfile-*.ini")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	f.Close()

	tb, err := LoadINI(f.Name())
	if err != nil {
		t.Fatalf("LoadINI: %v", err)
	}
	if got, err := tb.Remote("orders"); err != nil || got != "orders.rpc" {
		t.Fatalf("Remote(orders) = %q, %v", got, err)
	}
	if got, err := tb.RemotePublisher("orders"); err != nil || got != "orders.events" {
		t.Fatalf("RemotePublisher(orders) = %q, %v", got, err)
	}
	if _, err := tb.RemotePublisher("billing"); err == nil {
		t.Fatal("billing has no notifications section, expected error")
	}
}

func TestLoadINIMissingFile(t *testing.T) {
	if _, err := LoadINI("/nonexistent/path/dsfile.ini"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

var _ Discovery = (*Table)(nil)
var _ Discovery = (*EtcdTable)(nil)
