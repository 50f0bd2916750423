package routing

import "testing"

func TestTable_PutGet(t *testing.T) {
	tbl := NewTable()
	tbl.Put(Backend{Hostname: "mc.example", RedirectIP: "10.0.0.7", RedirectPort: 25566})

	b, ok := tbl.Get("mc.example")
	if !ok {
		t.Fatalf("expected hit")
	}
	if b.RedirectIP != "10.0.0.7" || b.RedirectPort != 25566 {
		t.Fatalf("unexpected backend: %+v", b)
	}
}

func TestTable_GetNormalizesHostname(t *testing.T) {
	tbl := NewTable()
	tbl.Put(Backend{Hostname: " MC.Example ", RedirectIP: "10.0.0.7", RedirectPort: 25566})

	if _, ok := tbl.Get("mc.example"); !ok {
		t.Fatalf("expected normalized hit")
	}
	if _, ok := tbl.Get("MC.EXAMPLE"); !ok {
		t.Fatalf("expected case-insensitive hit")
	}
}

func TestTable_GetMiss(t *testing.T) {
	tbl := NewTable()
	if _, ok := tbl.Get("unknown.example"); ok {
		t.Fatalf("expected miss on empty table")
	}
}

func TestTable_PutOverwrites(t *testing.T) {
	tbl := NewTable()
	tbl.Put(Backend{Hostname: "mc.example", RedirectIP: "10.0.0.1", RedirectPort: 1})
	tbl.Put(Backend{Hostname: "mc.example", RedirectIP: "10.0.0.2", RedirectPort: 2})

	b, ok := tbl.Get("mc.example")
	if !ok || b.RedirectIP != "10.0.0.2" || b.RedirectPort != 2 {
		t.Fatalf("expected overwrite, got %+v ok=%v", b, ok)
	}
}

func TestTable_DeleteInvalidatesRouting(t *testing.T) {
	tbl := NewTable()
	tbl.Put(Backend{Hostname: "mc.example", RedirectIP: "10.0.0.1", RedirectPort: 1})
	tbl.Delete("mc.example")

	if _, ok := tbl.Get("mc.example"); ok {
		t.Fatalf("expected miss after delete")
	}
}

func TestTable_DeleteUnknownIsNoop(t *testing.T) {
	tbl := NewTable()
	tbl.Delete("unknown.example") // must not panic
}

func TestTable_ListIsSortedByHostname(t *testing.T) {
	tbl := NewTable()
	tbl.Put(Backend{Hostname: "b", RedirectIP: "10.0.0.1", RedirectPort: 1})
	tbl.Put(Backend{Hostname: "c", RedirectIP: "10.0.0.2", RedirectPort: 2})
	tbl.Put(Backend{Hostname: "a", RedirectIP: "10.0.0.3", RedirectPort: 3})

	list := tbl.List()
	if len(list) != 3 {
		t.Fatalf("len=%d want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].Hostname != want {
			t.Fatalf("list[%d]=%q want %q (full list: %+v)", i, list[i].Hostname, want, list)
		}
	}
}

func TestBackend_AddrTunnelPrefix(t *testing.T) {
	b := Backend{Hostname: "mc.example", RedirectIP: "tunnel:survival", RedirectPort: 0}
	if got := b.Addr(); got != "tunnel:survival" {
		t.Fatalf("Addr()=%q want %q", got, "tunnel:survival")
	}
}

func TestBackend_AddrHostPort(t *testing.T) {
	b := Backend{Hostname: "mc.example", RedirectIP: "10.0.0.7", RedirectPort: 25566}
	if got := b.Addr(); got != "10.0.0.7:25566" {
		t.Fatalf("Addr()=%q want %q", got, "10.0.0.7:25566")
	}
}
