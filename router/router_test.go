package router

import (
	"errors"
	"testing"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	want := []Route{
		{Path: "/", Name: "home", View: HomeView},
		{Path: "/import", Name: "import", View: ImportView},
		{Path: "/analysis", Name: "analysis", View: AnalysisView},
		{Path: "/management", Name: "management", View: ManagementView},
	}
	got := table.Routes()
	if len(got) != len(want) {
		t.Fatalf("Expected %d routes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Route %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}

	// Order must hold on every read and copies must not leak back.
	got[0].Name = "changed"
	again := table.Routes()
	if again[0].Name != "home" {
		t.Errorf("Routes returned shared storage, got %q", again[0].Name)
	}
}

func TestTableUniqueness(t *testing.T) {
	paths := map[string]bool{}
	names := map[string]bool{}
	for _, r := range DefaultTable().Routes() {
		if paths[r.Path] {
			t.Errorf("Duplicate path %s", r.Path)
		}
		if names[r.Name] {
			t.Errorf("Duplicate name %s", r.Name)
		}
		paths[r.Path] = true
		names[r.Name] = true
	}
}

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name   string
		routes []Route
		want   error
	}{
		{"missing slash", []Route{{Path: "home", Name: "home", View: "v"}}, ErrInvalidPath},
		{"empty name", []Route{{Path: "/", View: "v"}}, ErrEmptyName},
		{"no view", []Route{{Path: "/", Name: "home"}}, ErrNoView},
		{"duplicate path", []Route{
			{Path: "/", Name: "a", View: "v"},
			{Path: "/", Name: "b", View: "v"},
		}, ErrDuplicatePath},
		{"duplicate name", []Route{
			{Path: "/a", Name: "a", View: "v"},
			{Path: "/b", Name: "a", View: "v"},
		}, ErrDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.routes...)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMatch(t *testing.T) {
	table := DefaultTable()
	for _, r := range table.Routes() {
		got, err := table.Match(r.Path)
		if err != nil {
			t.Fatalf("Match(%s) failed: %v", r.Path, err)
		}
		if got.Name != r.Name || got.View != r.View {
			t.Errorf("Match(%s) = %+v, expected %+v", r.Path, got, r)
		}
	}

	got, err := table.Match("/analysis")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "analysis" || got.View != AnalysisView {
		t.Errorf("Unexpected route for /analysis: %+v", got)
	}

	for _, p := range []string{"/unknown", "/import/", "/Analysis", ""} {
		if _, err := table.Match(p); !errors.Is(err, ErrNoRoute) {
			t.Errorf("Match(%q): expected ErrNoRoute, got %v", p, err)
		}
	}
}

func TestByName(t *testing.T) {
	table := DefaultTable()
	if p := table.PathFor("management"); p != "/management" {
		t.Errorf("Expected /management, got %q", p)
	}
	if p := table.PathFor("missing"); p != "" {
		t.Errorf("Expected empty path, got %q", p)
	}
	if _, ok := table.ByName("import"); !ok {
		t.Error("Expected import route")
	}
}

func TestNavigateAndHistory(t *testing.T) {
	r := New(DefaultTable())
	if _, ok := r.Current(); ok {
		t.Fatal("New router should have no current route")
	}

	if _, err := r.Replace("/"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Navigate("/import"); err != nil {
		t.Fatal(err)
	}
	cur, _ := r.Current()
	if cur.Name != "import" {
		t.Fatalf("Expected import, got %s", cur.Name)
	}

	back, ok := r.Back()
	if !ok || back.Name != "home" || back.View != HomeView {
		t.Fatalf("Back: expected home, got %+v (ok=%v)", back, ok)
	}
	if _, ok := r.Back(); ok {
		t.Error("Back at start of history should report false")
	}

	fwd, ok := r.Forward()
	if !ok || fwd.Name != "import" {
		t.Fatalf("Forward: expected import, got %+v (ok=%v)", fwd, ok)
	}
	if _, ok := r.Forward(); ok {
		t.Error("Forward at end of history should report false")
	}

	// A new navigation after going back drops forward entries.
	r.Back()
	r.Navigate("/analysis")
	if _, ok := r.Forward(); ok {
		t.Error("Forward entries should be discarded")
	}
}

func TestNavigateUnknownPath(t *testing.T) {
	r := New(DefaultTable())
	r.Navigate("/management")

	_, err := r.Navigate("/unknown")
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("Expected ErrNoRoute, got %v", err)
	}
	cur, ok := r.Current()
	if !ok || cur.Name != "management" {
		t.Errorf("Current route changed after unknown path: %+v", cur)
	}
	if _, ok := r.Back(); ok {
		t.Error("Unknown path must not add a history entry")
	}
}

func TestListen(t *testing.T) {
	r := New(DefaultTable())
	var seen []string
	r.Listen(func(from, to Route) {
		seen = append(seen, from.Name+">"+to.Name)
	})
	r.Replace("/")
	r.Navigate("/analysis")
	r.Navigate("/nowhere")
	r.Back()

	want := []string{">home", "home>analysis", "analysis>home"}
	if len(seen) != len(want) {
		t.Fatalf("Expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestPeek(t *testing.T) {
	r := New(DefaultTable())
	if _, ok := r.Peek(0); ok {
		t.Error("Peek before any navigation should report false")
	}
	r.Replace("/")
	r.Navigate("/import")
	if prev, ok := r.Peek(-1); !ok || prev.Path != "/" {
		t.Errorf("Expected / before the current entry, got %+v %v", prev, ok)
	}
	if _, ok := r.Peek(1); ok {
		t.Error("Nothing should follow the newest entry")
	}
	if cur, _ := r.Current(); cur.Path != "/import" {
		t.Errorf("Peek moved the router to %s", cur.Path)
	}
}
