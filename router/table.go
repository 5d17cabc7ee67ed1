// Package router holds the page route table and the navigation controller
// that binds it to the browser history.
package router

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPath   = errors.New("route path must start with /")
	ErrEmptyName     = errors.New("route name is empty")
	ErrNoView        = errors.New("route has no view")
	ErrDuplicatePath = errors.New("duplicate route path")
	ErrDuplicateName = errors.New("duplicate route name")
	ErrNoRoute       = errors.New("no route matches path")
)

// Route binds a URL path to a symbolic name and the view rendered for it.
type Route struct {
	Path string `json:"path"`
	Name string `json:"name"`
	View string `json:"view"`
}

// View identifiers of the pages shipped with the application.
const (
	HomeView       = "HomeView"
	ImportView     = "FeedbackImportView"
	AnalysisView   = "AnalysisReportView"
	ManagementView = "ProblemManagementView"
)

// Table is an ordered, read-only list of routes. Build it with NewTable.
type Table struct {
	routes []Route
	byPath map[string]int
	byName map[string]int
}

// DefaultTable returns the application's pages in navigation order.
func DefaultTable() *Table {
	t, err := NewTable(
		Route{Path: "/", Name: "home", View: HomeView},
		Route{Path: "/import", Name: "import", View: ImportView},
		Route{Path: "/analysis", Name: "analysis", View: AnalysisView},
		Route{Path: "/management", Name: "management", View: ManagementView},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable validates routes and returns them as a Table. Paths and names
// must each be unique.
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{
		routes: make([]Route, 0, len(routes)),
		byPath: make(map[string]int, len(routes)),
		byName: make(map[string]int, len(routes)),
	}
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, r.Path)
		}
		if r.Name == "" {
			return nil, fmt.Errorf("%w: path %q", ErrEmptyName, r.Path)
		}
		if r.View == "" {
			return nil, fmt.Errorf("%w: %q", ErrNoView, r.Name)
		}
		if _, ok := t.byPath[r.Path]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicatePath, r.Path)
		}
		if _, ok := t.byName[r.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, r.Name)
		}
		t.byPath[r.Path] = len(t.routes)
		t.byName[r.Name] = len(t.routes)
		t.routes = append(t.routes, r)
	}
	return t, nil
}

// Routes returns a copy of the routes in insertion order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Match returns the route whose path equals path exactly.
func (t *Table) Match(path string) (Route, error) {
	i, ok := t.byPath[path]
	if !ok {
		return Route{}, fmt.Errorf("%w: %q", ErrNoRoute, path)
	}
	return t.routes[i], nil
}

// ByName returns the route registered under name.
func (t *Table) ByName(name string) (Route, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// PathFor returns the path of the named route, for building links.
func (t *Table) PathFor(name string) string {
	if r, ok := t.ByName(name); ok {
		return r.Path
	}
	return ""
}
