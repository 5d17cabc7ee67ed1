package router

import (
	"sync"
)

// Listener is called after the current route changes.
type Listener func(from, to Route)

// Router tracks the current route and the navigation history for a Table.
// Events are applied one at a time; readers may call from any goroutine.
type Router struct {
	table *Table

	mu        sync.Mutex
	history   []Route
	pos       int
	listeners []Listener
}

// New returns a Router over table with no current route.
func New(table *Table) *Router {
	return &Router{table: table, pos: -1}
}

// Table returns the route table the router was built with.
func (r *Router) Table() *Table {
	return r.table
}

// Navigate moves to path and pushes a history entry, discarding any
// forward entries. Unknown paths return ErrNoRoute and change nothing.
func (r *Router) Navigate(path string) (Route, error) {
	to, err := r.table.Match(path)
	if err != nil {
		return Route{}, err
	}
	r.mu.Lock()
	from, _ := r.currentLocked()
	r.history = append(r.history[:r.pos+1], to)
	r.pos = len(r.history) - 1
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, from, to)
	return to, nil
}

// Replace moves to path overwriting the current history entry. It is used
// for the initial load, where there is nothing to go back to.
func (r *Router) Replace(path string) (Route, error) {
	to, err := r.table.Match(path)
	if err != nil {
		return Route{}, err
	}
	r.mu.Lock()
	from, _ := r.currentLocked()
	if r.pos < 0 {
		r.history = append(r.history[:0], to)
		r.pos = 0
	} else {
		r.history[r.pos] = to
	}
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, from, to)
	return to, nil
}

// Back steps one entry back in history. It reports false at the start.
func (r *Router) Back() (Route, bool) {
	return r.step(-1)
}

// Forward steps one entry forward in history. It reports false at the end.
func (r *Router) Forward() (Route, bool) {
	return r.step(1)
}

func (r *Router) step(delta int) (Route, bool) {
	r.mu.Lock()
	next := r.pos + delta
	if r.pos < 0 || next < 0 || next >= len(r.history) {
		r.mu.Unlock()
		return Route{}, false
	}
	from := r.history[r.pos]
	r.pos = next
	to := r.history[r.pos]
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, from, to)
	return to, true
}

// Peek returns the history entry delta steps from the current one without
// moving. It reports false when there is no such entry.
func (r *Router) Peek(delta int) (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.pos + delta
	if r.pos < 0 || i < 0 || i >= len(r.history) {
		return Route{}, false
	}
	return r.history[i], true
}

// Current returns the current route, if any navigation happened yet.
func (r *Router) Current() (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

func (r *Router) currentLocked() (Route, bool) {
	if r.pos < 0 {
		return Route{}, false
	}
	return r.history[r.pos], true
}

// Listen registers fn for route changes.
func (r *Router) Listen(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func notify(listeners []Listener, from, to Route) {
	for _, fn := range listeners {
		fn(from, to)
	}
}
