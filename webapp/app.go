package webapp

import (
	"github.com/drummonds/feedbackd/router"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// shell renders the layout shared by every page
func shell(r *router.Router, class string, body ...app.UI) app.UI {
	return app.Div().
		Class("app-container").
		Body(
			app.Header().Body(
				&NavBar{Router: r},
			),
			app.Main().Body(
				app.Div().Class("content "+class).Body(body...),
			),
		)
}

// recordNav keeps the router history in step with the browser location.
// Server side prerendering shares one router across requests, so only the
// browser records.
func recordNav(r *router.Router, ctx app.Context) {
	if r == nil || !app.IsClient {
		return
	}
	path := ctx.Page().URL().Path
	if err := syncRoute(r, path); err != nil {
		app.Logf("navigation to %q ignored: %v", path, err)
	}
}

// syncRoute moves r to path. The first load replaces, a path matching the
// entry before or after the current one is a browser back or forward step,
// anything else is a new navigation.
func syncRoute(r *router.Router, path string) error {
	current, ok := r.Current()
	if !ok {
		_, err := r.Replace(path)
		return err
	}
	if current.Path == path {
		return nil
	}
	if prev, ok := r.Peek(-1); ok && prev.Path == path {
		r.Back()
		return nil
	}
	if next, ok := r.Peek(1); ok && next.Path == path {
		r.Forward()
		return nil
	}
	_, err := r.Navigate(path)
	return err
}

var typeOptions = []struct{ Code, Label string }{
	{"technical", "Technical issue"},
	{"service", "Service attitude"},
	{"price", "Price objection"},
	{"feature", "Feature request"},
	{"other", "Other"},
}

var severityOptions = []struct{ Code, Label string }{
	{"high", "High"},
	{"medium", "Medium"},
	{"low", "Low"},
}

var statusOptions = []struct{ Code, Label string }{
	{"pending", "Pending"},
	{"processing", "Processing"},
	{"resolved", "Resolved"},
	{"closed", "Closed"},
}

func statusLabel(code string) string {
	for _, s := range statusOptions {
		if s.Code == code {
			return s.Label
		}
	}
	return code
}
