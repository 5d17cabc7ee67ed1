package webapp

import (
	"fmt"
	"net/http"

	"github.com/drummonds/feedbackd/router"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// pageFactory builds the component for a view bound to r
type pageFactory func(r *router.Router) app.Composer

var views = map[string]pageFactory{
	router.HomeView:       func(r *router.Router) app.Composer { return &HomePage{Router: r} },
	router.ImportView:     func(r *router.Router) app.Composer { return &FeedbackImportPage{Router: r} },
	router.AnalysisView:   func(r *router.Router) app.Composer { return &AnalysisReportPage{Router: r} },
	router.ManagementView: func(r *router.Router) app.Composer { return &ProblemManagementPage{Router: r} },
}

// Mount registers one go-app route per entry of the router's table. It
// fails before registering anything if a route names an unknown view.
func Mount(r *router.Router) error {
	routes := r.Table().Routes()
	for _, route := range routes {
		if _, ok := views[route.View]; !ok {
			return fmt.Errorf("route %s: %w: %s", route.Name, router.ErrNoView, route.View)
		}
	}
	for _, route := range routes {
		factory := views[route.View]
		app.Route(route.Path, func() app.Composer { return factory(r) })
	}
	r.Listen(func(from, to router.Route) {
		app.Logf("navigated from %q to %q", from.Name, to.Name)
	})
	return nil
}

// Handler returns an HTTP handler for the web app
func Handler(r *router.Router) (http.Handler, error) {
	if err := Mount(r); err != nil {
		return nil, err
	}
	// wasm_exec.js is served at /wasm_exec.js by Echo
	// app.wasm is served from /web/app.wasm by Echo
	return &app.Handler{
		Name:        "Feedback Analysis",
		ShortName:   "feedbackd",
		Description: "Customer feedback analysis and problem tracking",
		Styles: []string{
			"/webapp/webapp.css",
		},
		RawHeaders: []string{
			`<meta name="viewport" content="width=device-width, initial-scale=1">`,
		},
	}, nil
}
