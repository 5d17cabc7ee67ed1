//go:build js && wasm
// +build js,wasm

package main

import (
	"github.com/drummonds/feedbackd/router"
	"github.com/drummonds/feedbackd/webapp"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

func main() {
	// Register routes for the client-side app from the shared route table
	r := router.New(router.DefaultTable())
	if err := webapp.Mount(r); err != nil {
		app.Logf("unable to mount routes: %v", err)
		return
	}

	// This main function is for the WASM build only
	// It initializes the go-app when running in the browser
	app.RunWhenOnBrowser()
}
