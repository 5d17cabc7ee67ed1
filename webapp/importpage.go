package webapp

import (
	"fmt"
	"strings"

	"github.com/drummonds/feedbackd/router"
	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// ImportResult mirrors the response of the import endpoints
type ImportResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	BatchID string `json:"batchId"`
	Stats   struct {
		Total   int `json:"total"`
		Success int `json:"success"`
		Failed  int `json:"failed"`
	} `json:"stats"`
}

const (
	fileInputID  = "feedback-file"
	imageInputID = "feedback-image"
)

// FeedbackImportPage imports feedback from pasted text, a file or a
// screenshot
type FeedbackImportPage struct {
	app.Compo
	Router  *router.Router
	content string
	running bool
	result  *ImportResult
	error   string
}

// OnNav is called when the page is navigated to
func (p *FeedbackImportPage) OnNav(ctx app.Context) {
	recordNav(p.Router, ctx)
}

// Render renders the import page
func (p *FeedbackImportPage) Render() app.UI {
	return shell(p.Router, "import-page",
		app.H2().Text("Import Feedback"),
		app.Section().Class("import-section").Body(
			app.H3().Text("Paste feedback"),
			app.P().Text("One feedback per line."),
			app.Textarea().
				Rows(10).
				Placeholder("The app crashes when I log in...").
				Text(p.content).
				OnChange(p.ValueTo(&p.content)),
			app.Button().
				Class("btn-primary").
				Disabled(p.running).
				OnClick(p.onImportText).
				Text("Analyze text"),
		),
		app.Section().Class("import-section").Body(
			app.H3().Text("Upload a file"),
			app.P().Text("Text, CSV or PDF files, one feedback per line."),
			app.Input().Type("file").ID(fileInputID).Accept(".txt,.csv,.pdf"),
			app.Button().
				Class("btn-primary").
				Disabled(p.running).
				OnClick(p.onImportFile).
				Text("Upload file"),
		),
		app.Section().Class("import-section").Body(
			app.H3().Text("Upload a screenshot"),
			app.P().Text("The text in the image is recognized before analysis."),
			app.Input().Type("file").ID(imageInputID).Accept("image/*"),
			app.Button().
				Class("btn-primary").
				Disabled(p.running).
				OnClick(p.onImportImage).
				Text("Upload image"),
		),
		p.renderStatus(),
	)
}

func (p *FeedbackImportPage) renderStatus() app.UI {
	if p.running {
		return app.Div().Class("loading").Body(app.Text("Analyzing feedback..."))
	}
	if p.error != "" {
		return app.Div().Class("error").Body(app.Text("Error: " + p.error))
	}
	if p.result != nil {
		var links []app.UI
		if p.Router != nil {
			links = append(links,
				app.A().Href(p.Router.Table().PathFor("management")).Text("Review problems"),
			)
		}
		return app.Div().Class("success").Body(
			app.P().Text(p.result.Message),
			app.P().Text(fmt.Sprintf("Total: %d, succeeded: %d, failed: %d",
				p.result.Stats.Total, p.result.Stats.Success, p.result.Stats.Failed)),
			app.P().Class("batch-id").Text("Batch "+p.result.BatchID),
			app.Div().Body(links...),
		)
	}
	return app.Div()
}

func (p *FeedbackImportPage) start() {
	p.running = true
	p.error = ""
	p.result = nil
}

func (p *FeedbackImportPage) finish(result *ImportResult) func(ctx app.Context, err error) {
	return func(ctx app.Context, err error) {
		p.running = false
		if err != nil {
			p.error = err.Error()
			return
		}
		p.result = result
	}
}

func (p *FeedbackImportPage) onImportText(ctx app.Context, e app.Event) {
	if strings.TrimSpace(p.content) == "" {
		p.error = "Please enter feedback content"
		return
	}
	p.start()
	result := &ImportResult{}
	postJSON(ctx, "/api/feedback/import/text", map[string]string{"content": p.content}, result, p.finish(result))
}

func (p *FeedbackImportPage) onImportFile(ctx app.Context, e app.Event) {
	p.start()
	result := &ImportResult{}
	postFile(ctx, "/api/feedback/import/file", fileInputID, "file", result, p.finish(result))
}

func (p *FeedbackImportPage) onImportImage(ctx app.Context, e app.Event) {
	p.start()
	result := &ImportResult{}
	postFile(ctx, "/api/feedback/import/image", imageInputID, "image", result, p.finish(result))
}
