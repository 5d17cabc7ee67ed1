package webapp

import (
	"encoding/json"
	"fmt"

	"github.com/maxence-charriere/go-app/v10/pkg/app"
)

// apiMessage is the error body returned by the API
type apiMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// callAPI runs fetch(url, init) and hands the HTTP status and the JSON body
// text to done on the UI goroutine. A network failure is reported with
// status 0.
func callAPI(ctx app.Context, url string, init app.Value, done func(ctx app.Context, status int, body []byte)) {
	if !app.IsClient {
		return
	}
	ctx.Async(func() {
		var res app.Value
		if init == nil {
			res = app.Window().Call("fetch", url)
		} else {
			res = app.Window().Call("fetch", url, init)
		}

		res.Call("then", app.FuncOf(func(this app.Value, args []app.Value) any {
			if len(args) == 0 {
				return nil
			}
			response := args[0]
			status := response.Get("status").Int()

			response.Call("json").Call("then", app.FuncOf(func(this app.Value, args []app.Value) any {
				if len(args) == 0 {
					return nil
				}
				jsonStr := app.Window().Get("JSON").Call("stringify", args[0]).String()
				ctx.Dispatch(func(ctx app.Context) {
					done(ctx, status, []byte(jsonStr))
				})
				return nil
			}))
			return nil
		})).Call("catch", app.FuncOf(func(this app.Value, args []app.Value) any {
			ctx.Dispatch(func(ctx app.Context) {
				done(ctx, 0, nil)
			})
			return nil
		}))
	})
}

// getJSON decodes the body of a GET request into v
func getJSON(ctx app.Context, url string, v any, done func(ctx app.Context, err error)) {
	callAPI(ctx, url, nil, func(ctx app.Context, status int, body []byte) {
		done(ctx, decodeResponse(status, body, v))
	})
}

// postJSON sends payload as a JSON body and decodes the answer into v
func postJSON(ctx app.Context, url string, payload any, v any, done func(ctx app.Context, err error)) {
	init := app.Window().Get("Object").New()
	init.Set("method", "POST")
	init.Set("headers", map[string]any{"Content-Type": "application/json"})
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			done(ctx, err)
			return
		}
		init.Set("body", string(data))
	}
	callAPI(ctx, url, init, func(ctx app.Context, status int, body []byte) {
		done(ctx, decodeResponse(status, body, v))
	})
}

// postFile uploads the first file picked in the input with id inputID
// under field
func postFile(ctx app.Context, url, inputID, field string, v any, done func(ctx app.Context, err error)) {
	input := app.Window().GetElementByID(inputID)
	if !input.Truthy() || input.Get("files").Get("length").Int() == 0 {
		done(ctx, fmt.Errorf("please choose a file"))
		return
	}
	form := app.Window().Get("FormData").New()
	form.Call("append", field, input.Get("files").Index(0))
	init := app.Window().Get("Object").New()
	init.Set("method", "POST")
	init.Set("body", form)
	callAPI(ctx, url, init, func(ctx app.Context, status int, body []byte) {
		done(ctx, decodeResponse(status, body, v))
	})
}

func decodeResponse(status int, body []byte, v any) error {
	if status == 0 {
		return fmt.Errorf("network error: could not connect to server")
	}
	if status < 200 || status >= 300 {
		var msg apiMessage
		if err := json.Unmarshal(body, &msg); err == nil && msg.Message != "" {
			return fmt.Errorf("%s", msg.Message)
		}
		return fmt.Errorf("request failed with status %d", status)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
