package exampleapp

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n", templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</body></html>\n")
		return err
	})
}

func indexPage(things []Thing) templ.Component {
	return layout("Things", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = io.WriteString(w, `<h1 id="header">Things</h1>`+"\n")
		if len(things) == 0 {
			_, _ = io.WriteString(w, `<p class="empty">No things yet</p>`+"\n")
		} else {
			_, _ = io.WriteString(w, `<ul class="things">`+"\n")
			for _, t := range things {
				_, _ = fmt.Fprintf(w, `<li class="thing" data-id="%d">%s</li>`+"\n", t.ID, templ.EscapeString(t.Title))
			}
			_, _ = io.WriteString(w, "</ul>\n")
		}
		_, err := io.WriteString(w, `<form id="new-thing" method="post" action="/things">
<input type="text" name="title" placeholder="Title">
<button type="submit">Add thing</button>
</form>
<a class="my-new-page" href="/my-new-page">Show latest</a>
`)
		return err
	}))
}

func myNewPage(header string) templ.Component {
	return layout(header, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, "<h1 id=\"header\">%s</h1>\n<a class=\"back\" href=\"/\">Back</a>\n", templ.EscapeString(header))
		return err
	}))
}
