package exampleapp

import (
	"context"

	"github.com/networkteam/uiharness/page"
)

// ThingsPage is the page object of the thing list at "/".
type ThingsPage struct {
	page.Base
}

// Open navigates to the thing list.
func (p ThingsPage) Open(ctx context.Context) error {
	if err := p.Navigate(ctx, "/"); err != nil {
		return err
	}
	return p.WaitFor(ctx, "form#new-thing")
}

// AddThing submits the form for a new thing.
func (p ThingsPage) AddThing(ctx context.Context, title string) error {
	if err := p.Fill(ctx, "form#new-thing input[name=title]", title); err != nil {
		return err
	}
	if err := p.Click(ctx, "form#new-thing button"); err != nil {
		return err
	}
	return p.WaitFor(ctx, "ul.things li.thing")
}

// ThingCount returns the number of listed things.
func (p ThingsPage) ThingCount(ctx context.Context) (int, error) {
	return p.Count(ctx, "ul.things li.thing")
}

// MyNewPage is the page object of "/my-new-page".
type MyNewPage struct {
	page.Base
}

// Open navigates to the page.
func (p MyNewPage) Open(ctx context.Context) error {
	return p.Navigate(ctx, "/my-new-page")
}

// HeaderText returns the text of the page header.
func (p MyNewPage) HeaderText(ctx context.Context) (string, error) {
	return p.Text(ctx, "h1#header")
}
