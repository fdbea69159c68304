package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"oasis/code"

	"github.com/jroimartin/gocui"
)

// InitGui initializes the gocui screen
func (app *ChatApp) InitGui() error {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return fmt.Errorf("failed to initialize gocui: %w", err)
	}
	app.Gui = g
	g.SetManagerFunc(app.layout)

	if err := g.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, app.quit); err != nil {
		return err
	}
	return g.SetKeybinding("input", gocui.KeyEnter, gocui.ModNone, app.SendMessageHandler)
}

// Start connects right away when the code is known and prompts for it
// otherwise.
func (app *ChatApp) Start(ctx context.Context) error {
	if app.hasCode() {
		return app.connect(ctx)
	}
	return app.PromptRoomCode(ctx)
}

// PromptRoomCode asks for a room code and connects once a valid one is
// entered.
func (app *ChatApp) PromptRoomCode(ctx context.Context) error {
	return app.Gui.SetKeybinding("prompt", gocui.KeyEnter, gocui.ModNone, func(g *gocui.Gui, v *gocui.View) error {
		c, ok := code.Parse(strings.TrimSpace(v.Buffer()))
		if !ok {
			v.Title = "Invalid code, expected xxx-xxx-xxx"
			v.Clear()
			v.SetCursor(0, 0)
			return nil
		}
		g.DeleteView("prompt")
		g.SetCurrentView("input")

		if err := app.joinRoom(ctx, c); err != nil {
			app.logger.Errorf("Error joining room: %v", err)
			app.appendMessage(fmt.Sprintf("! Could not join room: %v", err))
		}
		return app.UpdateMessages(g)
	})
}

// UpdateMessages updates the message view
func (app *ChatApp) UpdateMessages(g *gocui.Gui) error {
	v, err := g.View("messages")
	if err != nil {
		if errors.Is(err, gocui.ErrUnknownView) {
			return nil
		}
		return err
	}
	v.Clear()
	app.messageLock.Lock()
	for _, msg := range app.messages {
		fmt.Fprintln(v, msg)
	}
	app.messageLock.Unlock()
	return nil
}

// SendMessageHandler handles sending messages on Enter press
func (app *ChatApp) SendMessageHandler(g *gocui.Gui, v *gocui.View) error {
	message := strings.TrimSpace(v.Buffer())
	if message != "" {
		if err := app.sendMessage(message); err != nil {
			app.logger.Errorf("Error sending message: %v", err)
			app.appendMessage(fmt.Sprintf("! Not sent: %v", err))
		} else {
			app.appendMessage("[You] " + message)
		}
		v.Clear()
		v.SetCursor(0, 0)
		return app.UpdateMessages(g)
	}
	return nil
}

// Layout function for the UI
func (app *ChatApp) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	if !app.hasCode() {
		if v, err := g.SetView("prompt", maxX/4, maxY/4, 3*maxX/4, maxY/2); err != nil {
			if !errors.Is(err, gocui.ErrUnknownView) {
				return err
			}
			v.Title = "Enter room code"
			v.Editable = true
			v.Wrap = true
			g.SetCurrentView("prompt")
		}
		return nil
	}

	if v, err := g.SetView("messages", 0, 0, maxX-1, maxY-5); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = "Room " + app.cfg.Code.String()
		v.Autoscroll = true
		v.Wrap = true
		app.UpdateMessages(g)
	}

	if v, err := g.SetView("input", 0, maxY-4, maxX-1, maxY-2); err != nil {
		if !errors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		v.Title = "Type a message as " + app.cfg.User
		v.Editable = true
		v.Wrap = true
		g.SetCurrentView("input")
	}

	return nil
}
