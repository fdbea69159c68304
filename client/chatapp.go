package client

import (
	"context"
	"fmt"
	"sync"

	"oasis/code"

	"github.com/jroimartin/gocui"
	"github.com/sirupsen/logrus"
)

var defaultLogger = logrus.New()

// ChatApp is the terminal front end of a Conn.
type ChatApp struct {
	Gui         *gocui.Gui
	cfg         Config
	conn        *Conn
	messages    []string
	messageLock sync.Mutex
	wg          sync.WaitGroup
	logger      *logrus.Logger
}

// NewChatApp initializes a new ChatApp. A zero cfg.Code makes the app prompt
// for one.
func NewChatApp(cfg Config) *ChatApp {
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger
	}
	return &ChatApp{cfg: cfg, logger: logger}
}

func (app *ChatApp) hasCode() bool {
	return app.cfg.Code != code.Code{}
}

// joinRoom connects with a code typed at the prompt. On failure the code is
// cleared so the layout shows the prompt again.
func (app *ChatApp) joinRoom(ctx context.Context, c code.Code) error {
	app.cfg.Code = c
	if err := app.connect(ctx); err != nil {
		app.cfg.Code = code.Code{}
		return err
	}
	return nil
}

// connect dials the relay with the code already set and starts the event
// listener.
func (app *ChatApp) connect(ctx context.Context) error {
	conn, err := Dial(ctx, app.cfg)
	if err != nil {
		return err
	}
	app.conn = conn

	role := "joined"
	if conn.IsAuthority() {
		role = "created"
	}
	app.appendMessage(fmt.Sprintf("* You %s room %s", role, app.cfg.Code))
	app.appendMessage("* Safety number: " + conn.Fingerprint())

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		app.listenForEvents()
	}()
	return nil
}

// listenForEvents renders room events until the connection closes.
func (app *ChatApp) listenForEvents() {
	for e := range app.conn.Events() {
		line, ok := formatEvent(e)
		if !ok {
			continue
		}
		app.appendMessage(line)
		app.Gui.Update(func(g *gocui.Gui) error {
			return app.UpdateMessages(g)
		})
	}
}

func (app *ChatApp) appendMessage(line string) {
	app.messageLock.Lock()
	app.messages = append(app.messages, line)
	app.messageLock.Unlock()
}

func formatEvent(e Event) (string, bool) {
	switch e.Kind {
	case EventJoin:
		return fmt.Sprintf("* %s joined", e.User), true
	case EventMessage:
		return fmt.Sprintf("[%s] %s", e.User, e.Text), true
	case EventLeave:
		return fmt.Sprintf("* %s left", e.User), true
	case EventPeerLeft:
		return fmt.Sprintf("* %s disconnected", e.User), true
	case EventPromoted:
		return "* You are now the room authority", true
	case EventSecurity:
		return "! Dropped a message that failed authentication", true
	case EventClosed:
		if e.Err != nil {
			return fmt.Sprintf("! Connection closed: %v", e.Err), true
		}
		return "* Connection closed", true
	default:
		return "", false
	}
}

// sendMessage seals and sends message to the room.
func (app *ChatApp) sendMessage(message string) error {
	if app.conn == nil {
		return fmt.Errorf("not connected to a room")
	}
	return app.conn.Send(message)
}

// quit handles quitting the application
func (app *ChatApp) quit(_ *gocui.Gui, _ *gocui.View) error {
	app.logger.Info("Shutting down gracefully...")
	if app.conn != nil {
		app.conn.Close()
	}
	app.wg.Wait()
	return gocui.ErrQuit
}
