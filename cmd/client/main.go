package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"oasis/client"
	"oasis/code"
	"oasis/configs"
	"oasis/crypto/kdf"

	"github.com/jroimartin/gocui"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logger = logrus.New()

	envFile  string
	relayURL string
	username string
	logFile  string
	kdfName  string
)

func main() {
	root := &cobra.Command{
		Use:   "oasis",
		Short: "End-to-end encrypted rooms behind a short code",
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay websocket URL, overrides "+configs.EnvRelayURL+" (default ws://"+configs.ServerAddress+configs.WebSocketPath+")")
	root.PersistentFlags().StringVarP(&username, "user", "u", "", "name shown to the room (default: login name)")
	root.PersistentFlags().StringVar(&logFile, "log", "oasis.log", "log file")

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a room and print its code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := code.Generate(nil)
			if err != nil {
				return err
			}
			fmt.Printf("Room code: %s\n", c)
			return runChat(c)
		},
	}
	create.Flags().StringVar(&kdfName, "kdf", "", "key derivation for the room (pbkdf2-sha256 or argon2id)")

	join := &cobra.Command{
		Use:   "join [code]",
		Short: "Join a room; prompts for the code when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c code.Code
			if len(args) == 1 {
				var ok bool
				if c, ok = code.Parse(args[0]); !ok {
					return fmt.Errorf("invalid room code %q, expected xxx-xxx-xxx", args[0])
				}
			}
			return runChat(c)
		},
	}

	root.AddCommand(create, join)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runChat(c code.Code) error {
	cfg, err := configs.Load(envFile)
	if err != nil {
		return err
	}
	if kdfName != "" {
		cfg.KDFAlgorithm = kdfName
	}
	params, err := kdf.ParamsFor(cfg.KDFAlgorithm)
	if err != nil {
		return err
	}
	if relayURL == "" {
		relayURL = cfg.WebSocketURL()
	}
	if username == "" {
		username = "anonymous"
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}

	// gocui owns the terminal.
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	logger.SetOutput(f)

	chatApp := client.NewChatApp(client.Config{
		URL:    relayURL,
		Code:   c,
		User:   username,
		Params: params,
		Logger: logger,
	})

	if err := chatApp.InitGui(); err != nil {
		logger.Fatalf("Error initializing gocui interface: %v", err)
	}
	defer chatApp.Gui.Close()

	if err := chatApp.Start(context.Background()); err != nil {
		return err
	}

	if err := chatApp.Gui.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		logger.Fatalf("Error in gocui main loop: %v", err)
	}

	logger.Info("Application exited.")
	return nil
}
