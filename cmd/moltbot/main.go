// Command moltbot is the command surface over the xiaomi client library:
// it logs in, lists devices and speakers, and sends TTS or simulated
// voice commands to a speaker. Errors from the library are reported with
// their kind and message; the only retry anywhere is the facade's single
// refresh-and-retry on a 401.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/luuman/moltbot/internal/config"
	"github.com/luuman/moltbot/internal/logging"
	"github.com/luuman/moltbot/xiaomi"
)

var Version = "dev"

const usage = `moltbot - Xiaomi Home speaker control

Usage:
  moltbot login-url                        print the authorization URL to visit
  moltbot login <code>                     exchange the authorization code
  moltbot status                           show login state and user info
  moltbot devices [--force]                list devices (cached unless --force)
  moltbot speakers                         list XiaoAI speakers
  moltbot speak [device] <text>            play text on a speaker
  moltbot command [device] <text>          simulate a spoken command
  moltbot command-silent [device] <text>   simulate a command, no audible feedback
  moltbot logout                           delete all stored credentials

With no device argument, speak/command use the default speaker: the first
online one, falling back to the first known one.
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Print(usage)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := xiaomi.New(xiaomi.Options{
		CloudServer: cfg.CloudServer,
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		StorageDir:  cfg.StorageDir,
	})
	if err != nil {
		return err
	}

	loggedIn, err := client.Init(ctx)
	if err != nil {
		return fmt.Errorf("initializing client: %w", err)
	}
	logger.Debug("client initialized",
		slog.String("version", Version),
		slog.String("region", cfg.CloudServer),
		slog.Bool("logged_in", loggedIn),
	)

	switch cmd := args[0]; cmd {
	case "login-url":
		return cmdLoginURL(client)
	case "login":
		return cmdLogin(ctx, client, args[1:], logger)
	case "status":
		return cmdStatus(client, loggedIn)
	case "devices":
		return cmdDevices(ctx, client, loggedIn, args[1:])
	case "speakers":
		return cmdSpeakers(ctx, client, loggedIn)
	case "speak":
		return cmdSpeak(ctx, client, loggedIn, args[1:], logger)
	case "command":
		return cmdCommand(ctx, client, loggedIn, args[1:], false, logger)
	case "command-silent":
		return cmdCommand(ctx, client, loggedIn, args[1:], true, logger)
	case "logout":
		return cmdLogout(client)
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdLoginURL(client *xiaomi.Client) error {
	authURL, err := client.AuthURL()
	if err != nil {
		return err
	}

	fmt.Println("Visit this URL, approve access, then run: moltbot login <code>")
	fmt.Println(authURL)
	return nil
}

func cmdLogin(ctx context.Context, client *xiaomi.Client, args []string, logger *slog.Logger) error {
	if len(args) != 1 {
		return errors.New("usage: moltbot login <code>")
	}

	info, err := client.LoginWithCode(ctx, args[0])
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	logger.Info("logged in", slog.String("user_id", info.UserID))

	fmt.Printf("Logged in as %s (%s)\n", info.MiliaoNick, info.UserID)

	devices, err := client.LoadDevices(ctx, true)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}
	fmt.Printf("Found %d devices\n", len(devices))

	return nil
}

func cmdStatus(client *xiaomi.Client, loggedIn bool) error {
	if !loggedIn {
		fmt.Println("Not logged in. Run: moltbot login-url")
		return nil
	}

	fmt.Println("Logged in")
	if info := client.UserInfo(); info != nil {
		fmt.Printf("  User: %s (%s)\n", info.MiliaoNick, info.UserID)
	}
	if homes := client.Homes(); homes != nil {
		fmt.Printf("  Homes: %d\n", len(homes))
		for _, home := range homes {
			fmt.Printf("    %s (%d devices)\n", home.HomeName, len(home.AllDids()))
		}
	}
	fmt.Printf("  Config: %s\n", client.Storage().Path())

	return nil
}

func cmdDevices(ctx context.Context, client *xiaomi.Client, loggedIn bool, args []string) error {
	if !loggedIn {
		return xiaomi.ErrNotLoggedIn
	}

	force := len(args) > 0 && args[0] == "--force"

	devices, err := client.LoadDevices(ctx, force)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	fmt.Printf("%d devices:\n", len(devices))
	for _, device := range devices {
		fmt.Printf("  %s %s\n", onlineMark(device.Online), device.Name)
		fmt.Printf("      model: %s  did: %s\n", device.Model, device.Did)
	}

	return nil
}

func cmdSpeakers(ctx context.Context, client *xiaomi.Client, loggedIn bool) error {
	if !loggedIn {
		return xiaomi.ErrNotLoggedIn
	}

	if _, err := client.LoadDevices(ctx, false); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	speakers := client.Speakers()
	fmt.Printf("%d speakers:\n", len(speakers))
	for _, speaker := range speakers {
		fmt.Printf("  %s %s\n", onlineMark(speaker.Online), speaker.Name)
		fmt.Printf("      model: %s  did: %s\n", speaker.Model, speaker.Did)
	}

	return nil
}

func cmdSpeak(ctx context.Context, client *xiaomi.Client, loggedIn bool, args []string, logger *slog.Logger) error {
	if !loggedIn {
		return xiaomi.ErrNotLoggedIn
	}

	device, text, err := splitDeviceText(args, "moltbot speak [device] <text>")
	if err != nil {
		return err
	}

	if _, err := client.LoadDevices(ctx, false); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	speaker, err := client.CreateSpeaker(device)
	if err != nil {
		return err
	}
	logger.Debug("sending tts", slog.String("did", speaker.Did()), slog.String("device", speaker.Name()))

	if err := client.Speak(ctx, device, text); err != nil {
		return err
	}

	fmt.Printf("Sent to %s\n", speaker.Name())
	return nil
}

func cmdCommand(ctx context.Context, client *xiaomi.Client, loggedIn bool, args []string, silent bool, logger *slog.Logger) error {
	if !loggedIn {
		return xiaomi.ErrNotLoggedIn
	}

	device, text, err := splitDeviceText(args, "moltbot command [device] <text>")
	if err != nil {
		return err
	}

	if _, err := client.LoadDevices(ctx, false); err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	speaker, err := client.CreateSpeaker(device)
	if err != nil {
		return err
	}
	logger.Debug("sending command",
		slog.String("did", speaker.Did()),
		slog.String("device", speaker.Name()),
		slog.Bool("silent", silent),
	)

	if err := client.SendCommand(ctx, device, text, silent); err != nil {
		return err
	}

	fmt.Printf("Sent to %s\n", speaker.Name())
	return nil
}

func cmdLogout(client *xiaomi.Client) error {
	if err := client.Logout(); err != nil {
		return err
	}
	fmt.Println("Logged out, credentials deleted")
	return nil
}

// splitDeviceText parses trailing args as either "<text>" or
// "<device> <text>".
func splitDeviceText(args []string, usageLine string) (device, text string, err error) {
	switch len(args) {
	case 1:
		return "", args[0], nil
	case 2:
		return args[0], args[1], nil
	default:
		return "", "", fmt.Errorf("usage: %s", usageLine)
	}
}

func onlineMark(online bool) string {
	if online {
		return "[on ]"
	}
	return "[off]"
}
