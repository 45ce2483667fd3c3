package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/flemzord/clawbridge/internal/config"
)

var tokenFormat = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(_ *cobra.Command, _ []string) error {
			var (
				token   string
				chatID  string
				port    = strconv.Itoa(config.DefaultPort)
				timeout = strconv.Itoa(config.DefaultApprovalTimeout)
			)

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Telegram bot token").
						Description("From @BotFather, looks like 123456:ABC-DEF...").
						EchoMode(huh.EchoModePassword).
						Value(&token).
						Validate(func(s string) error {
							if !tokenFormat.MatchString(s) {
								return fmt.Errorf("expected <bot_id>:<hash>")
							}
							return nil
						}),
					huh.NewInput().
						Title("Telegram chat id").
						Description("Your operator chat; send /start to @userinfobot to find it").
						Value(&chatID).
						Validate(func(s string) error {
							n, err := strconv.ParseInt(s, 10, 64)
							if err != nil || n == 0 {
								return fmt.Errorf("expected a non-zero integer")
							}
							return nil
						}),
					huh.NewInput().
						Title("Bridge port").
						Value(&port).
						Validate(func(s string) error {
							n, err := strconv.Atoi(s)
							if err != nil || n < 1 || n > 65535 {
								return fmt.Errorf("expected a port between 1 and 65535")
							}
							return nil
						}),
					huh.NewInput().
						Title("Approval timeout (seconds)").
						Value(&timeout).
						Validate(func(s string) error {
							n, err := strconv.Atoi(s)
							if err != nil || n < 1 {
								return fmt.Errorf("expected a positive integer")
							}
							return nil
						}),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}

			chatIDn, _ := strconv.ParseInt(chatID, 10, 64)
			portN, _ := strconv.Atoi(port)
			timeoutN, _ := strconv.Atoi(timeout)

			cfg := config.Config{
				TelegramBotToken:       token,
				TelegramChatID:         chatIDn,
				BridgeHost:             config.DefaultHost,
				BridgePort:             portN,
				ApprovalTimeoutSeconds: timeoutN,
				LogLevel:               "info",
			}

			path, err := writeConfigFile(&cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration written to %s\n", path)
			fmt.Println("Start the bridge with: clawbridge start")
			return nil
		},
	}
}

func writeConfigFile(cfg *config.Config) (string, error) {
	base := ""
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		base = filepath.Join(xdg, "clawbridge")
	} else if home, err := os.UserHomeDir(); err == nil {
		base = filepath.Join(home, ".config", "clawbridge")
	} else {
		base = "."
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(base, "config.json")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists, refusing to overwrite", path)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	// Token inside: keep it owner-readable only.
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
