package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"frontdesk/internal/agent"
	"frontdesk/internal/bus"
	"frontdesk/internal/config"
	"frontdesk/internal/provider"
	"frontdesk/internal/store"
)

func statusCmd() *cobra.Command {
	var skipEngine bool
	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"doctor"},
		Short:   "Check configuration, database, Redis and the reasoning engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("frontdesk status v%s\n\n", version)

			passed, warned, failed := 0, 0, 0
			pass := func(check, detail string) { printPass(check, detail); passed++ }
			warn := func(check, detail string) { printWarn(check, detail); warned++ }
			fail := func(check, detail string) { printFail(check, detail); failed++ }

			if _, err := os.Stat(cfgPath); err != nil {
				fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'frontdesk init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				fail("Config validation", err.Error())
				return fmt.Errorf("%d check(s) failed", failed)
			}
			pass("Config validation", fmt.Sprintf("env=%s mode=%s", cfg.General.Env, cfg.Orchestrator.Mode))

			ctx, cancel := context.WithTimeout(cmd.Context(), 20*time.Second)
			defer cancel()

			if backend, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger); err != nil {
				fail("Database", err.Error())
			} else {
				if err := backend.Ping(ctx); err != nil {
					fail("Database", err.Error())
				} else {
					pass("Database", cfg.Database.Driver)
				}
				backend.Close()
			}

			if rb, err := bus.NewRedisBus(cfg.Redis.URL, logger); err != nil {
				fail("Redis", err.Error())
			} else {
				if err := rb.Connect(ctx); err != nil {
					fail("Redis", err.Error())
				} else {
					pass("Redis", config.Sanitize(cfg).Redis.URL)
				}
				rb.Close()
			}

			if profiles, err := agent.LoadProfiles(cfg.Orchestrator.WorkerProfilesPath, logger); err != nil {
				fail("Worker profiles", err.Error())
			} else {
				pass("Worker profiles", fmt.Sprintf("%d workers", len(profiles)))
			}

			if skipEngine {
				warn("Reasoning engine", "check skipped")
			} else if err := provider.New(cfg.Provider, logger).Healthy(ctx); err != nil {
				fail("Reasoning engine", err.Error())
			} else {
				pass("Reasoning engine", cfg.Provider.Model)
			}

			enabled := 0
			for name, on := range map[string]bool{
				"whatsapp": cfg.Channels.WhatsApp.Enabled,
				"telegram": cfg.Channels.Telegram.Enabled,
				"sms":      cfg.Channels.SMS.Enabled,
				"email":    cfg.Channels.Email.Enabled,
				"voice":    cfg.Channels.Voice.Enabled,
			} {
				if on {
					enabled++
					pass("Channel", name)
				}
			}
			if enabled == 0 {
				warn("Channels", "none enabled")
			}
			if cfg.Admin.Token == "" {
				warn("Admin feed", "disabled (admin.token is empty)")
			}
			if cfg.Notify.SlackWebhookURL == "" {
				warn("Operator alerts", "slack webhook not configured, alerts are only logged")
			}

			if err := checkPort(cfg.Server.Addr()); err != nil {
				warn("HTTP port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
			} else {
				pass("HTTP port", cfg.Server.Addr()+" available")
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipEngine, "skip-engine", false, "do not call the reasoning engine")
	return cmd
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
