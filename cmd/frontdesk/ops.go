package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"frontdesk/internal/bus"
	"frontdesk/internal/config"
	"frontdesk/internal/dialog"
	"frontdesk/internal/domain"
	"frontdesk/internal/store"
	"frontdesk/internal/verify"
)

const opTimeout = 30 * time.Second

// opsEnv is the slice of the serve wiring the admin commands need.
type opsEnv struct {
	cfg   *config.Config
	store store.Backend
	bus   *bus.RedisBus
}

func openOps(ctx context.Context, withRedis bool) (*opsEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backend, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	env := &opsEnv{cfg: cfg, store: backend}
	if withRedis {
		rb, err := bus.NewRedisBus(cfg.Redis.URL, logger)
		if err == nil {
			err = rb.Connect(ctx)
		}
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("message bus: %w", err)
		}
		env.bus = rb
	}
	return env, nil
}

func (e *opsEnv) close() {
	if e.bus != nil {
		e.bus.Close()
	}
	e.store.Close()
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage studios",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create [slug] [name]",
		Short: "Create a studio; its webhooks live under /webhooks/<slug>/",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			env, err := openOps(ctx, false)
			if err != nil {
				return err
			}
			defer env.close()
			id := uuid.NewString()
			if err := env.store.CreateTenant(ctx, id, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [tenant] [key] [value]",
		Short: "Set a studio setting (e.g. plan.platforms whatsapp,email)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			env, err := openOps(ctx, false)
			if err != nil {
				return err
			}
			defer env.close()
			if err := env.store.SetSetting(ctx, args[0], args[1], args[2]); err != nil {
				return err
			}
			logger.Info("setting updated", "tenant", args[0], "key", args[1])
			return nil
		},
	})
	return cmd
}

func handoffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Hand a conversation to staff or give it back to the assistant",
	}

	run := func(active bool) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			env, err := openOps(ctx, true)
			if err != nil {
				return err
			}
			defer env.close()

			tenantID, senderID := args[0], args[1]
			flags := dialog.NewHandoff(env.bus.Client(), time.Duration(env.cfg.Dialog.HandoffTTLHours)*time.Hour)
			eventType := bus.EventHandoffEnded
			if active {
				err = flags.Set(ctx, tenantID, senderID)
				eventType = bus.EventHandoffStarted
			} else {
				err = flags.Clear(ctx, tenantID, senderID)
			}
			if err != nil {
				return err
			}
			ev := bus.NewEvent(eventType, tenantID, map[string]any{"sender_id": senderID, "source": "cli"})
			if err := bus.PublishEvent(ctx, env.bus, ev); err != nil {
				logger.Warn("handoff event not published", "err", err)
			}
			logger.Info("handoff updated", "tenant", tenantID, "sender", senderID, "active", active)
			return nil
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [tenant] [sender]",
		Short: "Route the sender's messages to staff instead of the assistant",
		Args:  cobra.ExactArgs(2),
		RunE:  run(true),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [tenant] [sender]",
		Short: "Give the sender back to the assistant",
		Args:  cobra.ExactArgs(2),
		RunE:  run(false),
	})
	return cmd
}

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Manage the CRM member mirror",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [tenant] [file.csv]",
		Short: "Import members from a CSV file with columns id,name,email,phone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			env, err := openOps(ctx, false)
			if err != nil {
				return err
			}
			defer env.close()

			tenantID := args[0]
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			cc, err := env.store.GetSetting(ctx, domain.SettingCountryCode, tenantID, env.cfg.Verification.DefaultCountryCode)
			if err != nil {
				return err
			}
			members, err := parseMembers(f, tenantID, cc)
			if err != nil {
				return err
			}
			for _, m := range members {
				if err := env.store.UpsertMember(ctx, m); err != nil {
					return fmt.Errorf("member %s: %w", m.ID, err)
				}
			}
			logger.Info("members imported", "tenant", tenantID, "count", len(members))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unlink [tenant] [member]",
		Short: "Unlink a member from every session; those senders verify again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			env, err := openOps(ctx, false)
			if err != nil {
				return err
			}
			defer env.close()
			n, err := env.store.UnlinkMember(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			logger.Info("member unlinked", "tenant", args[0], "member", args[1], "sessions", n)
			return nil
		},
	})
	return cmd
}

// parseMembers reads id,name,email,phone rows. A first row whose first
// column is "id" is treated as a header.
func parseMembers(r io.Reader, tenantID, countryCode string) ([]domain.Member, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	var members []domain.Member
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "id") {
			continue
		}
		id := strings.TrimSpace(rec[0])
		if id == "" {
			return nil, fmt.Errorf("line %d: member id is empty", line)
		}
		phone := strings.TrimSpace(rec[3])
		members = append(members, domain.Member{
			ID:       id,
			TenantID: tenantID,
			Name:     strings.TrimSpace(rec[1]),
			Email:    strings.TrimSpace(rec[2]),
			Phone:    phone,
			PhoneKey: verify.PhoneKey(phone, countryCode),
		})
	}
	return members, nil
}

func eraseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "erase [tenant] [sender]",
		Short: "Delete a sender's sessions, messages, dialog context and handoff flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()
			env, err := openOps(ctx, true)
			if err != nil {
				return err
			}
			defer env.close()

			tenantID, senderID := args[0], args[1]
			if err := env.store.EraseSender(ctx, tenantID, senderID); err != nil {
				return err
			}
			rdb := env.bus.Client()
			dc := dialog.NewStore(rdb, time.Duration(env.cfg.Dialog.TTLMinutes)*time.Minute, logger)
			if err := dc.Persist(ctx, tenantID, senderID, map[string]any{dialog.ClearKey: true}); err != nil {
				return err
			}
			if err := dialog.NewHandoff(rdb, time.Hour).Clear(ctx, tenantID, senderID); err != nil {
				return err
			}
			logger.Info("sender erased", "tenant", tenantID, "sender", senderID)
			return nil
		},
	}
}
