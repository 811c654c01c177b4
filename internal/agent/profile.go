package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkerProfile configures an LLM-backed worker.
type WorkerProfile struct {
	Name                 string   `yaml:"name"`
	Description          string   `yaml:"description"`
	SystemPrompt         string   `yaml:"system_prompt"`
	Confidence           float64  `yaml:"confidence"`
	Keywords             []string `yaml:"keywords"`
	RequiresConfirmation bool     `yaml:"requires_confirmation"`
	// PendingAction is stored in the dialog context while a confirmation is outstanding.
	PendingAction string `yaml:"pending_action"`
}

type profileFile struct {
	Workers []WorkerProfile `yaml:"workers"`
}

// DefaultProfiles returns the built-in worker profiles.
func DefaultProfiles() map[WorkerName]WorkerProfile {
	return map[WorkerName]WorkerProfile{
		WorkerBooking: {
			Name:                 string(WorkerBooking),
			Description:          "class schedule, bookings, cancellations and trainer appointments",
			SystemPrompt:         "You handle class bookings and cancellations for a fitness studio. Confirm the class, day and time before booking anything.",
			Confidence:           0.85,
			Keywords:             []string{"book", "buchen", "class", "kurs", "termin", "appointment", "cancel", "stornieren", "schedule"},
			RequiresConfirmation: true,
			PendingAction:        "confirm_booking",
		},
		WorkerRetention: {
			Name:         string(WorkerRetention),
			Description:  "contracts, billing, payments, pausing or cancelling a membership",
			SystemPrompt: "You handle membership contracts and billing questions. Be understanding when members want to pause or cancel and mention pause options before cancellation.",
			Confidence:   0.8,
			Keywords:     []string{"kündigen", "kündigung", "cancel membership", "contract", "vertrag", "invoice", "rechnung", "payment", "zahlung", "pause"},
		},
		WorkerHealth: {
			Name:         string(WorkerHealth),
			Description:  "injuries, pain, training with health conditions",
			SystemPrompt: "You give cautious general guidance on training with minor complaints. You never diagnose and always recommend seeing a doctor for persistent symptoms.",
			Confidence:   0.7,
			Keywords:     []string{"schmerz", "pain", "injury", "verletzung", "knee", "knie", "rücken", "back", "doctor", "arzt"},
		},
		WorkerCrowd: {
			Name:        string(WorkerCrowd),
			Description: "how full the studio is right now",
			Keywords:    []string{"voll", "full", "busy", "crowd", "auslastung", "leer", "empty"},
		},
		WorkerPersona: {
			Name:         string(WorkerPersona),
			Description:  "greetings, opening hours and everything else",
			SystemPrompt: "You are the friendly front desk of a fitness studio. Answer briefly and in the member's language.",
			Confidence:   0.6,
		},
	}
}

// LoadProfiles reads worker profiles from path and merges them over the
// defaults by name. path may be a single YAML file with a top-level
// "workers" list or a directory of one-profile YAML files. An empty or
// missing path yields the defaults.
func LoadProfiles(path string, logger *slog.Logger) (map[WorkerName]WorkerProfile, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logger.Debug("worker profiles not found, using defaults", "path", path)
		return profiles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat worker profiles: %w", err)
	}

	var loaded []WorkerProfile
	if info.IsDir() {
		loaded, err = loadProfileDir(path, logger)
	} else {
		loaded, err = loadProfileFile(path)
	}
	if err != nil {
		return nil, err
	}

	for _, p := range loaded {
		name, err := ParseWorkerName(p.Name)
		if err != nil {
			logger.Warn("skipping profile for unknown worker", "name", p.Name)
			continue
		}
		p.Name = string(name)
		profiles[name] = mergeProfile(profiles[name], p)
		logger.Info("loaded worker profile", "worker", name)
	}
	return profiles, nil
}

func loadProfileFile(path string) ([]WorkerProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker profiles: %w", err)
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse worker profiles: %w", err)
	}
	return f.Workers, nil
}

func loadProfileDir(dir string, logger *slog.Logger) ([]WorkerProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read worker profiles dir: %w", err)
	}
	var out []WorkerProfile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read worker profile", "path", path, "err", err)
			continue
		}
		var p WorkerProfile
		if err := yaml.Unmarshal(data, &p); err != nil {
			logger.Warn("cannot parse worker profile", "path", path, "err", err)
			continue
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		out = append(out, p)
	}
	return out, nil
}

// mergeProfile overlays the non-zero fields of override onto base.
func mergeProfile(base, override WorkerProfile) WorkerProfile {
	base.Name = override.Name
	if override.Description != "" {
		base.Description = override.Description
	}
	if override.SystemPrompt != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	if override.Confidence > 0 {
		base.Confidence = min(override.Confidence, 1)
	}
	if len(override.Keywords) > 0 {
		base.Keywords = override.Keywords
	}
	if override.PendingAction != "" {
		base.PendingAction = override.PendingAction
	}
	base.RequiresConfirmation = base.RequiresConfirmation || override.RequiresConfirmation
	return base
}
