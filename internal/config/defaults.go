package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Env:                "development",
			LogLevel:           "info",
			LogFormat:          "text",
			MaxConcurrentTurns: 16,
		},
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			MetricsPath:      "/metrics",
			SenderRatePerMin: 30,
		},
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "~/.frontdesk/frontdesk.db",
		},
		Provider: ProviderConfig{
			Name:        "openai",
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.3,
		},
		Orchestrator: OrchestratorConfig{
			Mode:              "coordinator",
			MaxIterations:     5,
			EngineTimeoutSecs: 30,
			WorkerTimeoutSecs: 30,
			EmergencyNumber:   "112",
		},
		Verification: VerificationConfig{
			TokenTTLHours:      24,
			DefaultCountryCode: "49",
			SMTP: SMTPConfig{
				Port: 587,
			},
		},
		Dialog: DialogConfig{
			TTLMinutes:      30,
			HandoffTTLHours: 24,
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				APIBase: "https://graph.facebook.com/v21.0",
			},
			SMS: SMSConfig{
				APIBase: "https://api.twilio.com/2010-04-01",
			},
		},
		Voice: VoiceConfig{
			WhisperAPIBase: "https://api.openai.com/v1",
			Model:          "whisper-1",
			PopTimeoutSecs: 5,
		},
		Notify: NotifyConfig{
			MinIntervalSecs: 60,
		},
		Events: EventsConfig{
			Exchange: "frontdesk.events",
		},
		Sweep: SweepConfig{
			Enabled:         true,
			IntervalMinutes: 60,
			InactiveDays:    30,
		},
	}
}
