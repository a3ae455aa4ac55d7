package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port          string
	DBPath        string
	DeviceIDPath  string
	DefaultModel  string
	SystemPrompt  string
	OpenAIKey     string
	OpenAIBaseURL string
	PollInterval  time.Duration
	EventWindow   time.Duration
	ExportEnabled bool
	ExportFile    string
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.DBPath = getenv("DB_PATH", "./data/truthkeeper.db")
	c.DeviceIDPath = getenv("DEVICE_ID_PATH", "./data/device_id")
	c.DefaultModel = getenv("DEFAULT_MODEL", "gpt-4o")
	c.SystemPrompt = os.Getenv("SYSTEM_PROMPT")
	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	c.PollInterval = getduration("POLL_INTERVAL", 1*time.Second)
	c.EventWindow = getduration("EVENT_WINDOW", 5*time.Second)
	c.ExportEnabled = getenv("EXPORT_ENABLED", "true") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./truthkeeper-transcripts.txt")
	return c
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
