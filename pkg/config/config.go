package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
)

type Options struct {
	ServerURL    string
	DatabasePath string
	SyncInfoPath string
	LogPath      string
	StationID    string
	PayloadKey   string
	MaxRetries   int
	MaxAgeDays   int
}

// NewConfig builds options from defaults, overridden by environment
// variables when present. CLI flags are layered on top by the command layer.
func NewConfig() *Options {
	dataDir := defaultDataDir()

	opt := &Options{
		ServerURL:    "http://localhost:8080",
		DatabasePath: filepath.Join(dataDir, "floorsync.db"),
		SyncInfoPath: filepath.Join(dataDir, "lastsync"),
		LogPath:      filepath.Join(dataDir, "floorsync.log"),
		MaxRetries:   5,
		MaxAgeDays:   30,
	}

	// Check if corresponding environment variables are set and override the values if present.
	if env, exists := os.LookupEnv("SERVER_URL"); exists {
		opt.ServerURL = env
	}
	if env, exists := os.LookupEnv("DATABASE_PATH"); exists {
		opt.DatabasePath = env
	}
	if env, exists := os.LookupEnv("SYNC_INFO_PATH"); exists {
		opt.SyncInfoPath = env
	}
	if env, exists := os.LookupEnv("LOG_PATH"); exists {
		opt.LogPath = env
	}
	if env, exists := os.LookupEnv("STATION_ID"); exists {
		opt.StationID = env
	}
	if env, exists := os.LookupEnv("PAYLOAD_KEY"); exists {
		opt.PayloadKey = env
	}
	if env, exists := os.LookupEnv("SYNC_MAX_RETRIES"); exists {
		if value, err := strconv.Atoi(env); err == nil {
			opt.MaxRetries = value
		}
	}
	if env, exists := os.LookupEnv("SYNC_MAX_AGE_DAYS"); exists {
		if value, err := strconv.Atoi(env); err == nil {
			opt.MaxAgeDays = value
		}
	}

	return opt
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	dir := filepath.Join(home, "floorsync")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.Mkdir(dir, 0755); err != nil {
			log.Fatal(err)
		}
	}
	return dir
}
