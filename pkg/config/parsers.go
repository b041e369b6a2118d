package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Data   string
	Config string
	Set    map[string]bool
}

// ParseCommandFlags parses command-line flags and returns them as a Flags
// struct. Flags explicitly set by the user win over env and config file.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8022", "HTTP listen address")
	dataPtr := flag.String("data", "./data", "Data directory (conversation document and index)")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Data: *dataPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath picks the config file path: explicit flag wins, then
// CHATRELAY_CONFIG, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CHATRELAY_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// applyEnv reads CHATRELAY_* environment variables into cfg, returning
// true when any env override was applied.
func applyEnv(cfg *Config) bool {
	used := false

	if v := os.Getenv("CHATRELAY_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CHATRELAY_MESSAGES_PATH"); v != "" {
		used = true
		cfg.Storage.MessagesPath = v
	}
	if v := os.Getenv("CHATRELAY_INDEX_PATH"); v != "" {
		used = true
		cfg.Storage.IndexPath = v
	}
	if v := os.Getenv("CHATRELAY_USERS_PATH"); v != "" {
		used = true
		cfg.Storage.UsersPath = v
	}
	if v := os.Getenv("CHATRELAY_JWT_SECRET"); v != "" {
		used = true
		cfg.Security.JWTSecret = v
	} else if v := os.Getenv("JWT_SECRET"); v != "" {
		used = true
		cfg.Security.JWTSecret = v
	}
	if v := os.Getenv("CHATRELAY_OLLAMA_URL"); v != "" {
		used = true
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CHATRELAY_MODEL"); v != "" {
		used = true
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CHATRELAY_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATRELAY_CORS_ORIGINS"); v != "" {
		used = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("CHATRELAY_READ_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			used = true
			cfg.Storage.ReadRetry.Attempts = n
		}
	}
	if v := os.Getenv("CHATRELAY_READ_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			used = true
			cfg.Storage.ReadRetry.Delay = Duration(d)
		}
	}
	return used
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
