// Package config loads the daemon configuration from layered INI files with
// environment-variable overrides, plus an optional YAML model-alias file.
//
// Layout: config/setting.ini selects the environment and may hold defaults;
// config/<env>/chatbot.ini holds environment-specific values. Every key can
// be overridden by a BEDROCK_* environment variable.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/chatbot.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ChatbotConfig describes runtime options for the chat daemon.
type ChatbotConfig struct {
	Environment string
	HTTPAddress string

	// Backend selection: "ollama" or "loopback".
	Backend        string
	OllamaBaseURL  string
	DefaultModel   string
	RequestTimeout time.Duration

	// Model aliases rewrite client-facing names to backend names. Inline
	// pairs from the INI file merge with (and lose to) the YAML alias file.
	ModelAliases     map[string]string
	ModelAliasesFile string

	LogFile  string
	LogLevel string

	// Ledger: "sqlite", "postgres" or "off".
	LedgerBackend string
	LedgerPath    string
	LedgerDSN     string
	LedgerAsync   bool
}

// LoadChatbotConfig reads the current environment and loads the appropriate
// config file from root.
func LoadChatbotConfig(root string) (ChatbotConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ChatbotConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ChatbotConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ChatbotConfig{
		Environment:      s.Environment,
		HTTPAddress:      firstNonEmpty(os.Getenv("BEDROCK_HTTP_ADDRESS"), merged["http_address"], ":8030"),
		Backend:          strings.ToLower(firstNonEmpty(os.Getenv("BEDROCK_BACKEND"), merged["backend"], "ollama")),
		OllamaBaseURL:    firstNonEmpty(os.Getenv("BEDROCK_OLLAMA_BASE_URL"), merged["ollama_base_url"], "http://localhost:11434"),
		DefaultModel:     firstNonEmpty(os.Getenv("BEDROCK_DEFAULT_MODEL"), merged["default_model"]),
		RequestTimeout:   parseOptionalDuration(merged["request_timeout"], 60*time.Second),
		ModelAliases:     parseMap(merged["model_aliases"]),
		ModelAliasesFile: firstNonEmpty(os.Getenv("BEDROCK_MODEL_ALIASES_FILE"), merged["model_aliases_file"]),
		LogFile:          firstNonEmpty(os.Getenv("BEDROCK_LOG_FILE"), merged["log_file"]),
		LogLevel:         strings.ToLower(firstNonEmpty(os.Getenv("BEDROCK_LOG_LEVEL"), merged["log_level"], "info")),
		LedgerBackend:    strings.ToLower(firstNonEmpty(os.Getenv("BEDROCK_LEDGER_BACKEND"), merged["ledger_backend"], "sqlite")),
		LedgerPath:       firstNonEmpty(os.Getenv("BEDROCK_LEDGER_PATH"), merged["ledger_path"], DefaultLedgerPath()),
		LedgerDSN:        firstNonEmpty(os.Getenv("BEDROCK_LEDGER_DSN"), merged["ledger_dsn"]),
		LedgerAsync:      parseOptionalBool(firstNonEmpty(os.Getenv("BEDROCK_LEDGER_ASYNC"), merged["ledger_async"]), true),
	}

	switch cfg.Backend {
	case "ollama", "loopback":
	default:
		return ChatbotConfig{}, fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
	switch cfg.LedgerBackend {
	case "sqlite", "postgres", "off":
	default:
		return ChatbotConfig{}, fmt.Errorf("config: unknown ledger backend %q", cfg.LedgerBackend)
	}

	if cfg.ModelAliasesFile != "" {
		path := cfg.ModelAliasesFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		fileAliases, err := LoadModelAliases(path)
		if err != nil {
			return ChatbotConfig{}, err
		}
		if cfg.ModelAliases == nil {
			cfg.ModelAliases = fileAliases
		} else {
			for k, v := range fileAliases {
				cfg.ModelAliases[k] = v
			}
		}
	}

	return cfg, nil
}

// modelAliasesFile is the YAML shape of the alias file:
//
//	aliases:
//	  gemma: gemma:2b-it
//	  default: gemma:2b
type modelAliasesFile struct {
	Aliases map[string]string `yaml:"aliases"`
}

// LoadModelAliases reads a YAML alias file mapping client model names to
// backend model names.
func LoadModelAliases(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read model aliases: %w", err)
	}
	var file modelAliasesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse model aliases: %w", err)
	}
	aliases := make(map[string]string, len(file.Aliases))
	for k, v := range file.Aliases {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			aliases[k] = v
		}
	}
	return aliases, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalDuration(v string, fallback time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// DefaultLedgerPath returns the fallback ledger location under the user's
// home directory.
func DefaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat_ledger.db"
	}
	return filepath.Join(home, ".bedrock", "chat_ledger.db")
}
