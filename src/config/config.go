// Package config implements the out-of-core key=value configuration
// loader spec §6.2 describes: the engine consumes the resulting Config
// struct but never parses config text itself. Grounded on the teacher's
// settings.Arguments field shape and main.go's validateArguments.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tdbx/src/tdberr"
)

// Mode selects plain or encrypted collection files (spec §6.1).
type Mode string

const (
	ModePlain     Mode = "plain"
	ModeEncrypted Mode = "encrypted"
)

// Config is the fully-validated configuration record the engine receives
// at construction (spec §1, §6.2).
type Config struct {
	Database       string
	EncryptionKey  string
	Mode           Mode
	Role           string
	MaxCacheSize   int
	MaxConnections int
	QueryTimeoutMS int
}

const (
	defaultMaxCacheSize   = 100
	defaultMaxConnections = 10
	defaultQueryTimeoutMS = 30000
	minRecommendedKeyLen  = 32
)

// Load parses the key=value file at path per spec §6.2's grammar: one
// pair per line, "#"-introduced comments, blank lines ignored, values may
// contain "=". It returns warnings (e.g. a short encryption key) alongside
// the validated Config.
func Load(path string) (Config, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, nil, tdberr.Config("could not open config file %s: %v", path, err)
	}
	defer f.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		raw[key] = value
	}
	if err := scanner.Err(); err != nil {
		return Config{}, nil, tdberr.Config("error reading config file %s: %v", path, err)
	}
	if len(raw) == 0 {
		return Config{}, nil, tdberr.Config("config file %s is empty", path)
	}

	return validate(raw)
}

func validate(raw map[string]string) (Config, []string, error) {
	var warnings []string

	cfg := Config{
		MaxCacheSize:   defaultMaxCacheSize,
		MaxConnections: defaultMaxConnections,
		QueryTimeoutMS: defaultQueryTimeoutMS,
	}

	database, ok := raw["database"]
	if !ok || database == "" {
		return Config{}, nil, tdberr.Config("required field %q is missing", "database")
	}
	cfg.Database = database

	key, ok := raw["encryptionKey"]
	if !ok || key == "" {
		return Config{}, nil, tdberr.Config("required field %q is missing", "encryptionKey")
	}
	cfg.EncryptionKey = key
	if len(key) < minRecommendedKeyLen {
		warnings = append(warnings, fmt.Sprintf("encryptionKey is %d characters; 32 or more is recommended", len(key)))
	}

	mode, ok := raw["mode"]
	if !ok || mode == "" {
		return Config{}, nil, tdberr.Config("required field %q is missing", "mode")
	}
	switch Mode(mode) {
	case ModePlain, ModeEncrypted:
		cfg.Mode = Mode(mode)
	default:
		return Config{}, nil, tdberr.Config("field %q must be %q or %q, got %q", "mode", ModePlain, ModeEncrypted, mode)
	}

	role, ok := raw["role"]
	if !ok || role == "" {
		return Config{}, nil, tdberr.Config("required field %q is missing", "role")
	}
	cfg.Role = role

	if v, ok := raw["maxCacheSize"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, nil, tdberr.Config("field %q must be an integer, got %q", "maxCacheSize", v)
		}
		cfg.MaxCacheSize = n
	}

	if v, ok := raw["maxConnections"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, nil, tdberr.Config("field %q must be an integer, got %q", "maxConnections", v)
		}
		cfg.MaxConnections = n
	}

	if v, ok := raw["queryTimeout"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, nil, tdberr.Config("field %q must be an integer, got %q", "queryTimeout", v)
		}
		cfg.QueryTimeoutMS = n
	}

	return cfg, warnings, nil
}
