package roompush

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"realtime-room/internal/config"
)

func ConfigFromEnv(cfg config.PushConfig) (Config, error) {
	out := Config{
		Enabled:             cfg.Enabled,
		ConfigPath:          strings.TrimSpace(cfg.ConfigPath),
		ConfigReload:        cfg.ConfigReload,
		Workers:             cfg.Workers,
		RetryMax:            cfg.RetryMax,
		RetryBase:           cfg.RetryBase,
		FailureThreshold:    cfg.FailureThreshold,
		CircuitOpenDuration: cfg.CircuitOpen,
		RequestTimeout:      cfg.RequestTimeout,
		DispatchBuffer:      2048,
	}
	if !out.Enabled {
		return out, nil
	}

	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.RetryMax < 0 {
		out.RetryMax = 0
	}
	if out.RetryBase <= 0 {
		out.RetryBase = 500 * time.Millisecond
	}
	if out.ConfigReload <= 0 {
		out.ConfigReload = time.Second
	}

	jsonRaw, err := loadTargetsJSON(cfg)
	if err != nil {
		return Config{}, err
	}
	if jsonRaw == "" {
		return out, nil
	}
	targets, err := parseTargetsJSON(jsonRaw)
	if err != nil {
		return Config{}, err
	}
	out.Targets = targets
	return out, nil
}

// loadTargetsJSON prefers the config file over the inline env value.
func loadTargetsJSON(cfg config.PushConfig) (string, error) {
	path := strings.TrimSpace(cfg.ConfigPath)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read push config path %q: %w", path, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return strings.TrimSpace(cfg.ConfigJSON), nil
}

func parseTargetsJSON(jsonRaw string) ([]PushTarget, error) {
	var targets []PushTarget
	if err := json.Unmarshal([]byte(jsonRaw), &targets); err != nil {
		return nil, fmt.Errorf("parse push targets: %w", err)
	}
	filtered := make([]PushTarget, 0, len(targets))
	for _, target := range targets {
		target.Platform = strings.ToLower(strings.TrimSpace(target.Platform))
		target.ScopeType = strings.ToLower(strings.TrimSpace(target.ScopeType))
		if target.ScopeType == "" {
			target.ScopeType = "room"
		}
		if target.ScopeType != "room" && target.ScopeType != "all" {
			continue
		}
		target.Endpoint = strings.TrimSpace(target.Endpoint)
		if target.Endpoint == "" || !target.Enabled {
			continue
		}
		for i := range target.EventAllowlist {
			target.EventAllowlist[i] = strings.TrimSpace(strings.ToLower(target.EventAllowlist[i]))
		}
		filtered = append(filtered, target)
	}
	return filtered, nil
}
