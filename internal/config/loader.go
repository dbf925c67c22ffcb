package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"gopkg.in/yaml.v3"
)

// sections lists the per-section file names looked up in the config dir.
var sections = []string{"server", "security", "pubsub", "relay", "log"}

func LoadAppConfig(dir string, opts ...Option) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	var rawServer RawServerConfig
	if err := loadFileInto(dir, "server", &rawServer); err != nil {
		return nil, err
	}
	mergeInto(&cfg.Server, rawServer.ToDomain())

	var rawSec RawSecurityConfig
	if err := loadFileInto(dir, "security", &rawSec); err != nil {
		return nil, err
	}
	parsedSec, err := rawSec.ToDomain()
	if err != nil {
		return nil, err
	}
	mergeInto(&cfg.Security, parsedSec)

	var rawPubSub RawPubSubConfig
	if err := loadFileInto(dir, "pubsub", &rawPubSub); err != nil {
		return nil, err
	}
	mergeInto(&cfg.PubSub, rawPubSub.ToDomain())

	var rawRelay RawRelayConfig
	if err := loadFileInto(dir, "relay", &rawRelay); err != nil {
		return nil, err
	}
	parsedRelay, err := rawRelay.ToDomain()
	if err != nil {
		return nil, err
	}
	mergeInto(&cfg.Relay, parsedRelay)

	var rawLog RawLogConfig
	if err := loadFileInto(dir, "log", &rawLog); err != nil {
		return nil, err
	}
	mergeInto(&cfg.Log, rawLog.ToDomain())

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Relay.WatchdogInterval > 0 && cfg.Relay.GraceWindow%cfg.Relay.WatchdogInterval != 0 {
		return nil, fmt.Errorf("graceWindow (%d) must be a multiple of watchdogInterval (%d)",
			cfg.Relay.GraceWindow, cfg.Relay.WatchdogInterval)
	}

	return &cfg, nil
}

func loadFileInto(dir, filenameBase string, target any) error {
	basePath := filepath.Join(dir, filenameBase)

	if f, err := os.Open(basePath + ".yaml"); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(target); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Warn("config file is empty, using defaults", "file", basePath+".yaml")
				return nil
			}
			return fmt.Errorf("failed to decode %s.yaml: %w", basePath, err)
		}
		return nil
	}

	if f, err := os.Open(basePath + ".json"); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(target); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Warn("config file is empty, using defaults", "file", basePath+".json")
				return nil
			}
			return fmt.Errorf("failed to decode %s.json: %w", basePath, err)
		}
		return nil
	}

	return nil
}

// mergeInto copies every non-zero field of src over dst. dst must be a
// pointer to a struct of the same type as src.
func mergeInto(dst, src any) {
	dstVal := reflect.ValueOf(dst).Elem()
	srcVal := reflect.ValueOf(src)

	mergeValues(dstVal, srcVal)
}

func mergeValues(dstVal, srcVal reflect.Value) {
	for i := 0; i < srcVal.NumField(); i++ {
		srcField := srcVal.Field(i)
		dstField := dstVal.Field(i)

		switch srcField.Kind() {
		case reflect.Struct:
			mergeValues(dstField, srcField)
		case reflect.Slice:
			if !srcField.IsNil() && srcField.Len() > 0 {
				dstField.Set(srcField)
			}
		case reflect.Pointer:
			if !srcField.IsNil() {
				dstField.Set(srcField)
			}
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}
}
