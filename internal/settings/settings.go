// Package settings stores the app's named preferences under a single key.
package settings

import (
	"context"
	"errors"
	"fmt"

	"nexchat/internal/kvstore"
)

const Key = "app_settings"

const (
	SaveChat          = "saveChat"
	PushNotifications = "pushNotifications"
	DarkMode          = "darkMode"
)

type Settings map[string]any

func Defaults() Settings {
	return Settings{SaveChat: true, PushNotifications: true, DarkMode: true}
}

// Load returns the stored settings layered over Defaults.
func Load(ctx context.Context, store kvstore.Store) (Settings, error) {
	out := Defaults()
	var stored Settings
	err := kvstore.GetJSON(ctx, store, Key, &stored)
	if errors.Is(err, kvstore.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Set merges a single flag into the stored settings.
func Set(ctx context.Context, store kvstore.Store, key string, value any) error {
	switch value.(type) {
	case bool, string:
	default:
		return fmt.Errorf("settings: unsupported value type %T for %q", value, key)
	}

	stored := Settings{}
	err := kvstore.GetJSON(ctx, store, Key, &stored)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return err
	}
	if stored == nil {
		stored = Settings{}
	}
	stored[key] = value
	return kvstore.SetJSON(ctx, store, Key, stored)
}

func (s Settings) Bool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}
