package config

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
)

var (
	configV2Path string
	flagMapMu    sync.RWMutex
	allFlags     map[string]any = make(map[string]any)
)

// ErrUnknownFlag is returned by SetFlag for names that were never registered.
var ErrUnknownFlag = errors.New("unknown flag")

type configFlag interface {
	getPtr() any
	sneakUpdate(newVal any) error
	info() FlagInfo
}

type Flag[T any] interface {
	Value() T
}

// FlagInfo is a snapshot of one runtime flag.
type FlagInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Value       any    `json:"value"`
}

type flag[T any] struct {
	mu        sync.RWMutex
	name      string
	val       T
	humanName string
}

func (f *flag[T]) Value() T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.val
}

func (f *flag[T]) info() FlagInfo {
	return FlagInfo{Name: f.name, Description: f.humanName, Value: f.Value()}
}

func (f *flag[T]) getPtr() any {
	return &f.val
}

func (f *flag[T]) sneakUpdate(newVal any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch v := newVal.(type) {
	case json.RawMessage:
		var val T
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("invalid value, flag expects %T", f.val)
		}
		f.val = val
		return nil
	default:
		return fmt.Errorf("expected json.RawMessage, got %T", newVal)
	}
}

// GenFlag registers a runtime flag. Flags are persisted to the JSON file set by SetConfigV2Path
// and can be overridden at startup through KR_FLAG_OVERRIDES="key=value,key2=value2".
func GenFlag[T any](name string, defaultVal T, readableName string) Flag[T] {
	flagMapMu.Lock()
	defer flagMapMu.Unlock()
	f := &flag[T]{name: name, val: defaultVal, humanName: readableName}
	allFlags[name] = f
	return f
}

// Flags returns every registered flag, sorted by name.
func Flags() []FlagInfo {
	flagMapMu.RLock()
	defer flagMapMu.RUnlock()
	flags := make([]FlagInfo, 0, len(allFlags))
	for _, flg := range allFlags {
		if v, ok := flg.(configFlag); ok {
			flags = append(flags, v.info())
		}
	}
	slices.SortFunc(flags, func(a, b FlagInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return flags
}

// SetFlag decodes val into the named flag and persists all flags when a path is set.
func SetFlag(ctx context.Context, name string, val json.RawMessage) (FlagInfo, error) {
	flagMapMu.RLock()
	flg, ok := allFlags[name].(configFlag)
	flagMapMu.RUnlock()
	if !ok {
		return FlagInfo{}, fmt.Errorf("%q: %w", name, ErrUnknownFlag)
	}
	if err := flg.sneakUpdate(val); err != nil {
		return FlagInfo{}, err
	}
	if configV2Path != "" {
		if err := SaveConfigV2(ctx); err != nil {
			slog.WarnContext(ctx, "Couldn't save flags", slog.String("flag", name), slog.Any("err", err))
		}
	}
	return flg.info(), nil
}

func LoadConfigV2(ctx context.Context, skipUnknown bool) error {
	flagMapMu.RLock()
	defer flagMapMu.RUnlock()
	if configV2Path == "" {
		return errors.New("invalid config path")
	}
	f, err := os.OpenFile(configV2Path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	var data = make(map[string]json.RawMessage)
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	for key, confVal := range data {
		// Do sneak update
		val, ok := allFlags[key]
		if !ok {
			if skipUnknown {
				slog.WarnContext(ctx, "Unknown config key", slog.String("key", key))
			}
			continue
		}
		if v, ok := val.(configFlag); ok {
			if err := v.sneakUpdate(confVal); err != nil {
				slog.WarnContext(ctx, "Couldn't update key", slog.String("key", key), slog.Any("err", err))
			}
		} else {
			slog.WarnContext(ctx, "Could not sneak update")
		}
	}

	overrides := strings.Split(os.Getenv("KR_FLAG_OVERRIDES"), ",")
	for _, override := range overrides {
		if override == "" {
			continue
		}
		key, val, found := strings.Cut(override, "=")
		if !found {
			slog.WarnContext(ctx, "Invalid override", slog.String("override", override))
			continue
		}
		flg, ok := allFlags[key]
		if !ok {
			slog.WarnContext(ctx, "Could not find flag", slog.String("name", key))
			continue
		}
		switch f := flg.(type) {
		case *flag[string]:
			// Strings are a bit special since they don't like the fact that overrides may not have quotes
			f.mu.Lock()
			f.val = val
			f.mu.Unlock()
		case configFlag:
			if err := json.Unmarshal([]byte(val), f.getPtr()); err != nil {
				slog.WarnContext(ctx, "Invalid flag override", slog.Any("err", err), slog.String("key", key))
			}
		default:
			slog.WarnContext(ctx, "Unknown flag type")
		}
	}

	return nil
}

func SaveConfigV2(ctx context.Context) error {
	if configV2Path == "" {
		return errors.New("invalid config path")
	}
	// Make the directories just in case they don't exist
	if err := os.MkdirAll(filepath.Dir(configV2Path), 0755); err != nil {
		return err
	}
	flagMapMu.RLock()
	defer flagMapMu.RUnlock()

	file, err := os.Create(configV2Path)
	if err != nil {
		return err
	}

	var data = make(map[string]any)
	for key, flg := range allFlags {
		switch v := flg.(type) {
		case configFlag:
			data[key] = v.getPtr()
		default:
			slog.WarnContext(ctx, "Unknown flag type", slog.Any("type", reflect.TypeOf(v)))
		}
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "\t")
	if err := enc.Encode(data); err != nil {
		file.Close() // We don't care if it errors out, the JSON is errored
		return err
	}

	return file.Close()
}

func SetConfigV2Path(path string) {
	configV2Path = path
}
