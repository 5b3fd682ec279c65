// Package config implements Constellation's Configuration: a Dictionary
// plus an access-tracking set recording which keys a satellite has actually
// consulted, so unused configuration (typos, leftover keys from a previous
// run) can be flagged back to the operator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/constellation-daq/constellation-core/dictionary"
	"github.com/constellation-daq/constellation-core/typeconv"
)

// Configuration wraps an ordered Dictionary with per-key used-tracking.
// Safe for concurrent use: a satellite's CSCP handler and its running()
// worker may both read configuration.
type Configuration struct {
	mu   sync.RWMutex
	dict *dictionary.Dictionary
	used map[string]bool
}

// New builds an empty Configuration.
func New() *Configuration {
	return &Configuration{dict: dictionary.New(), used: make(map[string]bool)}
}

// FromDictionary wraps an existing Dictionary (e.g. decoded from a CSCP
// initialize/reconfigure payload) as a Configuration. d is not copied.
func FromDictionary(d *dictionary.Dictionary) *Configuration {
	if d == nil {
		d = dictionary.New()
	}
	return &Configuration{dict: d, used: make(map[string]bool)}
}

// Set inserts or updates key, without affecting its used-tracking state.
func (c *Configuration) Set(key string, v dictionary.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dict.Set(key, v)
}

// Has reports whether key is present, without marking it used.
func (c *Configuration) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dict.Has(key)
}

func (c *Configuration) markUsed(key string) {
	c.used[key] = true
}

// GetString returns key as a string, marking it used. Returns MissingKeyError
// if absent, InvalidTypeError if the stored Value does not convert.
func (c *Configuration) GetString(key string) (string, error) {
	v, err := c.get(key)
	if err != nil {
		return "", err
	}
	s, ok := typeconv.SafeString(v)
	if !ok {
		return "", NewInvalidTypeError(key, "string")
	}
	return s, nil
}

// GetStringDefault is GetString with a fallback for a missing key. A present
// but wrongly-typed key still returns InvalidTypeError.
func (c *Configuration) GetStringDefault(key, def string) (string, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.GetString(key)
}

// GetInt returns key as an int64, marking it used.
func (c *Configuration) GetInt(key string) (int64, error) {
	v, err := c.get(key)
	if err != nil {
		return 0, err
	}
	i, ok := typeconv.SafeInt(v)
	if !ok {
		return 0, NewInvalidTypeError(key, "int")
	}
	return i, nil
}

// GetIntDefault is GetInt with a fallback for a missing key.
func (c *Configuration) GetIntDefault(key string, def int64) (int64, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.GetInt(key)
}

// GetFloat returns key as a float64, marking it used.
func (c *Configuration) GetFloat(key string) (float64, error) {
	v, err := c.get(key)
	if err != nil {
		return 0, err
	}
	f, ok := typeconv.SafeFloat(v)
	if !ok {
		return 0, NewInvalidTypeError(key, "float")
	}
	return f, nil
}

// GetFloatDefault is GetFloat with a fallback for a missing key.
func (c *Configuration) GetFloatDefault(key string, def float64) (float64, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.GetFloat(key)
}

// GetBool returns key as a bool, marking it used.
func (c *Configuration) GetBool(key string) (bool, error) {
	v, err := c.get(key)
	if err != nil {
		return false, err
	}
	b, ok := typeconv.SafeBool(v)
	if !ok {
		return false, NewInvalidTypeError(key, "bool")
	}
	return b, nil
}

// GetBoolDefault is GetBool with a fallback for a missing key.
func (c *Configuration) GetBoolDefault(key string, def bool) (bool, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.GetBool(key)
}

// GetTime returns key as a time.Time, marking it used.
func (c *Configuration) GetTime(key string) (time.Time, error) {
	v, err := c.get(key)
	if err != nil {
		return time.Time{}, err
	}
	t, ok := typeconv.SafeTime(v)
	if !ok {
		return time.Time{}, NewInvalidTypeError(key, "time")
	}
	return t, nil
}

// GetSequence returns key as a List, marking it used. Every element of a
// homogeneous vector Value qualifies equally as a List element.
func (c *Configuration) GetSequence(key string) (dictionary.List, error) {
	v, err := c.get(key)
	if err != nil {
		return nil, err
	}
	l, ok := typeconv.SafeList(v)
	if !ok {
		return nil, NewInvalidTypeError(key, "sequence")
	}
	return l, nil
}

// get fetches key, marking it used on success.
func (c *Configuration) get(key string) (dictionary.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.dict.Get(key)
	if !ok {
		return dictionary.Value{}, NewMissingKeyError(key)
	}
	c.markUsed(key)
	return v, nil
}

// SetAlias copies old's value to new if new is absent and old is present,
// marking old used. Does nothing if new already exists or old is absent.
func (c *Configuration) SetAlias(newKey, oldKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dict.Has(newKey) {
		return
	}
	v, ok := c.dict.Get(oldKey)
	if !ok {
		return
	}
	c.dict.Set(newKey, v)
	c.markUsed(oldKey)
}

// Merge overwrites c's entries with every key present in other, appending
// keys other introduces. Does not affect used-tracking.
func (c *Configuration) Merge(other *Configuration) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	other.dict.Range(func(k string, v dictionary.Value) bool {
		c.dict.Set(k, v)
		return true
	})
}

// GetAll returns a Dictionary snapshot excluding keys starting with "_".
func (c *Configuration) GetAll() *dictionary.Dictionary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := dictionary.New()
	c.dict.Range(func(k string, v dictionary.Value) bool {
		if !strings.HasPrefix(k, "_") {
			out.Set(k, v)
		}
		return true
	})
	return out
}

// GetUnusedKeys returns the keys that have never been consulted through a
// typed getter, in Dictionary order.
func (c *Configuration) GetUnusedKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, k := range c.dict.Keys() {
		if !c.used[k] {
			out = append(out, k)
		}
	}
	return out
}

// GetPath resolves key as a filesystem path. Relative paths are resolved
// against the process working directory and the result is cleaned. When
// checkExists is true, symlinks are also resolved, and InvalidValueError is
// returned if the path does not exist.
func (c *Configuration) GetPath(key string, checkExists bool) (string, error) {
	raw, err := c.GetString(key)
	if err != nil {
		return "", err
	}
	abs := raw
	if !filepath.IsAbs(abs) {
		wd, err := os.Getwd()
		if err != nil {
			return "", NewInvalidValueError(key, fmt.Sprintf("resolve working directory: %v", err))
		}
		abs = filepath.Join(wd, abs)
	}
	abs = filepath.Clean(abs)
	if checkExists {
		if _, err := os.Stat(abs); err != nil {
			return "", NewInvalidValueError(key, fmt.Sprintf("path does not exist: %s", abs))
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", NewInvalidValueError(key, fmt.Sprintf("resolve symlinks: %v", err))
		}
		abs = resolved
	}
	return abs, nil
}
