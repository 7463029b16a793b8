package component

import (
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// AppConfig 以点分键保存的全局配置，例如 gptdb.serve.flow.api_keys。
type AppConfig struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewAppConfig 创建配置存储，initial 会被复制。
func NewAppConfig(initial map[string]any) *AppConfig {
	c := &AppConfig{values: make(map[string]any, len(initial))}
	maps.Copy(c.values, initial)
	return c
}

// Set 设置配置项，已存在时覆盖。
func (c *AppConfig) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get 读取配置项。
func (c *AppConfig) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetString 读取字符串配置，缺失时返回 def。
func (c *AppConfig) GetString(key, def string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// GetInt 读取整数配置，缺失或无法解析时返回 def。
func (c *AppConfig) GetInt(key string, def int) int {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// GetAllByPrefix 返回以 prefix 开头的所有配置，键去掉前缀。
func (c *AppConfig) GetAllByPrefix(prefix string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any)
	for k, v := range c.values {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			out[rest] = v
		}
	}
	return out
}

// Keys 排序后的全部键。
func (c *AppConfig) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
