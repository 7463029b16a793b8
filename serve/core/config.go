package core

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/favbox/gptdb/component"
)

// GlobalAPIKeysKey 全局 API key 配置项
const GlobalAPIKeysKey = "gptdb.app.global.api_keys"

// BaseServeConfig 各 serve 应用的公共配置。
type BaseServeConfig struct {
	// APIKeys 逗号分隔，为空时放行所有请求
	APIKeys string `config:"api_keys"`
}

// FromAppConfig 以 prefix+标签名 读取配置写入 dst 的 config 标签字段，
// 支持嵌入结构体；api_keys 为空时取全局配置。
func FromAppConfig(cfg *component.AppConfig, prefix string, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w: config destination must be a struct pointer", ErrInvalidArgument)
	}
	if err := fill(cfg, prefix, v.Elem()); err != nil {
		return err
	}
	if base := findBase(v.Elem()); base != nil && base.APIKeys == "" {
		base.APIKeys = cfg.GetString(GlobalAPIKeysKey, "")
	}
	return nil
}

func fill(cfg *component.AppConfig, prefix string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fv := v.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			if err := fill(cfg, prefix, fv); err != nil {
				return err
			}
			continue
		}
		key := f.Tag.Get("config")
		if key == "" || !f.IsExported() {
			continue
		}
		raw, ok := cfg.Get(prefix + key)
		if !ok || raw == nil {
			continue
		}
		if err := assign(fv, raw); err != nil {
			return fmt.Errorf("config %s%s: %w", prefix, key, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func assign(fv reflect.Value, raw any) error {
	s := fmt.Sprint(raw)
	switch {
	case fv.Type() == durationType:
		d, err := time.ParseDuration(s)
		if err != nil {
			// 纯数字按秒计
			n, nerr := strconv.ParseFloat(s, 64)
			if nerr != nil {
				return err
			}
			d = time.Duration(n * float64(time.Second))
		}
		fv.SetInt(int64(d))
	case fv.Kind() == reflect.String:
		fv.SetString(s)
	case fv.CanInt():
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		fv.SetInt(int64(n))
	case fv.Kind() == reflect.Float64 || fv.Kind() == reflect.Float32:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(n)
	case fv.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}

func findBase(v reflect.Value) *BaseServeConfig {
	if b, ok := v.Addr().Interface().(*BaseServeConfig); ok {
		return b
	}
	for i := 0; i < v.NumField(); i++ {
		if v.Type().Field(i).Anonymous && v.Field(i).Kind() == reflect.Struct {
			if b := findBase(v.Field(i)); b != nil {
				return b
			}
		}
	}
	return nil
}
