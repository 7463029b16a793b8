package generic

import (
	"reflect"
	"regexp"
	"runtime"
	"strings"
)

// TypeOf 返回 T 的 reflect.Type。
//
// 示例:
//
//	TypeOf[int]()     // reflect.TypeOf(int)
//	TypeOf[*int]()    // reflect.TypeOf(*int)
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// PtrOf 返回传入值 v 的指针。
func PtrOf[T any](v T) *T {
	return &v
}

// Reverse 返回元素顺序反转的新切片。
func Reverse[S ~[]E, E any](s S) S {
	d := make(S, len(s))
	for i := 0; i < len(s); i++ {
		d[i] = s[len(s)-1-i]
	}
	return d
}

// Dedup 按首次出现的顺序去重。
func Dedup[S ~[]E, E comparable](s S) S {
	seen := make(map[E]struct{}, len(s))
	out := make(S, 0, len(s))
	for _, e := range s {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

var (
	regOfAnonymousFunc = regexp.MustCompile(`^func[0-9]+`)
	regOfNumber        = regexp.MustCompile(`^\d+$`)
)

// ParseTypeName 返回值的类型名称。
// 自动解引用指针类型；函数类型返回函数名，匿名函数返回空串。
//
// 示例:
//
//	ParseTypeName(reflect.ValueOf(&MapOperator{}))   // "MapOperator"
//	ParseTypeName(reflect.ValueOf(strings.ToUpper))  // "ToUpper"
func ParseTypeName(val reflect.Value) string {
	typ := val.Type()

	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	if typ.Kind() == reflect.Func {
		funcName := runtime.FuncForPC(val.Pointer()).Name()
		idx := strings.LastIndex(funcName, ".")
		if idx < 0 {
			return funcName
		}

		name := funcName[idx+1:]
		if regOfAnonymousFunc.MatchString(name) || regOfNumber.MatchString(name) {
			return ""
		}
		return name
	}

	return typ.Name()
}
