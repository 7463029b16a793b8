package core

import (
	"net/http"
	"strings"
)

// ParseAPIKeys 按逗号切分并去掉空白与空项。
func ParseAPIKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// invalidAPIKeyBody 401 响应体
const invalidAPIKeyBody = `{"detail":{"error":{"message":"","type":"invalid_request_error","param":null,"code":"invalid_api_key"}}}`

// CheckAPIKey 配置了 key 时校验 Bearer token，未配置时全部放行。
func CheckAPIKey(apiKeys string) func(http.Handler) http.Handler {
	keys := make(map[string]struct{})
	for _, k := range ParseAPIKeys(apiKeys) {
		keys[k] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := keys[bearerToken(r)]; !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(invalidAPIKeyBody))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
