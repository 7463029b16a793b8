// Package httpx 封装 JSON 与 SSE 形式的 HTTP 调用，供模型代理与向量化客户端使用。
package httpx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// maxResponseBodySize 错误响应体的读取上限
const maxResponseBodySize int64 = 10 * 1024 * 1024

// maxSSELineSize 单行 SSE 数据的上限
const maxSSELineSize = 1024 * 1024

// StatusError 非 2xx 响应。
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status %d: %s", e.StatusCode, e.Body)
}

// Request 一次 HTTP 调用的参数。
type Request struct {
	Method  string
	URL     string
	APIKey  string
	Body    any
	Headers map[string]string
	Stream  bool
}

func (r *Request) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.Body != nil {
		raw, err := sonic.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	method := r.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Do 发送请求，成功时返回仍未关闭的响应，非 2xx 时读取响应体并返回 *StatusError。
func Do(ctx context.Context, client *http.Client, r *Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer CloseWithLog(resp.Body)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// DoJSON 发送请求并把响应体解码为 T。
func DoJSON[T any](ctx context.Context, client *http.Client, r *Request) (*T, error) {
	resp, err := Do(ctx, client, r)
	if err != nil {
		return nil, err
	}
	defer CloseWithLog(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := new(T)
	if err = sonic.Unmarshal(raw, out); err != nil {
		preview := string(raw)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, preview)
	}
	return out, nil
}

// CloseWithLog 关闭 c，失败时只记录日志。
func CloseWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err)
	}
}

// SSEScanner 读取 Server-Sent Events 中的 data 字段。
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner 创建 SSE 读取器。
func NewSSEScanner(r io.Reader) *SSEScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &SSEScanner{scanner: scanner}
}

// Next 返回下一条事件的数据，多行 data 以换行拼接。
// 遇到 [DONE] 或数据读完时返回 io.EOF。
func (s *SSEScanner) Next() (string, error) {
	var lines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(lines) > 0 {
				return strings.Join(lines, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				return "", io.EOF
			}
			lines = append(lines, data)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("sse scanner: %w", err)
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n"), nil
	}
	return "", io.EOF
}

// WriteSSE 以 SSE 格式写出一条数据并刷新。
func WriteSSE(w io.Writer, data string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
