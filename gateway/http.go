package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/tidwall/gjson"

	"github.com/gogogo1024/custody-ledger/biz/metrics"
)

const secretHeader = "X-Internal-Secret"

// httpCaller 对 hertz client 的一层薄封装：JSON 请求、共享密钥、耗时统计
type httpCaller struct {
	cli     *client.Client
	baseURL string
	secret  string
	timeout time.Duration
}

func newHTTPCaller(baseURL, secret string, timeout time.Duration) (*httpCaller, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cli, err := client.NewClient(client.WithDialTimeout(3 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("create hertz client: %w", err)
	}
	return &httpCaller{cli: cli, baseURL: baseURL, secret: secret, timeout: timeout}, nil
}

// call 发送请求，非 2xx 时返回带 error 字段的错误；返回的 body 已拷贝，可在释放响应后使用
func (h *httpCaller) call(ctx context.Context, op, method, path string, body any) (gjson.Result, error) {
	start := time.Now()
	res, err := h.do(ctx, method, path, body)
	metrics.ObserveGateway(op, err == nil, time.Since(start))
	return res, err
}

func (h *httpCaller) do(ctx context.Context, method, path string, body any) (gjson.Result, error) {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer func() {
		protocol.ReleaseRequest(req)
		protocol.ReleaseResponse(resp)
	}()

	req.SetRequestURI(h.baseURL + path)
	req.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if h.secret != "" {
		req.Header.Set(secretHeader, h.secret)
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentTypeBytes([]byte("application/json"))
		req.SetBody(b)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(h.timeout)
	}
	if err := h.cli.DoDeadline(ctx, req, resp, deadline); err != nil {
		return gjson.Result{}, fmt.Errorf("send %s %s: %w", method, path, err)
	}

	raw := string(resp.Body())
	status := resp.StatusCode()
	if status < consts.StatusOK || status >= consts.StatusMultipleChoices {
		msg := gjson.Get(raw, "error").String()
		if msg == "" {
			msg = raw
		}
		return gjson.Result{}, &StatusError{Status: status, Message: msg}
	}
	if raw != "" && !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s %s", ErrBadResponse, method, path)
	}
	return gjson.Parse(raw), nil
}

// StatusError 对端返回的非 2xx 响应
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Message)
}

// Permanent 4xx 表示请求本身被拒绝，重试没有意义
func (e *StatusError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500
}
