// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Resolver 把逻辑服务名解析为一个健康实例（nacos 实现）
type Resolver interface {
	DiscoverServiceInstance(serviceName string) (string, int, error)
}

// StatusError 表示下游返回了非 2xx 状态
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Client 是一个可追踪的、可注入的 HTTP 客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client

	resolver Resolver
	// 服务发现不可用时的静态地址，例如 "order-service" -> "http://localhost:8091"
	fallback map[string]string
}

// NewClient 创建客户端。不设置 Timeout，超时完全由每次请求的 context 控制。
func NewClient(tracer trace.Tracer, resolver Resolver, fallback map[string]string) *Client {
	return &Client{
		Tracer: tracer,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		resolver: resolver,
		fallback: fallback,
	}
}

func (c *Client) baseURL(service string) (string, error) {
	if c.resolver != nil {
		host, port, err := c.resolver.DiscoverServiceInstance(service)
		if err == nil {
			return "http://" + host + ":" + strconv.Itoa(port), nil
		}
		if _, ok := c.fallback[service]; !ok {
			return "", err
		}
	}
	if u, ok := c.fallback[service]; ok {
		return strings.TrimRight(u, "/"), nil
	}
	return "", fmt.Errorf("no address known for service %q", service)
}

// PostJSON 向 service 的 path 发送 JSON 请求体，并把 JSON 响应解码到 out（可为 nil）
func (c *Client) PostJSON(ctx context.Context, service, path string, in, out interface{}) error {
	ctx, span := c.Tracer.Start(ctx, "call-"+service, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	base, err := c.baseURL(service)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "service resolution failed")
		return errors.Wrapf(err, "resolve %s", service)
	}

	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	target := base + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", http.MethodPost),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "call %s%s", service, path)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &StatusError{Service: service, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return errors.Wrapf(err, "decode %s response", service)
	}
	return nil
}
