package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"

	"vocab-agent/internal/usecase"
)

var errBodyEncoding = errors.New("handler: body is not valid base64")

// Handle serves an API Gateway proxy event through the HTTP router.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	w := &proxyResponseWriter{header: http.Header{}}
	req, err := newRequest(ctx, event)
	if errors.Is(err, errBodyEncoding) {
		writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body")
		return w.response(), nil
	}
	if err != nil {
		return events.APIGatewayProxyResponse{}, err
	}
	h.ServeHTTP(w, req)
	return w.response(), nil
}

func newRequest(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errBodyEncoding, err)
		}
		body = decoded
	}

	u := url.URL{Path: event.Path}
	query := url.Values{}
	for k, vs := range event.MultiValueQueryStringParameters {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	for k, v := range event.QueryStringParameters {
		if _, ok := query[k]; !ok {
			query.Set(k, v)
		}
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, event.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("handler: build request: %w", err)
	}
	for k, vs := range event.MultiValueHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, v := range event.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	if req.Header.Get(headerCorrelationID) == "" && event.RequestContext.RequestID != "" {
		req.Header.Set(headerCorrelationID, event.RequestContext.RequestID)
	}
	req.ContentLength = int64(len(body))
	return req, nil
}

type proxyResponseWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (w *proxyResponseWriter) Header() http.Header { return w.header }

func (w *proxyResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *proxyResponseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
}

func (w *proxyResponseWriter) response() events.APIGatewayProxyResponse {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(map[string]string, len(w.header))
	for k, vs := range w.header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode:        status,
		Headers:           headers,
		MultiValueHeaders: map[string][]string(w.header),
		Body:              w.body.String(),
	}
}
