package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
)

const defaultSMSTimeout = 10 * time.Second

type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type smsResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// HTTPSMSProvider posts reminders to an HTTP SMS gateway.
type HTTPSMSProvider struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPSMSProvider(endpoint string) (*HTTPSMSProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSMSTimeout)

	return NewHTTPSMSProviderWithClient(endpoint, client)
}

func NewHTTPSMSProviderWithClient(endpoint string, client *resty.Client) (*HTTPSMSProvider, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("sms provider endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid sms provider endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSMSTimeout)
	}
	client.SetRetryCount(0)
	client.JSONMarshal = json.Marshal
	client.JSONUnmarshal = json.Unmarshal

	return &HTTPSMSProvider{
		client:   client,
		endpoint: trimmed,
	}, nil
}

func (p *HTTPSMSProvider) Send(ctx context.Context, phone, message string) (*ProviderResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(phone) == "" || strings.TrimSpace(message) == "" {
		return nil, &ProviderError{Message: "phone and message are required"}
	}

	var result smsResponse
	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(smsRequest{To: phone, Message: message}).
		SetResult(&result).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{Message: "provider returned empty response", Transient: true}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, statusError(statusCode, body)
	}

	return &ProviderResponse{
		StatusCode: statusCode,
		Body:       body,
		MessageID:  messageID(result, response),
	}, nil
}

func messageID(result smsResponse, response *resty.Response) string {
	for _, id := range []string{result.MessageID, result.ID} {
		if v := strings.TrimSpace(id); v != "" {
			return v
		}
	}
	for _, key := range []string{"X-Message-ID", "X-Request-ID"} {
		if v := strings.TrimSpace(response.Header().Get(key)); v != "" {
			return v
		}
	}
	return ""
}
