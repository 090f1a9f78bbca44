package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/znsio/pubsub-relay-go/internal/config"
	"github.com/znsio/pubsub-relay-go/internal/emulator"
)

var ErrRequestFailed = errors.New("pubsub request failed")

// PubsubClient talks to the Pub/Sub REST v1 API, or to an emulator when
// one is configured.
type PubsubClient struct {
	BaseURL   string
	Project   string
	AuthToken string

	http *resty.Client
}

func NewPubsubClient(baseURL, project, authToken string) *PubsubClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")
	if authToken != "" {
		client.SetAuthToken(authToken)
	}
	return &PubsubClient{BaseURL: baseURL, Project: project, AuthToken: authToken, http: client}
}

// NewPubsubClientFromConfig picks the emulator endpoint when configured.
// The emulator takes no credentials.
func NewPubsubClientFromConfig(cfg *config.Config) *PubsubClient {
	if cfg.UsesEmulator() {
		return NewPubsubClient("http://"+emulator.NormalizeHost(cfg.PubsubEmulatorHost), cfg.PubsubProject, "")
	}
	return NewPubsubClient(cfg.PubsubEndpoint, cfg.PubsubProject, cfg.PubsubToken)
}

func (c *PubsubClient) topicPath(topic string) string {
	return fmt.Sprintf("/v1/projects/%s/topics/%s", url.PathEscape(c.Project), url.PathEscape(topic))
}

func (c *PubsubClient) subscriptionPath(subscription string) string {
	return fmt.Sprintf("/v1/projects/%s/subscriptions/%s", url.PathEscape(c.Project), url.PathEscape(subscription))
}

func (c *PubsubClient) post(ctx context.Context, path string, body interface{}) (*resty.Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("error making request to %s: %w", path, err)
	}
	if resp.IsError() {
		return resp, fmt.Errorf("%w: %s returned %s: %s", ErrRequestFailed, path, resp.Status(), resp.String())
	}
	return resp, nil
}
