// Copyright (c) 2025 the homewatt authors
// Licensed under the MIT License

// Package tibber is the GraphQL client for the provider's cloud API.
package tibber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/homewatt/homewatt/live"
	hwerrors "github.com/homewatt/homewatt/pkg/errors"
	"github.com/homewatt/homewatt/pkg/interfaces"
	"github.com/homewatt/homewatt/pkg/logger"
	"github.com/homewatt/homewatt/prices"
)

const (
	// DefaultAPIURL is the provider's GraphQL endpoint.
	DefaultAPIURL = "https://api.tibber.com/v1-beta/gql"

	// tokenSettingsKey is where the settings store keeps the access
	// token. The token is re-read on every request so a rotation takes
	// effect without a restart.
	tokenSettingsKey = "token"

	requestTimeout = 5 * time.Minute
)

// Client talks to the provider API for one home. It is safe for
// concurrent use.
type Client struct {
	apiURL    string
	homeID    string
	userAgent string
	settings  interfaces.SettingsStore
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
}

// NewClient creates a client for homeID. apiURL may be empty to use the
// production endpoint.
func NewClient(settings interfaces.SettingsStore, homeID, apiURL, userAgent string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tibber-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Client{
		apiURL:    apiURL,
		homeID:    homeID,
		userAgent: userAgent,
		settings:  settings,
		http:      &http.Client{Timeout: requestTimeout},
		breaker:   breaker,
	}
}

// HomeID returns the home this client is bound to.
func (c *Client) HomeID() string {
	return c.homeID
}

// token reads the current access token from the settings store.
func (c *Client) token() (string, error) {
	token, ok := c.settings.Get(tokenSettingsKey)
	if !ok || token == "" {
		return "", hwerrors.ErrTokenNotSet
	}
	return token, nil
}

// SetToken stores a new access token.
func (c *Client) SetToken(token string) error {
	if err := c.settings.Set(tokenSettingsKey, token); err != nil {
		return hwerrors.NewSettingsError(tokenSettingsKey, err)
	}
	return nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

// request executes one GraphQL operation through the circuit breaker and
// decodes the data envelope into out.
func (c *Client) request(ctx context.Context, op, query string, variables map[string]any, out any) error {
	token, err := c.token()
	if err != nil {
		return err
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return hwerrors.NewTransportError(op, err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, op, token, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return hwerrors.NewTransportError(op, hwerrors.ErrCircuitBreakerOpen)
		}
		return err
	}

	data := result.(json.RawMessage)
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return hwerrors.NewTransportError(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

// do performs the HTTP round trip and maps provider errors onto the
// error taxonomy.
func (c *Client) do(ctx context.Context, op, token string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, hwerrors.NewTransportError(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, hwerrors.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, hwerrors.NewAuthError(fmt.Errorf("%s: http status %d", op, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, hwerrors.NewTransportError(op, fmt.Errorf("http status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hwerrors.NewTransportError(op, err)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, hwerrors.NewTransportError(op, fmt.Errorf("decoding envelope: %w", err))
	}

	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		cause := fmt.Errorf("%s: %s", op, first.Message)
		switch first.Extensions.Code {
		case "UNAUTHENTICATED":
			return nil, hwerrors.NewAuthError(cause)
		case "HOME_NOT_FOUND":
			return nil, hwerrors.NewHomeNotFoundError(c.homeID, cause)
		default:
			return nil, hwerrors.NewTransportError(op, cause)
		}
	}

	return envelope.Data, nil
}

// GetHomes lists the homes on the account together with the account's
// websocket subscription URL.
func (c *Client) GetHomes(ctx context.Context) ([]Home, string, error) {
	logger.Debug().Msg("Get homes")

	var resp homesResponse
	if err := c.request(ctx, "get homes", homesQuery, nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Viewer.Homes, resp.Viewer.WebsocketSubscriptionURL, nil
}

// GetHomeFeatures returns the home's capabilities and the current
// websocket subscription URL. Both can change over time, so this is
// called before every live (re)subscribe.
func (c *Client) GetHomeFeatures(ctx context.Context) (HomeFeatures, string, error) {
	logger.Debug().Str("home_id", c.homeID).Msg("Get home features")

	var resp homeFeaturesResponse
	vars := map[string]any{"homeId": c.homeID}
	if err := c.request(ctx, "get home features", homeFeaturesQuery, vars, &resp); err != nil {
		return HomeFeatures{}, "", err
	}
	if resp.Viewer.Home == nil {
		return HomeFeatures{}, "", hwerrors.NewHomeNotFoundError(c.homeID, nil)
	}

	var features HomeFeatures
	if resp.Viewer.Home.Features != nil {
		features = *resp.Viewer.Home.Features
	}
	return features, resp.Viewer.WebsocketSubscriptionURL, nil
}

// FetchPriceInfo retrieves today's and tomorrow's hourly prices. Before
// the provider publishes tomorrow's prices the second slice is empty.
func (c *Client) FetchPriceInfo(ctx context.Context) ([]prices.Entry, []prices.Entry, error) {
	logger.Debug().Str("home_id", c.homeID).Msg("Get prices")

	var resp priceInfoResponse
	vars := map[string]any{"homeId": c.homeID}
	if err := c.request(ctx, "get prices", priceInfoQuery, vars, &resp); err != nil {
		return nil, nil, err
	}

	home := resp.Viewer.Home
	if home == nil {
		return nil, nil, hwerrors.NewHomeNotFoundError(c.homeID, nil)
	}
	if home.CurrentSubscription == nil || home.CurrentSubscription.PriceInfo == nil {
		return nil, nil, hwerrors.NewTransportError("get prices",
			fmt.Errorf("home %s has no active subscription", c.homeID))
	}

	info := home.CurrentSubscription.PriceInfo
	return info.Today, info.Tomorrow, nil
}

// GetConsumption fetches the last days daily nodes and the last hours
// hourly nodes.
func (c *Client) GetConsumption(ctx context.Context, days, hours int) (ConsumptionData, error) {
	logger.Debug().
		Str("home_id", c.homeID).
		Int("days", days).
		Int("hours", hours).
		Msg("Get consumption")

	var resp consumptionResponse
	vars := map[string]any{"homeId": c.homeID, "days": days, "hours": hours}
	if err := c.request(ctx, "get consumption", consumptionQuery, vars, &resp); err != nil {
		return ConsumptionData{}, err
	}
	if resp.Viewer.Home == nil {
		return ConsumptionData{}, hwerrors.NewHomeNotFoundError(c.homeID, nil)
	}

	var data ConsumptionData
	if resp.Viewer.Home.Daily != nil {
		data.Daily = resp.Viewer.Home.Daily.Nodes
	}
	if resp.Viewer.Home.Hourly != nil {
		data.Hourly = resp.Viewer.Home.Hourly.Nodes
	}
	return data, nil
}

// SendPush sends a push notification to the account's mobile devices.
func (c *Client) SendPush(ctx context.Context, title, message string) (PushResult, error) {
	logger.Debug().Str("title", title).Msg("Send push notification")

	var resp pushResponse
	vars := map[string]any{"title": title, "message": message}
	if err := c.request(ctx, "send push", pushNotificationMutation, vars, &resp); err != nil {
		return PushResult{}, err
	}
	if resp.SendPushNotification == nil {
		return PushResult{}, hwerrors.NewTransportError("send push",
			errors.New("empty push result"))
	}
	return *resp.SendPushNotification, nil
}

// LiveEndpoint resolves the current live subscription endpoint. It fails
// with ErrRealTimeDisabled when the home has no real-time meter.
func (c *Client) LiveEndpoint(ctx context.Context) (live.Endpoint, error) {
	features, wsURL, err := c.GetHomeFeatures(ctx)
	if err != nil {
		return live.Endpoint{}, err
	}
	if !features.RealTimeConsumptionEnabled {
		return live.Endpoint{}, hwerrors.ErrRealTimeDisabled
	}

	token, err := c.token()
	if err != nil {
		return live.Endpoint{}, err
	}

	return live.Endpoint{
		URL:       wsURL,
		Token:     token,
		Query:     liveMeasurementQuery,
		Variables: map[string]any{"homeId": c.homeID},
	}, nil
}
