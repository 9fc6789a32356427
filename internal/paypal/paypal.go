// Package paypal wraps the PayPal REST SDK behind the few calls the service
// needs: subscription creation, subscription lookup for webhook correlation,
// webhook signature verification and a token-fetch health probe.
package paypal

import (
	"context"
	"errors"
	"net/http"

	sdk "github.com/plutov/paypal/v4"
)

var (
	ErrNotConfigured   = errors.New("paypal not configured")
	ErrNoApprovalLink  = errors.New("paypal response has no approval link")
	ErrBadWebhookEvent = errors.New("webhook signature verification failed")
)

type Client struct {
	sdk *sdk.Client
}

// New builds a client against the sandbox or live API depending on env.
// Returns ErrNotConfigured when credentials are absent so callers can treat
// PayPal as an optional collaborator.
func New(clientID, secret, env string) (*Client, error) {
	if clientID == "" || secret == "" {
		return nil, ErrNotConfigured
	}
	base := sdk.APIBaseSandBox
	if env == "live" {
		base = sdk.APIBaseLive
	}
	c, err := sdk.NewClient(clientID, secret, base)
	if err != nil {
		return nil, err
	}
	return &Client{sdk: c}, nil
}

type CreateSubscriptionParams struct {
	PlanID    string
	CustomID  string
	Email     string
	BrandName string
	ReturnURL string
	CancelURL string
}

type CreatedSubscription struct {
	ID          string
	ApprovalURL string
}

// CreateSubscription starts a subscription and returns the approval URL the
// frontend redirects the user to. CustomID carries our internal user id so
// the webhook can correlate the activation back to an account.
func (c *Client) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (CreatedSubscription, error) {
	resp, err := c.sdk.CreateSubscription(ctx, sdk.SubscriptionBase{
		PlanID:   params.PlanID,
		CustomID: params.CustomID,
		Subscriber: &sdk.Subscriber{
			EmailAddress: params.Email,
		},
		ApplicationContext: &sdk.ApplicationContext{
			BrandName:  params.BrandName,
			UserAction: "SUBSCRIBE_NOW",
			ReturnURL:  params.ReturnURL,
			CancelURL:  params.CancelURL,
		},
	})
	if err != nil {
		return CreatedSubscription{}, err
	}
	for _, link := range resp.Links {
		if link.Rel == "approve" {
			return CreatedSubscription{ID: resp.ID, ApprovalURL: link.Href}, nil
		}
	}
	return CreatedSubscription{}, ErrNoApprovalLink
}

// SubscriptionInfo is the slice of provider-side subscription state the
// webhook reconciler needs when an event arrives without a usable custom id.
type SubscriptionInfo struct {
	CustomID string
	PlanID   string
}

func (c *Client) LookupSubscription(ctx context.Context, subscriptionID string) (SubscriptionInfo, error) {
	resp, err := c.sdk.GetSubscriptionDetails(ctx, subscriptionID)
	if err != nil {
		return SubscriptionInfo{}, err
	}
	return SubscriptionInfo{CustomID: resp.CustomID, PlanID: resp.PlanID}, nil
}

// VerifyWebhook checks the transmission signature of an incoming webhook
// request against the configured webhook id.
func (c *Client) VerifyWebhook(ctx context.Context, r *http.Request, webhookID string) error {
	resp, err := c.sdk.VerifyWebhookSignature(ctx, r, webhookID)
	if err != nil {
		return err
	}
	if resp.VerificationStatus != "SUCCESS" {
		return ErrBadWebhookEvent
	}
	return nil
}

// Ping fetches an OAuth token, which exercises the client-credentials flow
// end to end. Used by the diagnostics endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.sdk.GetAccessToken(ctx)
	return err
}
