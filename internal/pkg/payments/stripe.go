package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clubpilot/ClubPilot/app/models"
	"github.com/clubpilot/ClubPilot/internal/pkg/env"
	"github.com/shopspring/decimal"
)

const defaultStripeBaseURL = "https://api.stripe.com"

// zeroDecimalCurrencies are charged in whole units, so their minor-unit
// amount equals the decimal amount.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true,
	"XPF": true,
}

// StripeProvider integrates card payments. It does not offer direct-debit
// mandates or a hosted mandate setup flow, and payment retries are driven by
// the card network rather than an API call, so those operations stay on the
// embedded unsupported base.
type StripeProvider struct {
	UnsupportedProvider

	SecretKey     string
	WebhookSecret string
	BaseURL       string

	HTTPClient *http.Client
}

func NewStripeProviderFromEnv() *StripeProvider {
	baseURL := strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeBaseURL))
	return &StripeProvider{
		UnsupportedProvider: UnsupportedProvider{ProviderName: models.PaymentProviderStripe},
		SecretKey:           strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret:       SecretsFromEnv()[models.PaymentProviderStripe],
		BaseURL:             strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *StripeProvider) IsTestMode() bool {
	return strings.HasPrefix(p.SecretKey, "sk_test_")
}

func (p *StripeProvider) Supports(capability Capability) bool {
	switch capability {
	case CapabilityCustomers, CapabilityPayments, CapabilityRefunds:
		return true
	default:
		return false
	}
}

// do performs one API call. Stripe takes form-encoded request bodies and
// returns JSON.
func (p *StripeProvider) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	if p.SecretKey == "" {
		return &ConfigError{Key: "STRIPE_SECRET_KEY", Reason: "not set"}
	}

	var reader io.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.SecretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("stripe request failed: status=%d path=%s body=%s", resp.StatusCode, path, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

func (c stripeCustomer) toCustomer() *Customer {
	given, family := splitName(c.Name)
	return &Customer{
		ID:         c.ID,
		Email:      c.Email,
		GivenName:  given,
		FamilyName: family,
		Metadata:   c.Metadata,
	}
}

func customerForm(params CustomerParams) url.Values {
	form := url.Values{}
	if params.Email != "" {
		form.Set("email", params.Email)
	}
	if name := strings.TrimSpace(params.GivenName + " " + params.FamilyName); name != "" {
		form.Set("name", name)
	}
	if params.Language != "" {
		form.Set("preferred_locales[0]", params.Language)
	}
	for key, value := range params.Metadata {
		form.Set("metadata["+key+"]", value)
	}
	return form
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	var out stripeCustomer
	if err := p.do(ctx, http.MethodPost, "/v1/customers", customerForm(params), &out); err != nil {
		return nil, err
	}
	return out.toCustomer(), nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var out stripeCustomer
	if err := p.do(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID), nil, &out); err != nil {
		return nil, err
	}
	return out.toCustomer(), nil
}

func (p *StripeProvider) UpdateCustomer(ctx context.Context, customerID string, params CustomerParams) (*Customer, error) {
	var out stripeCustomer
	if err := p.do(ctx, http.MethodPost, "/v1/customers/"+url.PathEscape(customerID), customerForm(params), &out); err != nil {
		return nil, err
	}
	return out.toCustomer(), nil
}

type stripePaymentIntent struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Customer    string `json:"customer"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Created     int64  `json:"created"`
}

func (pi stripePaymentIntent) toPayment() *Payment {
	return &Payment{
		ID:          pi.ID,
		CustomerID:  pi.Customer,
		AmountMinor: pi.Amount,
		Currency:    strings.ToUpper(pi.Currency),
		Description: pi.Description,
		Status:      pi.Status,
		CreatedAt:   time.Unix(pi.Created, 0).UTC(),
	}
}

func (p *StripeProvider) CreatePayment(ctx context.Context, params PaymentParams) (*Payment, error) {
	amountMinor, err := p.ToMinorUnits(params.Amount, params.Currency)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountMinor, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	if params.CustomerID != "" {
		form.Set("customer", params.CustomerID)
	}
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	for key, value := range params.Metadata {
		form.Set("metadata["+key+"]", value)
	}

	var out stripePaymentIntent
	if err := p.do(ctx, http.MethodPost, "/v1/payment_intents", form, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (p *StripeProvider) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out stripePaymentIntent
	if err := p.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(paymentID), nil, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (p *StripeProvider) CancelPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out stripePaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(paymentID) + "/cancel"
	if err := p.do(ctx, http.MethodPost, path, url.Values{}, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (p *StripeProvider) ListPayments(ctx context.Context, params ListParams) ([]Payment, error) {
	query := url.Values{}
	if params.CustomerID != "" {
		query.Set("customer", params.CustomerID)
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	path := "/v1/payment_intents"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out struct {
		Data []stripePaymentIntent `json:"data"`
	}
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	payments := make([]Payment, 0, len(out.Data))
	for _, pi := range out.Data {
		payments = append(payments, *pi.toPayment())
	}
	return payments, nil
}

func (p *StripeProvider) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", params.PaymentID)
	if !params.Amount.IsZero() {
		amountMinor, err := p.ToMinorUnits(params.Amount, params.Currency)
		if err != nil {
			return nil, err
		}
		form.Set("amount", strconv.FormatInt(amountMinor, 10))
	}

	var out struct {
		ID            string `json:"id"`
		Amount        int64  `json:"amount"`
		Currency      string `json:"currency"`
		PaymentIntent string `json:"payment_intent"`
		Status        string `json:"status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/refunds", form, &out); err != nil {
		return nil, err
	}
	return &Refund{
		ID:          out.ID,
		PaymentID:   out.PaymentIntent,
		AmountMinor: out.Amount,
		Currency:    strings.ToUpper(out.Currency),
		Status:      out.Status,
	}, nil
}

func (p *StripeProvider) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	v := NewVerifier(WebhookSecrets{p.Name(): p.WebhookSecret})
	return v.Verify(p.Name(), rawBody, signatureHeader)
}

func (p *StripeProvider) ParseWebhookEvents(rawBody []byte) ([]NormalizedEvent, error) {
	return ParseEvents(models.PaymentProviderStripe, rawBody)
}

// ToMinorUnits converts a decimal amount to cents, or to whole units for
// zero-decimal currencies.
func (p *StripeProvider) ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	minor := amount
	if !zeroDecimalCurrencies[strings.ToUpper(currency)] {
		minor = amount.Mul(decimal.NewFromInt(100))
	}
	if !minor.IsInteger() {
		return 0, fmt.Errorf("stripe: amount %s has sub-minor-unit precision for %s", amount, currency)
	}
	return minor.IntPart(), nil
}

func (p *StripeProvider) FromMinorUnits(amountMinor int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amountMinor)
	}
	return decimal.NewFromInt(amountMinor).Div(decimal.NewFromInt(100))
}

// NormalizeStatus maps the provider's status vocabulary onto the platform's.
func (p *StripeProvider) NormalizeStatus(resourceType, providerStatus string) string {
	status := strings.ToLower(strings.TrimSpace(providerStatus))
	switch resourceType {
	case "payment":
		switch status {
		case "requires_payment_method", "requires_confirmation", "requires_action", "requires_capture":
			return models.PaymentStatusPending
		case "processing":
			return models.PaymentStatusSubmitted
		case "succeeded":
			return models.PaymentStatusConfirmed
		case "canceled":
			return models.PaymentStatusCancelled
		case "failed", "payment_failed":
			return models.PaymentStatusFailed
		default:
			return models.PaymentStatusPending
		}
	case "charge":
		switch status {
		case "pending":
			return models.PaymentStatusSubmitted
		case "succeeded":
			return models.PaymentStatusConfirmed
		case "failed":
			return models.PaymentStatusFailed
		default:
			return models.PaymentStatusPending
		}
	case "refund":
		switch status {
		case "succeeded":
			return models.RefundStatusConfirmed
		case "failed", "canceled":
			return models.RefundStatusFailed
		default:
			return models.RefundStatusPending
		}
	case "subscription":
		switch status {
		case "active":
			return models.SubscriptionStatusActive
		case "trialing":
			return models.SubscriptionStatusTrialing
		case "past_due", "unpaid":
			return models.SubscriptionStatusPastDue
		case "canceled":
			return models.SubscriptionStatusCancelled
		case "paused":
			return models.SubscriptionStatusPaused
		default:
			return models.SubscriptionStatusIncomplete
		}
	default:
		return status
	}
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	given, family, found := strings.Cut(full, " ")
	if !found {
		return full, ""
	}
	return given, family
}
