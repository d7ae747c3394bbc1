package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

const (
	defaultGoCardlessLiveBaseURL    = "https://api.gocardless.com"
	defaultGoCardlessSandboxBaseURL = "https://api-sandbox.gocardless.com"
	gocardlessVersionHeader         = "2015-07-06"
)

// GoCardlessProvider integrates the direct-debit provider. It implements the
// full capability contract: customers, redirect-flow mandates, payments with
// retry, and refunds.
type GoCardlessProvider struct {
	AccessToken   string
	WebhookSecret string
	Environment   string // "live" or "sandbox"
	BaseURL       string

	HTTPClient *http.Client
}

func NewGoCardlessProviderFromEnv() *GoCardlessProvider {
	environment := strings.ToLower(strings.TrimSpace(env.GetEnv("GOCARDLESS_ENVIRONMENT", "sandbox")))
	baseURL := strings.TrimSpace(env.GetEnv("GOCARDLESS_API_BASE_URL", ""))
	if baseURL == "" {
		baseURL = defaultGoCardlessSandboxBaseURL
		if environment == "live" {
			baseURL = defaultGoCardlessLiveBaseURL
		}
	}

	return &GoCardlessProvider{
		AccessToken:   strings.TrimSpace(env.GetEnv("GOCARDLESS_ACCESS_TOKEN", "")),
		WebhookSecret: SecretsFromEnv()[models.PaymentProviderGoCardless],
		Environment:   environment,
		BaseURL:       strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (p *GoCardlessProvider) Name() string {
	return models.PaymentProviderGoCardless
}

func (p *GoCardlessProvider) IsTestMode() bool {
	return p.Environment != "live"
}

func (p *GoCardlessProvider) Supports(capability Capability) bool {
	switch capability {
	case CapabilityCustomers, CapabilityMandates, CapabilityMandateSetupFlow,
		CapabilityPayments, CapabilityPaymentRetry, CapabilityRefunds:
		return true
	default:
		return false
	}
}

// do performs one API call. GoCardless wraps both request and response bodies
// under the resource name, e.g. {"customers": {...}}.
func (p *GoCardlessProvider) do(ctx context.Context, method, path, wrapper string, body interface{}, out interface{}) error {
	if p.AccessToken == "" {
		return &ConfigError{Key: "GOCARDLESS_ACCESS_TOKEN", Reason: "not set"}
	}

	var reader io.Reader
	if body != nil {
		wrapped := body
		if wrapper != "" {
			wrapped = map[string]interface{}{wrapper: body}
		}
		data, err := json.Marshal(wrapped)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.AccessToken)
	req.Header.Set("GoCardless-Version", gocardlessVersionHeader)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gocardless request failed: status=%d path=%s body=%s", resp.StatusCode, path, string(data))
	}
	if out == nil {
		return nil
	}
	if wrapper != "" {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(data, &envelope); err != nil {
			return err
		}
		inner, ok := envelope[wrapper]
		if !ok {
			return fmt.Errorf("gocardless response missing %q envelope", wrapper)
		}
		return json.Unmarshal(inner, out)
	}
	return json.Unmarshal(data, out)
}

type gocardlessCustomer struct {
	ID         string            `json:"id,omitempty"`
	Email      string            `json:"email,omitempty"`
	GivenName  string            `json:"given_name,omitempty"`
	FamilyName string            `json:"family_name,omitempty"`
	Language   string            `json:"language,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (c gocardlessCustomer) toCustomer() *Customer {
	return &Customer{
		ID:         c.ID,
		Email:      c.Email,
		GivenName:  c.GivenName,
		FamilyName: c.FamilyName,
		Language:   c.Language,
		Metadata:   c.Metadata,
	}
}

func (p *GoCardlessProvider) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	in := gocardlessCustomer{
		Email:      params.Email,
		GivenName:  params.GivenName,
		FamilyName: params.FamilyName,
		Language:   params.Language,
		Metadata:   params.Metadata,
	}
	var out gocardlessCustomer
	if err := p.do(ctx, http.MethodPost, "/customers", "customers", in, &out); err != nil {
		return nil, err
	}
	return out.toCustomer(), nil
}

func (p *GoCardlessProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var out gocardlessCustomer
	if err := p.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(customerID), "customers", nil, &out); err != nil {
		return nil, err
	}
	return out.toCustomer(), nil
}

func (p *GoCardlessProvider) UpdateCustomer(ctx context.Context, customerID string, params CustomerParams) (*Customer, error) {
	in := gocardlessCustomer{
		Email:      params.Email,
		GivenName:  params.GivenName,
		FamilyName: params.FamilyName,
		Language:   params.Language,
		Metadata:   params.Metadata,
	}
	var out gocardlessCustomer
	if err := p.do(ctx, http.MethodPut, "/customers/"+url.PathEscape(customerID), "customers", in, &out); err != nil {
		return nil, err
	}
	return out.toCustomer(), nil
}

type gocardlessMandate struct {
	ID                     string            `json:"id"`
	Reference              string            `json:"reference"`
	Scheme                 string            `json:"scheme"`
	Status                 string            `json:"status"`
	NextPossibleChargeDate string            `json:"next_possible_charge_date"`
	CreatedAt              string            `json:"created_at"`
	Links                  map[string]string `json:"links"`
}

func (m gocardlessMandate) toMandate() *Mandate {
	return &Mandate{
		ID:             m.ID,
		CustomerID:     m.Links["customer"],
		Reference:      m.Reference,
		Scheme:         m.Scheme,
		Status:         m.Status,
		BankAccountID:  m.Links["customer_bank_account"],
		NextChargeDate: m.NextPossibleChargeDate,
		CreatedAt:      parseEventTime(m.CreatedAt),
	}
}

// CreateMandateSetupFlow opens a hosted redirect flow. The session token ties
// the completion call to the session that started the flow.
func (p *GoCardlessProvider) CreateMandateSetupFlow(ctx context.Context, params MandateSetupParams) (*MandateSetupFlow, error) {
	in := map[string]interface{}{
		"description":          params.Description,
		"session_token":        params.SessionToken,
		"success_redirect_url": params.SuccessRedirectURL,
	}
	if params.Email != "" || params.GivenName != "" {
		in["prefilled_customer"] = map[string]string{
			"email":       params.Email,
			"given_name":  params.GivenName,
			"family_name": params.FamilyName,
		}
	}

	var out struct {
		ID          string `json:"id"`
		RedirectURL string `json:"redirect_url"`
		ExpiresAt   string `json:"expires_at"`
	}
	if err := p.do(ctx, http.MethodPost, "/redirect_flows", "redirect_flows", in, &out); err != nil {
		return nil, err
	}
	return &MandateSetupFlow{
		ID:          out.ID,
		RedirectURL: out.RedirectURL,
		ExpiresAt:   parseEventTime(out.ExpiresAt),
	}, nil
}

// CompleteMandateSetupFlow confirms the redirect flow and resolves the
// created mandate.
func (p *GoCardlessProvider) CompleteMandateSetupFlow(ctx context.Context, flowID, sessionToken string) (*Mandate, error) {
	in := map[string]interface{}{
		"data": map[string]string{"session_token": sessionToken},
	}
	var out struct {
		Links map[string]string `json:"links"`
	}
	path := "/redirect_flows/" + url.PathEscape(flowID) + "/actions/complete"
	if err := p.do(ctx, http.MethodPost, path, "redirect_flows", in, &out); err != nil {
		return nil, err
	}

	mandateID := out.Links["mandate"]
	if mandateID == "" {
		return nil, errors.New("gocardless redirect flow completion returned no mandate")
	}
	return p.GetMandate(ctx, mandateID)
}

func (p *GoCardlessProvider) GetMandate(ctx context.Context, mandateID string) (*Mandate, error) {
	var out gocardlessMandate
	if err := p.do(ctx, http.MethodGet, "/mandates/"+url.PathEscape(mandateID), "mandates", nil, &out); err != nil {
		return nil, err
	}
	return out.toMandate(), nil
}

func (p *GoCardlessProvider) CancelMandate(ctx context.Context, mandateID string) (*Mandate, error) {
	var out gocardlessMandate
	path := "/mandates/" + url.PathEscape(mandateID) + "/actions/cancel"
	if err := p.do(ctx, http.MethodPost, path, "mandates", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.toMandate(), nil
}

func (p *GoCardlessProvider) ListMandates(ctx context.Context, params ListParams) ([]Mandate, error) {
	query := url.Values{}
	if params.CustomerID != "" {
		query.Set("customer", params.CustomerID)
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	path := "/mandates"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out []gocardlessMandate
	if err := p.do(ctx, http.MethodGet, path, "mandates", nil, &out); err != nil {
		return nil, err
	}
	mandates := make([]Mandate, 0, len(out))
	for _, m := range out {
		mandates = append(mandates, *m.toMandate())
	}
	return mandates, nil
}

type gocardlessPayment struct {
	ID          string            `json:"id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Status      string            `json:"status"`
	ChargeDate  string            `json:"charge_date"`
	CreatedAt   string            `json:"created_at"`
	Links       map[string]string `json:"links"`
}

func (gp gocardlessPayment) toPayment() *Payment {
	return &Payment{
		ID:          gp.ID,
		MandateID:   gp.Links["mandate"],
		CustomerID:  gp.Links["customer"],
		AmountMinor: gp.Amount,
		Currency:    gp.Currency,
		Description: gp.Description,
		Status:      gp.Status,
		ChargeDate:  gp.ChargeDate,
		CreatedAt:   parseEventTime(gp.CreatedAt),
	}
}

func (p *GoCardlessProvider) CreatePayment(ctx context.Context, params PaymentParams) (*Payment, error) {
	amountMinor, err := p.ToMinorUnits(params.Amount, params.Currency)
	if err != nil {
		return nil, err
	}

	in := map[string]interface{}{
		"amount":      amountMinor,
		"currency":    strings.ToUpper(params.Currency),
		"description": params.Description,
		"links":       map[string]string{"mandate": params.MandateID},
	}
	if params.Reference != "" {
		in["reference"] = params.Reference
	}
	if len(params.Metadata) > 0 {
		in["metadata"] = params.Metadata
	}

	var out gocardlessPayment
	if err := p.do(ctx, http.MethodPost, "/payments", "payments", in, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (p *GoCardlessProvider) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out gocardlessPayment
	if err := p.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), "payments", nil, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (p *GoCardlessProvider) CancelPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out gocardlessPayment
	path := "/payments/" + url.PathEscape(paymentID) + "/actions/cancel"
	if err := p.do(ctx, http.MethodPost, path, "payments", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (p *GoCardlessProvider) RetryPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var out gocardlessPayment
	path := "/payments/" + url.PathEscape(paymentID) + "/actions/retry"
	if err := p.do(ctx, http.MethodPost, path, "payments", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.toPayment(), nil
}

func (p *GoCardlessProvider) ListPayments(ctx context.Context, params ListParams) ([]Payment, error) {
	query := url.Values{}
	if params.CustomerID != "" {
		query.Set("customer", params.CustomerID)
	}
	if params.MandateID != "" {
		query.Set("mandate", params.MandateID)
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	path := "/payments"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var out []gocardlessPayment
	if err := p.do(ctx, http.MethodGet, path, "payments", nil, &out); err != nil {
		return nil, err
	}
	result := make([]Payment, 0, len(out))
	for _, gp := range out {
		result = append(result, *gp.toPayment())
	}
	return result, nil
}

func (p *GoCardlessProvider) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	amountMinor, err := p.ToMinorUnits(params.Amount, params.Currency)
	if err != nil {
		return nil, err
	}

	in := map[string]interface{}{
		"amount":                    amountMinor,
		"total_amount_confirmation": amountMinor,
		"links":                     map[string]string{"payment": params.PaymentID},
	}
	if params.Reference != "" {
		in["reference"] = params.Reference
	}

	var out struct {
		ID       string            `json:"id"`
		Amount   int64             `json:"amount"`
		Currency string            `json:"currency"`
		Status   string            `json:"status"`
		Links    map[string]string `json:"links"`
	}
	if err := p.do(ctx, http.MethodPost, "/refunds", "refunds", in, &out); err != nil {
		return nil, err
	}
	return &Refund{
		ID:          out.ID,
		PaymentID:   out.Links["payment"],
		AmountMinor: out.Amount,
		Currency:    out.Currency,
		Status:      out.Status,
	}, nil
}

func (p *GoCardlessProvider) VerifyWebhookSignature(rawBody []byte, signatureHeader string) error {
	v := NewVerifier(WebhookSecrets{p.Name(): p.WebhookSecret})
	return v.Verify(p.Name(), rawBody, signatureHeader)
}

func (p *GoCardlessProvider) ParseWebhookEvents(rawBody []byte) ([]NormalizedEvent, error) {
	return ParseEvents(models.PaymentProviderGoCardless, rawBody)
}

// ToMinorUnits converts a decimal amount to the API's pence/cent
// representation. All currencies the scheme serves use two decimal places.
func (p *GoCardlessProvider) ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	minor := amount.Mul(decimal.NewFromInt(100))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("gocardless: amount %s has sub-minor-unit precision for %s", amount, currency)
	}
	return minor.IntPart(), nil
}

func (p *GoCardlessProvider) FromMinorUnits(amountMinor int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(amountMinor).Div(decimal.NewFromInt(100))
}

// NormalizeStatus maps the provider's status vocabulary onto the platform's.
// Unknown statuses map to the most conservative member of the vocabulary.
func (p *GoCardlessProvider) NormalizeStatus(resourceType, providerStatus string) string {
	status := strings.ToLower(strings.TrimSpace(providerStatus))
	switch resourceType {
	case "mandate":
		switch status {
		case "pending_customer_approval", "pending_submission", "created":
			return models.MandateStatusPendingSubmission
		case "submitted":
			return models.MandateStatusSubmitted
		case "active", "reinstated":
			return models.MandateStatusActive
		case "failed":
			return models.MandateStatusFailed
		case "cancelled":
			return models.MandateStatusCancelled
		case "expired", "consumed":
			return models.MandateStatusExpired
		default:
			return models.MandateStatusPendingSubmission
		}
	case "payment":
		switch status {
		case "pending_customer_approval", "pending_submission", "created":
			return models.PaymentStatusPending
		case "submitted":
			return models.PaymentStatusSubmitted
		case "confirmed", "paid_out":
			return models.PaymentStatusConfirmed
		case "failed", "customer_approval_denied":
			return models.PaymentStatusFailed
		case "cancelled":
			return models.PaymentStatusCancelled
		case "charged_back":
			return models.PaymentStatusChargedBack
		case "refunded":
			return models.PaymentStatusRefunded
		default:
			return models.PaymentStatusPending
		}
	case "refund":
		switch status {
		case "paid", "settled", "fund_returned":
			return models.RefundStatusConfirmed
		case "failed", "bounced":
			return models.RefundStatusFailed
		default:
			return models.RefundStatusPending
		}
	case "subscription":
		switch status {
		case "active":
			return models.SubscriptionStatusActive
		case "cancelled", "customer_approval_denied":
			return models.SubscriptionStatusCancelled
		case "paused":
			return models.SubscriptionStatusPaused
		case "finished":
			return models.SubscriptionStatusFinished
		default:
			return models.SubscriptionStatusIncomplete
		}
	default:
		return status
	}
}
