package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clubpilot/ClubPilot/app/models"
	"github.com/clubpilot/ClubPilot/internal/pkg/env"
)

// DefaultSignatureTolerance bounds the replay window for timestamped
// signature schemes.
const DefaultSignatureTolerance = 300 * time.Second

// WebhookSecrets maps a provider name to its webhook signing secret.
type WebhookSecrets map[string]string

// SecretsFromEnv reads the per-provider webhook signing secrets. Empty values
// are kept so that a missing secret surfaces as a ConfigError at verification
// time for that provider only.
func SecretsFromEnv() WebhookSecrets {
	return WebhookSecrets{
		models.PaymentProviderGoCardless: strings.TrimSpace(env.GetEnv("GOCARDLESS_WEBHOOK_SECRET", "")),
		models.PaymentProviderStripe:     strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
	}
}

// Verifier authenticates inbound webhook bodies per provider. It is stateless
// and safe for concurrent use.
type Verifier struct {
	secrets   WebhookSecrets
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier around an explicit secrets map, making the
// verifier trivially testable with injected keys.
func NewVerifier(secrets WebhookSecrets) *Verifier {
	return &Verifier{secrets: secrets, tolerance: DefaultSignatureTolerance, now: time.Now}
}

// Verify dispatches to the provider's verification scheme. Verification
// always operates on the untouched raw body bytes; verifying a re-serialized
// representation would reject legitimate signatures.
func (v *Verifier) Verify(provider string, rawBody []byte, signatureHeader string) error {
	secret, known := v.secrets[provider]
	if !known {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if secret == "" {
		return &ConfigError{Key: strings.ToUpper(provider) + "_WEBHOOK_SECRET", Reason: "not set"}
	}

	switch provider {
	case models.PaymentProviderGoCardless:
		return verifyBodySignature(rawBody, signatureHeader, secret)
	case models.PaymentProviderStripe:
		return verifyTimestampedSignature(rawBody, signatureHeader, secret, v.tolerance, v.now())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
}

// verifyBodySignature implements the simple scheme: a single hex HMAC-SHA256
// over the whole raw body (GoCardless's Webhook-Signature header).
func verifyBodySignature(rawBody []byte, signatureHeader, secret string) error {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" {
		return fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	provided, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return fmt.Errorf("%w: signature is not valid hex", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)

	// hmac.Equal runs in constant time and treats unequal lengths as unequal.
	if !hmac.Equal(mac.Sum(nil), provided) {
		return fmt.Errorf("%w: signature mismatch", ErrSignatureInvalid)
	}
	return nil
}

// verifyTimestampedSignature implements the Stripe-style scheme: the header
// carries a timestamp and one or more v1 signatures over "timestamp.body".
// The timestamp must be within tolerance of now regardless of signature
// correctness; the delivery is accepted when any v1 candidate matches.
func verifyTimestampedSignature(rawBody []byte, signatureHeader, secret string, tolerance time.Duration, now time.Time) error {
	timestamp, candidates, err := parseTimestampedHeader(signatureHeader)
	if err != nil {
		return err
	}

	delta := now.Unix() - timestamp
	if delta < 0 {
		delta = -delta
	}
	if delta > int64(tolerance/time.Second) {
		return fmt.Errorf("%w: timestamp outside tolerance window", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, candidate := range candidates {
		if hmac.Equal([]byte(strings.ToLower(candidate)), []byte(expected)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", ErrSignatureInvalid)
}

// parseTimestampedHeader parses a comma-separated header of key=value pairs
// into the embedded timestamp and the v1 signature candidates. A malformed
// segment rejects the whole header: a broken signature header is itself
// suspicious input.
func parseTimestampedHeader(signatureHeader string) (int64, []string, error) {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return 0, nil, fmt.Errorf("%w: missing signature header", ErrSignatureInvalid)
	}

	var (
		timestamp  int64
		candidates []string
	)
	for _, segment := range strings.Split(header, ",") {
		segment = strings.TrimSpace(segment)
		key, value, found := strings.Cut(segment, "=")
		if !found || key == "" || value == "" {
			return 0, nil, fmt.Errorf("%w: malformed signature header segment", ErrSignatureInvalid)
		}
		switch {
		case key == "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil || parsed <= 0 {
				return 0, nil, fmt.Errorf("%w: invalid signature timestamp", ErrSignatureInvalid)
			}
			timestamp = parsed
		case strings.HasPrefix(key, "v1"):
			candidates = append(candidates, value)
		default:
			// Well-formed but unknown keys (e.g. v0 test signatures) are ignored.
		}
	}

	if timestamp == 0 {
		return 0, nil, fmt.Errorf("%w: signature timestamp missing", ErrSignatureInvalid)
	}
	if len(candidates) == 0 {
		return 0, nil, fmt.Errorf("%w: v1 signature missing", ErrSignatureInvalid)
	}
	return timestamp, candidates, nil
}
