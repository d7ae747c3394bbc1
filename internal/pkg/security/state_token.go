package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultStateTTL bounds how long a redirect flow may take before the state
// token embedded in it stops verifying.
const DefaultStateTTL = 15 * time.Minute

// ErrStateInvalid is returned for every unusable state token, whether it
// failed to decrypt or merely expired. Tokens arrive from redirect query
// strings and are expected adversarial input, so no further detail is exposed.
var ErrStateInvalid = errors.New("security: state token invalid")

type stateClaims struct {
	Data      json.RawMessage `json:"data"`
	Nonce     string          `json:"nonce"`
	ExpiresAt int64           `json:"exp"`
}

// GenerateState wraps data plus a random nonce and an absolute expiry into an
// encrypted opaque token, suitable for carrying context through a payment
// provider redirect without server-side session storage. A ttl of zero uses
// DefaultStateTTL; a negative ttl produces an already-expired token.
func GenerateState(e *Engine, data interface{}, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultStateTTL
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("security: encode state data: %w", err)
	}
	nonce, err := GenerateSecureToken(16)
	if err != nil {
		return "", err
	}
	return e.EncryptObject(stateClaims{
		Data:      payload,
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	})
}

// VerifyState decrypts a state token into out. Decryption failure of any kind
// and elapsed expiry both return ErrStateInvalid; expiry is enforced even when
// decryption succeeds.
func VerifyState(e *Engine, token string, out interface{}) error {
	var claims stateClaims
	if err := e.DecryptObject(token, &claims); err != nil {
		return ErrStateInvalid
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return ErrStateInvalid
	}
	if out != nil {
		if err := json.Unmarshal(claims.Data, out); err != nil {
			return ErrStateInvalid
		}
	}
	return nil
}
