package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrRunStateSigningDisabled is returned by RunStateSigner methods when
// no signing key was configured.
var ErrRunStateSigningDisabled = errors.New("agent: run state signing key not configured")

// ErrInvalidRunStateToken is returned when a token fails signature
// verification or has expired.
var ErrInvalidRunStateToken = errors.New("agent: invalid run state token")

// RunStateSigner signs a paused AgentRunState into a JWT so it can be
// persisted by an ApprovalStore the caller doesn't otherwise trust not to
// tamper with — the store only ever sees the opaque signed token, never a
// live Go value.
type RunStateSigner struct {
	secret []byte
	expiry time.Duration
}

// NewRunStateSigner builds a signer with the given secret and token
// expiry. An empty secret disables signing; Sign and Verify then both
// return ErrRunStateSigningDisabled.
func NewRunStateSigner(secret []byte, expiry time.Duration) *RunStateSigner {
	return &RunStateSigner{secret: secret, expiry: expiry}
}

type runStateClaims struct {
	State json.RawMessage `json:"state"`
	jwt.RegisteredClaims
}

// Sign serializes state (via AgentRunState's MarshalJSON) and signs it as
// an HS256 JWT.
func (s *RunStateSigner) Sign(state *AgentRunState) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrRunStateSigningDisabled
	}
	if state == nil {
		return "", errors.New("agent: cannot sign a nil run state")
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode run state: %w", err)
	}

	expiry := s.expiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	claims := runStateClaims{
		State: encoded,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify validates tokenString's signature and expiry and decodes the
// AgentRunState embedded in it.
func (s *RunStateSigner) Verify(tokenString string) (*AgentRunState, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrRunStateSigningDisabled
	}

	var claims runStateClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidRunStateToken
	}

	var state AgentRunState
	if err := json.Unmarshal(claims.State, &state); err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	return &state, nil
}
