package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
)

// OIDCVerifier verifies ID tokens of an OpenID Connect provider. The provider is discovered on first use,
// a failed discovery is retried on the next verification.
type OIDCVerifier struct {
	cfg config.OIDCConfig

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(cfg config.OIDCConfig) *OIDCVerifier {
	if cfg.UserClaim == "" {
		cfg.UserClaim = "sub"
	}
	return &OIDCVerifier{cfg: cfg}
}

func (v *OIDCVerifier) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.verifier != nil {
		return v.verifier, nil
	}
	globals.AppLogger.Debug("discovering oidc provider", "provider", v.cfg.Name, "url", v.cfg.ProviderUrl)
	provider, err := oidc.NewProvider(ctx, v.cfg.ProviderUrl)
	if err != nil {
		return nil, err
	}
	conf := oidc.Config{}
	if v.cfg.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = v.cfg.ClientId
	}
	v.verifier = provider.Verifier(&conf)
	return v.verifier, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, idToken string) (string, error) {
	if idToken == "" {
		return "", &VerificationError{Reason: Missing}
	}
	verifier, err := v.idTokenVerifier(ctx)
	if err != nil {
		globals.AppLogger.Error("could not discover oidc provider", "provider", v.cfg.Name, "error", err)
		return "", &VerificationError{Reason: Malformed, Err: err}
	}
	verifiedIdToken, err := verifier.Verify(ctx, idToken)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) || errors.Is(err, context.DeadlineExceeded) {
			return "", &VerificationError{Reason: Expired, Err: err}
		}
		return "", &VerificationError{Reason: Malformed, Err: err}
	}

	claims := make(map[string]interface{})
	err = verifiedIdToken.Claims(&claims)
	if err != nil {
		return "", &VerificationError{Reason: Malformed, Err: err}
	}
	userId := strings.TrimSpace(fmt.Sprint(claims[v.cfg.UserClaim]))
	if claims[v.cfg.UserClaim] == nil || userId == "" {
		return "", &VerificationError{Reason: Malformed, Err: fmt.Errorf("claim %q is empty", v.cfg.UserClaim)}
	}
	return userId, nil
}

// NewVerifier builds the verifier chain described by cfg: the HS256 verifier if a secret is configured,
// then one verifier per OIDC provider, all bounded by the verification timeout.
func NewVerifier(cfg config.AuthConfig) (Verifier, error) {
	verifiers := make([]Verifier, 0, len(cfg.OIDCConfigs)+1)
	if cfg.JWTSecret != "" {
		verifiers = append(verifiers, NewJWTVerifier(cfg.JWTSecret))
	}
	for _, c := range cfg.OIDCConfigs {
		if c.ProviderUrl == "" {
			return nil, fmt.Errorf("oidc provider %q has no provider_url", c.Name)
		}
		verifiers = append(verifiers, NewOIDCVerifier(c))
	}
	if len(verifiers) == 0 {
		return nil, errors.New("no token verifier configured (set auth.jwt_secret or an auth.oidc provider)")
	}
	return WithTimeout(Chain(verifiers...), cfg.VerifyTimeout), nil
}
