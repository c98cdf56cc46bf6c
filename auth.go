// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

package imagefilter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

// A RequestAuthorizer determines if a request is authorized to be processed.
// Requests are authorized before any handler logic runs.
type RequestAuthorizer interface {
	// AuthorizeRequest returns an error if the request should not be
	// processed further (for example, it carries no credential, or the
	// credential does not verify).
	AuthorizeRequest(req *http.Request) error
}

// A TokenVerifier checks the signature and validity period of a bearer token.
type TokenVerifier interface {
	Verify(token string) error
}

// JWTVerifier verifies HMAC-signed JSON Web Tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier returns a verifier for tokens signed with secret using one
// of the HS256, HS384 or HS512 algorithms.  Tokens signed with any other
// algorithm are rejected.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		})),
	}
}

// Verify implements TokenVerifier.  Expiry and not-before claims are
// enforced when present.
func (v *JWTVerifier) Verify(token string) error {
	_, err := v.parser.Parse(token, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	return err
}

// Gate authorizes requests carrying an "Authorization: <scheme> <token>"
// header.  The scheme is not interpreted; the token is handed to Verifier.
type Gate struct {
	Verifier TokenVerifier
}

// AuthorizeRequest implements RequestAuthorizer.
func (g *Gate) AuthorizeRequest(r *http.Request) error {
	value := r.Header.Get("Authorization")
	if value == "" {
		return ErrMissingHeader
	}

	parts := strings.Split(value, " ")
	if len(parts) != 2 {
		return ErrMalformedToken
	}

	if err := g.Verifier.Verify(parts[1]); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return nil
}

// authResponse is the JSON body of every authorization failure.
type authResponse struct {
	Auth    *bool  `json:"auth,omitempty"`
	Message string `json:"message"`
}

// RequireAuth returns middleware that runs auth for every request before
// next.  Rejected requests never reach next.
func RequireAuth(auth RequestAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := auth.AuthorizeRequest(r)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			outcome, body := OutcomeUnauthorized, authResponse{}
			switch {
			case errors.Is(err, ErrMissingHeader):
				body.Message = "No authorization headers."
			case errors.Is(err, ErrMalformedToken):
				body.Message = "Malformed token."
			default:
				outcome = OutcomeAuthenticationFailed
				body.Auth = new(bool)
				body.Message = "Failed to authenticate."
			}

			log.Warn().Err(err).Str("path", r.URL.Path).Str("outcome", string(outcome)).Msg("request rejected")
			recordOutcome(outcome)

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			if err := json.NewEncoder(w).Encode(body); err != nil {
				log.Error().Err(err).Msg("error writing authorization response")
			}
		})
	}
}
