// Copyright 2026 The imagefilter authors.
// SPDX-License-Identifier: Apache-2.0

// The imagefilter-token tool creates bearer tokens accepted by an
// imagefilter server sharing the same secret.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/pflag"
)

var (
	secret  = pflag.String("key", "@/etc/imagefilter.key", "signing secret, or file containing secret prefixed with '@'")
	ttl     = pflag.Duration("ttl", time.Hour, "token lifetime, 0 for a token that never expires")
	subject = pflag.String("subject", "", "subject claim of the token")
	alg     = pflag.String("alg", "HS256", "signing algorithm (HS256, HS384 or HS512)")
)

func main() {
	pflag.Parse()

	token, err := sign(*secret, *alg, *subject, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// sign returns a signed token issued at now.
func sign(key, alg, subject string, ttl time.Duration, now time.Time) (string, error) {
	k, err := parseKey(key)
	if err != nil {
		return "", fmt.Errorf("error parsing key: %w", err)
	}
	if len(k) == 0 {
		return "", errors.New("signing key must not be empty")
	}

	method := jwt.GetSigningMethod(alg)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return "", fmt.Errorf("unsupported signing algorithm %q", alg)
	}

	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(method, claims).SignedString(k)
}

func parseKey(s string) ([]byte, error) {
	if strings.HasPrefix(s, "@") {
		b, err := os.ReadFile(s[1:])
		if err != nil {
			return nil, err
		}
		return []byte(strings.TrimSpace(string(b))), nil
	}
	return []byte(s), nil
}
