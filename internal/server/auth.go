package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/p-blackswan/fleet-dashboard/internal/subscription"
)

// claims is the JWT claim set the dashboard expects from its token issuer.
type claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"admin,omitempty"`
}

// authenticate resolves the caller identity from the bearer token of the
// upgrade request. Tokens arrive in the Authorization header or, for
// browser websocket clients that cannot set headers, the access_token
// query parameter.
func authenticate(r *http.Request, secret []byte) (subscription.Caller, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else {
		raw = r.URL.Query().Get("access_token")
	}
	if raw == "" {
		return subscription.Caller{}, fmt.Errorf("missing bearer token")
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return subscription.Caller{}, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid || c.Subject == "" {
		return subscription.Caller{}, fmt.Errorf("invalid token")
	}

	return subscription.Caller{Subject: c.Subject, Admin: c.Admin}, nil
}
