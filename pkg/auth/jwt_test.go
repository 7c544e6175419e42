// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

const testKeyID = "test-key-id"

type jwksFixture struct {
	privateKey *rsa.PrivateKey
	jwksURL    string
	issuer     string
	audience   string
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, jwa.RS256))
	keyset := jwk.NewSet()
	require.NoError(t, keyset.AddKey(pub))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(keyset)
	}))
	t.Cleanup(server.Close)

	return &jwksFixture{
		privateKey: privateKey,
		jwksURL:    server.URL,
		issuer:     "https://auth.example.com",
		audience:   "aegis-api",
	}
}

func (f *jwksFixture) signToken(t *testing.T, mutate func(token jwt.Token)) string {
	t.Helper()

	token := jwt.New()
	require.NoError(t, token.Set(jwt.IssuerKey, f.issuer))
	require.NoError(t, token.Set(jwt.AudienceKey, f.audience))
	require.NoError(t, token.Set(jwt.SubjectKey, "user-1"))
	require.NoError(t, token.Set(jwt.IssuedAtKey, time.Now()))
	require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	if mutate != nil {
		mutate(token)
	}

	key, err := jwk.FromRaw(f.privateKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func TestJWTValidatorExtractsClaims(t *testing.T) {
	f := newJWKSFixture(t)
	v, err := NewJWTValidator(f.jwksURL, f.issuer, f.audience, 15*time.Minute)
	require.NoError(t, err)

	tokenString := f.signToken(t, func(token jwt.Token) {
		require.NoError(t, token.Set("email", "user@example.com"))
		require.NoError(t, token.Set("role", "admin"))
		require.NoError(t, token.Set("tenant_id", "alpha"))
	})

	claims, err := v.ValidateToken(context.Background(), tokenString)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "user@example.com", claims.Email)
	require.Equal(t, "admin", claims.Role)
	require.Equal(t, "alpha", claims.TenantID)
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	f := newJWKSFixture(t)
	v, err := NewJWTValidator(f.jwksURL, f.issuer, f.audience, 15*time.Minute)
	require.NoError(t, err)

	tokenString := f.signToken(t, func(token jwt.Token) {
		require.NoError(t, token.Set(jwt.ExpirationKey, time.Now().Add(-time.Hour)))
	})

	_, err = v.ValidateToken(context.Background(), tokenString)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestJWTValidatorRejectsWrongIssuer(t *testing.T) {
	f := newJWKSFixture(t)
	v, err := NewJWTValidator(f.jwksURL, f.issuer, f.audience, 15*time.Minute)
	require.NoError(t, err)

	tokenString := f.signToken(t, func(token jwt.Token) {
		require.NoError(t, token.Set(jwt.IssuerKey, "https://evil.example.com"))
	})

	_, err = v.ValidateToken(context.Background(), tokenString)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTValidatorRejectsGarbage(t *testing.T) {
	f := newJWKSFixture(t)
	v, err := NewJWTValidator(f.jwksURL, f.issuer, f.audience, 15*time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestHTTPMiddlewareGatesRequests(t *testing.T) {
	f := newJWKSFixture(t)
	v, err := NewJWTValidator(f.jwksURL, f.issuer, f.audience, 15*time.Minute)
	require.NoError(t, err)

	var gotClaims *Claims
	handler := v.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClaims = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Missing header.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Malformed header.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Basic abc")
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token passes and claims reach the handler.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer "+f.signToken(t, func(token jwt.Token) {
		require.NoError(t, token.Set("tenant_id", "alpha"))
	}))
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotClaims)
	require.Equal(t, "alpha", gotClaims.TenantID)
}
