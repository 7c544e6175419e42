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

package httpclient

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClientForTest(opts ...Option) *Client {
	base := []Option{
		WithMaxRetries(2),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(5 * time.Millisecond),
	}
	return New(append(base, opts...)...)
}

func TestDefaultStrategy(t *testing.T) {
	tests := []struct {
		code int
		want RetryStrategy
	}{
		{http.StatusTooManyRequests, SmartRetry},
		{http.StatusServiceUnavailable, SmartRetry},
		{http.StatusInternalServerError, ConservativeRetry},
		{http.StatusBadGateway, ConservativeRetry},
		{http.StatusGatewayTimeout, ConservativeRetry},
		{http.StatusRequestTimeout, ConservativeRetry},
		{http.StatusBadRequest, NoRetry},
		{http.StatusUnauthorized, NoRetry},
		{http.StatusOK, NoRetry},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultStrategy(tt.code), "status %d", tt.code)
	}
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := newClientForTest().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := newClientForTest().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoMaxRetriesExceeded(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	_, err := newClientForTest().Do(req)
	require.Error(t, err)

	var retryable *RetryableError
	require.ErrorAs(t, err, &retryable)
	assert.Equal(t, http.StatusTooManyRequests, retryable.StatusCode)
	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := newClientForTest().Do(req)
	// A 4xx surfaces immediately: the response comes back with the error
	// and no second attempt is made.
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoHonorsRetryAfterHeader(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("retry-after", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newClientForTest(WithHeaderParser(ParseAnthropicHeaders))
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCalculateDelayBounds(t *testing.T) {
	c := New(WithBaseDelay(time.Second), WithMaxDelay(4*time.Second))

	// Exponential backoff never exceeds the configured max.
	for attempt := 0; attempt < 8; attempt++ {
		delay := c.calculateDelay(SmartRetry, attempt, RateLimitInfo{})
		assert.LessOrEqual(t, delay, 4*time.Second, "attempt %d", attempt)
	}

	// A server-provided Retry-After wins over computed backoff.
	delay := c.calculateDelay(SmartRetry, 0, RateLimitInfo{RetryAfter: 3 * time.Second})
	assert.GreaterOrEqual(t, delay, 3*time.Second)
}

func TestRetryableError(t *testing.T) {
	inner := errors.New("boom")
	err := &RetryableError{StatusCode: 503, Message: "upstream down", RetryAfter: 2 * time.Second, Err: inner}

	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "retry after")
	assert.True(t, err.IsRetryable())
	assert.ErrorIs(t, err, inner)

	noWait := &RetryableError{StatusCode: 429, Message: "slow down"}
	assert.NotContains(t, noWait.Error(), "retry after")
	assert.Nil(t, noWait.Unwrap())
}

func TestParseAnthropicHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("retry-after", "30")
	h.Set("anthropic-ratelimit-requests-remaining", "99")
	h.Set("anthropic-ratelimit-input-tokens-remaining", "10000")
	h.Set("anthropic-ratelimit-output-tokens-remaining", "5000")

	info := ParseAnthropicHeaders(h)
	assert.Equal(t, 30*time.Second, info.RetryAfter)
	assert.Equal(t, 99, info.RequestsRemaining)
	assert.Equal(t, 10000, info.InputTokensRemaining)
	assert.Equal(t, 5000, info.OutputTokensRemaining)
}

func TestParseOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "42")
	h.Set("x-ratelimit-remaining-tokens", "9000")

	info := ParseOpenAIHeaders(h)
	assert.Equal(t, 42, info.RequestsRemaining)
	assert.Equal(t, 9000, info.TokensRemaining)
}

func TestParseHeadersEmpty(t *testing.T) {
	assert.Equal(t, RateLimitInfo{}, ParseAnthropicHeaders(http.Header{}))
	assert.Equal(t, RateLimitInfo{}, ParseOpenAIHeaders(http.Header{}))
}
