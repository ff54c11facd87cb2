package advisor

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	err := errors.New("no hint")
	assert.Equal(t, time.Second, p.Delay(0, err))
	assert.Equal(t, 2*time.Second, p.Delay(1, err))
	assert.Equal(t, 4*time.Second, p.Delay(2, err))
	assert.Equal(t, 60*time.Second, p.Delay(10, err))
	assert.Equal(t, 60*time.Second, p.Delay(200, err))
}

func TestRetryPolicy_Clamp(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.clamp(0))
	assert.Equal(t, time.Second, p.clamp(300*time.Millisecond))
	assert.Equal(t, 20*time.Second, p.clamp(20*time.Second))
	assert.Equal(t, 60*time.Second, p.clamp(5*time.Minute))
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	d, ok := retryAfter("7", now)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	d, ok = retryAfter("1.5", now)
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, ok = retryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = retryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	_, ok = retryAfter("", now)
	assert.False(t, ok)
	_, ok = retryAfter("soon", now)
	assert.False(t, ok)
	_, ok = retryAfter("-3", now)
	assert.False(t, ok)
}

func TestRetryDelayFromBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
		ok   bool
	}{
		{
			name: "retry info in error object",
			body: `{"error":{"code":429,"details":[{"@type":"type.googleapis.com/google.rpc.QuotaFailure"},{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"20s"}]}}`,
			want: 20 * time.Second,
			ok:   true,
		},
		{
			name: "bare error object",
			body: `{"message":"quota","details":[{"retryDelay":"3.5s"}]}`,
			want: 3500 * time.Millisecond,
			ok:   true,
		},
		{
			name: "array envelope",
			body: `[{"error":{"details":[{"retryDelay":"9s"}]}}]`,
			want: 9 * time.Second,
			ok:   true,
		},
		{
			name: "hint in message",
			body: `{"error":{"message":"Quota exceeded. Please retry in 12.5s."}}`,
			want: 12500 * time.Millisecond,
			ok:   true,
		},
		{
			name: "no hint",
			body: `{"error":{"message":"slow down"}}`,
		},
		{
			name: "not json",
			body: `<html>busy</html>`,
		},
		{
			name: "empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := retryDelayFromBody(tt.body)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.False(t, IsRateLimited(errors.New("plain")))
	assert.False(t, IsRateLimited(nil))
}
