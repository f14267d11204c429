//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap/zaptest"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

// Response types are defined locally to keep the test black-box.

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type userResponse struct {
	UserID               string `json:"userId"`
	TotalCouponsUploaded int    `json:"totalCouponsUploaded"`
	UserLevel            int    `json:"userLevel"`
	DailyUploadLimit     *int   `json:"dailyUploadLimit"`
}

type couponResponse struct {
	CouponID string `json:"couponId"`
	Status   string `json:"status"`
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "couponhub",
				"POSTGRES_PASSWORD": "couponhub",
				"POSTGRES_DB":       "couponhub",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(ctr) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://couponhub:couponhub@%s:%s/couponhub?sslmode=disable", host, port.Port())
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

type client struct {
	base string
	http *http.Client
}

func (c *client) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestRun(t *testing.T) {
	cfg := &Config{
		Addr:        freeAddr(t),
		DatabaseURL: startPostgres(t),
		Quota:       QuotaConfig{Timezone: "UTC"},
		Sweep: SweepConfig{
			Schedule: "0 0 * * *",
			Timeout:  time.Minute,
			Timezone: "UTC",
		},
		Graceful: GracefulConfig{ShutdownTimeout: 5 * time.Second},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, zaptest.NewLogger(t), noopTelemetry{}, cfg) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("Run did not return after cancellation")
		}
	})

	c := &client{base: "http://" + cfg.Addr, http: &http.Client{Timeout: 10 * time.Second}}
	require.Eventually(t, func() bool {
		resp, err := c.http.Get(c.base + "/readyz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 30*time.Second, 200*time.Millisecond)

	resp := c.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decodeJSON[healthResponse](t, resp).Status)

	resp = c.do(t, http.MethodPost, "/api/categories", map[string]string{"name": "Food"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = c.do(t, http.MethodPost, "/api/users", map[string]string{
		"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com", "dob": "1990-12-10",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	u := decodeJSON[userResponse](t, resp)
	assert.Equal(t, "USER001", u.UserID)

	expire := time.Now().AddDate(0, 1, 0).Format(time.DateOnly)
	newCoupon := func(code string) map[string]any {
		return map[string]any{
			"userId":                 u.UserID,
			"categoryName":           "Food",
			"brandName":              "Pizza Place",
			"couponCode":             code,
			"expireDate":             expire,
			"percentage":             15,
			"termsAndConditionImage": "uploads/terms.png",
		}
	}

	t.Run("DailyQuota", func(t *testing.T) {
		for i := range 7 {
			resp := c.do(t, http.MethodPost, "/api/coupons", newCoupon(fmt.Sprintf("CODE%02d", i)))
			require.Equal(t, http.StatusCreated, resp.StatusCode, "upload %d", i+1)
		}
		resp := c.do(t, http.MethodPost, "/api/coupons", newCoupon("CODE07"))
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		assert.Equal(t, "daily limit reached", decodeJSON[errorResponse](t, resp).Message)

		resp = c.do(t, http.MethodGet, "/api/users/"+u.UserID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 7, decodeJSON[userResponse](t, resp).TotalCouponsUploaded)
	})

	t.Run("Moderation", func(t *testing.T) {
		resp := c.do(t, http.MethodPut, "/api/coupons/update-status?couponId=COUP001&status=approved", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "approved", decodeJSON[couponResponse](t, resp).Status)

		resp = c.do(t, http.MethodPut, "/api/coupons/update-status?couponId=COUP001&status=sold", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp = c.do(t, http.MethodPut, "/api/coupons/update-status?couponId=COUP999&status=approved", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("Tier", func(t *testing.T) {
		resp := c.do(t, http.MethodGet, "/api/users/"+u.UserID+"/tier", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		tier := decodeJSON[userResponse](t, resp)
		assert.Equal(t, 1, tier.UserLevel)
		require.NotNil(t, tier.DailyUploadLimit)
		assert.Equal(t, 7, *tier.DailyUploadLimit)
	})

	t.Run("RequestID", func(t *testing.T) {
		resp := c.do(t, http.MethodGet, "/api/coupons", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})
}
