package fiber

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aceprep/entitlement/pkg/entitlement"
	"github.com/aceprep/entitlement/storage/memory"
)

// Test helper to create a gate backed by an in-memory store.
func setupTestGate(t *testing.T) (*entitlement.Gate, *memory.Store) {
	t.Helper()

	store := memory.New()
	gate, err := entitlement.NewGate(store, store, entitlement.Config{
		Location: time.UTC,
	})
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}
	return gate, store
}

// Test helper to set up a subscription snapshot
func setupSubscription(t *testing.T, store *memory.Store, userID string, tier entitlement.Tier) {
	t.Helper()

	now := time.Now().UTC()
	end := now.Add(30 * 24 * time.Hour)
	err := store.SetSnapshot(context.Background(), &entitlement.SubscriptionSnapshot{
		UserID:           userID,
		Tier:             tier,
		Status:           entitlement.StatusActive,
		StartDate:        now.Add(-time.Hour),
		EndDate:          &end,
		AccountCreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("Failed to set snapshot: %v", err)
	}
}

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	app.Post("/ai/chat", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})
	return app
}

func TestMiddleware_Success(t *testing.T) {
	gate, store := setupTestGate(t)
	setupSubscription(t, store, "user1", entitlement.TierPremium)

	app := newApp(Config{
		Gate:       gate,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlement.FeatureAIChat),
	})

	req := httptest.NewRequest(http.MethodPost, "/ai/chat", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "success" {
		t.Errorf("body = %q, want success", string(body))
	}
	if got := resp.Header.Get("X-Quota-Limit"); got != "-1" {
		t.Errorf("X-Quota-Limit = %q, want -1", got)
	}
}

func TestMiddleware_QuotaExceeded(t *testing.T) {
	gate, store := setupTestGate(t)
	setupSubscription(t, store, "user1", entitlement.TierBasic)

	app := newApp(Config{
		Gate:       gate,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlement.FeatureAIChat),
	})

	limit, err := entitlement.DefaultCatalog().LimitFor(entitlement.TierBasic, entitlement.FeatureAIChat)
	if err != nil {
		t.Fatalf("LimitFor: %v", err)
	}

	for i := 0; i < limit; i++ {
		req := httptest.NewRequest(http.MethodPost, "/ai/chat", http.NoBody)
		req.Header.Set("X-User-ID", "user1")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i+1, resp.StatusCode, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/ai/chat", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if got := resp.Header.Get("X-Quota-Remaining"); got != "0" {
		t.Errorf("X-Quota-Remaining = %q, want 0", got)
	}
}

func TestMiddleware_MissingAuth(t *testing.T) {
	gate, _ := setupTestGate(t)

	app := newApp(Config{
		Gate:       gate,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlement.FeatureAIChat),
	})

	req := httptest.NewRequest(http.MethodPost, "/ai/chat", http.NoBody)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestMiddleware_FromLocals(t *testing.T) {
	gate, store := setupTestGate(t)
	setupSubscription(t, store, "local-user", entitlement.TierPremium)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "local-user")
		return c.Next()
	})
	app.Use(Middleware(Config{
		Gate:       gate,
		GetUserID:  FromLocals("user_id"),
		GetFeature: FixedFeature(entitlement.FeatureMockTest),
	}))
	app.Post("/mock-test", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	req := httptest.NewRequest(http.MethodPost, "/mock-test", http.NoBody)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestMiddleware_FailedHandlerDoesNotConsume(t *testing.T) {
	gate, store := setupTestGate(t)
	setupSubscription(t, store, "user1", entitlement.TierBasic)

	app := fiber.New()
	app.Use(Middleware(Config{
		Gate:       gate,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlement.FeatureAIChat),
	}))
	app.Post("/ai/chat", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusBadGateway).SendString("upstream failed")
	})

	req := httptest.NewRequest(http.MethodPost, "/ai/chat", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}

	access := gate.CheckAccess(context.Background(), "user1", entitlement.FeatureAIChat)
	if access.Used != 0 {
		t.Errorf("used = %d, want 0 after failed handler", access.Used)
	}
}

func TestMiddleware_CustomDeniedHandler(t *testing.T) {
	gate, _ := setupTestGate(t)

	app := newApp(Config{
		Gate:       gate,
		GetUserID:  FromHeader("X-User-ID"),
		GetFeature: FixedFeature(entitlement.FeatureAIChat),
		OnDenied: func(c *fiber.Ctx, access *entitlement.Access) error {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error": "upgrade required",
				"tier":  access.Tier,
			})
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/ai/chat", http.NoBody)
	req.Header.Set("X-User-ID", "free-user")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusPaymentRequired)
	}
}

func TestMiddleware_ConfigValidation(t *testing.T) {
	gate, _ := setupTestGate(t)

	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing gate", Config{GetUserID: FromHeader("X"), GetFeature: FixedFeature(entitlement.FeatureAIChat)}},
		{"missing getUserID", Config{Gate: gate, GetFeature: FixedFeature(entitlement.FeatureAIChat)}},
		{"missing getFeature", Config{Gate: gate, GetUserID: FromHeader("X")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			Middleware(tc.cfg)
		})
	}
}
