//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relaydesk/inbox/internal/app"
	"github.com/relaydesk/inbox/internal/config"
	"github.com/relaydesk/inbox/internal/pkg/postgres"
	"github.com/relaydesk/inbox/internal/testutil"
)

const (
	// OpenAPI document path relative to the tests/integration directory.
	openAPISpecPath = "../../api/openapi/openapi.yaml"
	migrationsPath  = "../../migrations"

	cronSecret = "integration-cron-secret"
)

var (
	testApp       *app.App
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	testDB        *pgxpool.Pool
	testRedis     *miniredis.Miniredis
	fakeProvider  *fakeTwilio
)

// newTestClient creates a client with OpenAPI validation enabled.
func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := testutil.NewClientWithValidator(testServer.URL, testValidator)
	client.SetT(t)
	return client
}

// newCronClient creates a validating client that presents the cron secret.
func newCronClient(t *testing.T) *testutil.Client {
	t.Helper()
	return newTestClient(t).WithToken(cronSecret)
}

func TestMain(m *testing.M) {
	os.Exit(runTests(m))
}

func runTests(m *testing.M) int {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	if err := postgres.Migrate(pgContainer.ConnectionString, migrationsPath); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testRedis, err = miniredis.Run()
	if err != nil {
		log.Fatalf("start miniredis: %v", err)
	}
	defer testRedis.Close()

	fakeProvider = newFakeTwilio()
	defer fakeProvider.Close()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Database.MaxOpenConns = 5
	cfg.Database.ConnectAttempts = 3
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	cfg.Redis.Enabled = true
	cfg.Redis.Address = testRedis.Addr()
	cfg.Twilio.Enabled = true
	cfg.Twilio.AccountSID = fakeAccountSID
	cfg.Twilio.AuthToken = "test-token"
	cfg.Twilio.BaseURL = fakeProvider.URL
	cfg.Twilio.PhoneNumber = "+15550001111"
	cfg.Twilio.RateLimit = 1000
	cfg.Cron.Secret = cronSecret
	// Sweeps are triggered explicitly through the cron endpoint or the sweeper.
	cfg.Scheduler.Enabled = false

	testApp, err = app.New(cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}
	defer testDB.Close()

	testServer = httptest.NewServer(testApp.Router())
	defer testServer.Close()

	testValidator, err = testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	code := m.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := testApp.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	return code
}
