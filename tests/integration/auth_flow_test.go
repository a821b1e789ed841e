package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	db, err := SetupTestDatabase(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "integration setup failed: %v\n", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Teardown(ctx)
	os.Exit(code)
}

// freshApp truncates all tables and builds a new app with empty in-memory
// state, so one test's bans and lockouts cannot leak into the next.
func freshApp(t *testing.T) *TestApp {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	require.NoError(t, testDB.CleanupTables(context.Background()))

	app, err := SetupTestApp(testDB)
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func TestLoginFlowEndToEnd(t *testing.T) {
	app := freshApp(t)
	ctx := context.Background()

	username, password := TestUser("admin")
	_, err := SeedUser(ctx, testDB.Pool, username, password, TestTOTPSecret, "admin")
	require.NoError(t, err)

	code, err := CurrentTOTPCode(TestTOTPSecret)
	require.NoError(t, err)

	body, status, err := app.Login(username, password, code)
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["refresh_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "admin", body["role"])

	// The issued token grants access to the admin surface.
	resp, err := app.Get("/admin/bans", map[string]string{
		"Authorization": "Bearer " + body["access_token"].(string),
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestLoginRejectsOperatorFromAdminRoutes(t *testing.T) {
	app := freshApp(t)
	ctx := context.Background()

	username, password := TestUser("operator")
	_, err := SeedUser(ctx, testDB.Pool, username, password, TestTOTPSecret, "operator")
	require.NoError(t, err)

	code, err := CurrentTOTPCode(TestTOTPSecret)
	require.NoError(t, err)

	body, status, err := app.Login(username, password, code)
	require.NoError(t, err)
	require.Equal(t, 200, status)

	resp, err := app.Get("/admin/bans", map[string]string{
		"Authorization": "Bearer " + body["access_token"].(string),
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 403, resp.StatusCode)
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	app := freshApp(t)
	ctx := context.Background()

	username, password := TestUser("lockout")
	_, err := SeedUser(ctx, testDB.Pool, username, password, TestTOTPSecret, "operator")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, status, err := app.Login(username, "wrong-password", "000000")
		require.NoError(t, err)
		assert.Equal(t, 401, status)
	}

	// Correct credentials are refused while the lockout holds.
	code, err := CurrentTOTPCode(TestTOTPSecret)
	require.NoError(t, err)
	resp, err := app.PostJSON("/auth/login", map[string]string{
		"username":  username,
		"password":  password,
		"totp_code": code,
	}, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 429, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// The failures reached the durable mirror.
	var count int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM login_failures WHERE username = $1`, username).Scan(&count))
	assert.Equal(t, 5, count)
}

func TestRefreshRotationAndReuseRevocation(t *testing.T) {
	app := freshApp(t)
	ctx := context.Background()

	username, password := TestUser("refresh")
	_, err := SeedUser(ctx, testDB.Pool, username, password, TestTOTPSecret, "operator")
	require.NoError(t, err)

	code, err := CurrentTOTPCode(TestTOTPSecret)
	require.NoError(t, err)
	body, status, err := app.Login(username, password, code)
	require.NoError(t, err)
	require.Equal(t, 200, status)

	first := body["refresh_token"].(string)

	// Rotate once.
	resp, err := app.PostJSON("/auth/refresh", map[string]string{"refresh_token": first}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	// Replaying the consumed token revokes the whole family.
	resp, err = app.PostJSON("/auth/refresh", map[string]string{"refresh_token": first}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 401, resp.StatusCode)

	var remaining int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE username = $1`, username).Scan(&remaining))
	assert.Equal(t, 0, remaining)
}

func TestInjectionPayloadBansSource(t *testing.T) {
	app := freshApp(t)
	ctx := context.Background()

	resp, err := app.PostJSON("/auth/login", map[string]string{
		"username":  "admin' OR '1'='1' --",
		"password":  "x",
		"totp_code": "123456",
	}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 403, resp.StatusCode)

	// Every later request from the same source hits the ban wall.
	resp, err = app.Get("/admin/bans", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 403, resp.StatusCode)

	// Ban and alert both reached the durable mirror.
	var banCount, alertCount int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ip_bans`).Scan(&banCount))
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ids_alerts WHERE attack_type = 'SQL_INJECTION'`).Scan(&alertCount))
	assert.Equal(t, 1, banCount)
	assert.GreaterOrEqual(t, alertCount, 1)
}

func TestAdminUnbanFlow(t *testing.T) {
	app := freshApp(t)
	ctx := context.Background()

	username, password := TestUser("unban-admin")
	_, err := SeedUser(ctx, testDB.Pool, username, password, TestTOTPSecret, "admin")
	require.NoError(t, err)

	// Ban a third-party address directly through the service.
	app.Bans.Ban("198.51.100.9", models.AttackSQLInjection, models.SeverityCritical)

	code, err := CurrentTOTPCode(TestTOTPSecret)
	require.NoError(t, err)
	body, status, err := app.Login(username, password, code)
	require.NoError(t, err)
	require.Equal(t, 200, status)
	token := body["access_token"].(string)

	headers := map[string]string{"Authorization": "Bearer " + token}

	resp, err := app.PostJSON("/admin/unban", map[string]string{"ip_address": "198.51.100.9"}, headers)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	_, banned := app.Bans.IsBanned("198.51.100.9")
	assert.False(t, banned)

	// The durable row is gone too; give the async delete a moment.
	assert.Eventually(t, func() bool {
		var n int
		if err := testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM ip_bans WHERE ip_address = '198.51.100.9'`).Scan(&n); err != nil {
			return false
		}
		return n == 0
	}, 3*time.Second, 50*time.Millisecond)
}

func TestBanWarmStartFromDurableMirror(t *testing.T) {
	app := freshApp(t)
	ctx := context.Background()

	require.NoError(t, SeedBan(ctx, testDB.Pool, "203.0.113.77", "DDOS_FLOOD",
		time.Now().Add(time.Hour), 2))

	require.NoError(t, app.Bans.WarmStart(ctx))

	rec, banned := app.Bans.IsBanned("203.0.113.77")
	require.True(t, banned)
	assert.Equal(t, 2, rec.BanCount)
}
