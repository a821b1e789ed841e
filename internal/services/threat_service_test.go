package services_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Nancyzolla/Groupe8-SI3/internal/config"
	"github.com/Nancyzolla/Groupe8-SI3/internal/models"
	"github.com/Nancyzolla/Groupe8-SI3/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAlertStore implements AlertStore for testing
type MockAlertStore struct {
	mu     sync.Mutex
	events []*models.AlertEvent
}

func NewMockAlertStore() *MockAlertStore {
	return &MockAlertStore{}
}

func (m *MockAlertStore) Insert(ctx context.Context, event *models.AlertEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockAlertStore) ListRecent(ctx context.Context, limit int) ([]*models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AlertEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *MockAlertStore) Last() *models.AlertEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *MockAlertStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// MockBanStore implements BanStore for testing
type MockBanStore struct {
	mu      sync.Mutex
	records map[string]*models.BanRecord
	getErr  error
}

func NewMockBanStore() *MockBanStore {
	return &MockBanStore{records: make(map[string]*models.BanRecord)}
}

func (m *MockBanStore) Upsert(ctx context.Context, ban *models.BanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *ban
	m.records[ban.IPAddress] = &c
	return nil
}

func (m *MockBanStore) Get(ctx context.Context, ip string) (*models.BanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[ip]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (m *MockBanStore) Delete(ctx context.Context, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[ip]; !ok {
		return models.ErrNotFound
	}
	delete(m.records, ip)
	return nil
}

func (m *MockBanStore) ListActive(ctx context.Context, now time.Time) ([]*models.BanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.BanRecord, 0)
	for _, rec := range m.records {
		if rec.Active(now) {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

func testThreatConfig() config.ThreatConfig {
	return config.ThreatConfig{
		BruteForcePerWindow: 20,
		BruteForceWindow:    60 * time.Second,
		FloodPerSecond:      50,
		FloodWindow:         5 * time.Second,
		ScanEndpoints:       15,
		ScanWindow:          60 * time.Second,
		StuffingUsernames:   10,
		StuffingWindow:      10 * time.Minute,
		ReplayWindow:        1 * time.Hour,
		BanDuration:         30 * time.Minute,
		BanDurationSevere:   24 * time.Hour,
		BanDurationCap:      7 * 24 * time.Hour,
		WindowGrace:         5 * time.Minute,
	}
}

type threatFixture struct {
	svc    *services.ThreatService
	bans   *services.BanService
	alerts *MockAlertStore
	store  *MockBanStore
	now    time.Time
}

func (f *threatFixture) setClock(t time.Time) {
	f.now = t
	f.svc.Clock = func() time.Time { return f.now }
	f.bans.Clock = f.svc.Clock
}

func newThreatFixture(t *testing.T) *threatFixture {
	return newThreatFixtureWithConfig(t, testThreatConfig())
}

func newThreatFixtureWithConfig(t *testing.T, cfg config.ThreatConfig) *threatFixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	alertStore := NewMockAlertStore()
	banStore := NewMockBanStore()
	alerts := services.NewAlertService(alertStore, time.Second, logger)
	bans := services.NewBanService(banStore, cfg, time.Second, logger)
	svc := services.NewThreatService(cfg, bans, alerts, logger)

	f := &threatFixture{svc: svc, bans: bans, alerts: alertStore, store: banStore}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.setClock(base)
	alerts.Clock = func() time.Time { return f.now }
	return f
}

func benignRequest(ip string) services.RequestContext {
	return services.RequestContext{
		IP:        ip,
		Method:    "GET",
		Path:      "/profil",
		UserAgent: "Mozilla/5.0",
	}
}

func TestThreatService_BenignRequestPasses(t *testing.T) {
	f := newThreatFixture(t)

	d := f.svc.Evaluate(benignRequest("10.0.0.1"))

	assert.False(t, d.Blocked)
	assert.Empty(t, d.Reason)
	assert.Equal(t, 0, f.alerts.Count())
}

func TestThreatService_BannedIPBlockedFirst(t *testing.T) {
	f := newThreatFixture(t)
	f.bans.Ban("10.0.0.1", models.AttackSQLInjection, models.SeverityCritical)

	// Even a request that would trip other checks reports the ban.
	req := benignRequest("10.0.0.1")
	req.UserAgent = "sqlmap/1.7"
	d := f.svc.Evaluate(req)

	require.True(t, d.Blocked)
	assert.Contains(t, d.Reason, "IP banned")
	last := f.alerts.Last()
	require.NotNil(t, last)
	assert.Equal(t, models.AttackBanEnforced, last.AttackType)
}

func TestThreatService_FloodBansCritical(t *testing.T) {
	// The flood window only fills when the volume threshold sits above it, so
	// spread the thresholds apart to exercise the flood branch.
	cfg := testThreatConfig()
	cfg.FloodPerSecond = 2 // 2/s over 5s = 10 requests
	cfg.BruteForcePerWindow = 100
	f := newThreatFixtureWithConfig(t, cfg)
	ip := "10.0.0.2"

	var d services.Decision
	for i := 0; i < 11; i++ {
		f.setClock(f.now.Add(10 * time.Millisecond))
		d = f.svc.Evaluate(benignRequest(ip))
		if d.Blocked {
			break
		}
	}

	require.True(t, d.Blocked)
	assert.Equal(t, "flood detected", d.Reason)
	_, banned := f.bans.IsBanned(ip)
	assert.True(t, banned)
	rec := f.store.records[ip]
	require.NotNil(t, rec)
	// CRITICAL severity carries the severe duration.
	assert.Equal(t, 24*time.Hour, rec.ExpiresAt.Sub(rec.StartedAt))
}

func TestThreatService_VolumeGrading(t *testing.T) {
	f := newThreatFixture(t)
	ip := "10.0.0.3"

	// Spread requests so the flood window never fills.
	var d services.Decision
	seen := map[string]bool{}
	for i := 0; i < 60; i++ {
		f.setClock(f.now.Add(500 * time.Millisecond))
		d = f.svc.Evaluate(benignRequest(ip))
		if last := f.alerts.Last(); last != nil {
			seen[last.AttackType+"/"+string(last.Severity)] = true
		}
		if d.Blocked {
			break
		}
	}

	// 1x threshold logs MEDIUM, 2x logs HIGH, 3x blocks CRITICAL.
	assert.True(t, seen[models.AttackRateLimit+"/MEDIUM"], "expected MEDIUM rate limit log")
	assert.True(t, seen[models.AttackBruteForceIP+"/HIGH"], "expected HIGH brute force log")
	require.True(t, d.Blocked)
	assert.Equal(t, "brute force detected", d.Reason)
	_, banned := f.bans.IsBanned(ip)
	assert.True(t, banned)
}

func TestThreatService_EndpointScanBlocks(t *testing.T) {
	f := newThreatFixture(t)
	ip := "10.0.0.4"

	var d services.Decision
	for i := 0; i < 15; i++ {
		f.setClock(f.now.Add(time.Second))
		req := benignRequest(ip)
		req.Path = fmt.Sprintf("/admin/page-%d", i)
		d = f.svc.Evaluate(req)
		if d.Blocked {
			break
		}
	}

	require.True(t, d.Blocked)
	assert.Equal(t, "endpoint scan detected", d.Reason)
}

func TestThreatService_QueryVariationsAreOneEndpoint(t *testing.T) {
	f := newThreatFixture(t)
	ip := "10.0.0.16"

	// Paging through a single endpoint produces many distinct query strings
	// but only one path; the scan counter must not grow past one.
	for i := 0; i < 16; i++ {
		f.setClock(f.now.Add(time.Second))
		req := benignRequest(ip)
		req.Path = "/api/data"
		req.Query = fmt.Sprintf("page=%d", i)
		d := f.svc.Evaluate(req)
		require.False(t, d.Blocked, "paginated request %d should pass", i)
	}
	assert.Equal(t, 0, f.alerts.Count())
	_, banned := f.bans.IsBanned(ip)
	assert.False(t, banned)
}

func TestThreatService_TraversalInQueryBlocks(t *testing.T) {
	f := newThreatFixture(t)

	req := benignRequest("10.0.0.17")
	req.Path = "/files"
	req.Query = "name=../../etc/passwd"
	d := f.svc.Evaluate(req)

	require.True(t, d.Blocked)
	assert.Equal(t, "path traversal detected", d.Reason)
}

func TestThreatService_SkipFrequencyChecks(t *testing.T) {
	f := newThreatFixture(t)
	ip := "10.0.0.5"

	for i := 0; i < 400; i++ {
		f.setClock(f.now.Add(5 * time.Millisecond))
		req := benignRequest(ip)
		req.Path = "/auth/login"
		req.SkipFrequencyChecks = true
		d := f.svc.Evaluate(req)
		require.False(t, d.Blocked, "frequency-exempt request %d should pass", i)
	}
}

func TestThreatService_PathTraversalBlocks(t *testing.T) {
	f := newThreatFixture(t)

	req := benignRequest("10.0.0.6")
	req.Path = "/files/../../etc/passwd"
	d := f.svc.Evaluate(req)

	require.True(t, d.Blocked)
	assert.Equal(t, "path traversal detected", d.Reason)
	_, banned := f.bans.IsBanned("10.0.0.6")
	assert.True(t, banned)
}

func TestThreatService_KnownScannerBlocks(t *testing.T) {
	f := newThreatFixture(t)

	req := benignRequest("10.0.0.7")
	req.UserAgent = "Mozilla/5.0 sqlmap/1.7.2"
	d := f.svc.Evaluate(req)

	require.True(t, d.Blocked)
	assert.Equal(t, "attack tool detected", d.Reason)
}

func TestThreatService_EmptyUserAgentPasses(t *testing.T) {
	f := newThreatFixture(t)

	req := benignRequest("10.0.0.8")
	req.UserAgent = ""
	d := f.svc.Evaluate(req)

	assert.False(t, d.Blocked)
}

func TestThreatService_SQLInjectionBansSevere(t *testing.T) {
	f := newThreatFixture(t)

	req := benignRequest("10.0.0.9")
	req.Body = `{"username": "admin' OR '1'='1"}`
	d := f.svc.Evaluate(req)

	require.True(t, d.Blocked)
	assert.Equal(t, "injection detected", d.Reason)
	last := f.alerts.Last()
	require.NotNil(t, last)
	assert.Equal(t, models.AttackSQLInjection, last.AttackType)
	assert.Equal(t, models.SeverityCritical, last.Severity)

	rec := f.store.records["10.0.0.9"]
	require.NotNil(t, rec)
	assert.Equal(t, 24*time.Hour, rec.ExpiresAt.Sub(rec.StartedAt))
}

func TestThreatService_XSSBlocks(t *testing.T) {
	f := newThreatFixture(t)

	req := benignRequest("10.0.0.10")
	req.Body = `{"bio": "<script>alert(1)</script>"}`
	d := f.svc.Evaluate(req)

	require.True(t, d.Blocked)
	last := f.alerts.Last()
	require.NotNil(t, last)
	assert.Equal(t, models.AttackXSS, last.AttackType)
	assert.Equal(t, models.SeverityHigh, last.Severity)
}

func TestThreatService_CredentialStuffing(t *testing.T) {
	f := newThreatFixture(t)
	ip := "10.0.0.11"

	var d services.Decision
	for i := 0; i < 10; i++ {
		f.setClock(f.now.Add(time.Second))
		req := benignRequest(ip)
		req.Path = "/auth/login"
		req.SkipFrequencyChecks = true
		req.Username = fmt.Sprintf("user-%d", i)
		d = f.svc.Evaluate(req)

		switch i {
		case 3:
			assert.False(t, d.Blocked)
		case 4:
			// 5th distinct username: HIGH log without blocking.
			assert.False(t, d.Blocked)
			last := f.alerts.Last()
			require.NotNil(t, last)
			assert.Equal(t, models.AttackCredentialStuffing, last.AttackType)
			assert.Equal(t, models.SeverityHigh, last.Severity)
			assert.False(t, last.Blocked)
		}
	}

	// 10th distinct username blocks and bans.
	require.True(t, d.Blocked)
	assert.Equal(t, "credential stuffing detected", d.Reason)
	last := f.alerts.Last()
	require.NotNil(t, last)
	assert.Equal(t, models.SeverityCritical, last.Severity)
}

func TestThreatService_RepeatedUsernameNotStuffing(t *testing.T) {
	f := newThreatFixture(t)
	ip := "10.0.0.12"

	for i := 0; i < 20; i++ {
		f.setClock(f.now.Add(time.Second))
		req := benignRequest(ip)
		req.SkipFrequencyChecks = true
		req.Username = "alice"
		d := f.svc.Evaluate(req)
		require.False(t, d.Blocked)
	}
	assert.Equal(t, 0, f.alerts.Count())
}

func TestThreatService_TokenReplayLogsWithoutBlocking(t *testing.T) {
	f := newThreatFixture(t)
	token := "eyJhbGciOiJSUzI1NiJ9.payload.sig"

	req := benignRequest("10.0.0.13")
	req.BearerToken = token
	d := f.svc.Evaluate(req)
	require.False(t, d.Blocked)
	assert.Equal(t, 0, f.alerts.Count(), "first sighting should not alert")

	// Same token from the same IP stays quiet.
	f.setClock(f.now.Add(time.Second))
	d = f.svc.Evaluate(req)
	require.False(t, d.Blocked)
	assert.Equal(t, 0, f.alerts.Count())

	// Same token from a new IP alerts but does not block.
	f.setClock(f.now.Add(time.Second))
	req2 := benignRequest("10.99.0.1")
	req2.BearerToken = token
	d = f.svc.Evaluate(req2)
	require.False(t, d.Blocked)

	last := f.alerts.Last()
	require.NotNil(t, last)
	assert.Equal(t, models.AttackTokenReplay, last.AttackType)
	assert.False(t, last.Blocked)
	// The detail lists the IPs known before this sighting, not the new one.
	assert.Contains(t, last.Detail, "10.0.0.13")
	assert.NotContains(t, last.Detail, "10.99.0.1")
	_, banned := f.bans.IsBanned("10.99.0.1")
	assert.False(t, banned)
}

func TestThreatService_EveryFiredCheckRecordsAlert(t *testing.T) {
	f := newThreatFixture(t)

	req := benignRequest("10.0.0.14")
	req.Path = "/../../etc/passwd"
	f.svc.Evaluate(req)

	require.Equal(t, 1, f.alerts.Count())
	event := f.alerts.Last()
	assert.Equal(t, "10.0.0.14", event.IPAddress)
	assert.Equal(t, models.AttackPathTraversal, event.AttackType)
	assert.True(t, event.Blocked)
	assert.Equal(t, f.now, event.CreatedAt)
}

func TestThreatService_PruneWindows(t *testing.T) {
	f := newThreatFixture(t)

	f.svc.Evaluate(benignRequest("10.0.0.15"))
	req := benignRequest("10.0.0.15")
	req.Username = "alice"
	req.SkipFrequencyChecks = true
	f.svc.Evaluate(req)

	// Jump far past every window plus grace.
	f.setClock(f.now.Add(2 * time.Hour))
	removed := f.svc.PruneWindows()
	assert.Greater(t, removed, 0)
}
