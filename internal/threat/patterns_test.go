package threat_test

import (
	"testing"

	"github.com/Nancyzolla/Groupe8-SI3/internal/threat"
	"github.com/stretchr/testify/assert"
)

func TestMatchSQLInjection(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		match   bool
	}{
		{"classic tautology", `' OR '1'='1`, true},
		{"union select", "UNION SELECT username, password FROM users", true},
		{"lowercase union select", "union select 1,2,3", true},
		{"drop table", "DROP TABLE users", true},
		{"comment marker", "admin'--", true},
		{"time based", "SLEEP(5)", true},
		{"plain credentials", `{"username":"bob","password":"hunter2"}`, false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := threat.MatchSQLInjection(tt.payload)
			assert.Equal(t, tt.match, ok)
		})
	}
}

func TestMatchXSS(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		match   bool
	}{
		{"script tag", "<script>alert(1)</script>", true},
		{"javascript uri", "javascript:alert(1)", true},
		{"event handler", `<img src=x onerror=alert(1)>`, true},
		{"iframe", "<iframe src='http://evil'>", true},
		{"plain html word", "description of the script feature", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := threat.MatchXSS(tt.payload)
			assert.Equal(t, tt.match, ok)
		})
	}
}

func TestMatchPathTraversal(t *testing.T) {
	tests := []struct {
		path  string
		match bool
	}{
		{"/api/files/../../etc/passwd", true},
		{"/download?f=..%2e%2e", true},
		{"/windows/system32/cmd.exe", true},
		{"/api/users/42", false},
		{"/healthz", false},
	}

	for _, tt := range tests {
		_, ok := threat.MatchPathTraversal(tt.path)
		assert.Equal(t, tt.match, ok, tt.path)
	}
}

func TestMatchKnownScanner(t *testing.T) {
	sig, ok := threat.MatchKnownScanner("sqlmap/1.7#stable (http://sqlmap.org)")
	assert.True(t, ok)
	assert.Equal(t, "sqlmap", sig)

	_, ok = threat.MatchKnownScanner("Mozilla/5.0 (X11; Linux x86_64) Firefox/115.0")
	assert.False(t, ok)

	// Case-insensitive matching
	_, ok = threat.MatchKnownScanner("Nikto/2.5.0")
	assert.True(t, ok)

	_, ok = threat.MatchKnownScanner("")
	assert.False(t, ok)
}
