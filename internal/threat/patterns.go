package threat

import (
	"regexp"
	"strings"
)

// Signature sets for payload inspection. The matchers are stateless and safe
// for concurrent use; each returns the matched signature so alerts can record
// which rule fired.

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\bOR\b|\bAND\b)\s+[\w'"]+\s*=\s*[\w'"]+`),
	regexp.MustCompile(`(?i)(UNION\s+SELECT|INSERT\s+INTO|DROP\s+TABLE|DELETE\s+FROM)`),
	regexp.MustCompile(`(?i)(--|;--|/\*|\*/|xp_|exec\s*\()`),
	regexp.MustCompile(`(?i)('\s*OR\s*'1'\s*=\s*'1|1=1|admin'--)`),
	regexp.MustCompile(`(?i)(SLEEP\s*\(|BENCHMARK\s*\(|WAITFOR\s+DELAY)`),
}

var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)on(load|click|error|mouseover)\s*=`),
	regexp.MustCompile(`(?i)<iframe|<embed|<object`),
	regexp.MustCompile(`(?i)eval\s*\(|alert\s*\(`),
}

var pathTraversalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`\.\.\\`),
	regexp.MustCompile(`(?i)%2e%2e`),
	regexp.MustCompile(`(?i)/etc/passwd`),
	regexp.MustCompile(`(?i)/windows/system32`),
}

// Known attacker tooling, matched as lowercase substrings of the User-Agent.
var scannerSignatures = []string{
	"sqlmap", "nikto", "nmap", "masscan", "nessus",
	"metasploit", "burpsuite", "dirbuster", "hydra",
	"medusa", "go-http-client", "zgrab", "nuclei", "acunetix",
}

// MatchSQLInjection checks a payload against the SQL injection signatures.
func MatchSQLInjection(payload string) (string, bool) {
	return matchAny(sqlInjectionPatterns, payload)
}

// MatchXSS checks a payload against the cross-site-scripting signatures.
func MatchXSS(payload string) (string, bool) {
	return matchAny(xssPatterns, payload)
}

// MatchPathTraversal checks a URL path against the traversal signatures.
func MatchPathTraversal(path string) (string, bool) {
	return matchAny(pathTraversalPatterns, path)
}

// MatchKnownScanner checks a User-Agent for known attacker tooling.
func MatchKnownScanner(userAgent string) (string, bool) {
	ua := strings.ToLower(userAgent)
	for _, sig := range scannerSignatures {
		if strings.Contains(ua, sig) {
			return sig, true
		}
	}
	return "", false
}

func matchAny(patterns []*regexp.Regexp, s string) (string, bool) {
	for _, p := range patterns {
		if p.MatchString(s) {
			return truncateSignature(p.String()), true
		}
	}
	return "", false
}

// truncateSignature caps the signature echoed into alert details.
func truncateSignature(sig string) string {
	if len(sig) > 40 {
		return sig[:40]
	}
	return sig
}
