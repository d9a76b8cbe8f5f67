package parse

import (
	"regexp"
	"sort"
	"strings"
)

const redactedPlaceholder = "<redacted>"

// sensitiveKeyPatterns is the fixed blocklist of well-known sensitive
// environment-variable name fragments. A key matches if it contains one of
// these (case-insensitive).
var sensitiveKeyPatterns = []string{
	"API_KEY", "APIKEY", "SECRET", "PASSWORD", "PASSWD", "PWD", "TOKEN",
	"CONNECTION_STRING", "CONNSTR", "PRIVATE_KEY", "ACCESS_KEY",
	"ACCESS_TOKEN", "REFRESH_TOKEN", "CLIENT_SECRET", "AUTH", "CREDENTIAL",
	"SIGNING_KEY", "ENCRYPTION_KEY", "SESSION_KEY", "COOKIE_SECRET",
	"JWT_SECRET", "DB_PASSWORD", "DATABASE_PASSWORD", "SMTP_PASSWORD",
	"AWS_SECRET_ACCESS_KEY", "AWS_SESSION_TOKEN", "AZURE_CLIENT_SECRET",
	"GCP_SERVICE_ACCOUNT_KEY", "GOOGLE_APPLICATION_CREDENTIALS",
	"GITHUB_TOKEN", "GH_TOKEN", "GITLAB_TOKEN", "NPM_TOKEN", "SLACK_TOKEN",
	"DOCKER_PASSWORD", "DOCKERHUB_PASSWORD", "DD_API_KEY", "DATADOG_API_KEY",
	"SENTRY_DSN", "STRIPE_SECRET_KEY", "STRIPE_API_KEY", "TWILIO_AUTH_TOKEN",
	"SENDGRID_API_KEY", "MAILGUN_API_KEY", "HEROKU_API_KEY", "NUGET_API_KEY",
	"SSH_PRIVATE_KEY", "TLS_KEY", "CERT_KEY", "MASTER_KEY", "VAULT_TOKEN",
	"KUBE_TOKEN", "KUBECONFIG", "SERVICE_ACCOUNT_KEY", "BEARER_TOKEN",
	"OAUTH_TOKEN", "OAUTH_SECRET", "WEBHOOK_SECRET", "ENCRYPT_KEY",
	"DECRYPT_KEY", "LICENSE_KEY", "ACTIVATION_KEY", "SALT", "HMAC_KEY",
	"CONSUMER_SECRET", "APP_SECRET", "COOKIE_SIGNING_SECRET",
}

var quotedKeyValueRe = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)=([^"]*)"`)

// IsSensitiveKey reports whether key matches one of the well-known
// sensitive-name patterns.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// RedactEnvironment redacts the values of sensitive KEY=VALUE pairs in a
// sorted copy of pairs (the input slice is left unchanged), returning that
// copy and whether anything was redacted.
func RedactEnvironment(pairs []string) (redacted []string, filtered bool) {
	out := make([]string, len(pairs))
	copy(out, pairs)
	sort.Strings(out)

	for i, pair := range out {
		key, _, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if IsSensitiveKey(key) {
			out[i] = key + "=" + redactedPlaceholder
			filtered = true
		}
	}
	return out, filtered
}

// RedactRawCommandText redacts quoted KEY=VALUE pairs embedded in raw
// command capture text, e.g. debugger output that happens to echo back
// environment variables.
func RedactRawCommandText(text string) string {
	return quotedKeyValueRe.ReplaceAllStringFunc(text, func(match string) string {
		m := quotedKeyValueRe.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		key := m[1]
		if !IsSensitiveKey(key) {
			return match
		}
		return `"` + key + "=" + redactedPlaceholder + `"`
	})
}
