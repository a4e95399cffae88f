package scraper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/detloc/detloc/internal/models"
)

func TestClassify(t *testing.T) {
	resultsBody := `<html><body><table><tr><th>Name</th></tr><tr><td>Doe, John</td></tr></table></body></html>`

	tests := []struct {
		name   string
		status int
		body   string
		want   models.ResponseClass
	}{
		{
			name:   "results table",
			status: 200,
			body:   resultsBody,
			want:   models.ClassResults,
		},
		{
			name:   "no results banner",
			status: 200,
			body:   `<html><body><p>No records found matching your search criteria.</p></body></html>`,
			want:   models.ClassNotFound,
		},
		{
			name:   "spanish no results banner",
			status: 200,
			body:   `<html><body><p>No se encontraron registros.</p></body></html>`,
			want:   models.ClassNotFound,
		},
		{
			name:   "recaptcha widget",
			status: 200,
			body:   `<html><body><div class="g-recaptcha" data-sitekey="k"></div></body></html>`,
			want:   models.ClassCaptcha,
		},
		{
			name:   "captcha on ok page with table still wins",
			status: 200,
			body:   `<html><body><div class="h-captcha"></div><table><tr><td>x</td></tr></table></body></html>`,
			want:   models.ClassCaptcha,
		},
		{
			name:   "cloudflare challenge on 403",
			status: 403,
			body:   `<html><body><div id="cf-challenge-running"></div></body></html>`,
			want:   models.ClassCaptcha,
		},
		{
			name:   "plain 403",
			status: 403,
			body:   `<html><body><h1>Forbidden</h1></body></html>`,
			want:   models.ClassBlocked,
		},
		{
			name:   "429 throttle",
			status: 429,
			body:   `<html><body>Too many requests</body></html>`,
			want:   models.ClassRateLimited,
		},
		{
			name:   "404",
			status: 404,
			body:   `<html><body>Not found</body></html>`,
			want:   models.ClassNotFound,
		},
		{
			name:   "server error",
			status: 502,
			body:   `<html><body>Bad gateway</body></html>`,
			want:   models.ClassUnknown,
		},
		{
			name:   "block banner on 200",
			status: 200,
			body:   `<html><body><p>Your request has been blocked due to unusual traffic.</p></body></html>`,
			want:   models.ClassBlocked,
		},
		{
			name:   "unrecognized page",
			status: 200,
			body:   `<html><body><p>Welcome to the portal.</p></body></html>`,
			want:   models.ClassUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.status, []byte(tt.body)))
		})
	}
}

func TestSessionExpired(t *testing.T) {
	assert.True(t, SessionExpired([]byte(`<html><body>Your session has expired. Please try your search again.</body></html>`)))
	assert.True(t, SessionExpired([]byte(`<body>Invalid token supplied</body>`)))
	assert.False(t, SessionExpired([]byte(`<body><table><tr><td>row</td></tr></table></body>`)))
}
