package echoapi_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/user"
	"github.com/trezcool/coursekit/tests"
)

func Test_courseApi_modules(t *testing.T) {
	env := setup(t)
	trial := testutil.CreateUser(t, env.users, "Ada", "ada@example.com", "", []string{user.RoleStudent}, true)
	full := testutil.CreateUser(t, env.users, "Bob", "bob@example.com", "", []string{user.RoleStudent}, true)
	testutil.CreatePurchase(t, env.purchases, full.Email, purchase.ProductCourse, purchase.StatusCompleted, full.ID)

	tests := []struct {
		name       string
		token      string
		wantCode   int
		wantTier   access.Tier
		wantLocked map[string]bool
	}{
		{name: "anonymous", wantCode: http.StatusOK, wantTier: access.TierNone,
			wantLocked: map[string]bool{"welcome": true, "fundamentals": true, "projects": true}},
		{name: "trial", token: getToken(t, env.auth, trial), wantCode: http.StatusOK, wantTier: access.TierTrial,
			wantLocked: map[string]bool{"welcome": false, "fundamentals": true, "projects": true}},
		{name: "full", token: getToken(t, env.auth, full), wantCode: http.StatusOK, wantTier: access.TierFull,
			wantLocked: map[string]bool{"welcome": false, "fundamentals": false, "projects": false}},
		{name: "invalid token", token: "not-a-jwt", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/course/modules", tt.token)
			env.serve(req, rec)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp struct {
				Tier    access.Tier         `json:"tier"`
				Modules []access.ModuleView `json:"modules"`
			}
			unmarshal(t, rec, &resp)
			assert.Equal(t, tt.wantTier, resp.Tier)
			locked := make(map[string]bool, len(resp.Modules))
			for _, m := range resp.Modules {
				locked[m.Slug] = m.Locked
			}
			assert.Equal(t, tt.wantLocked, locked)
		})
	}
}

func Test_courseApi_lesson(t *testing.T) {
	env := setup(t)
	trial := testutil.CreateUser(t, env.users, "Ada", "ada@example.com", "", []string{user.RoleStudent}, true)
	// kit only buyers stay on the trial tier
	testutil.CreatePurchase(t, env.purchases, trial.Email, purchase.ProductKit, purchase.StatusCompleted, trial.ID)
	full := testutil.CreateUser(t, env.users, "Bob", "bob@example.com", "", []string{user.RoleStudent}, true)
	testutil.CreatePurchase(t, env.purchases, full.Email, purchase.ProductBundle, purchase.StatusCompleted, full.ID)

	trialToken := getToken(t, env.auth, trial)
	fullToken := getToken(t, env.auth, full)

	tests := []struct {
		name       string
		path       string
		token      string
		wantCode   int
		wantLocked bool
	}{
		{name: "anonymous trial lesson", path: "/v1/course/modules/welcome/lessons/introduction", wantCode: http.StatusOK, wantLocked: true},
		{name: "trial lesson", path: "/v1/course/modules/welcome/lessons/introduction", token: trialToken, wantCode: http.StatusOK},
		{name: "mixed case slugs", path: "/v1/course/modules/Welcome/lessons/Introduction", token: trialToken, wantCode: http.StatusOK},
		{name: "trial user full lesson", path: "/v1/course/modules/projects/lessons/monitoring", token: trialToken, wantCode: http.StatusOK, wantLocked: true},
		{name: "full user full lesson", path: "/v1/course/modules/projects/lessons/monitoring", token: fullToken, wantCode: http.StatusOK},
		{name: "unknown lesson", path: "/v1/course/modules/projects/lessons/nope", token: fullToken, wantCode: http.StatusNotFound},
		{name: "unknown module", path: "/v1/course/modules/nope/lessons/introduction", token: fullToken, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			env.serve(req, rec)
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var view access.LessonView
			unmarshal(t, rec, &view)
			assert.Equal(t, tt.wantLocked, view.Locked)
			if tt.wantLocked {
				assert.Empty(t, view.Body)
				assert.NotEmpty(t, view.RequiredTier)
			} else {
				assert.NotEmpty(t, view.Body)
			}
		})
	}
}

func Test_courseApi_completeAndProgress(t *testing.T) {
	env := setup(t)
	trial := testutil.CreateUser(t, env.users, "Ada", "ada@example.com", "", []string{user.RoleStudent}, true)
	token := getToken(t, env.auth, trial)

	tests := []httpTest{
		{name: "anonymous", path: "/v1/course/modules/welcome/lessons/introduction/complete", wantCode: http.StatusUnauthorized, wantData: marshalObj(t, errMissingToken)},
		{name: "created", path: "/v1/course/modules/welcome/lessons/introduction/complete", token: token, wantCode: http.StatusCreated},
		{name: "already done", path: "/v1/course/modules/welcome/lessons/introduction/complete", token: token, wantCode: http.StatusOK},
		{name: "already done, mixed case", path: "/v1/course/modules/Welcome/lessons/INTRODUCTION/complete", token: token, wantCode: http.StatusOK},
		{name: "locked", path: "/v1/course/modules/projects/lessons/monitoring/complete", token: token, wantCode: http.StatusForbidden},
		{name: "unknown", path: "/v1/course/modules/projects/lessons/nope/complete", token: token, wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, tt.path, tt.token)
			env.serve(req, rec)
			checkCodeAndData(t, tt, rec)
		})
	}

	req, rec := newAuthRequest(http.MethodGet, "/v1/course/progress", token)
	env.serve(req, rec)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum progress.Summary
	unmarshal(t, rec, &sum)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 16, sum.Percent)
	require.NotEmpty(t, sum.Modules)
	assert.Equal(t, "welcome", sum.Modules[0].Slug)
	assert.Equal(t, 50, sum.Modules[0].Percent)
}

func Test_courseApi_certificate(t *testing.T) {
	env := setup(t)
	usr := testutil.CreateUser(t, env.users, "Ada Lovelace", "ada@example.com", "", []string{user.RoleStudent}, true)
	testutil.CreatePurchase(t, env.purchases, usr.Email, purchase.ProductCourse, purchase.StatusCompleted, usr.ID)
	token := getToken(t, env.auth, usr)

	certificate := func() (int, string) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/course/certificate", token)
		env.serve(req, rec)
		return rec.Code, rec.Header().Get("Content-Type")
	}

	code, _ := certificate()
	assert.Equal(t, http.StatusForbidden, code)

	lessons := [][2]string{
		{"welcome", "introduction"}, {"welcome", "tools"},
		{"fundamentals", "networking-basics"}, {"fundamentals", "storage-basics"},
		{"projects", "media-server"}, {"projects", "monitoring"},
	}
	for _, l := range lessons {
		req, rec := newAuthRequest(http.MethodPost, "/v1/course/modules/"+l[0]+"/lessons/"+l[1]+"/complete", token)
		env.serve(req, rec)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	code, contentType := certificate()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "image/png", contentType)

	req, rec := newAuthRequest(http.MethodPost, "/v1/course/certificate/email", token)
	env.serve(req, rec)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	msgs := env.mailer.SentMessages()
	require.NotEmpty(t, msgs)
	sent := msgs[len(msgs)-1]
	assert.Equal(t, "ada@example.com", sent.To[0].Address)
	assert.Contains(t, sent.TextContent, "Congratulations on completing")
	require.Len(t, sent.Attachments, 1)
	assert.Equal(t, "image/png", sent.Attachments[0].ContentType)
	assert.True(t, strings.HasPrefix(sent.Attachments[0].Filename, "certificate-"))
}

func Test_courseApi_emailCertificate_notEligible(t *testing.T) {
	env := setup(t)
	usr := testutil.CreateUser(t, env.users, "Ada Lovelace", "ada@example.com", "", []string{user.RoleStudent}, true)

	req, rec := newAuthRequest(http.MethodPost, "/v1/course/certificate/email", getToken(t, env.auth, usr))
	env.serve(req, rec)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.mailer.SentMessages())
}
