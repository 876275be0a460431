package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/trezcool/coursekit/apps/api/echo"
	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
	"github.com/trezcool/coursekit/core/chat"
	"github.com/trezcool/coursekit/core/checkout"
	"github.com/trezcool/coursekit/core/notebook"
	"github.com/trezcool/coursekit/core/progress"
	"github.com/trezcool/coursekit/core/purchase"
	"github.com/trezcool/coursekit/core/ratelimit"
	"github.com/trezcool/coursekit/core/user"
	certsvc "github.com/trezcool/coursekit/services/certificate"
	emailsvc "github.com/trezcool/coursekit/services/email"
	logsvc "github.com/trezcool/coursekit/services/logger"
	inmemdb "github.com/trezcool/coursekit/storage/database/inmem"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

// echoCompleter answers with the last message it was given.
type echoCompleter struct {
	mu   sync.Mutex
	last []chat.Message
}

func (c *echoCompleter) Complete(_ context.Context, msgs []chat.Message) (chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = msgs
	return chat.Message{Content: "you said: " + msgs[len(msgs)-1].Content}, nil
}

type nopReporter struct{}

func (nopReporter) Report(context.Context, checkout.Anomaly) {}

type testEnv struct {
	app         *echoapi.Server
	conf        *core.Config
	auth        *echoapi.Auth
	users       user.Repository
	purchases   purchase.Repository
	purchaseSvc *purchase.Service
	mailer      *emailsvc.ConsoleService
	completer   *echoCompleter
}

func setup(t *testing.T) testEnv {
	t.Helper()
	conf := core.NewTestConfig()
	conf.RateLimit.MaxRequests = 3
	conf.LLM.MonthlyLimit = 2
	conf.Notebook.MaxFileSize = 1 << 10
	logger := logsvc.NewNopLogger()

	translator := core.NewTranslator()
	validate := core.NewValidator(translator)
	user.InitValidators(validate, translator)
	purchase.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)

	curriculum, err := access.LoadCurriculum("")
	if err != nil {
		t.Fatalf("LoadCurriculum() failed: %v", err)
	}
	certs, err := certsvc.NewService(conf)
	if err != nil {
		t.Fatalf("certsvc.NewService() failed: %v", err)
	}

	db := inmemdb.Open()
	env := testEnv{
		conf:      conf,
		auth:      echoapi.NewAuth(conf),
		users:     inmemdb.NewUserRepository(db),
		purchases: inmemdb.NewPurchaseRepository(db),
		mailer:    emailsvc.NewConsoleServiceMock(conf),
		completer: &echoCompleter{},
	}
	env.purchaseSvc = purchase.NewService(env.purchases, validate)
	usrSvc := user.NewService(env.users, env.purchaseSvc, logger)
	resolver := access.NewResolver(env.purchaseSvc)
	gate := access.NewGate(curriculum)
	notifier := emailsvc.NewNotifier(env.mailer, logger)

	env.app = echoapi.NewServer(echoapi.ServerDeps{
		Conf:        conf,
		Logger:      logger,
		Validate:    validate,
		Translator:  translator,
		UserSvc:     usrSvc,
		PurchaseSvc: env.purchaseSvc,
		Resolver:    resolver,
		Gate:        gate,
		ProgressSvc: progress.NewService(inmemdb.NewProgressRepository(db), gate),
		ChatSvc:     chat.NewService(conf, env.completer, resolver, inmemdb.NewChatUsageRepository(db)),
		NotebookSvc: notebook.NewService(conf, inmemdb.NewNotebookRepository(db)),
		CertSvc:     certs,
		Pipeline:    checkout.NewPipeline(conf, env.purchaseSvc, usrSvc, notifier, nopReporter{}, logger),
		Notifier:    notifier,
		Limiter:     ratelimit.NewLimiterFromConfig(conf, ratelimit.NewMemoryStore(conf.RateLimit.PruneEvery), logger),
	})
	return env
}

func (env testEnv) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	env.app.ServeHTTP(rec, req)
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, auth *echoapi.Auth, usr user.User) string {
	t.Helper()
	token, err := auth.GenerateToken(auth.UserClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, obj interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), obj); err != nil {
		t.Fatalf("unmarshal() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
