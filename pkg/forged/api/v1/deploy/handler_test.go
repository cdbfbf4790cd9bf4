package api_v1_deploy_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gh "github.com/google/go-github/v41/github"
	"github.com/stretchr/testify/assert"

	"github.com/appforge/forge/pkg/forged/api"
	api_v1_deploy "github.com/appforge/forge/pkg/forged/api/v1/deploy"
	"github.com/appforge/forge/pkg/forged/database"
	"github.com/appforge/forge/pkg/forged/deployment"
	"github.com/appforge/forge/pkg/forged/dispatch"
	"github.com/appforge/forge/pkg/forged/hosting"
	"github.com/appforge/forge/pkg/forged/operation"
)

type response struct {
	StatusCode int
	Body       api_v1_deploy.DeploymentResponse
}

type testCase struct {
	Name     string
	Body     json.RawMessage
	Response response
	Setup    func(store database.DeploymentStore)
	Store    database.DeploymentStore
}

type noopRunner struct{}

func (noopRunner) Run(op *operation.Operation) {}

func (noopRunner) Renotify(ctx context.Context, request *deployment.Request, record *database.Deployment) {
}

var genericError = errors.New("oops")

// unavailableStore fails every operation, simulating a database outage.
type unavailableStore struct{}

func (unavailableStore) Deployment(ctx context.Context, task string, round int) (*database.Deployment, error) {
	return nil, genericError
}

func (unavailableStore) Deployments(ctx context.Context, task string, limit int) ([]*database.Deployment, error) {
	return nil, genericError
}

func (unavailableStore) LatestSucceeded(ctx context.Context, task string, belowRound int) (*database.Deployment, error) {
	return nil, genericError
}

func (unavailableStore) CreateDeployment(ctx context.Context, deployment database.Deployment) (bool, error) {
	return false, genericError
}

func (unavailableStore) WriteDeployment(ctx context.Context, deployment database.Deployment) error {
	return genericError
}

func (unavailableStore) ResetDeployment(ctx context.Context, task string, round int, correlationID string) (bool, error) {
	return false, genericError
}

func (unavailableStore) Attempt(ctx context.Context, task string, round int, nonce string) (*database.Attempt, error) {
	return nil, genericError
}

func (unavailableStore) WriteAttempt(ctx context.Context, attempt database.Attempt) (bool, error) {
	return false, genericError
}

func (unavailableStore) PruneAttempts(ctx context.Context, before time.Time) (int, error) {
	return 0, genericError
}

func errorResponse(code int, message string) response {
	return response{
		StatusCode: code,
		Body: api_v1_deploy.DeploymentResponse{
			Message: message,
		},
	}
}

var validPayload = []byte(`
{
	"email": "dev@example.com",
	"secret": "hunter2",
	"task": "tables",
	"round": 1,
	"nonce": "nonce-1",
	"brief": "Sortable tables",
	"checks": ["columns sort on click"],
	"evaluation_url": "https://evaluator.example.com/notify",
	"attachments": [
		{ "name": "data.csv", "url": "data:text/csv;base64,YSxiCjEsMgo=" }
	]
}
`)

func payloadWith(overrides map[string]interface{}) json.RawMessage {
	body := make(map[string]interface{})
	err := json.Unmarshal(validPayload, &body)
	if err != nil {
		panic(err)
	}
	for key, value := range overrides {
		if value == nil {
			delete(body, key)
			continue
		}
		body[key] = value
	}
	out, err := json.Marshal(body)
	if err != nil {
		panic(err)
	}
	return out
}

func seedAttempt(store database.DeploymentStore) {
	_, _ = store.WriteAttempt(context.Background(), database.Attempt{
		Task: "tables", Round: 1, Nonce: "nonce-1", CorrelationID: "earlier", Created: time.Now(),
	})
}

func seedTerminal(store database.DeploymentStore) {
	seedAttempt(store)

	repositoryURL := "https://github.com/forge/tables"
	pagesURL := "https://forge.github.io/tables/"
	sha := "c0ffee"
	now := time.Now()
	_ = store.WriteDeployment(context.Background(), database.Deployment{
		Task:          "tables",
		Round:         1,
		Status:        database.StatusSucceeded,
		Email:         "dev@example.com",
		CorrelationID: "earlier",
		RepositoryURL: &repositoryURL,
		PagesURL:      &pagesURL,
		CommitSHA:     &sha,
		Created:       now,
		Updated:       now,
		CompletedAt:   &now,
	})
}

func seedInFlight(store database.DeploymentStore) {
	seedAttempt(store)

	_, _ = store.CreateDeployment(context.Background(), database.Deployment{
		Task:          "tables",
		Round:         1,
		Status:        database.StatusInProgress,
		CorrelationID: "earlier",
		Created:       time.Now(),
		Updated:       time.Now(),
	})
}

// Test case definitions
var tests = []testCase{
	{
		Name:     "Empty request body",
		Body:     []byte(``),
		Response: errorResponse(400, "unable to unmarshal request body: unexpected end of JSON input"),
	},

	{
		Name:     "Wrong pre-shared secret",
		Body:     payloadWith(map[string]interface{}{"secret": "wrong"}),
		Response: errorResponse(401, "failed authentication"),
	},

	{
		Name:     "Missing pre-shared secret",
		Body:     payloadWith(map[string]interface{}{"secret": nil}),
		Response: errorResponse(401, "failed authentication"),
	},

	{
		Name:     "Request fails validation",
		Body:     payloadWith(map[string]interface{}{"email": nil}),
		Response: errorResponse(400, "invalid deployment request: no email specified"),
	},

	{
		Name:     "Valid deployment request",
		Body:     validPayload,
		Response: errorResponse(202, "deployment request accepted and queued for processing"),
	},

	{
		Name:     "Round already in progress",
		Body:     validPayload,
		Response: errorResponse(409, "a deployment for this task and round is already in progress"),
		Setup:    seedInFlight,
	},

	{
		Name:     "Recorded outcome replayed",
		Body:     validPayload,
		Response: errorResponse(200, "deployment request was already processed; returning recorded outcome"),
		Setup:    seedTerminal,
	},

	{
		Name:     "Database unavailable",
		Body:     validPayload,
		Response: errorResponse(503, "database is unavailable; try again later"),
		Store:    unavailableStore{},
	},
}

func testRouter(store database.DeploymentStore) api.Config {
	return api.Config{
		Admitter:        dispatch.New(store, noopRunner{}, time.Minute, dispatch.RedeployOverwrite),
		BaseURL:         "https://forge.example.com",
		DeploymentStore: store,
		Hosting:         hosting.New(gh.NewClient(nil), "forge", "main"),
		MetricsPath:     "/metrics",
		Secret:          "hunter2",
	}
}

func post(cfg api.Config, body []byte) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/deploy-endpoint", bytes.NewReader(body))
	request.Header.Set("content-type", "application/json")

	api.New(cfg).ServeHTTP(recorder, request)
	return recorder
}

func subTest(t *testing.T, test testCase) {
	store := test.Store
	if store == nil {
		store = database.NewMemoryStore()
	}
	if test.Setup != nil {
		test.Setup(store)
	}

	recorder := post(testRouter(store), test.Body)
	testResponse(t, recorder, test.Response)
}

func testResponse(t *testing.T, recorder *httptest.ResponseRecorder, response response) {
	decodedBody := api_v1_deploy.DeploymentResponse{}
	err := json.Unmarshal(recorder.Body.Bytes(), &decodedBody)
	assert.NoError(t, err)
	assert.Equal(t, response.StatusCode, recorder.Code)
	assert.Equal(t, response.Body.Message, decodedBody.Message)
	assert.NotEmpty(t, decodedBody.CorrelationID)
}

// Deployment endpoint tests against the full router; see table test
// definitions above.
func TestDeploymentHandler_ServeHTTP(t *testing.T) {
	for _, test := range tests {
		t.Logf("Running test: %s", test.Name)
		subTest(t, test)
	}
}

func TestDeploymentHandlerAccepted(t *testing.T) {
	store := database.NewMemoryStore()

	recorder := post(testRouter(store), validPayload)

	decoded := api_v1_deploy.DeploymentResponse{}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	assert.Equal(t, 202, recorder.Code)
	assert.Equal(t, "pending", decoded.Status)
	assert.Equal(t, "tables", decoded.Task)
	assert.Equal(t, 1, decoded.Round)
	assert.NotEmpty(t, decoded.CorrelationID)
	assert.Equal(t, "https://github.com/forge/tables", decoded.RepositoryURL)
	assert.Equal(t, "https://forge.github.io/tables/", decoded.PagesURL)
	assert.Contains(t, decoded.LogURL, "https://forge.example.com/logs?correlation_id="+decoded.CorrelationID)
}

func TestDeploymentHandlerDuplicate(t *testing.T) {
	store := database.NewMemoryStore()
	seedTerminal(store)

	recorder := post(testRouter(store), validPayload)

	decoded := api_v1_deploy.DeploymentResponse{}
	assert.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	assert.Equal(t, 200, recorder.Code)
	assert.Equal(t, "succeeded", decoded.Status)
	assert.Equal(t, "c0ffee", decoded.CommitSHA)
	assert.Equal(t, "https://github.com/forge/tables", decoded.RepositoryURL)
	assert.Equal(t, "https://forge.github.io/tables/", decoded.PagesURL)

	// the answer points at the logs of the run that produced the outcome
	assert.Equal(t, "earlier", decoded.CorrelationID)
	assert.Contains(t, decoded.LogURL, "correlation_id=earlier")
}

// Test that certain fields missing from deployment request either errors out or validates.
func TestDeploymentRequest_Validate(t *testing.T) {
	req := &api_v1_deploy.DeploymentRequest{}

	errorTests := []func(){
		func() { req.Email = "" },
		func() { req.Task = "" },
		func() { req.Task = strings.Repeat("a", 101) },
		func() { req.Task = "no spaces allowed" },
		func() { req.Task = "-leading-dash" },
		func() { req.Round = 0 },
		func() { req.Round = -1 },
		func() { req.Nonce = "" },
		func() { req.Brief = "" },
		func() { req.EvaluationURL = "not-a-url" },
		func() { req.EvaluationURL = "ftp://evaluator.example.com/notify" },
		func() { req.Attachments[0].Name = "" },
		func() { req.Attachments[0].URL = "" },
		func() { req.Attachments = append(req.Attachments, req.Attachments[0]) },
	}
	successTests := []func(){
		func() { req.Checks = nil },
		func() { req.EvaluationURL = "" },
		func() { req.Attachments = nil },
		func() { req.Task = "UPPER.case_mixed-31" },
	}

	setup := func() {
		err := json.Unmarshal(validPayload, req)
		if err != nil {
			panic(err)
		}
	}

	for _, setupFunc := range errorTests {
		setup()
		setupFunc()
		assert.Error(t, req.Validate())
	}

	for _, setupFunc := range successTests {
		setup()
		setupFunc()
		assert.NoError(t, req.Validate())
	}
}
