// Package generator talks to an OpenAI-compatible completion service
// and turns deployment briefs into publishable application bundles.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/appforge/forge/pkg/forged/assets"
	"github.com/appforge/forge/pkg/forged/metrics"
	"github.com/appforge/forge/pkg/retry"
)

var ErrGenerationNotEnabled = fmt.Errorf("generation requests are not enabled")

// Client produces application bundles from deployment briefs.
type Client interface {
	Generate(ctx context.Context, request *Request) (*Bundle, error)
}

// Request is the input to a single generation call.
type Request struct {
	Task    string
	Round   int
	Brief   string
	Checks  []string
	Assets  []assets.Asset
	Enhance bool

	// Documentation of the baseline round, present on enhancement rounds
	// when it could be retrieved.
	BaselineDocumentation string
}

// Bundle is the set of generated files, keyed on repository path.
type Bundle struct {
	Files map[string]string
}

type generatorClient struct {
	url        string
	model      string
	httpClient *httpClient
}

// New returns a client for an OpenAI-compatible responses endpoint.
// The url is the API base, up to and including the version segment.
func New(url, apiToken, model string, timeout time.Duration) Client {
	return &generatorClient{
		url:   strings.TrimSuffix(url, "/") + "/responses",
		model: model,
		httpClient: &httpClient{
			client:   &http.Client{Timeout: timeout},
			apiToken: apiToken,
		},
	}
}

func (g *generatorClient) Generate(ctx context.Context, request *Request) (*Bundle, error) {
	prompt, err := BuildPrompt(request)
	if err != nil {
		return nil, retry.Abort(err)
	}

	q := struct {
		Model string         `json:"model"`
		Input []inputMessage `json:"input"`
	}{
		Model: g.model,
		Input: []inputMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, retry.Abort(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, retry.Abort(err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation service: %s", err)
	}
	defer resp.Body.Close()

	metrics.GeneratorRequest(resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = fmt.Errorf("generation service: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		if permanent(resp.StatusCode) {
			return nil, retry.Abort(err)
		}
		return nil, err
	}

	respBody := struct {
		Output []struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}{}

	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("decode generation response: %s", err)
	}

	if len(respBody.Output) == 0 || len(respBody.Output[0].Content) == 0 {
		return nil, fmt.Errorf("generation response contains no output")
	}

	// Parse failures are left retryable; the model may produce a
	// well-formed reply on the next attempt.
	bundle, err := ParseBundle(respBody.Output[0].Content[0].Text)
	if err != nil {
		return nil, err
	}

	// Enhancement rounds read the previous round's documentation, so a
	// reply without one gets a synthesized stand-in.
	if _, ok := bundle.Files[documentationFileName]; !ok {
		bundle.Files[documentationFileName] = fallbackDocumentation(request)
	}

	return bundle, nil
}

type inputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client errors other than rate limiting will not improve on retry.
func permanent(statusCode int) bool {
	return statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests
}
