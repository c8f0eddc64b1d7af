package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/jwebster45206/tavern-phone/internal/handlers"
	internalstorage "github.com/jwebster45206/tavern-phone/internal/storage"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running API and worker that
// share the given Redis.
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Storage           *internalstorage.RedisStorage
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string, store *internalstorage.RedisStorage) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 60 * time.Second},
		Storage:           store,
		Timeout:           CommandTimeout,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite seeds a fresh chat and executes the suite's steps against it.
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
		ChatID:  "it-" + uuid.New().String(),
	}

	if err := r.seedChat(ctx, result.ChatID, suite.Seed); err != nil {
		result.Error = fmt.Errorf("failed to seed chat: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, result.ChatID, step, suite.Seed)
		stepResult.TestName = suite.Name
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// seedChat writes seed to Redis and drops any store the API cached for the chat.
func (r *Runner) seedChat(ctx context.Context, chatID string, seed Seed) error {
	chat := r.Storage.Chat(chatID)
	if err := chat.Import(ctx, seed.Floors, seed.Variables); err != nil {
		return err
	}
	for name, entries := range seed.Worldbooks {
		if err := chat.PutWorldbook(ctx, name, entries); err != nil {
			return fmt.Errorf("failed to store worldbook %s: %w", name, err)
		}
	}
	if err := chat.SetBindings(ctx, seed.Bindings); err != nil {
		return err
	}
	if seed.Card != nil {
		if err := chat.SetCard(ctx, *seed.Card); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.chatURL(chatID, ""), nil)
	if err != nil {
		return fmt.Errorf("failed to create DELETE request: %w", err)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reset chat: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reset chat returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (r *Runner) chatURL(chatID, path string) string {
	return fmt.Sprintf("%s/v1/chats/%s%s", r.BaseURL, url.PathEscape(chatID), path)
}

// runStep executes a single test step and checks expectations
// Will retry once on timeout errors without backoff
func (r *Runner) runStep(ctx context.Context, chatID string, step TestStep, seed Seed) TestResult {
	for attempt := 1; attempt <= 2; attempt++ {
		result := r.executeStep(ctx, chatID, step, seed)
		if result.Success || result.Error == nil {
			return result
		}

		isTimeout := strings.Contains(result.Error.Error(), "timeout waiting for")
		// A retried step must not append its floor twice.
		if isTimeout && attempt == 1 && step.AppendFloor == nil {
			r.Logger("    Timeout detected, retrying step: %s", step.Name)
			continue
		}
		return result
	}

	return TestResult{StepName: step.Name, Error: fmt.Errorf("unexpected error in retry logic")}
}

func (r *Runner) executeStep(ctx context.Context, chatID string, step TestStep, seed Seed) TestResult {
	start := time.Now()
	result := TestResult{
		StepName: step.Name,
	}
	fail := func(err error) TestResult {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	chat := r.Storage.Chat(chatID)

	if step.Action == ActionReset {
		if err := r.seedChat(ctx, chatID, seed); err != nil {
			return fail(fmt.Errorf("failed to reset chat: %w", err))
		}
		if err := r.checkHost(ctx, chat, step.Expectations); err != nil {
			return fail(fmt.Errorf("reset expectation failed: %w", err))
		}
		result.Success = true
		result.IsReset = true
		result.ResponseText = "[CHAT RESET]"
		result.Duration = time.Since(start)
		return result
	}

	if f := step.AppendFloor; f != nil {
		if _, err := chat.CreateFloor(ctx, f.Role, f.Name, f.Message); err != nil {
			return fail(fmt.Errorf("failed to append floor: %w", err))
		}
	}

	req, err := r.buildRequest(ctx, chatID, step)
	if err != nil {
		return fail(err)
	}
	status, body, err := r.send(req)
	if err != nil {
		return fail(err)
	}
	result.Status = status
	result.ResponseText = body

	if err := checkResponse(step.Expectations, status, body); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	if step.Action == ActionGenerationEnded && status == http.StatusAccepted {
		var accepted handlers.GenerationEndedResponse
		if err := json.Unmarshal([]byte(body), &accepted); err == nil {
			result.RequestID = accepted.RequestID
		}
		if step.Expectations.hasHostChecks() {
			err := PollUntil(ctx, r.Timeout, func(ctx context.Context) error {
				return r.checkHost(ctx, chat, step.Expectations)
			})
			if err != nil {
				return fail(err)
			}
		}
	} else if err := r.checkHost(ctx, chat, step.Expectations); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) buildRequest(ctx context.Context, chatID string, step TestStep) (*http.Request, error) {
	q := url.Values{}
	if step.Character != "" {
		q.Set("character", step.Character)
	}

	var method, path string
	switch step.Action {
	case ActionGetModule:
		method, path = http.MethodGet, "/modules/"+url.PathEscape(step.Kind)
		if step.Force {
			q.Set("force", "true")
		}
	case ActionSaveModule:
		method, path = http.MethodPost, "/modules/"+url.PathEscape(step.Kind)
	case ActionUpdateModule:
		method, path = http.MethodPut, "/modules/"+url.PathEscape(step.Kind)
	case ActionResetModule:
		method, path = http.MethodDelete, "/modules/"+url.PathEscape(step.Kind)
	case ActionConversations:
		method, path = http.MethodGet, "/conversations"
	case ActionTranscript:
		method, path = http.MethodGet, "/conversations/"+url.PathEscape(step.ChatType)+"/"+url.PathEscape(step.Target)
	case ActionSettings:
		method, path = http.MethodPut, "/settings"
	case ActionPrompt:
		method, path = http.MethodPost, "/prompt"
	case ActionGenerationEnded:
		method, path = http.MethodPost, "/generation-ended"
	case ActionAbort:
		method, path = http.MethodPost, "/abort"
	default:
		return nil, fmt.Errorf("unknown action %q", step.Action)
	}

	u := r.chatURL(chatID, path)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if step.Body != nil {
		data, err := json.Marshal(step.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal step body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if step.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (r *Runner) send(req *http.Request) (int, string, error) {
	resp, err := r.Client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

// checkResponse validates the HTTP status and body expectations.
func checkResponse(exp Expectations, status int, body string) error {
	if exp.Status != nil && status != *exp.Status {
		return fmt.Errorf("expected status %d, got %d: %s", *exp.Status, status, body)
	}

	if len(exp.JSON) > 0 {
		var doc any
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return fmt.Errorf("response is not JSON: %w", err)
		}
		for path, want := range exp.JSON {
			got, ok := lookupPath(doc, path)
			if !ok {
				return fmt.Errorf("expected %s in response, but it's missing", path)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				return fmt.Errorf("%s mismatch (-want +got):\n%s", path, diff)
			}
		}
	}

	for _, expectedText := range exp.ResponseContains {
		if !strings.Contains(body, expectedText) {
			return fmt.Errorf("expected response to contain '%s', but it didn't", expectedText)
		}
	}
	for _, unexpectedText := range exp.ResponseNotContains {
		if strings.Contains(body, unexpectedText) {
			return fmt.Errorf("expected response to NOT contain '%s', but it did", unexpectedText)
		}
	}

	if exp.ResponseRegex != "" {
		matched, err := regexp.MatchString(exp.ResponseRegex, body)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		if !matched {
			return fmt.Errorf("response didn't match regex pattern: %s", exp.ResponseRegex)
		}
	}
	return nil
}

// lookupPath walks a decoded JSON document. Array elements are addressed by index.
func lookupPath(doc any, path string) (any, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// checkHost validates the expectations that read the chat straight from Redis.
func (r *Runner) checkHost(ctx context.Context, chat *internalstorage.ChatStorage, exp Expectations) error {
	if exp.FloorCount != nil || len(exp.LatestFloorContains) > 0 {
		last, err := chat.LastFloorID(ctx)
		if err != nil {
			return err
		}
		if exp.FloorCount != nil && last+1 != *exp.FloorCount {
			return fmt.Errorf("expected %d floors, got %d", *exp.FloorCount, last+1)
		}
		if len(exp.LatestFloorContains) > 0 {
			if last < 0 {
				return fmt.Errorf("expected a latest floor, but the chat is empty")
			}
			floors, err := chat.Floors(ctx, last, last)
			if err != nil {
				return err
			}
			for _, text := range exp.LatestFloorContains {
				if !strings.Contains(floors[0].Message, text) {
					return fmt.Errorf("expected latest floor to contain '%s', but it didn't", text)
				}
			}
		}
	}

	if len(exp.WorldbookContains) > 0 {
		if err := checkWorldbook(ctx, chat, exp.WorldbookContains); err != nil {
			return err
		}
	}

	if len(exp.CharacterVars) > 0 {
		vars, err := chat.GetVariables(ctx, storage.VariableOption{Type: storage.ScopeCharacter})
		if err != nil {
			return err
		}
		data, _ := json.Marshal(vars)
		for _, text := range exp.CharacterVars {
			if !strings.Contains(string(data), text) {
				return fmt.Errorf("expected character variables to contain '%s', got %s", text, string(data))
			}
		}
	}
	return nil
}

func checkWorldbook(ctx context.Context, chat *internalstorage.ChatStorage, want map[string][]string) error {
	b, err := chat.WorldbookBindings(ctx)
	if err != nil {
		return err
	}
	entries, err := chat.Worldbook(ctx, b.Primary)
	if err != nil {
		return err
	}
	for name, texts := range want {
		var entry *storage.WorldbookEntry
		for i := range entries {
			if entries[i].Name == name {
				entry = &entries[i]
				break
			}
		}
		if entry == nil {
			return fmt.Errorf("expected worldbook entry %s, but it's missing", name)
		}
		for _, text := range texts {
			if !strings.Contains(entry.Content, text) {
				return fmt.Errorf("expected worldbook entry %s to contain '%s', got %q", name, text, entry.Content)
			}
		}
	}
	return nil
}
