package exec

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/arena/internal/errors"
)

const defaultRunTimeout = 30 * time.Second

type Judge0Config struct {
	BaseURL    string
	APIKey     string
	APIHost    string
	LanguageID int

	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// Judge0 runs submissions against a Judge0-compatible endpoint, synchronously
// (wait=true) with base64-encoded payloads.
type Judge0 struct {
	c    Judge0Config
	http *http.Client
}

func NewJudge0(c Judge0Config) *Judge0 {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultRunTimeout}
	}

	return &Judge0{c: c, http: hc}
}

type judge0Request struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
}

type judge0Response struct {
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Time          string `json:"time"`   // seconds, decimal string
	Memory        int64  `json:"memory"` // kilobytes
}

func (j *Judge0) Run(ctx context.Context, sub Submission) (*Result, error) {
	body, err := json.Marshal(judge0Request{
		LanguageID: j.c.LanguageID,
		SourceCode: base64.StdEncoding.EncodeToString([]byte(sub.Source)),
		Stdin:      base64.StdEncoding.EncodeToString([]byte(sub.Stdin)),
	})
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("judge0: marshal request: %w", err))
	}

	url := j.c.BaseURL + "/submissions?base64_encoded=true&wait=true&fields=*"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Internal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if j.c.APIKey != "" {
		req.Header.Set("X-RapidAPI-Key", j.c.APIKey)
		req.Header.Set("X-RapidAPI-Host", j.c.APIHost)
	}

	resp, err := j.http.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution service unreachable"),
			errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution service returned %d: %s", resp.StatusCode, b))
	}

	var jr judge0Response
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("execution service returned malformed response"),
			errors.WithCause(err))
	}

	stderr := decodeBase64(jr.Stderr)
	if stderr == "" {
		stderr = decodeBase64(jr.CompileOutput)
	}

	return &Result{
		Classification: classify(jr.Status.ID),
		Stdout:         decodeBase64(jr.Stdout),
		Stderr:         stderr,
		TimeMS:         parseSecondsToMS(jr.Time),
		MemoryKB:       jr.Memory,
	}, nil
}

// classify maps Judge0 status IDs to the engine's terminal classifications.
func classify(id int) Classification {
	switch {
	case id == 3:
		return Accepted
	case id == 4:
		return WrongOutput
	case id == 5:
		return Timeout
	case id == 6:
		return CompileError
	case id >= 7 && id <= 12:
		return RuntimeError
	default:
		return InternalError
	}
}

func decodeBase64(s string) string {
	if s == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some deployments return plain text despite base64_encoded=true.
		return s
	}
	return string(b)
}

func parseSecondsToMS(s string) int64 {
	if s == "" {
		return 0
	}
	sec, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(sec * 1000))
}
