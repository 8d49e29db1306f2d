package exec_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/victornm/arena/internal/errors"
	"github.com/victornm/arena/internal/exec"
)

func TestJudge0_Run(t *testing.T) {
	t.Run("decodes an accepted run", func(t *testing.T) {
		var gotReq map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/submissions", r.URL.Path)
			require.Equal(t, "true", r.URL.Query().Get("base64_encoded"))
			require.Equal(t, "true", r.URL.Query().Get("wait"))
			require.NotEmpty(t, r.Header.Get("X-Request-ID"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

			writeJSON(w, map[string]any{
				"status": map[string]any{"id": 3, "description": "Accepted"},
				"stdout": base64.StdEncoding.EncodeToString([]byte("42\n")),
				"time":   "0.021",
				"memory": 1024,
			})
		}))
		defer srv.Close()

		j := exec.NewJudge0(exec.Judge0Config{BaseURL: srv.URL, LanguageID: 71})

		res, err := j.Run(context.Background(), exec.Submission{Source: "print(42)", Stdin: "in"})
		require.NoError(t, err)

		require.Equal(t, exec.Accepted, res.Classification)
		require.Equal(t, "42\n", res.Stdout)
		require.Equal(t, int64(21), res.TimeMS)
		require.Equal(t, int64(1024), res.MemoryKB)

		src, _ := base64.StdEncoding.DecodeString(gotReq["source_code"].(string))
		require.Equal(t, "print(42)", string(src))
		require.Equal(t, float64(71), gotReq["language_id"])
	})

	t.Run("maps status ids onto classifications", func(t *testing.T) {
		tests := map[string]struct {
			statusID int
			want     exec.Classification
		}{
			"wrong answer":          {4, exec.WrongOutput},
			"time limit exceeded":   {5, exec.Timeout},
			"compilation error":     {6, exec.CompileError},
			"runtime error SIGSEGV": {7, exec.RuntimeError},
			"runtime error NZEC":    {11, exec.RuntimeError},
			"internal error":        {13, exec.InternalError},
			"still in queue":        {1, exec.InternalError},
		}

		for name, tt := range tests {
			tt := tt
			t.Run(name, func(t *testing.T) {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeJSON(w, map[string]any{
						"status": map[string]any{"id": tt.statusID},
					})
				}))
				defer srv.Close()

				j := exec.NewJudge0(exec.Judge0Config{BaseURL: srv.URL})

				res, err := j.Run(context.Background(), exec.Submission{Source: "x"})
				require.NoError(t, err)
				require.Equal(t, tt.want, res.Classification)
			})
		}
	})

	t.Run("compile output fills stderr when stderr is empty", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"status":         map[string]any{"id": 6},
				"compile_output": base64.StdEncoding.EncodeToString([]byte("syntax error")),
			})
		}))
		defer srv.Close()

		j := exec.NewJudge0(exec.Judge0Config{BaseURL: srv.URL})

		res, err := j.Run(context.Background(), exec.Submission{Source: "x"})
		require.NoError(t, err)
		require.Equal(t, "syntax error", res.Stderr)
	})

	t.Run("a failing endpoint is Unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		j := exec.NewJudge0(exec.Judge0Config{BaseURL: srv.URL})

		_, err := j.Run(context.Background(), exec.Submission{Source: "x"})
		require.True(t, errors.Is(err, errors.CodeUnavailable))
	})

	t.Run("an unreachable endpoint is Unavailable", func(t *testing.T) {
		j := exec.NewJudge0(exec.Judge0Config{BaseURL: "http://127.0.0.1:1"})

		_, err := j.Run(context.Background(), exec.Submission{Source: "x"})
		require.True(t, errors.Is(err, errors.CodeUnavailable))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
