package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"expense-intake/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeEngine struct {
	text   string
	err    error
	delay  time.Duration
	closed *atomic.Int32
}

func (e *fakeEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	time.Sleep(e.delay)
	return e.text, e.err
}

func (e *fakeEngine) Close() error {
	e.closed.Add(1)
	return nil
}

type fakeProvider struct {
	engine     *fakeEngine
	acquireErr error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Acquire(ctx context.Context) (Engine, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return p.engine, nil
}

func TestRecognizeReleasesEngine(t *testing.T) {
	tests := []struct {
		name    string
		engine  *fakeEngine
		wantErr bool
	}{
		{"success", &fakeEngine{text: "TOTAL 4.20"}, false},
		{"failure", &fakeEngine{err: errors.New("bad image")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.engine.closed = &atomic.Int32{}
			text, err := Recognize(context.Background(), &fakeProvider{engine: tt.engine}, []byte{0xff}, zaptest.NewLogger(t))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "TOTAL 4.20", text)
			}
			assert.Equal(t, int32(1), tt.engine.closed.Load())
		})
	}
}

func TestRecognizeTimeoutStillReleasesEngine(t *testing.T) {
	engine := &fakeEngine{text: "late", delay: 100 * time.Millisecond, closed: &atomic.Int32{}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Recognize(ctx, &fakeProvider{engine: engine}, []byte{0xff}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Eventually(t, func() bool { return engine.closed.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestRecognizeRejectsEmptyImage(t *testing.T) {
	_, err := Recognize(context.Background(), &fakeProvider{}, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestRecognizeAcquireFailure(t *testing.T) {
	_, err := Recognize(context.Background(), &fakeProvider{acquireErr: errors.New("no tessdata")}, []byte{1}, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "no tessdata")
}

func newVisionServer(t *testing.T, reply string, deleted *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("RqUID"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_at": 0})
	})
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "general", r.FormValue("purpose"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-1"})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Attachments []string `json:"attachments"`
			} `json:"messages"`
		}
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) && assert.Len(t, body.Messages, 1) {
			assert.Equal(t, []string{"file-1"}, body.Messages[0].Attachments)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": reply}}},
		})
	})
	mux.HandleFunc("/files/file-1/delete", func(w http.ResponseWriter, r *http.Request) {
		deleted.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newVision(t *testing.T, srv *httptest.Server) *Vision {
	return NewVision(
		&config.OCRConfig{BaseURL: srv.URL, OAuthURL: srv.URL + "/oauth", Timeout: time.Second},
		&config.LLMConfig{APIKey: "secret", Scope: "GIGACHAT_API_PERS"},
		zaptest.NewLogger(t),
	)
}

func TestVisionRecognize(t *testing.T) {
	deleted := &atomic.Int32{}
	srv := newVisionServer(t, "CORNER CAFE\nTOTAL 9.80", deleted)

	text, err := Recognize(context.Background(), newVision(t, srv), []byte("\x89PNG\r\n\x1a\nrest"), zaptest.NewLogger(t))

	require.NoError(t, err)
	assert.Equal(t, "CORNER CAFE\nTOTAL 9.80", text)
	assert.Equal(t, int32(1), deleted.Load())
}

func TestVisionRefusalIsAnError(t *testing.T) {
	deleted := &atomic.Int32{}
	srv := newVisionServer(t, "Sorry, I cannot help with that request.", deleted)

	_, err := Recognize(context.Background(), newVision(t, srv), []byte("jpeg"), zaptest.NewLogger(t))

	assert.ErrorContains(t, err, "refusal")
	assert.Equal(t, int32(1), deleted.Load())
}

func TestNewProvider(t *testing.T) {
	p, err := New(&config.OCRConfig{Provider: "tesseract"}, &config.LLMConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "tesseract", p.Name())

	_, err = New(&config.OCRConfig{Provider: "abbyy"}, &config.LLMConfig{}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNotSupported)
}
