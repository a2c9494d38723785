package zhipu

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/platform/logging"
)

func newTestProvider(t *testing.T, url string, retries int) (*Provider, *[]time.Duration) {
	t.Helper()
	var delays []time.Duration
	p, err := New(Config{
		APIKey:  "test-key",
		BaseURL: url + "/",
		Retry: asr.RetryPolicy{
			Retries: retries,
			Sleep: func(_ context.Context, d time.Duration) error {
				delays = append(delays, d)
				return nil
			},
		},
	}, logging.NewDiscard())
	require.NoError(t, err)
	return p, &delays
}

func TestTranscribeSendsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, DefaultModel, r.FormValue("model"))
		assert.Equal(t, "meeting notes", r.FormValue("prompt"))
		assert.Equal(t, `["Obsidian","GLM"]`, r.FormValue("hotwords"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		assert.Equal(t, "audio.mp3", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("ID3fake"), data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  你好 世界 ","request_id":"req-1","model":"glm-asr"}`))
	}))
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, 0)
	res, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("ID3fake"), Format: "mp3"}, asr.Options{
		Prompt:   "meeting notes",
		Hotwords: []string{"Obsidian", "GLM"},
	})
	require.NoError(t, err)
	assert.Equal(t, "你好 世界", res.Text)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, "glm-asr", res.Model)
}

func TestTranscribeRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	p, delays := newTestProvider(t, srv.URL, 3)
	res, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("x"), Format: "wav"}, asr.Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestTranscribeAuthFailureIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"1000","message":"身份验证失败"}}`))
	}))
	defer srv.Close()

	p, delays := newTestProvider(t, srv.URL, 3)
	_, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("x"), Format: "wav"}, asr.Options{})
	require.Error(t, err)
	assert.Equal(t, asr.KindAuth, asr.KindOf(err))
	assert.Contains(t, err.Error(), "身份验证失败")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *delays)
}

func TestTranscribeRejectsOversizedChunk(t *testing.T) {
	p, _ := newTestProvider(t, "http://127.0.0.1:1", 0)
	_, err := p.Transcribe(context.Background(), asr.Audio{Data: make([]byte, maxFileSizeBytes+1)}, asr.Options{})
	assert.Equal(t, asr.KindFileTooLarge, asr.KindOf(err))
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
