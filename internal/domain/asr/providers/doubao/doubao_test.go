package doubao

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicenote-ingest-go/internal/domain/asr"
	"voicenote-ingest-go/internal/platform/logging"
)

// fakeServer 按顺序返回预设的状态码
type fakeServer struct {
	mu           sync.Mutex
	submitCodes  []string
	queryCodes   []string
	submits      int
	queries      int
	requestIDs   []string
	lastSubmit   submitRequest
	resultBody   string
	queryHTTPErr int
}

func (f *fakeServer) next(codes []string, n int) string {
	if n < len(codes) {
		return codes[n]
	}
	return codes[len(codes)-1]
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requestIDs = append(f.requestIDs, r.Header.Get(headerRequestID))
	switch r.URL.Path {
	case "/submit":
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &f.lastSubmit)
		w.Header().Set(headerStatusCode, f.next(f.submitCodes, f.submits))
		f.submits++
		_, _ = w.Write([]byte("{}"))
	case "/query":
		if f.queryHTTPErr != 0 {
			w.WriteHeader(f.queryHTTPErr)
			return
		}
		code := f.next(f.queryCodes, f.queries)
		f.queries++
		w.Header().Set(headerStatusCode, code)
		w.Header().Set(headerMessage, "msg-"+code)
		if code == codeSuccess {
			_, _ = w.Write([]byte(f.resultBody))
			return
		}
		_, _ = w.Write([]byte("{}"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestProvider(t *testing.T, url string, attempts int) (*Provider, *int) {
	t.Helper()
	sleeps := 0
	p, err := New(Config{
		AppID:        "app",
		AccessToken:  "token",
		BaseURL:      url,
		PollAttempts: attempts,
		EnableITN:    true,
		Retry: asr.RetryPolicy{
			Retries: 2,
			Sleep: func(context.Context, time.Duration) error {
				sleeps++
				return nil
			},
		},
	}, logging.NewDiscard())
	require.NoError(t, err)
	p.newID = func() string { return "req-fixed" }
	return p, &sleeps
}

const resultBody = `{
	"audio_info": {"duration": 3500},
	"result": {
		"text": " 你好，世界 ",
		"utterances": [
			{"text": "你好，", "start_time": 0, "end_time": 1200, "additions": {"speaker": "1"},
			 "words": [{"text": "你", "start_time": 0, "end_time": 500}]},
			{"text": "世界", "start_time": 1300, "end_time": 3500, "additions": {"speaker": "2"}}
		]
	}
}`

func TestTranscribeSubmitsAndPolls(t *testing.T) {
	fake := &fakeServer{
		submitCodes: []string{codeSuccess},
		queryCodes:  []string{codeQueued, codeProcessing, codeSuccess},
		resultBody:  resultBody,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, sleeps := newTestProvider(t, srv.URL, 10)
	res, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("RIFFdata"), Format: "wav"}, asr.Options{})
	require.NoError(t, err)

	assert.Equal(t, "你好，世界", res.Text)
	assert.Equal(t, "req-fixed", res.RequestID)
	assert.InDelta(t, 3.5, res.DurationSeconds, 1e-9)
	require.Len(t, res.Utterances, 2)
	assert.Equal(t, "1", res.Utterances[0].SpeakerID)
	assert.Equal(t, int64(1300), res.Utterances[1].StartTimeMs)
	require.Len(t, res.Utterances[0].Words, 1)

	assert.Equal(t, 3, fake.queries)
	assert.Equal(t, 3, *sleeps)
	for _, id := range fake.requestIDs {
		assert.Equal(t, "req-fixed", id)
	}

	assert.Equal(t, "wav", fake.lastSubmit.Audio.Format)
	decoded, err := base64.StdEncoding.DecodeString(fake.lastSubmit.Audio.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFdata"), decoded)
	assert.True(t, fake.lastSubmit.Request.EnableITN)
	assert.True(t, fake.lastSubmit.Request.ShowUtterances)
}

func TestSubmitTransientCodeIsRetried(t *testing.T) {
	fake := &fakeServer{
		submitCodes: []string{codeSubmitTransient, codeSuccess},
		queryCodes:  []string{codeSuccess},
		resultBody:  resultBody,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, 5)
	_, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("x"), Format: "wav"}, asr.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, fake.submits)
}

func TestUnknownQueryCodeIsFatal(t *testing.T) {
	fake := &fakeServer{
		submitCodes: []string{codeSuccess},
		queryCodes:  []string{codeProcessing, "45000001"},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, 10)
	_, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("x"), Format: "wav"}, asr.Options{})
	require.Error(t, err)
	assert.Equal(t, asr.KindAPI, asr.KindOf(err))
	assert.False(t, asr.IsRetriable(err))
	assert.Contains(t, err.Error(), "msg-45000001")
	assert.Equal(t, 2, fake.queries)
}

func TestPollingExhaustionIsTimeout(t *testing.T) {
	fake := &fakeServer{
		submitCodes: []string{codeSuccess},
		queryCodes:  []string{codeProcessing},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, _ := newTestProvider(t, srv.URL, 4)
	_, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("x"), Format: "wav"}, asr.Options{})
	require.Error(t, err)
	assert.Equal(t, asr.KindNetwork, asr.KindOf(err))
	assert.Equal(t, 4, fake.queries)
}

func TestSubmitAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p, sleeps := newTestProvider(t, srv.URL, 3)
	_, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("x")}, asr.Options{})
	assert.Equal(t, asr.KindAuth, asr.KindOf(err))
	assert.Zero(t, *sleeps)
}

func TestNewValidatesCredentials(t *testing.T) {
	_, err := New(Config{AccessToken: "t"}, nil)
	assert.Error(t, err)
	_, err = New(Config{AppID: "a"}, nil)
	assert.Error(t, err)
}

func TestQueryServerErrorsKeepPolling(t *testing.T) {
	fake := &fakeServer{
		submitCodes:  []string{codeSuccess},
		queryHTTPErr: http.StatusBadGateway,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p, sleeps := newTestProvider(t, srv.URL, 3)
	_, err := p.Transcribe(context.Background(), asr.Audio{Data: []byte("x")}, asr.Options{})
	assert.Equal(t, asr.KindNetwork, asr.KindOf(err))
	assert.Equal(t, 3, *sleeps)
}
