package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	value string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.value, nil
}

func newTestClient(t *testing.T, getter Getter, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(getter, "/healthcare/prod", WithBaseURL(srv.URL))
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	getter := &fakeGetter{value: `{"key":"k"}`}

	_, err := NewClient(nil, "/prefix", WithBaseURL("http://localhost"))
	require.Error(t, err)
	_, err = NewClient(getter, " ", WithBaseURL("http://localhost"))
	require.Error(t, err)
	_, err = NewClient(getter, "/prefix")
	require.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq transcribeRequest
	getter := &fakeGetter{value: `{"key":"secret-key"}`}
	c := newTestClient(t, getter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(transcribeResponse{
			Transcription: "it hurts here",
			AudioURL:      "https://media.example/rec.webm",
		})
	}))

	text, audioURL, err := c.Transcribe(context.Background(), []byte{1, 2, 3}, "en-US", "uid-1")
	require.NoError(t, err)
	require.Equal(t, "it hurts here", text)
	require.Equal(t, "https://media.example/rec.webm", audioURL)
	require.Equal(t, "Bearer secret-key", gotAuth)
	require.Equal(t, "/transcribe", gotPath)
	require.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), gotReq.Audio)
	require.Equal(t, "en-US", gotReq.Locale)
	require.Equal(t, "uid-1", gotReq.UserID)
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	getter := &fakeGetter{value: `{"key":"k"}`}
	c := newTestClient(t, getter, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	}))

	_, _, err := c.Transcribe(context.Background(), nil, "en-US", "uid-1")
	require.Error(t, err)
	require.Zero(t, getter.calls)
}

func TestTranslate(t *testing.T) {
	getter := &fakeGetter{value: `{"key":"k"}`}
	c := newTestClient(t, getter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "en", req.Source)
		require.Equal(t, "kn", req.Target)
		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "ವಿಶ್ರಾಂತಿ ಪಡೆಯಿರಿ"})
	}))

	out, err := c.Translate(context.Background(), "take rest", "en", "kn")
	require.NoError(t, err)
	require.Equal(t, "ವಿಶ್ರಾಂತಿ ಪಡೆಯಿರಿ", out)
}

func TestTranslate_EmptyTranslation(t *testing.T) {
	getter := &fakeGetter{value: `{"key":"k"}`}
	c := newTestClient(t, getter, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(translateResponse{})
	}))

	_, err := c.Translate(context.Background(), "take rest", "en", "kn")
	require.Error(t, err)
}

func TestSynthesize(t *testing.T) {
	getter := &fakeGetter{value: `{"key":"k"}`}
	c := newTestClient(t, getter, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthesizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "kn-IN", req.Locale)
		_ = json.NewEncoder(w).Encode(synthesizeResponse{AudioURL: "https://media.example/tts.mp3"})
	}))

	audioURL, err := c.Synthesize(context.Background(), "take rest", "kn-IN")
	require.NoError(t, err)
	require.Equal(t, "https://media.example/tts.mp3", audioURL)
}

func TestAPIKey_FetchedOnce(t *testing.T) {
	getter := &fakeGetter{value: `{"key":"k"}`}
	c := newTestClient(t, getter, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(synthesizeResponse{AudioURL: "https://media.example/tts.mp3"})
	}))

	for i := 0; i < 3; i++ {
		_, err := c.Synthesize(context.Background(), "take rest", "en-US")
		require.NoError(t, err)
	}
	require.Equal(t, 1, getter.calls)
}

func TestAPIKey_Errors(t *testing.T) {
	tests := []struct {
		name   string
		getter *fakeGetter
	}{
		{name: "getter failure", getter: &fakeGetter{err: errors.New("ssm down")}},
		{name: "not json", getter: &fakeGetter{value: "plain-key"}},
		{name: "empty key", getter: &fakeGetter{value: `{"key":""}`}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.getter, http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
				t.Error("no request expected")
			}))
			_, err := c.Synthesize(context.Background(), "take rest", "en-US")
			require.Error(t, err)
		})
	}
}

func TestPost_ServerError(t *testing.T) {
	getter := &fakeGetter{value: `{"key":"k"}`}
	c := newTestClient(t, getter, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))

	_, err := c.Synthesize(context.Background(), "take rest", "en-US")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}
