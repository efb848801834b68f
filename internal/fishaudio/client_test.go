package fishaudio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("test-key", WithBaseURL(srv.URL))
}

func TestNew_WithOptions(t *testing.T) {
	hc := &http.Client{}
	c := New("test-key", WithBaseURL("https://custom.api.com/"), WithHTTPClient(hc), WithTTSModel("s2"))

	require.Equal(t, "https://custom.api.com", c.baseURL)
	require.Same(t, hc, c.httpClient)
	require.Equal(t, "s2", c.ttsModel)
}

func TestClient_CreateModel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/model", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "tts", r.FormValue("type"))
		require.Equal(t, "Voice model for user_1", r.FormValue("title"))
		require.Equal(t, "fast", r.FormValue("train_mode"))
		require.Equal(t, "private", r.FormValue("visibility"))
		require.Equal(t, "Voice model for personalized welcome messages", r.FormValue("description"))

		f, hdr, err := r.FormFile("voices")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "sample.mp3", hdr.Filename)
		data, _ := io.ReadAll(f)
		require.Equal(t, []byte("RIFF"), data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"_id":"model_1","title":"Voice model for user_1","state":"training"}`))
	})

	model, err := c.CreateModel(context.Background(), CreateModelRequest{
		Title:       "Voice model for user_1",
		Description: "Voice model for personalized welcome messages",
		Sample:      []byte("RIFF"),
		FileName:    "sample.mp3",
		ContentType: "audio/mpeg",
	})
	require.NoError(t, err)
	require.Equal(t, "model_1", model.ID)
	require.Equal(t, ModelTraining, model.State)
	require.False(t, model.Ready())
}

func TestClient_CreateModel_rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "audio too short", http.StatusBadRequest)
	})

	_, err := c.CreateModel(context.Background(), CreateModelRequest{Title: "t", Sample: []byte("x")})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "audio too short")
	require.False(t, apiErr.Retryable())
}

func TestClient_GenerateSpeech(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tts", r.URL.Path)
		require.Equal(t, "s1", r.Header.Get("model"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Hi Ada", body["text"])
		require.Equal(t, "model_1", body["reference_id"])
		require.Equal(t, "mp3", body["format"])
		require.Equal(t, true, body["normalize"])
		require.Equal(t, "normal", body["latency"])
		require.Equal(t, map[string]any{"speed": 1.1, "volume": float64(0)}, body["prosody"])

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xff, 0xfb})
	})

	audio, err := c.GenerateSpeech(context.Background(), "Hi Ada", "model_1", "")
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xfb}, audio)

	_, err = c.GenerateSpeech(context.Background(), "  ", "model_1", FormatMP3)
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestClient_Synthesize(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		wantErr error
	}{
		{name: "trained", state: "trained"},
		{name: "training", state: "training", wantErr: ErrModelNotReady},
		{name: "created", state: "created", wantErr: ErrModelNotReady},
		{name: "failed", state: "failed", wantErr: ErrModelFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ttsCalls int
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/model/model_1":
					_, _ = w.Write([]byte(`{"_id":"model_1","state":"` + tt.state + `"}`))
				case "/v1/tts":
					ttsCalls++
					_, _ = w.Write([]byte("audio"))
				default:
					http.NotFound(w, r)
				}
			})

			audio, err := c.Synthesize(context.Background(), "hello", "model_1", FormatMP3)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Zero(t, ttsCalls)
				return
			}
			require.NoError(t, err)
			require.Equal(t, []byte("audio"), audio)
			require.Equal(t, 1, ttsCalls)
		})
	}
}

func TestClient_ListAndDelete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			require.Equal(t, "true", r.URL.Query().Get("self"))
			require.Equal(t, "10", r.URL.Query().Get("page_size"))
			_, _ = w.Write([]byte(`{"total":1,"items":[{"_id":"m","title":"t","state":"trained"}]}`))
		case http.MethodDelete:
			require.Equal(t, "/model/m", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}
	})

	list, err := c.ListModels(context.Background(), ListModelsOptions{Self: true, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, list.Total)
	require.Equal(t, "m", list.Items[0].ID)

	require.NoError(t, c.DeleteModel(context.Background(), "m"))
}

func TestClient_GetModel_notFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.GetModel(context.Background(), "missing")
	require.True(t, IsNotFound(err))
}

func TestAPIError_Retryable(t *testing.T) {
	require.True(t, (&APIError{StatusCode: 429}).Retryable())
	require.True(t, (&APIError{StatusCode: 503}).Retryable())
	require.False(t, (&APIError{StatusCode: 401}).Retryable())
	require.Contains(t, (&APIError{StatusCode: 500}).Error(), "Internal Server Error")
}
