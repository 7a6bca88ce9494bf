package inference

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeTestImage(t *testing.T) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}

	path := filepath.Join(t.TempDir(), "leaf.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func newTestClient(t *testing.T, baseURL string, httpClient *http.Client) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(Config{BaseURL: baseURL}, httpClient, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestPredictReturnsTopPrediction(t *testing.T) {
	var received predictRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"predictions":[
			{"className":"A","probability":0.2},
			{"className":"B","probability":0.9},
			{"className":"C","probability":0.5}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL+"/", nil)
	preds, err := client.Predict(context.Background(), writeTestImage(t))
	require.NoError(t, err)

	assert.Equal(t, []Prediction{{ClassName: "B", Probability: 0.9}}, preds)
	assert.True(t, strings.HasPrefix(received.Image, "data:image/jpeg;base64,"), "unexpected image prefix")
	assert.Greater(t, len(received.Image), len("data:image/jpeg;base64,"))
}

func TestPredictAcceptsFileURI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions":[{"className":"Blight","probability":0.6}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	preds, err := client.Predict(context.Background(), "file://"+writeTestImage(t))
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "Blight", preds[0].ClassName)
}

func TestPredictNon2xxReturnsServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("model warming up"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Predict(context.Background(), writeTestImage(t))
	require.Error(t, err)

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusBadGateway, svcErr.StatusCode)
	assert.Equal(t, "model warming up", svcErr.Body)
	assert.Equal(t, KindService, KindOf(err))
}

func TestPredictMalformedBodyReturnsServiceError(t *testing.T) {
	for name, body := range map[string]string{
		"not_json":        `<html>oops</html>`,
		"missing_field":   `{"result":"ok"}`,
		"predictions_obj": `{"predictions":{"className":"A"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, nil)
			_, err := client.Predict(context.Background(), writeTestImage(t))

			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, http.StatusOK, svcErr.StatusCode)
			assert.Equal(t, body, svcErr.Body)
		})
	}
}

func TestPredictPreprocessingErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()
	client := newTestClient(t, server.URL, nil)

	garbage := filepath.Join(t.TempDir(), "garbage.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not a jpeg"), 0o600))

	for name, uri := range map[string]string{
		"missing_file": filepath.Join(t.TempDir(), "nope.jpg"),
		"undecodable":  garbage,
		"empty_handle": "",
		"http_scheme":  "https://example.com/leaf.jpg",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := client.Predict(context.Background(), uri)
			var preErr *PreprocessingError
			require.ErrorAs(t, err, &preErr)
			assert.Equal(t, KindPreprocessing, KindOf(err))
		})
	}
	assert.Zero(t, calls, "no request should be sent for unreadable images")
}

func TestPredictTransportFailureIsSingleAttempt(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://inference.test/predict",
		httpmock.NewErrorResponder(errors.New("connection reset")))

	client := newTestClient(t, "http://inference.test", &http.Client{Transport: transport})
	_, err := client.Predict(context.Background(), writeTestImage(t))

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Zero(t, svcErr.StatusCode)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestRunFoldsIntoOutcome(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, "http://inference.test/predict",
		httpmock.NewStringResponder(http.StatusOK, `{"predictions":[{"className":"Spot","probability":0.42}]}`))
	client := newTestClient(t, "http://inference.test", &http.Client{Transport: transport})

	ok := Run(context.Background(), client, writeTestImage(t))
	assert.True(t, ok.OK())
	assert.Equal(t, KindNone, ok.Kind())
	assert.Equal(t, []Prediction{{ClassName: "Spot", Probability: 0.42}}, ok.Predictions)

	failed := Run(context.Background(), client, "")
	assert.False(t, failed.OK())
	assert.Equal(t, KindPreprocessing, failed.Kind())
	assert.Nil(t, failed.Predictions)
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPClient(Config{}, nil, nil)
	require.Error(t, err)
}
