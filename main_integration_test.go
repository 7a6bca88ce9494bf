package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/plant-scan/internal/handlers"
	"github.com/example/plant-scan/internal/history"
	"github.com/example/plant-scan/internal/imagesource"
	"github.com/example/plant-scan/internal/inference"
	"github.com/example/plant-scan/internal/kvstore"
	"github.com/example/plant-scan/internal/metrics"
	"github.com/example/plant-scan/internal/workflow"
)

func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/scan", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		<-releaseRequest
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: mux}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending request")
		resp, err := client.Get("http://" + addr + "/scan")
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
		t.Log("request started")
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	t.Log("released request")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}

func TestScanOverHTTP(t *testing.T) {
	logger := zap.NewNop()

	model := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"predictions":[{"className":"Healthy","probability":0.12},{"className":"Tomato Early Blight","probability":0.72}]}`))
	}))
	defer model.Close()

	ctx := context.Background()
	backend, err := kvstore.Open(ctx, kvstore.Config{Driver: kvstore.DriverMemory, Namespace: "it"}, logger)
	require.NoError(t, err)
	defer backend.Close()

	store := history.NewStore(backend, logger)
	store.Load(ctx)

	client, err := inference.NewHTTPClient(inference.Config{BaseURL: model.URL}, nil, logger)
	require.NoError(t, err)

	spool, err := imagesource.NewSpool(t.TempDir())
	require.NoError(t, err)

	phases := workflow.DefaultPhases()
	for i := range phases {
		phases[i].Duration = time.Millisecond
	}
	m := metrics.New()
	wf := workflow.New(client, store, nil, workflow.Options{Phases: phases, Metrics: m, Logger: logger})
	defer wf.Close()

	router := newRouter(logger, handlers.Dependencies{
		Scanner: wf,
		Results: store,
		Uploads: spool,
		Metrics: m.Handler(),
		Logger:  logger,
	})
	api := httptest.NewServer(router)
	defer api.Close()

	body, contentType := pngUpload(t)
	resp, err := http.Post(api.URL+"/scan/image", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(api.URL+"/scan/analyze", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(api.URL + "/scan?wait=true")
	require.NoError(t, err)
	var snap workflow.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()

	require.Equal(t, workflow.StateComplete, snap.State, "error: %+v", snap.Error)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "Tomato Early Blight", snap.Result.Top().ClassName)
	assert.InDelta(t, 0.72, snap.Result.Top().Probability, 1e-9)

	resp, err = http.Get(api.URL + "/results/" + snap.Result.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded := history.NewStore(backend, logger)
	reloaded.Load(ctx)
	assert.Equal(t, store.List(), reloaded.List())

	resp, err = http.Get(api.URL + "/metrics")
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(metricsBody), "plantscan_scans_started_total 1")
}

func pngUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{G: uint8(100 + x), A: 255})
		}
	}
	var raw bytes.Buffer
	require.NoError(t, png.Encode(&raw, img))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="leaf.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}
