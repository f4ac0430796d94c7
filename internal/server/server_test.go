package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthscan/healthscan/internal/classifier"
	"github.com/healthscan/healthscan/internal/clinical"
	"github.com/healthscan/healthscan/internal/config"
	"github.com/healthscan/healthscan/internal/model"
	"github.com/healthscan/healthscan/internal/preprocess"
	"github.com/healthscan/healthscan/internal/report"
	"github.com/healthscan/healthscan/internal/signing"
	"github.com/healthscan/healthscan/internal/storage"
)

type fixedModel struct {
	p   float32
	err error
}

func (m fixedModel) Predict(context.Context, *preprocess.Tensor) (float32, error) {
	return m.p, m.err
}

type recordingChat struct {
	mu      sync.Mutex
	prompts []string
	replies []string
	err     error
}

func (c *recordingChat) Chat(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply, nil
}

type failingStore struct{}

func (failingStore) Create(context.Context, *model.PatientRecord) error {
	return errors.New("connection refused")
}

func (failingStore) ListAll(context.Context) ([]model.PatientRecord, error) {
	return nil, errors.New("connection refused")
}

type recordingArchiver struct {
	xrays   []model.PatientRecord
	reports []string
	err     error
}

func (a *recordingArchiver) ArchiveXray(_ context.Context, rec model.PatientRecord) error {
	a.xrays = append(a.xrays, rec)
	return a.err
}

func (a *recordingArchiver) ArchiveReport(_ context.Context, text string) error {
	a.reports = append(a.reports, text)
	return a.err
}

type panickingDiagnoser struct{}

func (panickingDiagnoser) Diagnose(context.Context, string) (model.Diagnosis, error) {
	panic("onnx session handle freed: 0xdeadbeef")
}

type testEnv struct {
	srv        *Server
	handler    http.Handler
	cfg        *config.Config
	chat       *recordingChat
	reportPath string
}

type envOption func(*Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, nil, opts...)
}

func newTestEnvWithConfig(t *testing.T, tweak func(*config.Config), opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	cfg := &config.Config{
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxUploadBytes: 16 << 20,
		SignedURLTTL:   time.Minute,
	}
	if tweak != nil {
		tweak(cfg)
	}
	chat := &recordingChat{replies: []string{"<think>plan</think>**Findings**: clear"}}
	reportPath := filepath.Join(dir, "OutputOllama.txt")
	deps := Deps{
		Store:     storage.NewMemoryStore(),
		Diagnoser: classifier.New(fixedModel{p: 0.9}),
		Reports:   report.NewGenerator(chat, reportPath, zerolog.Nop()),
		Signer:    signing.NewSigner([]byte("test-secret")),
		Logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	srv, err := New(cfg, deps)
	require.NoError(t, err)
	return &testEnv{srv: srv, handler: srv.Handler(), cfg: cfg, chat: chat, reportPath: reportPath}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 8)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type analyzeForm struct {
	name, dob, gender, symptoms string
	filename                    string
	file                        []byte
}

func analyzeRequest(t *testing.T, f analyzeForm) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("patient_name", f.name))
	require.NoError(t, w.WriteField("patient_dob", f.dob))
	require.NoError(t, w.WriteField("patient_gender", f.gender))
	require.NoError(t, w.WriteField("symptoms", f.symptoms))
	if f.filename != "" {
		part, err := w.CreateFormFile("xray_image", f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.file)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return payload["error"]
}

func TestIndexServesForm(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), `name="xray_image"`)
	assert.Contains(t, w.Body.String(), "/generate_report")
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAnalyzeRejectsMissingFile(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02"}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidImage, decodeError(t, w))
}

func TestAnalyzeRejectsDisallowedExtension(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"scan.bmp", "scan", "scan.png.exe"} {
		w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: name, file: pngBytes(t)}))
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
		assert.Equal(t, msgInvalidImage, decodeError(t, w), name)
	}
	entries, err := os.ReadDir(env.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAnalyzeRejectsBadPatientFields(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(analyzeRequest(t, analyzeForm{name: "  ", dob: "1960-04-02", filename: "a.png", file: pngBytes(t)}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidName, decodeError(t, w))

	w = env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "02/04/1960", filename: "a.png", file: pngBytes(t)}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidDOB, decodeError(t, w))
}

func TestAnalyzeValidPNG(t *testing.T) {
	env := newTestEnv(t)
	dob := "1985-07-19"
	w := env.do(analyzeRequest(t, analyzeForm{
		name: "Ada Lovelace", dob: dob, gender: "Female", symptoms: "cough, fever",
		filename: "Chest Scan.PNG", file: pngBytes(t),
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got analyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	wantAge, err := clinical.CalculateAge(dob, time.Now())
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "Ada Lovelace", got.Name)
	assert.Equal(t, dob, got.DateOfBirth)
	assert.Equal(t, wantAge, got.Age)
	assert.Equal(t, "Female", got.Gender)
	assert.Equal(t, "cough, fever", got.Symptoms)
	assert.Equal(t, model.DiagnosisPneumonia, got.Diagnosis)
	assert.True(t, got.Diagnosis.Valid())
	assert.True(t, strings.HasSuffix(got.ImagePath, "_Chest_Scan.PNG"), got.ImagePath)
	assert.Equal(t, env.cfg.UploadDir, filepath.Dir(got.ImagePath))
	assert.FileExists(t, got.ImagePath)
	assert.True(t, strings.HasPrefix(got.ImageURL, "/uploads/"), got.ImageURL)
}

func TestAnalyzeLowProbabilityIsNormal(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Diagnoser = classifier.New(fixedModel{p: 0.5}) })
	w := env.do(analyzeRequest(t, analyzeForm{name: "Alan", dob: "1990-06-23", filename: "x.jpg", file: pngBytes(t)}))
	require.Equal(t, http.StatusOK, w.Code)

	var got analyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.DiagnosisNormal, got.Diagnosis)
}

func TestAnalyzeSameFilenameKeepsBothUploads(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"Ada", "Alan"} {
		w := env.do(analyzeRequest(t, analyzeForm{name: name, dob: "1970-01-01", filename: "xray.png", file: pngBytes(t)}))
		require.Equal(t, http.StatusOK, w.Code)
	}
	entries, err := os.ReadDir(env.cfg.UploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAnalyzeCorruptImageIsClientError(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: "broken.png", file: []byte("not an image")}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, msgInvalidImage, decodeError(t, w))

	entries, err := os.ReadDir(env.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload should be removed")

	list := env.do(httptest.NewRequest(http.MethodGet, "/patients", nil))
	assert.JSONEq(t, `[]`, list.Body.String())
}

func TestAnalyzeInferenceFailureIsGeneric500(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Diagnoser = classifier.New(fixedModel{err: errors.New("onnx: bad input shape")})
	})
	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: "a.png", file: pngBytes(t)}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgUnexpected, decodeError(t, w))
	assert.NotContains(t, w.Body.String(), "onnx")
}

func TestAnalyzeStoreFailureIsGeneric500(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Store = failingStore{} })
	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: "a.png", file: pngBytes(t)}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgUnexpected, decodeError(t, w))
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestAnalyzeOversizedUploadIs413(t *testing.T) {
	env := newTestEnvWithConfig(t, func(c *config.Config) { c.MaxUploadBytes = 1024 })
	w := env.do(analyzeRequest(t, analyzeForm{
		name: "Ada", dob: "1960-04-02", filename: "huge.png", file: bytes.Repeat([]byte{0x89}, 1<<20),
	}))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, msgTooLarge, decodeError(t, w))
	entries, err := os.ReadDir(env.cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandlerPanicIsGeneric500(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Diagnoser = panickingDiagnoser{} })
	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: "a.png", file: pngBytes(t)}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgUnexpected, decodeError(t, w))
	assert.NotContains(t, w.Body.String(), "deadbeef")
	assert.NotContains(t, w.Body.String(), "onnx")

	// The router keeps serving after a recovered panic.
	health := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code)
}

func TestPatientsListsEveryAnalysis(t *testing.T) {
	env := newTestEnv(t)

	empty := env.do(httptest.NewRequest(http.MethodGet, "/patients", nil))
	require.Equal(t, http.StatusOK, empty.Code)
	assert.JSONEq(t, `[]`, empty.Body.String())

	for _, name := range []string{"Ada", "Alan"} {
		w := env.do(analyzeRequest(t, analyzeForm{name: name, dob: "1970-01-01", filename: name + ".png", file: pngBytes(t)}))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/patients", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 2)
	names := []any{records[0]["name"], records[1]["name"]}
	assert.ElementsMatch(t, []any{"Ada", "Alan"}, names)
	for _, key := range []string{"id", "name", "dob", "age", "gender", "symptoms", "diagnosis", "filepath"} {
		assert.Contains(t, records[0], key)
	}
}

func TestPatientsStoreFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Store = failingStore{} })
	w := env.do(httptest.NewRequest(http.MethodGet, "/patients", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgPatientsFailed, decodeError(t, w))
}

func TestGenerateReportUsesFixedPromptAndOverwrites(t *testing.T) {
	env := newTestEnv(t)
	env.chat.replies = []string{"**First** report with more text", "**Second**"}

	first := env.do(httptest.NewRequest(http.MethodPost, "/generate_report", strings.NewReader(`{"patient":"Ada"}`)))
	require.Equal(t, http.StatusOK, first.Code)
	second := env.do(httptest.NewRequest(http.MethodPost, "/generate_report", nil))
	require.Equal(t, http.StatusOK, second.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &got))
	assert.Equal(t, "<strong>Second</strong>", got["report"])

	assert.Equal(t, []string{report.Prompt, report.Prompt}, env.chat.prompts)
	data, err := os.ReadFile(env.reportPath)
	require.NoError(t, err)
	assert.Equal(t, "<strong>Second</strong>", string(data))
}

func TestGenerateReportStripsThinking(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(httptest.NewRequest(http.MethodPost, "/generate_report", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "<strong>Findings</strong>: clear", got["report"])
}

func TestGenerateReportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.chat.err = errors.New("ollama unreachable")
	w := env.do(httptest.NewRequest(http.MethodPost, "/generate_report", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgReportFailed, decodeError(t, w))
	assert.NoFileExists(t, env.reportPath)
}

func TestSignedUploadLink(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: "a.png", file: pngBytes(t)}))
	require.Equal(t, http.StatusOK, w.Code)

	var got analyzeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	ok := env.do(httptest.NewRequest(http.MethodGet, got.ImageURL, nil))
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, pngBytes(t), ok.Body.Bytes())

	u, err := url.Parse(got.ImageURL)
	require.NoError(t, err)
	q := u.Query()
	q.Set("signature", strings.Repeat("0", 64))
	u.RawQuery = q.Encode()
	forged := env.do(httptest.NewRequest(http.MethodGet, u.String(), nil))
	assert.Equal(t, http.StatusForbidden, forged.Code)

	signer := signing.NewSigner([]byte("test-secret"))
	missing := signer.URL("/uploads", "nope.png", time.Minute)
	notFound := env.do(httptest.NewRequest(http.MethodGet, missing, nil))
	assert.Equal(t, http.StatusNotFound, notFound.Code)
}

func TestArchiverReceivesWork(t *testing.T) {
	archiver := &recordingArchiver{}
	env := newTestEnv(t, func(d *Deps) { d.Archiver = archiver })

	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: "a.png", file: pngBytes(t)}))
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(httptest.NewRequest(http.MethodPost, "/generate_report", nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, archiver.xrays, 1)
	assert.Equal(t, int64(1), archiver.xrays[0].ID)
	assert.Equal(t, []string{"<strong>Findings</strong>: clear"}, archiver.reports)
}

func TestArchiverFailureDoesNotChangeResponse(t *testing.T) {
	archiver := &recordingArchiver{err: errors.New("redis down")}
	env := newTestEnv(t, func(d *Deps) { d.Archiver = archiver })

	w := env.do(analyzeRequest(t, analyzeForm{name: "Ada", dob: "1960-04-02", filename: "a.png", file: pngBytes(t)}))
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(httptest.NewRequest(http.MethodPost, "/generate_report", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(&config.Config{UploadDir: t.TempDir()}, Deps{})
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReturnsListenerErrorWithoutLeaking(t *testing.T) {
	env := newTestEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	before := runtime.NumGoroutine()
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(context.Background(), ln) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return on a closed listener")
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond, "shutdown goroutine still running")
}
