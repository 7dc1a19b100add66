package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/layersmith/internal/anchor"
	"github.com/ironsheep/layersmith/internal/archive"
	"github.com/ironsheep/layersmith/internal/config"
	"github.com/ironsheep/layersmith/internal/imaging"
	"github.com/ironsheep/layersmith/internal/inference"
	"github.com/ironsheep/layersmith/internal/layers"
	"github.com/ironsheep/layersmith/internal/pipeline"
)

type testServer struct {
	srv    *Server
	router *gin.Engine
	store  *archive.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()

	store, err := archive.NewStore(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	icfg := inference.DefaultConfig()
	icfg.UpscaleFactor = 1
	services, err := inference.NewServices(icfg, nil)
	require.NoError(t, err)

	reg := archive.NewMemoryRegistry(time.Hour)
	orch, err := pipeline.New(pipeline.DefaultConfig(), pipeline.Deps{
		Services:   services,
		Decomposer: layers.New(layers.DefaultConfig(), nil),
		Anchor:     anchor.DefaultOptions(),
		Exporter:   archive.NewExporter(store, 32, nil),
		Registry:   reg,
	})
	require.NoError(t, err)

	serverCfg := cfg.Server
	serverCfg.MaxBatches = 1
	serverCfg.BatchQueueTimeout = 20 * time.Millisecond
	upload := cfg.Upload
	upload.MaxFiles = 3

	s := New(Deps{
		Server:       serverCfg,
		Upload:       upload,
		Orchestrator: orch,
		Store:        store,
		Registry:     reg,
		Build:        BuildInfo{Version: "1.2.3", BuildTime: "now", GitCommit: "abc"},
	})
	return &testServer{srv: s, router: s.Router(), store: store}
}

func twoColorPNG(t *testing.T) []byte {
	t.Helper()
	r, err := imaging.NewRaster(16, 16)
	require.NoError(t, err)
	r.FillRect(0, 0, 8, 16, imaging.RGB{R: 200, G: 30, B: 30})
	r.FillRect(8, 0, 16, 16, imaging.RGB{R: 20, G: 20, B: 160})
	data, err := imaging.EncodePNG(r)
	require.NoError(t, err)
	return data
}

type upload struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, files []upload, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="%s"`, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) postBatch(t *testing.T, files []upload, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", body)
	req.Header.Set("Content-Type", ct)
	return ts.do(req)
}

func decodeBatch(t *testing.T, rec *httptest.ResponseRecorder) BatchResponse {
	t.Helper()
	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func ginTestContext(rec *httptest.ResponseRecorder, origin string) (*gin.Context, *gin.Engine) {
	c, e := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/health/live", nil)
	c.Request.Header.Set("Origin", origin)
	return c, e
}
