package files

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditdocs/docvault/internal/middleware"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestRouter(f *fixture, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID != "" {
				req = req.WithContext(middleware.WithUserID(req.Context(), userID))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(f.svc).Routes(r)
	return r
}

type part struct {
	field, filename, contentType, body string
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func uploadRequest(t *testing.T, unitID string, parts ...part) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/units/"+unitID+"/files", body)
	req.Header.Set("Content-Type", ct)
	return req
}

func TestHandler_Upload(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, caller)

	rec, env := do(t, h, uploadRequest(t, unitA,
		part{field: "files", filename: "a.pdf", contentType: "application/pdf", body: "%PDF-1.4 a"},
		part{field: "files", filename: "b.pdf", contentType: "application/pdf", body: "%PDF-1.4 b"},
	))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, env.Success)

	var data struct {
		Files []Descriptor `json:"files"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Files, 2)
	assert.Equal(t, "a.pdf", data.Files[0].Filename)
	assert.Equal(t, int64(len("%PDF-1.4 a")), data.Files[0].Size)
	assert.Equal(t, "application/pdf", data.Files[0].Type)
	assert.Empty(t, data.Files[0].UploadedBy)
	assert.Equal(t, 2, f.ledger.count())
}

func TestHandler_UploadSniffsUndeclaredType(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, caller)
	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

	rec, env := do(t, h, uploadRequest(t, unitA,
		part{field: "file", filename: "scan", contentType: "application/octet-stream", body: png},
	))
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var data struct {
		Files []Descriptor `json:"files"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Files, 1)
	assert.Equal(t, "image/png", data.Files[0].Type)

	for _, obj := range f.store.objects {
		assert.Equal(t, png, string(obj))
	}
}

func TestHandler_UploadRejected(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, caller)

	rec, env := do(t, h, uploadRequest(t, unitA,
		part{field: "files", filename: "a.pdf", contentType: "application/pdf", body: "ok"},
		part{field: "files", filename: "bundle.zip", contentType: "application/zip", body: "PK"},
	))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "bundle.zip")
	assert.Zero(t, f.ledger.count())
	assert.Zero(t, f.store.uploads)
}

func TestHandler_UploadStorageFailureListsRecordedFiles(t *testing.T) {
	f := newFixture(t)
	f.store.failOn = 2
	h := newTestRouter(f, caller)

	rec, env := do(t, h, uploadRequest(t, unitA,
		part{field: "files", filename: "a.pdf", contentType: "application/pdf", body: "ok"},
		part{field: "files", filename: "b.pdf", contentType: "application/pdf", body: "ok"},
	))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "b.pdf")

	var data struct {
		Files []Descriptor `json:"files"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Files, 1)
	assert.Equal(t, "a.pdf", data.Files[0].Filename)
	assert.Equal(t, 1, f.ledger.count())
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func TestHandler_UploadBodyCappedBeforeParsing(t *testing.T) {
	f := newFixture(t)
	f.svc.policy = NewPolicy(1024, 2, []string{"application/pdf"})
	h := newTestRouter(f, caller)

	body, ct := multipartBody(t,
		part{field: "files", filename: "big.pdf", contentType: "application/pdf", body: strings.Repeat("a", 4<<20)},
	)
	total := int64(body.Len())
	counter := &countingReader{r: body}
	req := httptest.NewRequest(http.MethodPost, "/units/"+unitA+"/files", counter)
	req.Header.Set("Content-Type", ct)

	rec, env := do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "request body exceeds limit")
	assert.LessOrEqual(t, counter.n, f.svc.policy.RequestLimit()+1)
	assert.Less(t, counter.n, total)
	assert.Zero(t, f.store.uploads)
	assert.Zero(t, f.ledger.count())
}

func TestHandler_UploadTooManyFiles(t *testing.T) {
	f := newFixture(t)
	f.svc.policy = NewPolicy(1024, 2, []string{"application/pdf"})
	h := newTestRouter(f, caller)

	rec, env := do(t, h, uploadRequest(t, unitA,
		part{field: "files", filename: "a.pdf", contentType: "application/pdf", body: "a"},
		part{field: "files", filename: "b.pdf", contentType: "application/pdf", body: "b"},
		part{field: "files", filename: "c.pdf", contentType: "application/pdf", body: "c"},
	))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "too many files")
	assert.Zero(t, f.store.uploads)
}

func TestHandler_NotMultipart(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, caller)

	req := httptest.NewRequest(http.MethodPost, "/units/"+unitA+"/files", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec, _ := do(t, h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Unauthorized(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, "")

	rec, env := do(t, h, httptest.NewRequest(http.MethodGet, "/units/"+unitA+"/files", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
}

func TestHandler_ListDeleteAndStatus(t *testing.T) {
	f := newFixture(t)
	f.ledger.owners[caller] = "Jane Auditor"
	h := newTestRouter(f, caller)

	recs, err := f.svc.Upload(t.Context(), caller, unitA, []Upload{pdf("a.pdf", "a"), pdf("b.pdf", "b")})
	require.NoError(t, err)
	target := recs[0].ID

	req := httptest.NewRequest(http.MethodPatch, "/units/"+unitA+"/files/"+target, strings.NewReader(`{"analyzed":true}`))
	rec, env := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var d Descriptor
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.True(t, d.IsAnalyzed)
	assert.Equal(t, "Jane Auditor", d.UploadedBy)

	rec, env = do(t, h, httptest.NewRequest(http.MethodDelete, "/units/"+unitB+"/files/"+target, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, h, httptest.NewRequest(http.MethodDelete, "/units/"+unitA+"/files/"+target, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, string(env.Data))

	rec, env = do(t, h, httptest.NewRequest(http.MethodGet, "/units/"+unitA+"/files", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []Descriptor
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, recs[1].ID, list[0].ID)

	rec, _ = do(t, h, httptest.NewRequest(http.MethodGet, "/files/"+target, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, h, httptest.NewRequest(http.MethodGet, "/files/"+recs[1].ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, "b.pdf", d.Filename)
}

func TestHandler_UpdateStatusRequiresBoolean(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f, caller)

	for _, body := range []string{`{}`, `{"analyzed":"yes"}`, `not json`} {
		req := httptest.NewRequest(http.MethodPatch, "/units/"+unitA+"/files/x", strings.NewReader(body))
		rec, _ := do(t, h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}
