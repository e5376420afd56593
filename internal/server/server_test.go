package server

import (
	"bytes"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/college-resources/internal/config"
	"github.com/sakif/college-resources/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Port:            5000,
			CORSOrigins:     []string{"http://localhost:3000"},
			AuthRateLimit:   0,
			MaxUploadBytes:  1 << 20,
			ShutdownTimeout: time.Second,
		},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Storage:  config.StorageConfig{UploadDir: t.TempDir()},
		Auth:     config.AuthConfig{JWTSecret: "integration-test-secret", TokenTTL: time.Hour},
		Log:      config.LogConfig{Level: "error", Format: "text"},
		Events:   config.EventsConfig{Buffer: 16},
	}
}

func startServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	return startServer(t, testConfig(t)).Handler()
}

// newAdminServer registers Root as an ordinary student, then restarts on the
// same database with Root listed in auth.admin_emails. Root keeps the token
// issued at registration, whose role claim still says student.
func newAdminServer(t *testing.T) (http.Handler, *client) {
	t.Helper()
	cfg := testConfig(t)
	cfg.Database.Path = filepath.Join(t.TempDir(), "resources.db")

	first := startServer(t, cfg)
	root := register(t, first.Handler(), "Root", "")
	require.NoError(t, first.Close())

	cfg.Auth.AdminEmails = []string{"root@college.edu"}
	h := startServer(t, cfg).Handler()
	root.handler = h
	return h, root
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)
	return rr
}

func (c *client) json(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *client) upload(title, tags string) model.Resource {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(c.t, mw.WriteField("title", title))
	require.NoError(c.t, mw.WriteField("subject", "Mathematics"))
	require.NoError(c.t, mw.WriteField("semester", "3"))
	require.NoError(c.t, mw.WriteField("tags", tags))
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="notes.pdf"`)
	hdr.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(hdr)
	require.NoError(c.t, err)
	_, err = part.Write([]byte("%PDF-1.4\n" + title))
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/resources/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := c.do(req)
	require.Equal(c.t, http.StatusCreated, rr.Code, rr.Body.String())

	var res model.Resource
	require.NoError(c.t, json.NewDecoder(rr.Body).Decode(&res))
	return res
}

func register(t *testing.T, h http.Handler, name, role string) *client {
	t.Helper()
	c := &client{t: t, handler: h}
	body := `{"name":"` + name + `","email":"` + strings.ToLower(name) + `@college.edu","password":"secret1","role":"` + role + `"}`
	rr := c.json(http.MethodPost, "/api/auth/register", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	c.token = out.Token
	return c
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t)
	anon := &client{t: t, handler: h}

	rr := anon.json(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = anon.json(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestAuthFlow(t *testing.T) {
	h := newTestServer(t)
	ana := register(t, h, "Ana", "")

	rr := ana.json(http.MethodGet, "/api/auth/me", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var me model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&me))
	assert.Equal(t, "ana@college.edu", me.Email)
	assert.Equal(t, model.RoleStudent, me.Role)

	anon := &client{t: t, handler: h}
	assert.Equal(t, http.StatusUnauthorized, anon.json(http.MethodGet, "/api/auth/me", "").Code)

	rr = anon.json(http.MethodPost, "/api/auth/login", `{"email":"ANA@college.edu","password":"secret1"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = anon.json(http.MethodPost, "/api/auth/login", `{"email":"ana@college.edu","password":"wrong-one"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = anon.json(http.MethodPost, "/api/auth/register",
		`{"name":"Ana2","email":"ana@college.edu","password":"secret1"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestResourceLifecycle(t *testing.T) {
	h := newTestServer(t)
	ana := register(t, h, "Ana", "student")
	ben := register(t, h, "Ben", "student")
	anon := &client{t: t, handler: h}

	calc := ana.upload("Calculus notes", "calc, exam")
	algebra := ana.upload("Linear algebra", "matrices")

	// search is public and matches tags
	rr := anon.json(http.MethodGet, "/api/resources?q=EXAM", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var found []model.ResourceWithUploader
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&found))
	require.Len(t, found, 1)
	assert.Equal(t, calc.ID, found[0].ID)
	require.NotNil(t, found[0].Uploader)
	assert.Equal(t, "Ana", found[0].Uploader.Name)

	// rating needs auth, then aggregates
	assert.Equal(t, http.StatusUnauthorized,
		anon.json(http.MethodPost, "/api/rating/"+calc.ID+"/rate", `{"score":5}`).Code)

	rr = ben.json(http.MethodPost, "/api/rating/"+calc.ID+"/rate", `{"score":2,"feedback":"meh"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ben.json(http.MethodPost, "/api/rating/"+calc.ID+"/rate", `{"score":4,"feedback":"better on reread"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ana.json(http.MethodPost, "/api/rating/"+calc.ID+"/rate", `{"score":5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"avgRating":4.5,"ratingsCount":2}`, rr.Body.String())

	rr = anon.json(http.MethodGet, "/api/resources/top-rated?limit=1", "")
	var top []model.Resource
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&top))
	require.Len(t, top, 1)
	assert.Equal(t, calc.ID, top[0].ID)

	// view doesn't count; download does
	rr = anon.json(http.MethodGet, "/api/resources/"+algebra.ID+"/view", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "inline")

	rr = anon.json(http.MethodGet, "/api/resources/"+algebra.ID+"/download", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "%PDF-1.4\nLinear algebra", rr.Body.String())

	rr = anon.json(http.MethodGet, "/api/resources/"+algebra.ID, "")
	var got model.Resource
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.EqualValues(t, 1, got.Downloads)

	// static file serving uses the stored url
	rr = anon.json(http.MethodGet, algebra.FileURL, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusNotFound, anon.json(http.MethodGet, "/uploads/", "").Code)

	// Ben rated calculus, so recommendations follow its subject
	rr = ben.json(http.MethodGet, "/api/resources/recommendations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []model.Resource
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&recs))
	assert.Len(t, recs, 2)

	// only the uploader may delete via the student route
	assert.Equal(t, http.StatusForbidden, ben.json(http.MethodDelete, "/api/resources/my/"+calc.ID, "").Code)
	assert.Equal(t, http.StatusOK, ana.json(http.MethodDelete, "/api/resources/my/"+calc.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, anon.json(http.MethodGet, "/api/resources/"+calc.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, anon.json(http.MethodGet, calc.FileURL, "").Code)
}

func TestAdminRoutes(t *testing.T) {
	h, admin := newAdminServer(t)
	ana := register(t, h, "Ana", "student")
	res := ana.upload("Physics lab", "lab")

	// students are kept out of admin routes
	assert.Equal(t, http.StatusForbidden, ana.json(http.MethodGet, "/api/admin/users", "").Code)
	assert.Equal(t, http.StatusForbidden, ana.json(http.MethodDelete, "/api/resources/"+res.ID, "").Code)

	// but student-stats is open to any signed-in user
	rr := ana.json(http.MethodGet, "/api/admin/student-stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var student model.StudentStats
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&student))
	assert.Equal(t, 1, student.TotalResources)
	require.Len(t, student.MyUploads, 1)
	assert.Equal(t, "Physics lab", student.MyUploads[0].Title)

	rr = admin.json(http.MethodGet, "/api/admin/users", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var users []model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	require.Len(t, users, 1, "admins are not listed")
	anaID := users[0].ID

	rr = admin.json(http.MethodPut, "/api/admin/users/"+anaID+"/status", `{"status":"inactive"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ana.json(http.MethodPost, "/api/auth/login", `{"email":"ana@college.edu","password":"secret1"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = admin.json(http.MethodGet, "/api/admin/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats model.AdminStats
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&stats))
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.TotalResources)
	require.Len(t, stats.MostActiveUsers, 1)
	assert.Equal(t, "Ana", stats.MostActiveUsers[0].Name)

	rr = admin.json(http.MethodGet, "/api/admin/resources", "")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, http.StatusOK, admin.json(http.MethodDelete, "/api/admin/resources/"+res.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, admin.json(http.MethodDelete, "/api/admin/resources/"+res.ID, "").Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/resources", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRegister_AdminRoleRejected(t *testing.T) {
	h := newTestServer(t)
	anon := &client{t: t, handler: h}

	rr := anon.json(http.MethodPost, "/api/auth/register",
		`{"name":"Mallory","email":"mallory@college.edu","password":"secret1","role":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// no account was created, so logging in fails
	rr = anon.json(http.MethodPost, "/api/auth/login", `{"email":"mallory@college.edu","password":"secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDemotedAdminLosesAccessImmediately(t *testing.T) {
	h, root := newAdminServer(t)
	ana := register(t, h, "Ana", "")

	rr := root.json(http.MethodGet, "/api/admin/users", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var users []model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&users))
	require.Len(t, users, 1)

	rr = root.json(http.MethodPut, "/api/admin/users/"+users[0].ID+"/role", `{"role":"admin"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	// Ana's token was issued as a student; the promotion applies at once
	assert.Equal(t, http.StatusOK, ana.json(http.MethodGet, "/api/admin/stats", "").Code)

	rr = ana.json(http.MethodGet, "/api/auth/me", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var anaUser model.User
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&anaUser))

	rr = ana.json(http.MethodPut, "/api/admin/users/"+anaUser.ID+"/role", `{"role":"student"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusForbidden, ana.json(http.MethodGet, "/api/admin/stats", "").Code)
}
