package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/sakif/college-resources/internal/auth"
	"github.com/sakif/college-resources/internal/handler"
	"github.com/sakif/college-resources/internal/model"
	"github.com/sakif/college-resources/internal/service"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// asUser attaches an identity the way RequireAuth would.
func asUser(req *http.Request, id string, role model.Role) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: id, Role: role}))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

// =========================================================================
// MOCKS
// =========================================================================

// MockAuthenticator captures the last call and returns canned values.
type MockAuthenticator struct {
	CapturedName, CapturedEmail, CapturedPassword string
	CapturedRole                                  model.Role
	ReturnResult                                  *service.AuthResult
	ReturnUser                                    *model.User
	ReturnErr                                     error
}

func (m *MockAuthenticator) Register(_ context.Context, name, email, password string, role model.Role) (*service.AuthResult, error) {
	m.CapturedName, m.CapturedEmail, m.CapturedPassword, m.CapturedRole = name, email, password, role
	return m.ReturnResult, m.ReturnErr
}

func (m *MockAuthenticator) Login(_ context.Context, email, password string) (*service.AuthResult, error) {
	m.CapturedEmail, m.CapturedPassword = email, password
	return m.ReturnResult, m.ReturnErr
}

func (m *MockAuthenticator) GetUserByID(_ context.Context, id string) (*model.User, error) {
	m.CapturedName = id
	return m.ReturnUser, m.ReturnErr
}

// MockResources records calls by name; only the fields a test sets matter.
type MockResources struct {
	Calls []string

	CapturedInput service.UploadInput
	CapturedBody  string
	CapturedID    string
	CapturedUser  string
	CapturedQuery string
	CapturedLimit int

	ReturnResource  *model.Resource
	ReturnList      []model.ResourceWithUploader
	ReturnResources []model.Resource
	ReturnDoc       *service.Document
	ReturnErr       error
}

func (m *MockResources) Upload(_ context.Context, in service.UploadInput, userID string) (*model.Resource, error) {
	m.Calls = append(m.Calls, "Upload")
	m.CapturedInput, m.CapturedUser = in, userID
	if in.Body != nil {
		b, _ := io.ReadAll(in.Body)
		m.CapturedBody = string(b)
	}
	return m.ReturnResource, m.ReturnErr
}

func (m *MockResources) List(_ context.Context, query string) ([]model.ResourceWithUploader, error) {
	m.Calls = append(m.Calls, "List")
	m.CapturedQuery = query
	return m.ReturnList, m.ReturnErr
}

func (m *MockResources) MyUploads(_ context.Context, userID string) ([]model.ResourceWithUploader, error) {
	m.Calls = append(m.Calls, "MyUploads")
	m.CapturedUser = userID
	return m.ReturnList, m.ReturnErr
}

func (m *MockResources) Get(_ context.Context, id string) (*model.Resource, error) {
	m.Calls = append(m.Calls, "Get")
	m.CapturedID = id
	return m.ReturnResource, m.ReturnErr
}

func (m *MockResources) TopRated(_ context.Context, limit int) ([]model.Resource, error) {
	m.Calls = append(m.Calls, "TopRated")
	m.CapturedLimit = limit
	return m.ReturnResources, m.ReturnErr
}

func (m *MockResources) MostDownloaded(_ context.Context, limit int) ([]model.Resource, error) {
	m.Calls = append(m.Calls, "MostDownloaded")
	m.CapturedLimit = limit
	return m.ReturnResources, m.ReturnErr
}

func (m *MockResources) Open(_ context.Context, id string) (*service.Document, error) {
	m.Calls = append(m.Calls, "Open")
	m.CapturedID = id
	return m.ReturnDoc, m.ReturnErr
}

func (m *MockResources) Download(_ context.Context, id string) (*service.Document, error) {
	m.Calls = append(m.Calls, "Download")
	m.CapturedID = id
	return m.ReturnDoc, m.ReturnErr
}

func (m *MockResources) DeleteOwn(_ context.Context, id, userID string) error {
	m.Calls = append(m.Calls, "DeleteOwn")
	m.CapturedID, m.CapturedUser = id, userID
	return m.ReturnErr
}

func (m *MockResources) DeleteAny(_ context.Context, id, adminID string) error {
	m.Calls = append(m.Calls, "DeleteAny")
	m.CapturedID, m.CapturedUser = id, adminID
	return m.ReturnErr
}

type MockRecommender struct {
	CapturedUser string
	Return       []model.Resource
	ReturnErr    error
}

func (m *MockRecommender) For(_ context.Context, userID string) ([]model.Resource, error) {
	m.CapturedUser = userID
	return m.Return, m.ReturnErr
}

type MockRater struct {
	CapturedResource, CapturedUser, CapturedFeedback string
	CapturedScore                                    int
	ReturnResult                                     *service.RatingResult
	ReturnErr                                        error
	Called                                           bool
}

func (m *MockRater) Submit(_ context.Context, resourceID, userID string, score int, feedback string) (*service.RatingResult, error) {
	m.Called = true
	m.CapturedResource, m.CapturedUser, m.CapturedScore, m.CapturedFeedback = resourceID, userID, score, feedback
	return m.ReturnResult, m.ReturnErr
}

type MockUserManager struct {
	CapturedID     string
	CapturedRole   model.Role
	CapturedStatus model.Status
	ReturnUsers    []model.User
	ReturnUser     *model.User
	ReturnErr      error
}

func (m *MockUserManager) ListStudents(context.Context) ([]model.User, error) {
	return m.ReturnUsers, m.ReturnErr
}

func (m *MockUserManager) ChangeRole(_ context.Context, id string, role model.Role) (*model.User, error) {
	m.CapturedID, m.CapturedRole = id, role
	return m.ReturnUser, m.ReturnErr
}

func (m *MockUserManager) ChangeStatus(_ context.Context, id string, status model.Status) (*model.User, error) {
	m.CapturedID, m.CapturedStatus = id, status
	return m.ReturnUser, m.ReturnErr
}

type MockDashboards struct {
	CapturedUser  string
	ReturnAdmin   *model.AdminStats
	ReturnStudent *model.StudentStats
	ReturnErr     error
}

func (m *MockDashboards) Admin(context.Context) (*model.AdminStats, error) {
	return m.ReturnAdmin, m.ReturnErr
}

func (m *MockDashboards) Student(_ context.Context, userID string) (*model.StudentStats, error) {
	m.CapturedUser = userID
	return m.ReturnStudent, m.ReturnErr
}
