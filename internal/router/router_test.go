package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"yardstick/internal/database"
	"yardstick/internal/models"
	"yardstick/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const password = "password123"

type recordingSender struct {
	mu      sync.Mutex
	bodies  []string
	targets [][]string
}

func (s *recordingSender) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append(s.targets, to)
	s.bodies = append(s.bodies, htmlBody)
	return nil
}

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	deps   *Dependencies
	engine *gin.Engine
	sender *recordingSender
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		JWT: config.JWTConfig{
			SecretKey:     "router-test-secret",
			TokenDuration: "1h",
			CookieName:    "session_token",
		},
		Redis: config.RedisConfig{Prefix: "test"},
		CORS: config.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		},
		Invite: config.InviteConfig{
			TTL:     7 * 24 * time.Hour,
			BaseURL: "https://notes.example.com",
		},
		Policy: config.PolicyConfig{
			FreeMaxNotes:    3,
			PrincipalSource: "store",
		},
		Mail:    config.MailConfig{MaxAttempts: 3},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	sender := &recordingSender{}
	deps := NewDependencies(testConfig(), db, nil, sender)
	s := &testServer{t: t, db: db, deps: deps, engine: SetupRouter(deps), sender: sender}
	s.seed()
	return s
}

// seed 两个租户，每个租户一个管理员和一个成员
func (s *testServer) seed() {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(s.t, err)

	ctx := context.Background()
	for _, tc := range []struct{ name, plan string }{{"Acme", models.PlanFree}, {"Globex", models.PlanPro}} {
		tenant, err := s.deps.Tenants.Create(ctx, tc.name, tc.plan)
		require.NoError(s.t, err)
		for _, u := range []struct{ local, role string }{{"admin", models.RoleAdmin}, {"user", models.RoleMember}} {
			user := &models.User{
				Email:        fmt.Sprintf("%s@%s.test", u.local, tenant.Slug),
				PasswordHash: string(hash),
				Role:         u.role,
				TenantID:     tenant.ID,
			}
			require.NoError(s.t, s.db.Create(user).Error)
		}
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Reason  string          `json:"reason"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp apiResponse
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (s *testServer) login(email string) string {
	s.t.Helper()
	w, resp := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(resp.Data, &data))
	require.NotEmpty(s.t, data.Token)
	return data.Token
}

func (s *testServer) userID(email string) uint {
	s.t.Helper()
	var user models.User
	require.NoError(s.t, s.db.Where("email = ?", email).First(&user).Error)
	return user.ID
}

func createNote(s *testServer, token, title string) (int, uint) {
	w, resp := s.do(http.MethodPost, "/api/v1/notes", token, map[string]string{"title": title, "content": "body"})
	if w.Code != http.StatusCreated {
		return w.Code, 0
	}
	var note struct {
		ID uint `json:"id"`
	}
	require.NoError(s.t, json.Unmarshal(resp.Data, &note))
	return w.Code, note.ID
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, resp := s.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestAuth_LoginAndMe(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "admin@acme.test", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthenticated", resp.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "admin@acme.test"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := s.login("admin@acme.test")
	w, resp = s.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var me struct {
		Principal struct {
			Role       string `json:"role"`
			TenantSlug string `json:"tenant_slug"`
		} `json:"principal"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, models.RoleAdmin, me.Principal.Role)
	assert.Equal(t, "acme", me.Principal.TenantSlug)

	w, _ = s.do(http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_CookieSession(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "user@acme.test", "password": password})
	require.Equal(t, http.StatusOK, w.Code)

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "session_token" {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)
	// Cookie 有效期与令牌有效期一致
	assert.Equal(t, 3600, session.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notes", nil)
	req.AddCookie(session)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotes_FreeQuotaAndUpgrade(t *testing.T) {
	s := newTestServer(t)
	member := s.login("user@acme.test")
	admin := s.login("admin@acme.test")

	for i := 0; i < 3; i++ {
		code, _ := createNote(s, member, fmt.Sprintf("note %d", i))
		require.Equal(t, http.StatusCreated, code)
	}

	w, resp := s.do(http.MethodPost, "/api/v1/notes", member, map[string]string{"title": "fourth", "content": "body"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "QuotaExceeded", resp.Code)

	// 管理员默认不能创建笔记
	code, _ := createNote(s, admin, "admin note")
	assert.Equal(t, http.StatusForbidden, code)

	w, _ = s.do(http.MethodPatch, "/api/v1/tenants/acme/plan", member, map[string]string{"plan": "Pro"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPatch, "/api/v1/tenants/acme/plan", admin, map[string]string{"plan": "Pro"})
	require.Equal(t, http.StatusOK, w.Code)

	code, _ = createNote(s, member, "fourth")
	assert.Equal(t, http.StatusCreated, code)

	// 笔记超过Free上限时不能降级
	w, resp = s.do(http.MethodPatch, "/api/v1/tenants/acme/plan", admin, map[string]string{"plan": "Free"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "QuotaExceeded", resp.Code)
}

func TestNotes_ProTenantUnlimited(t *testing.T) {
	s := newTestServer(t)
	member := s.login("user@globex.test")

	for i := 0; i < 5; i++ {
		code, _ := createNote(s, member, fmt.Sprintf("note %d", i))
		require.Equal(t, http.StatusCreated, code)
	}

	w, resp := s.do(http.MethodGet, "/api/v1/notes?page=1&page_size=2", member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var notes []map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &notes))
	assert.Len(t, notes, 2)

	w, resp = s.do(http.MethodGet, fmt.Sprintf("/api/v1/users/%d/notes-count", s.userID("user@globex.test")), member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var count struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &count))
	assert.Equal(t, 5, count.Count)
}

func TestNotes_TenantIsolation(t *testing.T) {
	s := newTestServer(t)
	globex := s.login("user@globex.test")
	acmeAdmin := s.login("admin@acme.test")
	acmeMember := s.login("user@acme.test")

	code, id := createNote(s, globex, "globex secret")
	require.Equal(t, http.StatusCreated, code)
	path := fmt.Sprintf("/api/v1/notes/%d", id)

	for _, token := range []string{acmeAdmin, acmeMember} {
		w, resp := s.do(http.MethodGet, path, token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NotFound", resp.Code)

		w, _ = s.do(http.MethodPut, path, token, map[string]string{"title": "x"})
		assert.Equal(t, http.StatusNotFound, w.Code)

		w, _ = s.do(http.MethodDelete, path, token, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	}

	w, resp := s.do(http.MethodGet, "/api/v1/notes", acmeMember, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var notes []map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &notes))
	assert.Empty(t, notes)

	// 管理员不能操作其他租户
	w, _ = s.do(http.MethodGet, "/api/v1/tenants/globex/users", acmeAdmin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodGet, path, globex, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNotes_AuthorOrAdmin(t *testing.T) {
	s := newTestServer(t)
	author := s.login("user@globex.test")
	admin := s.login("admin@globex.test")

	w, _ := s.do(http.MethodPost, "/api/v1/tenants/globex/invites", admin, map[string]string{"email": "peer@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	token := inviteToken(t, s, "peer@example.com")
	w, resp := s.do(http.MethodPost, "/api/v1/signup", "", map[string]string{"token": token, "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var signup struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &signup))
	peer := signup.Token

	code, id := createNote(s, author, "mine")
	require.Equal(t, http.StatusCreated, code)
	path := fmt.Sprintf("/api/v1/notes/%d", id)

	w, _ = s.do(http.MethodGet, path, peer, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(http.MethodPut, path, peer, map[string]string{"title": "stolen"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", resp.Code)

	w, _ = s.do(http.MethodPut, path, author, map[string]string{"title": "renamed"})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, path, author, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/notes/abc", author, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func inviteToken(t *testing.T, s *testServer, email string) string {
	t.Helper()
	var invite models.Invite
	require.NoError(t, s.db.Where("email = ? AND status = ?", email, models.InviteStatusPending).First(&invite).Error)
	return invite.Token
}

func TestInvites_Flow(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin@acme.test")
	member := s.login("user@acme.test")

	w, _ := s.do(http.MethodPost, "/api/v1/tenants/acme/invites", member, map[string]string{"email": "new@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := s.do(http.MethodPost, "/api/v1/tenants/acme/invites", admin, map[string]string{"email": "new@example.com"})
	require.Equal(t, http.StatusCreated, w.Code)
	var issued struct {
		Link   string                 `json:"link"`
		Invite map[string]interface{} `json:"invite"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &issued))
	_, leaked := issued.Invite["token"]
	assert.False(t, leaked)

	token := inviteToken(t, s, "new@example.com")
	assert.Equal(t, "https://notes.example.com/signup?token="+token, issued.Link)

	w, resp = s.do(http.MethodPost, "/api/v1/tenants/acme/invites", admin, map[string]string{"email": "new@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = s.do(http.MethodPost, "/api/v1/invites/validate", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, w.Code)
	var preview struct {
		Email      string `json:"email"`
		TenantSlug string `json:"tenant_slug"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &preview))
	assert.Equal(t, "new@example.com", preview.Email)
	assert.Equal(t, "acme", preview.TenantSlug)

	w, _ = s.do(http.MethodPost, "/api/v1/signup", "", map[string]string{"token": token, "password": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = s.do(http.MethodPost, "/api/v1/signup", "", map[string]string{"token": token, "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)
	var signup struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &signup))

	w, resp = s.do(http.MethodGet, "/api/v1/auth/me", signup.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(http.MethodPost, "/api/v1/signup", "", map[string]string{"token": token, "password": "secret1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidOrExpiredToken", resp.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/tenants/acme/invites?status=Accepted", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.deps.Mail.Wait()
	s.sender.mu.Lock()
	defer s.sender.mu.Unlock()
	require.Len(t, s.sender.targets, 1)
	assert.Equal(t, []string{"new@example.com"}, s.sender.targets[0])
}

func TestUsers_RoleManagement(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin@acme.test")
	adminID := s.userID("admin@acme.test")
	memberID := s.userID("user@acme.test")

	w, _ := s.do(http.MethodGet, "/api/v1/tenants/acme/users", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp := s.do(http.MethodPatch, fmt.Sprintf("/api/v1/tenants/acme/users/%d/role", adminID), admin, map[string]string{"role": "Member"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Forbidden", resp.Code)

	w, resp = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/tenants/acme/users/%d", adminID), admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "LastAdminProtected", resp.Reason)

	w, _ = s.do(http.MethodPatch, fmt.Sprintf("/api/v1/tenants/acme/users/%d/role", memberID), admin, map[string]string{"role": "Owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPatch, fmt.Sprintf("/api/v1/tenants/acme/users/%d/role", memberID), admin, map[string]string{"role": "Admin"})
	require.Equal(t, http.StatusOK, w.Code)

	// 角色变化立即生效
	promoted := s.login("user@acme.test")
	w, _ = s.do(http.MethodPatch, fmt.Sprintf("/api/v1/tenants/acme/users/%d/role", adminID), promoted, map[string]string{"role": "Member"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/tenants/acme/users", admin, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	globexMember := s.userID("user@globex.test")
	w, _ = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/tenants/acme/users/%d", globexMember), promoted, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUsers_AdminCreate(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin@acme.test")
	member := s.login("user@acme.test")

	body := map[string]string{"email": "hire@acme.test", "password": password, "role": "Member"}
	w, resp := s.do(http.MethodPost, "/api/v1/tenants/acme/users", admin, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.User
	require.NoError(t, json.Unmarshal(resp.Data, &created))
	assert.Equal(t, "hire@acme.test", created.Email)
	assert.NotContains(t, string(resp.Data), "$2a$")

	// 新用户属于管理员的租户，且可以直接登录
	var adminUser, hired models.User
	require.NoError(t, s.db.Where("email = ?", "admin@acme.test").First(&adminUser).Error)
	require.NoError(t, s.db.Where("email = ?", "hire@acme.test").First(&hired).Error)
	assert.Equal(t, adminUser.TenantID, hired.TenantID)
	s.login("hire@acme.test")

	w, resp = s.do(http.MethodPost, "/api/v1/tenants/acme/users", admin, body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Conflict", resp.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/tenants/acme/users", admin, map[string]string{"email": "x@acme.test", "role": "Member"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/tenants/acme/users", admin, map[string]string{"email": "x@acme.test", "password": "secret123", "role": "Owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/tenants/acme/users", member, map[string]string{"email": "y@acme.test", "password": "secret123", "role": "Member"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodPost, "/api/v1/tenants/globex/users", admin, map[string]string{"email": "z@acme.test", "password": "secret123", "role": "Member"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpgradeRequests_Flow(t *testing.T) {
	s := newTestServer(t)
	member := s.login("user@acme.test")
	admin := s.login("admin@acme.test")

	w, resp := s.do(http.MethodPost, "/api/v1/upgrade-requests", member, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var req struct {
		ID uint `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &req))

	w, _ = s.do(http.MethodPost, "/api/v1/upgrade-requests", member, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = s.do(http.MethodPatch, fmt.Sprintf("/api/v1/upgrade-requests/%d", req.ID), member, map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/tenants/acme/upgrade-requests", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPatch, fmt.Sprintf("/api/v1/upgrade-requests/%d", req.ID), admin, map[string]string{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code)

	var tenant models.Tenant
	require.NoError(t, s.db.Where("slug = ?", "acme").First(&tenant).Error)
	assert.Equal(t, models.PlanPro, tenant.Plan)
}

func TestNoRouteAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(http.MethodGet, "/api/v1/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "yardstick_http_requests_total")
}
