package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
	"yardstick/internal/database"
	"yardstick/internal/models"
	"yardstick/pkg/config"
	"yardstick/pkg/jwt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testPassword = "password123"

// 测试中使用最低成本的哈希，避免拖慢测试
var (
	testHash     string
	testHashOnce sync.Once
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

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
	return db
}

func createTenant(t *testing.T, db *gorm.DB, name, slug, plan string) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		Name:     name,
		Slug:     slug,
		Plan:     plan,
		MaxNotes: NewQuotaPolicy(0).MaxNotesFor(plan),
	}
	require.NoError(t, db.Create(tenant).Error)
	return tenant
}

func createUser(t *testing.T, db *gorm.DB, tenant *models.Tenant, email, role string) *models.User {
	t.Helper()
	testHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		testHash = string(h)
	})
	user := &models.User{
		Email:        email,
		PasswordHash: testHash,
		Role:         role,
		TenantID:     tenant.ID,
	}
	require.NoError(t, db.Create(user).Error)
	user.Tenant = tenant
	return user
}

func createNotes(t *testing.T, db *gorm.DB, author *models.User, n int) {
	t.Helper()
	notes := make([]models.Note, 0, n)
	for i := 0; i < n; i++ {
		notes = append(notes, models.Note{
			Title:    fmt.Sprintf("note %d", i),
			Content:  "content",
			TenantID: author.TenantID,
			AuthorID: author.ID,
		})
	}
	require.NoError(t, db.CreateInBatches(notes, 200).Error)
}

func countNotes(t *testing.T, db *gorm.DB, tenantID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Note{}).Where("tenant_id = ?", tenantID).Count(&count).Error)
	return count
}

// fixture 两个租户：Acme(Free) 与 Globex(Pro)，各有一个管理员和一个成员
type fixture struct {
	db           *gorm.DB
	acme         *models.Tenant
	globex       *models.Tenant
	acmeAdmin    *models.User
	acmeMember   *models.User
	globexAdmin  *models.User
	globexMember *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{db: db}
	f.acme = createTenant(t, db, "Acme", "acme", models.PlanFree)
	f.globex = createTenant(t, db, "Globex", "globex", models.PlanPro)
	f.acmeAdmin = createUser(t, db, f.acme, "admin@acme.test", models.RoleAdmin)
	f.acmeMember = createUser(t, db, f.acme, "user@acme.test", models.RoleMember)
	f.globexAdmin = createUser(t, db, f.globex, "admin@globex.test", models.RoleAdmin)
	f.globexMember = createUser(t, db, f.globex, "user@globex.test", models.RoleMember)
	return f
}

func principalOf(user *models.User) *Principal {
	return PrincipalFromUser(user, user.Tenant)
}

func newTestSigner() *TokenVerifier {
	return NewTokenVerifier(jwt.NewJWTManager("test-secret", time.Hour))
}

func testInviteConfig() config.InviteConfig {
	return config.InviteConfig{
		TTL:     7 * 24 * time.Hour,
		BaseURL: "https://notes.example.com",
	}
}

// recordingSender 记录发送的邮件
type recordingSender struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

func (s *recordingSender) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("smtp unavailable")
	}
	s.sent = append(s.sent, sentMail{to: to, subject: subject, body: htmlBody})
	return nil
}

func (s *recordingSender) messages() []sentMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMail, len(s.sent))
	copy(out, s.sent)
	return out
}
