package service

import (
	"testing"
	"time"

	"machinehub/internal/database"
	"machinehub/internal/model"
	"machinehub/internal/repository"
	"machinehub/internal/websocket"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory SQLite database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// testEnv bundles the repositories and engines under test against one DB.
type testEnv struct {
	db          *gorm.DB
	machineRepo repository.MachineRepository
	codeRepo    repository.CodeRepository
	requestRepo repository.RequestRepository
	opRepo      repository.OperationRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	hub         *websocket.Hub

	codes    *codeService
	requests *requestService
	machines *machineService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	env := &testEnv{
		db:          db,
		machineRepo: repository.NewMachineRepository(db),
		codeRepo:    repository.NewCodeRepository(db),
		requestRepo: repository.NewRequestRepository(db),
		opRepo:      repository.NewOperationRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
		txManager:   repository.NewTransactionManager(db),
		hub:         websocket.NewHub(),
	}

	env.codes = NewCodeService(
		env.machineRepo, env.codeRepo, env.requestRepo, env.opRepo,
		env.auditRepo, env.txManager, env.hub, 30*time.Second,
	).(*codeService)
	env.requests = NewRequestService(
		env.machineRepo, env.requestRepo, env.codeRepo, env.opRepo,
		env.auditRepo, env.txManager, env.hub,
	).(*requestService)
	env.machines = NewMachineService(
		env.machineRepo, env.codeRepo, env.requestRepo,
		env.auditRepo, env.txManager, env.hub,
	).(*machineService)

	return env
}

func (e *testEnv) createUser(t *testing.T, username, role string) *model.User {
	t.Helper()
	user := &model.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "hashed",
		Role:     role,
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) createMachine(t *testing.T, name string, mutate ...func(*model.Machine)) *model.Machine {
	t.Helper()
	machine := &model.Machine{
		Name:        name,
		ModelLabel:  "T-800",
		Category:    "Terminals",
		MachineType: model.MachineTypeProduction,
		Status:      model.MachineAvailable,
	}
	for _, fn := range mutate {
		fn(machine)
	}
	require.NoError(t, e.db.Create(machine).Error)
	return machine
}

func (e *testEnv) reloadMachine(t *testing.T, id uuid.UUID) *model.Machine {
	t.Helper()
	var machine model.Machine
	require.NoError(t, e.db.First(&machine, "id = ?", id).Error)
	return &machine
}

func (e *testEnv) countOperations(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Operation{}).Count(&n).Error)
	return n
}

func (e *testEnv) countAudits(t *testing.T, action string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.AuditLog{}).Where("action = ?", action).Count(&n).Error)
	return n
}

func staffActor(u *model.User) model.Actor {
	return model.Actor{ID: u.ID}
}

func adminActor(u *model.User) model.Actor {
	return model.Actor{ID: u.ID, IsAdmin: true}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
