package database_test // Используем _test пакет для изоляции

import (
	"context"
	"testing"
	"time"

	"canvas-server/pkg/migration"
	"canvas-server/shared/database"
	"canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// RepositoryIntegrationSuite поднимает контейнер PostgreSQL и гоняет
// репозитории по настоящей схеме.
type RepositoryIntegrationSuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pgPool      *pgxpool.Pool
	jobRepo     interfaces.JobRepository
	docRepo     interfaces.DocumentRepository
	nodeRepo    interfaces.DocumentNodeRepository
	logger      *zap.Logger
}

// SetupSuite выполняется один раз перед всеми тестами в наборе
func (s *RepositoryIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error

	s.logger, err = zap.NewDevelopment()
	require.NoError(s.T(), err, "Failed to create logger for tests")

	// Запускаем контейнер PostgreSQL
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Minute),
		),
	)
	require.NoError(s.T(), err, "Failed to start postgres container")

	pgConnStr, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err, "Failed to get postgres connection string")

	s.pgPool, err = pgxpool.New(s.ctx, pgConnStr)
	require.NoError(s.T(), err, "Failed to connect to test postgres")

	// Применяем встроенные миграции
	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: database.MigrationsPath,
		MigrationsFS:   database.MigrationsFS,
	}, s.pgPool)
	require.NoError(s.T(), migrator.Up(s.ctx), "Failed to run migrations")

	s.jobRepo = database.NewPgJobRepository(s.logger)
	s.docRepo = database.NewPgDocumentRepository(s.logger)
	s.nodeRepo = database.NewPgDocumentNodeRepository(s.logger)
}

// TearDownSuite выполняется один раз после всех тестов в наборе
func (s *RepositoryIntegrationSuite) TearDownSuite() {
	if s.pgPool != nil {
		s.pgPool.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(s.ctx)
	}
}

func (s *RepositoryIntegrationSuite) newJob(ownerID uuid.UUID) *models.Job {
	return &models.Job{
		ID:                uuid.New(),
		ExternalRequestID: models.NewLocalRequestID(),
		OwnerID:           ownerID,
		Kind:              models.JobKindImage,
		Status:            models.JobStatusPending,
		Input:             []byte(`{"prompt":"a lighthouse at dusk"}`),
		CreatedAt:         time.Now().UTC(),
	}
}

func (s *RepositoryIntegrationSuite) TestCreateAndGetByID() {
	job := s.newJob(uuid.New())
	require.NoError(s.T(), s.jobRepo.Create(s.ctx, s.pgPool, job))

	got, err := s.jobRepo.GetByID(s.ctx, s.pgPool, job.ID)
	require.NoError(s.T(), err)
	s.Equal(job.ID, got.ID)
	s.Equal(models.JobStatusPending, got.Status)
	s.True(models.IsLocalRequestID(got.ExternalRequestID))
	s.JSONEq(`{"prompt":"a lighthouse at dusk"}`, string(got.Input))
}

func (s *RepositoryIntegrationSuite) TestBindExternalIDIsIdempotent() {
	job := s.newJob(uuid.New())
	require.NoError(s.T(), s.jobRepo.Create(s.ctx, s.pgPool, job))

	require.NoError(s.T(), s.jobRepo.BindExternalID(s.ctx, s.pgPool, job.ID, "prov-123"))
	require.NoError(s.T(), s.jobRepo.BindExternalID(s.ctx, s.pgPool, job.ID, "prov-123"))

	got, err := s.jobRepo.GetByExternalID(s.ctx, s.pgPool, "prov-123")
	require.NoError(s.T(), err)
	s.Equal(job.ID, got.ID)
}

func (s *RepositoryIntegrationSuite) TestGetByExternalIDUnknown() {
	_, err := s.jobRepo.GetByExternalID(s.ctx, s.pgPool, "prov-missing")
	s.ErrorIs(err, models.ErrJobNotFound)
}

func (s *RepositoryIntegrationSuite) TestFinalizeIsOneShot() {
	job := s.newJob(uuid.New())
	require.NoError(s.T(), s.jobRepo.Create(s.ctx, s.pgPool, job))

	completedAt := time.Now().UTC()
	result := &models.JobResult{URL: "https://cdn.local/img.png", Type: "image/png"}

	rows, err := s.jobRepo.Finalize(s.ctx, s.pgPool, job.ID, models.JobStatusCompleted, result, nil, completedAt)
	require.NoError(s.T(), err)
	s.EqualValues(1, rows)

	// Повторный терминальный переход ничего не меняет.
	errMsg := "late failure"
	rows, err = s.jobRepo.Finalize(s.ctx, s.pgPool, job.ID, models.JobStatusFailed, nil, &errMsg, time.Now().UTC())
	require.NoError(s.T(), err)
	s.EqualValues(0, rows)

	got, err := s.jobRepo.GetByID(s.ctx, s.pgPool, job.ID)
	require.NoError(s.T(), err)
	s.Equal(models.JobStatusCompleted, got.Status)
	require.NotNil(s.T(), got.Result)
	s.Equal("https://cdn.local/img.png", got.Result.URL)
	s.Nil(got.Error)
}

func (s *RepositoryIntegrationSuite) TestListByOwnerKeysetPagination() {
	ownerID := uuid.New()
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 5; i++ {
		job := s.newJob(ownerID)
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(s.T(), s.jobRepo.Create(s.ctx, s.pgPool, job))
	}

	page1, err := s.jobRepo.ListByOwner(s.ctx, s.pgPool, ownerID, time.Time{}, uuid.Nil, 3)
	require.NoError(s.T(), err)
	require.Len(s.T(), page1, 3)
	s.True(page1[0].CreatedAt.After(page1[2].CreatedAt), "newest first")

	last := page1[len(page1)-1]
	page2, err := s.jobRepo.ListByOwner(s.ctx, s.pgPool, ownerID, last.CreatedAt, last.ID, 3)
	require.NoError(s.T(), err)
	require.Len(s.T(), page2, 2)

	// Страницы не пересекаются.
	seen := map[uuid.UUID]bool{}
	for _, j := range append(page1, page2...) {
		s.False(seen[j.ID], "job %s returned twice", j.ID)
		seen[j.ID] = true
	}
}

func (s *RepositoryIntegrationSuite) TestNodeUpsertIsLastWriteWins() {
	doc := &models.Document{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Title:     "test canvas",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(s.T(), s.docRepo.Create(s.ctx, s.pgPool, doc))

	now := time.Now().UTC().Truncate(time.Microsecond)
	newer := &models.DocumentNode{
		DocumentID: doc.ID,
		NodeID:     "n1",
		State:      models.ReadyNodeState("https://cdn.local/new.png", "image/png", now),
		UpdatedAt:  now,
	}
	require.NoError(s.T(), s.nodeRepo.Upsert(s.ctx, s.pgPool, newer))

	// Более старое обновление отклоняется, строка не меняется.
	older := &models.DocumentNode{
		DocumentID: doc.ID,
		NodeID:     "n1",
		State:      models.ReadyNodeState("https://cdn.local/old.png", "image/png", now.Add(-time.Minute)),
		UpdatedAt:  now.Add(-time.Minute),
	}
	err := s.nodeRepo.Upsert(s.ctx, s.pgPool, older)
	s.ErrorIs(err, models.ErrStaleNodeUpdate)

	got, err := s.nodeRepo.Get(s.ctx, s.pgPool, doc.ID, "n1")
	require.NoError(s.T(), err)
	s.Equal("https://cdn.local/new.png", got.State.URL)
}

func (s *RepositoryIntegrationSuite) TestNodeDeleteLeavesTombstone() {
	doc := &models.Document{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(s.T(), s.docRepo.Create(s.ctx, s.pgPool, doc))

	now := time.Now().UTC().Truncate(time.Microsecond)
	node := &models.DocumentNode{
		DocumentID: doc.ID,
		NodeID:     "n1",
		State:      models.ReadyNodeState("https://cdn.local/img.png", "image/png", now),
		UpdatedAt:  now,
	}
	require.NoError(s.T(), s.nodeRepo.Upsert(s.ctx, s.pgPool, node))
	require.NoError(s.T(), s.nodeRepo.Delete(s.ctx, s.pgPool, doc.ID, "n1"))

	_, err := s.nodeRepo.Get(s.ctx, s.pgPool, doc.ID, "n1")
	s.ErrorIs(err, models.ErrNodeNotFound)

	// Запоздавший результат генерации не воскрешает удаленный узел,
	// даже с более свежей меткой времени.
	late := &models.DocumentNode{
		DocumentID: doc.ID,
		NodeID:     "n1",
		State:      models.ReadyNodeState("https://cdn.local/late.png", "image/png", now.Add(time.Minute)),
		UpdatedAt:  now.Add(time.Minute),
	}
	err = s.nodeRepo.Upsert(s.ctx, s.pgPool, late)
	s.ErrorIs(err, models.ErrNodeNotFound)

	_, err = s.nodeRepo.Get(s.ctx, s.pgPool, doc.ID, "n1")
	s.ErrorIs(err, models.ErrNodeNotFound)

	nodes, err := s.nodeRepo.ListByDocument(s.ctx, s.pgPool, doc.ID)
	require.NoError(s.T(), err)
	s.Empty(nodes)
}

func (s *RepositoryIntegrationSuite) TestNodeDeleteBeforeFirstStateBlocksLateWrite() {
	doc := &models.Document{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(s.T(), s.docRepo.Create(s.ctx, s.pgPool, doc))

	// Узел удален с канваса до первой записи состояния: tombstone
	// создается на пустом месте и блокирует будущий upsert.
	require.NoError(s.T(), s.nodeRepo.Delete(s.ctx, s.pgPool, doc.ID, "n1"))

	now := time.Now().UTC().Truncate(time.Microsecond)
	late := &models.DocumentNode{
		DocumentID: doc.ID,
		NodeID:     "n1",
		State:      models.ReadyNodeState("https://cdn.local/late.png", "image/png", now),
		UpdatedAt:  now,
	}
	err := s.nodeRepo.Upsert(s.ctx, s.pgPool, late)
	s.ErrorIs(err, models.ErrNodeNotFound)
}

func (s *RepositoryIntegrationSuite) TestNodeRowsCascadeWithDocument() {
	doc := &models.Document{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(s.T(), s.docRepo.Create(s.ctx, s.pgPool, doc))

	now := time.Now().UTC()
	node := &models.DocumentNode{
		DocumentID: doc.ID,
		NodeID:     "n1",
		State:      models.ReadyNodeState("https://cdn.local/img.png", "image/png", now),
		UpdatedAt:  now,
	}
	require.NoError(s.T(), s.nodeRepo.Upsert(s.ctx, s.pgPool, node))

	_, err := s.pgPool.Exec(s.ctx, "DELETE FROM documents WHERE id = $1", doc.ID)
	require.NoError(s.T(), err)

	_, err = s.nodeRepo.Get(s.ctx, s.pgPool, doc.ID, "n1")
	s.ErrorIs(err, models.ErrNodeNotFound)
}

// TestRepositoryIntegration запускает набор интеграционных тестов
func TestRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(RepositoryIntegrationSuite))
}
