package repository

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/apk-analysis/protection-scan-go/internal/domain"
)

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "Failed to open test database")

	err = db.AutoMigrate(&domain.Task{}, &domain.TaskProtectionReport{})
	require.NoError(t, err, "Failed to migrate test database")

	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// TestTaskRepository_Create 测试创建任务
func TestTaskRepository_Create(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	task := &domain.Task{
		ID:      "test-task-001",
		APKName: "test.apk",
		Status:  domain.TaskStatusQueued,
	}

	err := repo.Create(ctx, task)
	assert.NoError(t, err, "Create should not return error")

	found, err := repo.FindByID(ctx, task.ID)
	assert.NoError(t, err)
	assert.Equal(t, task.ID, found.ID)
	assert.Equal(t, task.APKName, found.APKName)
	assert.Equal(t, domain.TaskStatusQueued, found.Status)
}

// TestTaskRepository_Create_Duplicate 测试创建重复任务
func TestTaskRepository_Create_Duplicate(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	task := &domain.Task{
		ID:      "test-task-002",
		APKName: "test.apk",
		Status:  domain.TaskStatusQueued,
	}

	err := repo.Create(ctx, task)
	assert.NoError(t, err)

	// 第二次创建 (应该失败)
	err = repo.Create(ctx, task)
	assert.Error(t, err, "Creating duplicate task should return error")
}

// TestTaskRepository_StatusLifecycle 状态流转与时间戳
func TestTaskRepository_StatusLifecycle(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	task := &domain.Task{
		ID:      "test-task-003",
		APKName: "test.apk",
		Status:  domain.TaskStatusQueued,
	}
	require.NoError(t, repo.Create(ctx, task))

	require.NoError(t, repo.UpdateStatus(ctx, task.ID, domain.TaskStatusDecompiling))
	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusDecompiling, found.Status)
	assert.NotNil(t, found.StartedAt)

	require.NoError(t, repo.UpdateProgress(ctx, task.ID, "扫描中", 40))
	found, err = repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "扫描中", found.CurrentStep)
	assert.Equal(t, 40, found.ProgressPercent)

	require.NoError(t, repo.MarkCompleted(ctx, task.ID))
	found, err = repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, found.Status)
	assert.NotNil(t, found.CompletedAt)
	assert.Equal(t, 100, found.ProgressPercent)
}

// TestTaskRepository_Failure 失败信息与重试
func TestTaskRepository_Failure(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	task := &domain.Task{
		ID:      "test-task-004",
		APKName: "broken.apk",
		Status:  domain.TaskStatusQueued,
	}
	require.NoError(t, repo.Create(ctx, task))

	require.NoError(t, repo.UpdateFailure(ctx, task.ID, domain.FailureTypeDecompileFailed, "apktool exited with 1"))
	found, err := repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, found.Status)
	assert.Equal(t, domain.FailureTypeDecompileFailed, found.FailureType)
	assert.True(t, found.FailureType.CanRetry())

	count, err := repo.IncrementRetryCount(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.ResetForRetry(ctx, task.ID))
	found, err = repo.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusQueued, found.Status)
	assert.Empty(t, found.ErrorMessage)
	assert.Nil(t, found.CompletedAt)
}

// TestTaskRepository_ShouldStop 停止标记
func TestTaskRepository_ShouldStop(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	task := &domain.Task{ID: "test-task-005", APKName: "test.apk", Status: domain.TaskStatusScanning}
	require.NoError(t, repo.Create(ctx, task))

	stop, err := repo.ShouldStop(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, stop)

	require.NoError(t, repo.MarkShouldStop(ctx, task.ID))
	stop, err = repo.ShouldStop(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stop)
}

// TestTaskRepository_ListAndFilter 分页、状态过滤与搜索
func TestTaskRepository_ListAndFilter(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	seeds := []*domain.Task{
		{ID: "t-1", APKName: "alpha.apk", Status: domain.TaskStatusQueued},
		{ID: "t-2", APKName: "beta.apk", Status: domain.TaskStatusCompleted},
		{ID: "t-3", APKName: "gamma.apk", Status: domain.TaskStatusQueued, AppName: "Gamma App"},
	}
	for _, s := range seeds {
		require.NoError(t, repo.Create(ctx, s))
		time.Sleep(time.Millisecond)
	}

	tasks, total, err := repo.ListWithStatusFilter(ctx, 1, 10, string(domain.TaskStatusQueued), "")
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, tasks, 2)

	tasks, total, err = repo.ListWithStatusFilter(ctx, 1, 10, "", "gamma")
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "t-3", tasks[0].ID)

	queued, err := repo.ListQueuedTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, queued, 2)
	// 排队任务按创建时间正序
	assert.Equal(t, "t-1", queued[0].ID)
}

// TestTaskRepository_HasRecentTaskForAPK 重复提交防护
func TestTaskRepository_HasRecentTaskForAPK(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.Task{ID: "t-r", APKName: "dup.apk", Status: domain.TaskStatusQueued}))

	recent, err := repo.HasRecentTaskForAPK(ctx, "dup.apk", 60)
	require.NoError(t, err)
	assert.True(t, recent)

	recent, err = repo.HasRecentTaskForAPK(ctx, "other.apk", 60)
	require.NoError(t, err)
	assert.False(t, recent)
}

// TestTaskRepository_StatusCounts 状态聚合统计
func TestTaskRepository_StatusCounts(t *testing.T) {
	repo := NewTaskRepository(setupTestDB(t), testLogger())
	ctx := context.Background()

	for i, status := range []domain.TaskStatus{
		domain.TaskStatusQueued, domain.TaskStatusQueued, domain.TaskStatusCompleted,
	} {
		require.NoError(t, repo.Create(ctx, &domain.Task{
			ID:      "t-c-" + string(rune('a'+i)),
			APKName: "x.apk",
			Status:  status,
		}))
	}

	counts, total, err := repo.GetStatusCounts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.EqualValues(t, 2, counts[string(domain.TaskStatusQueued)])
	assert.EqualValues(t, 1, counts[string(domain.TaskStatusCompleted)])
}

// TestReportRepository_Upsert 报告的插入与覆盖更新
func TestReportRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	taskRepo := NewTaskRepository(db, testLogger())
	reportRepo := NewReportRepository(db)
	ctx := context.Background()

	require.NoError(t, taskRepo.Create(ctx, &domain.Task{
		ID: "t-report", APKName: "app.apk", Status: domain.TaskStatusScanning,
	}))

	report := &domain.TaskProtectionReport{
		TaskID:       "t-report",
		Status:       domain.ReportStatusAnalyzing,
		PackageName:  "com.example.app",
		FindingCount: 3,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, reportRepo.Upsert(ctx, report))

	now := time.Now().UTC()
	report2 := &domain.TaskProtectionReport{
		TaskID:        "t-report",
		Status:        domain.ReportStatusCompleted,
		PackageName:   "com.example.app",
		FindingCount:  5,
		GroupCount:    2,
		MaxConfidence: 0.95,
		OverallTier:   "High",
		Frameworks:    "Flutter",
		AnalyzedAt:    &now,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, reportRepo.Upsert(ctx, report2))

	found, err := reportRepo.FindByTaskID(ctx, "t-report")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportStatusCompleted, found.Status)
	assert.Equal(t, 5, found.FindingCount)
	assert.Equal(t, "High", found.OverallTier)
	assert.Equal(t, "Flutter", found.Frameworks)

	// 任务查询可以预载报告
	task, err := taskRepo.FindByID(ctx, "t-report")
	require.NoError(t, err)
	require.NotNil(t, task.Report)
	assert.Equal(t, 5, task.Report.FindingCount)
}
