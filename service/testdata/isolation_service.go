/*
 * @module service/testdata/isolation_service
 * @description 测试隔离织物：真实标的注册时同步派生 T_ 前缀镜像标的（幂等），
 *              按场景ID逐表清理测试数据并报告计数，支持口令门控的全量测试数据清除
 * @architecture 分层架构 - 领域服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 真实标的创建 -> EnsureMirror（同一操作内）-> 测试管线写入 is_test_data 标记 ->
 *            场景清理逐表删除并计数
 * @rules 每个真实标的恰好一个镜像，重复注册不产生第二个；清理绝不触碰 is_test_data=false 的行；
 *        清理逐表独立事务，对并发生产写入无感；全量清除需通过bcrypt口令校验且仅限非生产环境
 * @dependencies gorm.io/gorm, golang.org/x/crypto/bcrypt
 * @refs service/models/universe.go, api/controllers/testdata_controller.go
 */

package testdata

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// IsolationService 测试隔离服务
type IsolationService struct {
	db *gorm.DB
}

// NewIsolationService 创建测试隔离服务
func NewIsolationService(db *gorm.DB) *IsolationService {
	return &IsolationService{db: db}
}

// RegisterTarget 在单一事务内创建真实标的及其测试镜像。
// 镜像无法建立时整体回滚，不留下没有镜像的真实标的。
func (s *IsolationService) RegisterTarget(ctx context.Context, real *models.Target) error {
	if real.IsTest {
		return models.NewValidationError("target_id", "镜像标的不能作为真实标的注册")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(real).Error; err != nil {
			return fmt.Errorf("创建标的失败: %w", err)
		}
		if _, err := s.ensureMirrorIn(tx, real); err != nil {
			return err
		}
		return nil
	})
}

// EnsureMirror 为真实标的派生镜像标的，幂等：已有镜像时直接返回。
// 必须在标的注册的同一操作内同步调用。
func (s *IsolationService) EnsureMirror(ctx context.Context, real *models.Target) (*models.Target, error) {
	if real.IsTest {
		return nil, models.NewValidationError("target_id", "镜像标的不能再派生镜像")
	}

	var mirror *models.Target
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.ensureMirrorIn(tx, real)
		if err != nil {
			return err
		}
		mirror = m
		return nil
	})
	if err != nil {
		// 并发注册撞唯一索引：以既有镜像为准
		var concurrent models.TestTargetMirror
		if lookupErr := s.db.WithContext(ctx).
			First(&concurrent, "real_target_id = ?", real.ID).Error; lookupErr == nil {
			var existing models.Target
			if err := s.db.WithContext(ctx).
				First(&existing, "id = ?", concurrent.MirrorTargetID).Error; err != nil {
				return nil, fmt.Errorf("查询镜像标的失败: %w", err)
			}
			return &existing, nil
		}
		return nil, err
	}
	return mirror, nil
}

// ensureMirrorIn 在给定事务内保证镜像标的与映射存在，幂等复用既有镜像
func (s *IsolationService) ensureMirrorIn(tx *gorm.DB, real *models.Target) (*models.Target, error) {
	var mapping models.TestTargetMirror
	err := tx.First(&mapping, "real_target_id = ?", real.ID).Error
	if err == nil {
		var mirror models.Target
		if err := tx.First(&mirror, "id = ?", mapping.MirrorTargetID).Error; err != nil {
			return nil, fmt.Errorf("查询镜像标的失败: %w", err)
		}
		return &mirror, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("查询镜像映射失败: %w", err)
	}

	mirror := &models.Target{
		UniverseID: real.UniverseID,
		OrgID:      real.OrgID,
		Symbol:     meta.TestMirrorSymbolPrefix + real.Symbol,
		Name:       real.Name + " (测试镜像)",
		Domain:     real.Domain,
		Status:     "active",
		IsTest:     true,
		CreatedBy:  real.CreatedBy,
	}
	if err := tx.Create(mirror).Error; err != nil {
		return nil, fmt.Errorf("创建镜像标的失败: %w", err)
	}
	mapping = models.TestTargetMirror{
		RealTargetID:   real.ID,
		MirrorTargetID: mirror.ID,
	}
	if err := tx.Create(&mapping).Error; err != nil {
		return nil, fmt.Errorf("创建镜像映射失败: %w", err)
	}

	slog.Info("测试镜像标的已创建",
		"real_target_id", real.ID,
		"mirror_target_id", mirror.ID,
		"mirror_symbol", mirror.Symbol)
	return mirror, nil
}

// MirrorOf 查询真实标的对应的镜像标的
func (s *IsolationService) MirrorOf(ctx context.Context, realTargetID string) (*models.Target, error) {
	var mapping models.TestTargetMirror
	err := s.db.WithContext(ctx).First(&mapping, "real_target_id = ?", realTargetID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询镜像映射失败: %w", err)
	}
	var mirror models.Target
	if err := s.db.WithContext(ctx).First(&mirror, "id = ?", mapping.MirrorTargetID).Error; err != nil {
		return nil, fmt.Errorf("查询镜像标的失败: %w", err)
	}
	return &mirror, nil
}

// taggedTables 携带 is_test_data / test_scenario_id 标记的全部数据表，按依赖逆序排列
func taggedTables() []interface{} {
	return []interface{}{
		&models.Evaluation{},
		&models.Snapshot{},
		&models.Prediction{},
		&models.EnsembleAttempt{},
		&models.Predictor{},
		&models.Signal{},
		&models.MissedOpportunity{},
		&models.ToolRequest{},
		&models.LearningQueueEntry{},
		&models.Learning{},
	}
}

// CleanupScenario 按场景ID逐表删除测试数据，返回每表删除行数。
// 幂等：已清理场景的第二次调用所有表计数为零。
// 每表独立事务，且只删除 is_test_data=true 的行。
func (s *IsolationService) CleanupScenario(ctx context.Context, scenarioID string) (map[string]int64, error) {
	if scenarioID == "" {
		return nil, models.NewValidationError("scenario_id", "场景ID不能为空")
	}

	counts := make(map[string]int64)
	for _, model := range taggedTables() {
		stmt := &gorm.Statement{DB: s.db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("解析表结构失败: %w", err)
		}
		table := stmt.Schema.Table

		// 逐表独立事务，避免长事务挡住并发的生产写入
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Where("test_scenario_id = ? AND is_test_data = ?", scenarioID, true).
				Delete(model)
			if res.Error != nil {
				return res.Error
			}
			counts[table] = res.RowsAffected
			return nil
		})
		if err != nil {
			return counts, fmt.Errorf("清理表 %s 失败: %w", table, err)
		}
	}

	slog.Info("测试场景清理完成", "scenario_id", scenarioID, "tables", len(counts))
	return counts, nil
}

// PurgeAllTestData 全量清除测试数据（跨组织，仅限非生产环境）。
// 调用方必须提供与 TEST_PURGE_TOKEN_HASH 匹配的明文口令。
func (s *IsolationService) PurgeAllTestData(ctx context.Context, token string) (map[string]int64, error) {
	hash := os.Getenv("TEST_PURGE_TOKEN_HASH")
	if hash == "" {
		return nil, models.NewValidationError("token", "未配置 TEST_PURGE_TOKEN_HASH，全量清除不可用")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
		return nil, models.NewValidationError("token", "全量清除口令校验失败")
	}

	counts := make(map[string]int64)
	for _, model := range taggedTables() {
		stmt := &gorm.Statement{DB: s.db}
		if err := stmt.Parse(model); err != nil {
			return nil, fmt.Errorf("解析表结构失败: %w", err)
		}
		table := stmt.Schema.Table

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Where("is_test_data = ?", true).Delete(model)
			if res.Error != nil {
				return res.Error
			}
			counts[table] = res.RowsAffected
			return nil
		})
		if err != nil {
			return counts, fmt.Errorf("清除表 %s 失败: %w", table, err)
		}
	}

	slog.Warn("全量测试数据已清除", "tables", len(counts))
	return counts, nil
}
