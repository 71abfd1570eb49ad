/*
 * @module service/scope/resolver
 * @description 作用域解析器：给定标的，按四级层级收集适用的分析师、内容源或学习条目，按特异性升序返回
 * @architecture 分层架构 - 业务服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 标的 -> 所属标的集/领域 -> runner/domain/universe/target 四级收集 -> 特异性排序
 * @rules 作用域层级与列填充的一致性在写入时强制，读取路径不再校验；越特异的条目排序越靠后以便消费方覆盖
 * @dependencies gorm.io/gorm, foresight-service/service/models
 * @refs service/ensemble/engine.go, service/crawler/crawler_service.go
 */

package scope

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// Resolver 四级作用域解析器
type Resolver struct {
	db *gorm.DB
}

// NewResolver 创建作用域解析器
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// ResolveAnalysts 按特异性升序排列的分析师
func (r *Resolver) ResolveAnalysts(ctx context.Context, targetID string) ([]models.Analyst, error) {
	target, err := r.loadTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	var rows []models.Analyst
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND status = ?", target.OrgID, "active").
		Scopes(applicableScopes(target)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("解析分析师失败: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Scope.Specificity() < rows[j].Scope.Specificity()
	})
	return rows, nil
}

// ResolveSources 按特异性升序排列的内容源
func (r *Resolver) ResolveSources(ctx context.Context, targetID string) ([]models.Source, error) {
	target, err := r.loadTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	var rows []models.Source
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND status = ?", target.OrgID, "active").
		Scopes(applicableScopes(target)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("解析内容源失败: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Scope.Specificity() < rows[j].Scope.Specificity()
	})
	return rows, nil
}

// ResolveLearnings 按特异性升序排列的激活学习条目
func (r *Resolver) ResolveLearnings(ctx context.Context, targetID string) ([]models.Learning, error) {
	target, err := r.loadTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	var rows []models.Learning
	if err := r.db.WithContext(ctx).
		Where("org_id = ? AND status = ?", target.OrgID, meta.LearningStatusActive).
		Scopes(applicableScopes(target)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("解析学习条目失败: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Scope.Specificity() < rows[j].Scope.Specificity()
	})
	return rows, nil
}

// Resolve 按资源类型解析，kind 取 analysts/sources/learnings
func (r *Resolver) Resolve(ctx context.Context, targetID, kind string) (interface{}, error) {
	switch kind {
	case meta.ResolveKindAnalysts:
		return r.ResolveAnalysts(ctx, targetID)
	case meta.ResolveKindSources:
		return r.ResolveSources(ctx, targetID)
	case meta.ResolveKindLearnings:
		return r.ResolveLearnings(ctx, targetID)
	}
	return nil, models.NewValidationError("kind", "无效的解析类型: "+kind)
}

// loadTarget 加载标的及其层级上下文
func (r *Resolver) loadTarget(ctx context.Context, targetID string) (*models.Target, error) {
	var target models.Target
	if err := r.db.WithContext(ctx).First(&target, "id = ?", targetID).Error; err != nil {
		return nil, fmt.Errorf("加载标的失败: %w", err)
	}
	return &target, nil
}

// applicableScopes 构造四级作用域匹配条件：
// runner 级无条件，domain 级匹配标的领域，universe 级匹配所属标的集，target 级精确匹配
func applicableScopes(target *models.Target) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(
			db.Session(&gorm.Session{NewDB: true}).
				Where("scope_level = ?", meta.ScopeLevelRunner).
				Or("scope_level = ? AND scope_domain = ?", meta.ScopeLevelDomain, target.Domain).
				Or("scope_level = ? AND scope_universe_id = ?", meta.ScopeLevelUniverse, target.UniverseID).
				Or("scope_level = ? AND scope_target_id = ?", meta.ScopeLevelTarget, target.ID),
		)
	}
}
