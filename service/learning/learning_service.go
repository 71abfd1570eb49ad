/*
 * @module service/learning/learning_service
 * @description 学习闭环服务：将评估与错失机会转化为待审学习队列条目，人审是生产Learning的唯一创建路径，
 *              支持继任（supersede）与停用，所有动作写入只追加的审计日志
 * @architecture 分层架构 - 领域服务层
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow suggest -> LearningQueueEntry(pending) -> review -> {approved|rejected|modified}；
 *            approved/modified 原子创建Learning并回填 learning_id
 * @rules 建议路径绝不直接写生产Learning；审批通过条件更新保证并发审核只有一次生效；
 *        继任必须先建立双向链接再翻转旧条目状态
 * @dependencies gorm.io/gorm, log/slog
 * @refs service/lifecycle/evaluation_service.go, api/controllers/learning_controller.go
 */

package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"foresight-service/service/meta"
	"foresight-service/service/models"
)

// defaultSuggestionConfidence 建议未携带置信度时的缺省值
const defaultSuggestionConfidence = 0.6

// LearningService 学习闭环服务
type LearningService struct {
	db *gorm.DB
}

// NewLearningService 创建学习服务
func NewLearningService(db *gorm.DB) *LearningService {
	return &LearningService{db: db}
}

// SuggestFromEvaluation 将评估产出的建议写入学习队列，绝不直接创建生产Learning
func (s *LearningService) SuggestFromEvaluation(ctx context.Context, evaluation *models.Evaluation) error {
	if len(evaluation.SuggestedLearnings) == 0 {
		return nil
	}
	scope, err := s.targetScope(ctx, evaluation.TargetID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, "evaluation", evaluation.ID, evaluation.OrgID, scope,
		evaluation.SuggestedLearnings, evaluation.IsTestData, evaluation.TestScenarioID)
}

// SuggestFromMissedOpportunity 将错失机会分析产出的建议写入学习队列
func (s *LearningService) SuggestFromMissedOpportunity(ctx context.Context, opp *models.MissedOpportunity) error {
	if len(opp.SuggestedLearnings) == 0 {
		return nil
	}
	scope, err := s.targetScope(ctx, opp.TargetID)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, "missed_opportunity", opp.ID, opp.OrgID, scope,
		opp.SuggestedLearnings, opp.IsTestData, opp.TestScenarioID)
}

// targetScope 将目标标的折算为学习建议的缺省作用域
func (s *LearningService) targetScope(ctx context.Context, targetID string) (models.Scope, error) {
	var target models.Target
	if err := s.db.WithContext(ctx).First(&target, "id = ?", targetID).Error; err != nil {
		return models.Scope{}, fmt.Errorf("查询标的失败: %w", err)
	}
	return models.TargetScope(target.UniverseID, target.ID), nil
}

// enqueue 批量写入学习队列条目
func (s *LearningService) enqueue(ctx context.Context, sourceType, sourceID, orgID string,
	scope models.Scope, suggestions models.JSONBArray, isTest bool, scenarioID *string) error {
	for _, suggestion := range suggestions {
		kind, _ := suggestion["kind"].(string)
		if !meta.IsValidLearningKind(kind) {
			slog.Warn("跳过无效的学习建议", "source_type", sourceType, "kind", kind)
			continue
		}
		reason, _ := suggestion["reason"].(string)
		confidence := defaultSuggestionConfidence
		if c, ok := suggestion["confidence"].(float64); ok && c >= 0 && c <= 1 {
			confidence = c
		}

		entry := &models.LearningQueueEntry{
			OrgID:           orgID,
			SourceType:      sourceType,
			SourceID:        sourceID,
			ProposedKind:    kind,
			ProposedContent: reason,
			ProposedScope:   scope,
			AIConfidence:    confidence,
			Reasoning:       reason,
			Status:          meta.QueueStatusPending,
			IsTestData:      isTest,
			TestScenarioID:  scenarioID,
		}
		if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
			return fmt.Errorf("学习队列条目落库失败: %w", err)
		}
	}
	slog.Info("学习建议已入队",
		"source_type", sourceType, "source_id", sourceID, "count", len(suggestions))
	return nil
}

// ListQueue 按状态列出学习队列条目
func (s *LearningService) ListQueue(ctx context.Context, orgID, status string) ([]models.LearningQueueEntry, error) {
	query := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var entries []models.LearningQueueEntry
	if err := query.Order("created_at DESC").Limit(200).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("查询学习队列失败: %w", err)
	}
	return entries, nil
}

// ReviewRequest 人审处置请求
type ReviewRequest struct {
	Decision        string        `json:"decision"` // approve, reject, modify
	Reviewer        string        `json:"reviewer"`
	Note            string        `json:"note,omitempty"`
	ModifiedContent string        `json:"modified_content,omitempty"` // modify 时的人工终稿
	ModifiedScope   *models.Scope `json:"modified_scope,omitempty"`   // modify 时的人工终稿作用域
}

// Review 人审处置：pending 到终态的唯一写路径。
// approve/modify 在同一事务内原子创建Learning并回填 learning_id；
// 并发审核通过条件更新裁决，只有一次生效。
func (s *LearningService) Review(ctx context.Context, entryID string, req ReviewRequest) (*models.LearningQueueEntry, error) {
	if !meta.IsValidReviewDecision(req.Decision) {
		return nil, models.NewValidationError("decision", "无效的审核决定: "+req.Decision)
	}
	if req.Reviewer == "" {
		return nil, models.NewValidationError("reviewer", "审核人不能为空")
	}

	var entry models.LearningQueueEntry
	err := s.db.WithContext(ctx).First(&entry, "id = ?", entryID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询队列条目失败: %w", err)
	}
	if !entry.IsPending() {
		return nil, models.NewStateError("LearningQueueEntry", entry.Status, "",
			"只有 pending 条目可以审核")
	}

	now := time.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"reviewed_by": req.Reviewer,
			"reviewed_at": now,
			"review_note": req.Note,
		}

		switch req.Decision {
		case meta.ReviewDecisionReject:
			entry.Status = meta.QueueStatusRejected
			updates["status"] = meta.QueueStatusRejected

		case meta.ReviewDecisionApprove:
			learning, err := s.createLearning(tx, &entry, entry.ProposedContent, entry.ProposedScope, req.Reviewer)
			if err != nil {
				return err
			}
			entry.Status = meta.QueueStatusApproved
			entry.LearningID = &learning.ID
			updates["status"] = meta.QueueStatusApproved
			updates["learning_id"] = learning.ID

		case meta.ReviewDecisionModify:
			content := req.ModifiedContent
			if content == "" {
				content = entry.ProposedContent
			}
			scope := entry.ProposedScope
			if req.ModifiedScope != nil {
				if err := req.ModifiedScope.Validate(); err != nil {
					return err
				}
				scope = *req.ModifiedScope
			}
			learning, err := s.createLearning(tx, &entry, content, scope, req.Reviewer)
			if err != nil {
				return err
			}
			entry.Status = meta.QueueStatusModified
			entry.LearningID = &learning.ID
			entry.ModifiedContent = content
			updates["status"] = meta.QueueStatusModified
			updates["learning_id"] = learning.ID
			updates["modified_content"] = content
			updates["modified_scope"] = models.JSONB{
				"level":       scope.Level,
				"domain":      scope.Domain,
				"universe_id": scope.UniverseID,
				"target_id":   scope.TargetID,
			}
		}

		res := tx.Model(&entry).
			Where("status = ?", meta.QueueStatusPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("更新队列条目失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.NewStateError("LearningQueueEntry", "", entry.Status,
				"并发审核冲突：条目已被处置")
		}

		return s.audit(tx, entry.OrgID, req.Reviewer, "learning_queue.review."+req.Decision,
			"LearningQueueEntry", entry.ID, models.JSONB{
				"decision":    req.Decision,
				"learning_id": entry.LearningID,
				"note":        req.Note,
			})
	})
	if err != nil {
		return nil, err
	}

	entry.ReviewedBy = req.Reviewer
	entry.ReviewedAt = &now
	entry.ReviewNote = req.Note

	slog.Info("学习队列条目已处置",
		"entry_id", entry.ID, "decision", req.Decision, "reviewer", req.Reviewer)
	return &entry, nil
}

// createLearning 由队列条目派生生产Learning（仅在审核事务内调用）
func (s *LearningService) createLearning(tx *gorm.DB, entry *models.LearningQueueEntry,
	content string, scope models.Scope, reviewer string) (*models.Learning, error) {
	learning := &models.Learning{
		OrgID:          entry.OrgID,
		Kind:           entry.ProposedKind,
		Content:        content,
		Scope:          scope,
		Version:        1,
		Status:         meta.LearningStatusActive,
		IsTestData:     entry.IsTestData,
		TestScenarioID: entry.TestScenarioID,
		CreatedBy:      reviewer,
	}
	if err := tx.Create(learning).Error; err != nil {
		return nil, fmt.Errorf("创建Learning失败: %w", err)
	}
	return learning, nil
}

// ListLearnings 按状态列出学习条目
func (s *LearningService) ListLearnings(ctx context.Context, orgID, status string) ([]models.Learning, error) {
	query := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var learnings []models.Learning
	if err := query.Order("created_at DESC").Limit(200).Find(&learnings).Error; err != nil {
		return nil, fmt.Errorf("查询学习条目失败: %w", err)
	}
	return learnings, nil
}

// Supersede 用新版本继任既有Learning：先建立双向链接，再翻转旧条目状态。
// 两步都在同一事务内，任何一步失败则整体回滚。
func (s *LearningService) Supersede(ctx context.Context, learningID, newContent, actor string) (*models.Learning, error) {
	if newContent == "" {
		return nil, models.NewValidationError("content", "继任内容不能为空")
	}

	var old models.Learning
	err := s.db.WithContext(ctx).First(&old, "id = ?", learningID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询学习条目失败: %w", err)
	}
	if !old.IsActive() {
		return nil, models.NewStateError("Learning", old.Status, meta.LearningStatusSuperseded,
			"只有 active 条目可以被继任")
	}

	successor := &models.Learning{
		OrgID:          old.OrgID,
		Kind:           old.Kind,
		Content:        newContent,
		Scope:          old.Scope,
		Version:        old.Version + 1,
		Adjustment:     old.Adjustment,
		Status:         meta.LearningStatusActive,
		IsTestData:     old.IsTestData,
		TestScenarioID: old.TestScenarioID,
		CreatedBy:      actor,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(successor).Error; err != nil {
			return fmt.Errorf("创建继任Learning失败: %w", err)
		}

		// 第一步：旧条目指向继任者（状态尚未翻转）
		res := tx.Model(&models.Learning{}).
			Where("id = ? AND status = ?", old.ID, meta.LearningStatusActive).
			UpdateColumn("superseded_by", successor.ID)
		if res.Error != nil {
			return fmt.Errorf("建立继任链接失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.NewStateError("Learning", "", meta.LearningStatusSuperseded,
				"并发继任冲突：条目状态已变更")
		}

		// 第二步：链接就位后才翻转状态
		old.Status = meta.LearningStatusSuperseded
		old.SupersededBy = &successor.ID
		res = tx.Model(&old).
			Where("superseded_by = ?", successor.ID).
			UpdateColumn("status", meta.LearningStatusSuperseded)
		if res.Error != nil {
			return fmt.Errorf("翻转继任状态失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.NewStateError("Learning", "", meta.LearningStatusSuperseded,
				"继任链接未就位，拒绝翻转状态")
		}

		return s.audit(tx, old.OrgID, actor, "learning.supersede", "Learning", old.ID,
			models.JSONB{"successor_id": successor.ID, "version": successor.Version})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("学习条目已继任",
		"learning_id", old.ID, "successor_id", successor.ID, "version", successor.Version)
	return successor, nil
}

// Disable 停用学习条目
func (s *LearningService) Disable(ctx context.Context, learningID, actor string) error {
	var learning models.Learning
	err := s.db.WithContext(ctx).First(&learning, "id = ?", learningID).Error
	if err == gorm.ErrRecordNotFound {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("查询学习条目失败: %w", err)
	}
	if !learning.IsActive() {
		return models.NewStateError("Learning", learning.Status, meta.LearningStatusDisabled,
			"只有 active 条目可以停用")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Learning{}).
			Where("id = ? AND status = ?", learningID, meta.LearningStatusActive).
			UpdateColumn("status", meta.LearningStatusDisabled)
		if res.Error != nil {
			return fmt.Errorf("停用学习条目失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return models.NewStateError("Learning", "", meta.LearningStatusDisabled,
				"并发变更冲突：条目状态已变更")
		}
		return s.audit(tx, learning.OrgID, actor, "learning.disable", "Learning", learningID, nil)
	})
}

// QueryAudit 查询审计日志
func (s *LearningService) QueryAudit(ctx context.Context, orgID, entityType, entityID string, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Where("org_id = ?", orgID)
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if entityID != "" {
		query = query.Where("entity_id = ?", entityID)
	}
	var entries []models.AuditLogEntry
	if err := query.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("查询审计日志失败: %w", err)
	}
	return entries, nil
}

// audit 追加一条审计日志
func (s *LearningService) audit(tx *gorm.DB, orgID, actor, action, entityType, entityID string, detail models.JSONB) error {
	entry := &models.AuditLogEntry{
		OrgID:      orgID,
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("审计日志落库失败: %w", err)
	}
	return nil
}
