/*
 * @module service/content/recent_window
 * @description 去重近窗缓存：按组织维护近期条目的标题词元集与关键短语集，显式持有、按时间上限淘汰
 * @architecture 工具层 - 进程内有界缓存
 * @documentReference ai_docs/forecast_engine_req.md
 * @stateFlow 新内容入库 -> 加入近窗 -> 超TTL或超容量淘汰
 * @rules 缓存归属去重引擎显式持有，不使用环境全局状态；淘汰对调用方透明
 * @dependencies sync, time
 * @refs service/content/dedup_engine.go
 */

package content

import (
	"sync"
	"time"
)

// 近窗缓存默认参数
const (
	DefaultWindowTTL     = 48 * time.Hour
	DefaultWindowMaxSize = 5000 // 每组织上限
)

// WindowEntry 近窗内的一个条目
type WindowEntry struct {
	ArticleID   string
	TitleTokens []string
	KeyPhrases  []string
	AddedAt     time.Time
}

// RecentWindow 模糊匹配用的近窗缓存，按组织隔离
type RecentWindow struct {
	mu      sync.RWMutex
	ttl     time.Duration
	maxSize int
	entries map[string][]WindowEntry // orgID -> 按加入时间升序的条目
	now     func() time.Time         // 便于测试注入
}

// NewRecentWindow 创建近窗缓存
func NewRecentWindow(ttl time.Duration, maxSize int) *RecentWindow {
	if ttl <= 0 {
		ttl = DefaultWindowTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultWindowMaxSize
	}
	return &RecentWindow{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string][]WindowEntry),
		now:     time.Now,
	}
}

// Add 将条目加入组织的近窗，超容量时淘汰最旧条目
func (w *RecentWindow) Add(orgID string, entry WindowEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry.AddedAt.IsZero() {
		entry.AddedAt = w.now()
	}

	list := w.evictLocked(orgID)
	list = append(list, entry)
	if len(list) > w.maxSize {
		list = list[len(list)-w.maxSize:]
	}
	w.entries[orgID] = list
}

// Entries 返回组织近窗内未过期的条目
func (w *RecentWindow) Entries(orgID string) []WindowEntry {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.evictLocked(orgID)
	w.entries[orgID] = list

	out := make([]WindowEntry, len(list))
	copy(out, list)
	return out
}

// Size 返回组织近窗的当前条目数
func (w *RecentWindow) Size(orgID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	list := w.evictLocked(orgID)
	w.entries[orgID] = list
	return len(list)
}

// evictLocked 淘汰过期条目，调用方须持有锁
func (w *RecentWindow) evictLocked(orgID string) []WindowEntry {
	list := w.entries[orgID]
	cutoff := w.now().Add(-w.ttl)
	idx := 0
	for idx < len(list) && list[idx].AddedAt.Before(cutoff) {
		idx++
	}
	return list[idx:]
}
