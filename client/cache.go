package client

import (
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// 缓存条目的硬上限年龄，超过即清除而非作为陈旧兜底返回
const (
	ConversationsMaxAge = 24 * time.Hour
	MessagesMaxAge      = 72 * time.Hour
)

// CacheService 本地缓存：内存 map 之下落盘 JSON 文件，
// 每个键对应一个数据文件与一个 _timestamp 兄弟文件
type CacheService interface {
	Get(key string, maxAge time.Duration, out interface{}) (lastRefresh time.Time, ok bool)
	Set(key string, value interface{}) error
	Evict(key string)
	Clear() error
}

type cacheEntry struct {
	payload     []byte
	lastRefresh time.Time
}

type fileCacheService struct {
	mu      sync.RWMutex
	dir     string
	userID  uint64
	entries map[string]*cacheEntry
}

// ConversationsKey 会话列表缓存键
func ConversationsKey(userID uint64) string {
	return fmt.Sprintf("conversations_%d", userID)
}

// MessagesKey 单会话消息缓存键
func MessagesKey(userID, conversationID uint64) string {
	return fmt.Sprintf("messages_%d_%d", userID, conversationID)
}

// NewCacheService 启动时做一次清扫：清掉其他用户的键与超龄条目，
// 存活条目载入内存，冷启动即可跳过空缓存路径
func NewCacheService(dir string, userID uint64) (CacheService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileCacheService{
		dir:     dir,
		userID:  userID,
		entries: make(map[string]*cacheEntry),
	}
	s.sweep()
	return s, nil
}

func (s *fileCacheService) dataPath(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *fileCacheService) stampPath(key string) string {
	return filepath.Join(s.dir, key+"_timestamp")
}

// ownsKey 键是否属于当前用户
func (s *fileCacheService) ownsKey(key string) bool {
	return strings.HasPrefix(key, fmt.Sprintf("conversations_%d", s.userID)) ||
		strings.HasPrefix(key, fmt.Sprintf("messages_%d_", s.userID))
}

func maxAgeOf(key string) time.Duration {
	if strings.HasPrefix(key, "messages_") {
		return MessagesMaxAge
	}
	return ConversationsMaxAge
}

func (s *fileCacheService) sweep() {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		log.Warn("缓存目录扫描失败", "dir", s.dir, "err", err)
		return
	}
	now := time.Now()
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")

		if !s.ownsKey(key) {
			s.removeFiles(key)
			continue
		}
		stamp, err := s.readStamp(key)
		if err != nil || now.Sub(stamp) > maxAgeOf(key) {
			s.removeFiles(key)
			continue
		}
		payload, err := os.ReadFile(s.dataPath(key))
		if err != nil {
			s.removeFiles(key)
			continue
		}
		s.entries[key] = &cacheEntry{payload: payload, lastRefresh: stamp}
	}
}

func (s *fileCacheService) readStamp(key string) (time.Time, error) {
	raw, err := os.ReadFile(s.stampPath(key))
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw)))
}

// Get 超过硬上限的条目清掉并按未命中处理；ok 为命中与否，
// 条目新鲜度由调用方用 lastRefresh 自行判断，陈旧条目同样返回
func (s *fileCacheService) Get(key string, maxAge time.Duration, out interface{}) (time.Time, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	if time.Since(entry.lastRefresh) > maxAge {
		s.Evict(key)
		return time.Time{}, false
	}
	if err := json.Unmarshal(entry.payload, out); err != nil {
		log.Warn("缓存反序列化失败，按未命中处理", "key", key, "err", err)
		s.Evict(key)
		return time.Time{}, false
	}
	return entry.lastRefresh, true
}

func (s *fileCacheService) Set(key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	now := time.Now()

	s.mu.Lock()
	s.entries[key] = &cacheEntry{payload: payload, lastRefresh: now}
	s.mu.Unlock()

	if err = os.WriteFile(s.dataPath(key), payload, 0o644); err != nil {
		return err
	}
	return os.WriteFile(s.stampPath(key), []byte(now.Format(time.RFC3339Nano)), 0o644)
}

func (s *fileCacheService) Evict(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	s.removeFiles(key)
}

// Clear 登出时调用，清内存并删除当前用户的全部落盘文件
func (s *fileCacheService) Clear() error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.entries = make(map[string]*cacheEntry)
	s.mu.Unlock()

	for _, k := range keys {
		s.removeFiles(k)
	}
	return nil
}

func (s *fileCacheService) removeFiles(key string) {
	_ = os.Remove(s.dataPath(key))
	_ = os.Remove(s.stampPath(key))
}
