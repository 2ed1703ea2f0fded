package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheRoundTripSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	cache, err := NewCacheService(dir, 1)
	require.NoError(t, err)

	list := []*Conversation{{ID: 3, InitiatorID: 1, ReceiverID: 2}}
	require.NoError(t, cache.Set(ConversationsKey(1), list))

	// 新实例做一次启动清扫后仍能读回
	reloaded, err := NewCacheService(dir, 1)
	require.NoError(t, err)

	var got []*Conversation
	_, ok := reloaded.Get(ConversationsKey(1), ConversationsMaxAge, &got)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].ID)
}

func TestCacheSweepRemovesForeignUserEntries(t *testing.T) {
	dir := t.TempDir()

	other, err := NewCacheService(dir, 2)
	require.NoError(t, err)
	require.NoError(t, other.Set(ConversationsKey(2), []*Conversation{{ID: 1}}))

	// 换用户登录时别人的缓存被清掉
	mine, err := NewCacheService(dir, 1)
	require.NoError(t, err)

	var got []*Conversation
	_, ok := mine.Get(ConversationsKey(2), ConversationsMaxAge, &got)
	assert.False(t, ok)
	_, statErr := os.Stat(filepath.Join(dir, ConversationsKey(2)+".json"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCacheSweepPurgesOverAgeEntries(t *testing.T) {
	dir := t.TempDir()

	cache, err := NewCacheService(dir, 1)
	require.NoError(t, err)
	require.NoError(t, cache.Set(MessagesKey(1, 9), []*Message{{ID: 5}}))

	// 把时间戳改为超过消息缓存硬上限
	old := time.Now().Add(-MessagesMaxAge - time.Hour).Format(time.RFC3339Nano)
	stamp := filepath.Join(dir, MessagesKey(1, 9)+"_timestamp")
	require.NoError(t, os.WriteFile(stamp, []byte(old), 0o644))

	reloaded, err := NewCacheService(dir, 1)
	require.NoError(t, err)

	var got []*Message
	_, ok := reloaded.Get(MessagesKey(1, 9), MessagesMaxAge, &got)
	assert.False(t, ok)
}

func TestCacheGetRejectsPastMaxAge(t *testing.T) {
	cache, err := NewCacheService(t.TempDir(), 1)
	require.NoError(t, err)
	require.NoError(t, cache.Set(ConversationsKey(1), []*Conversation{{ID: 1}}))

	var got []*Conversation
	_, ok := cache.Get(ConversationsKey(1), 0, &got)
	assert.False(t, ok)
}

func TestCacheClearRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCacheService(dir, 1)
	require.NoError(t, err)
	require.NoError(t, cache.Set(ConversationsKey(1), []*Conversation{{ID: 1}}))
	require.NoError(t, cache.Set(MessagesKey(1, 2), []*Message{{ID: 1}}))

	require.NoError(t, cache.Clear())

	var convs []*Conversation
	_, ok := cache.Get(ConversationsKey(1), ConversationsMaxAge, &convs)
	assert.False(t, ok)

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}
