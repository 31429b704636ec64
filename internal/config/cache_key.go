package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PassationVersionKey returns the cache key for a passation's current version
func (r *CacheKeyStruct) PassationVersionKey(passationID string) string {
	return fmt.Sprintf("passation:%s:version", passationID)
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam's live monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("examen:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
