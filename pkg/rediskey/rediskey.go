package rediskey

import "fmt"

// Cache key conventions shared across services.
const (
	UsageAnalyticsPrefix = "credits:analytics"
	UsageLimitsPrefix    = "credits:limits"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildUsageAnalyticsKey returns "credits:analytics:{userID}"
func BuildUsageAnalyticsKey(userID string) string {
	return NamespaceKey(UsageAnalyticsPrefix, userID)
}

// BuildUsageLimitsKey returns "credits:limits:{userID}"
func BuildUsageLimitsKey(userID string) string {
	return NamespaceKey(UsageLimitsPrefix, userID)
}
