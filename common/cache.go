package common

// CacheRepository defines a minimal interface for a key/value cache.
// Expiry and capacity are properties of the implementation, not of each call.
//
// A miss is reported through found == false; it is never an error.
// For example, you could back this with:
//   - the expiring bounded cache in modules/cache
//   - a plain map in tests
type CacheRepository[V any] interface {
	Get(key string) (value V, found bool)
	Set(key string, value V)
	Delete(key string)
	Clear()
}
