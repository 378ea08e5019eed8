package vault

import "fmt"

// bucketedExpiry quantizes now+ttl up to the next bucket boundary so that a
// TTL window never spreads over more than maxRecords distinct expiries. The
// rounding is one-sided: a record lives at least ttlSeconds, and at most
// bucketSeconds-1 longer. A zero TTL mints a permanent record.
func bucketedExpiry(nowUnix int64, ttlSeconds int64, maxRecords int) (int64, error) {
	if ttlSeconds == 0 {
		return NeverExpiresUnix, nil
	}
	bucketSeconds := ttlSeconds / int64(maxRecords)
	if bucketSeconds < 1 {
		bucketSeconds = 1
	}
	nominalExpiry, err := addTimestamp(nowUnix, ttlSeconds)
	if err != nil {
		return 0, err
	}
	bucketCount := nominalExpiry / bucketSeconds
	if nominalExpiry%bucketSeconds != 0 {
		bucketCount++
	}
	expiresAtUnix, err := mulInt64(bucketCount, bucketSeconds)
	if err != nil {
		return 0, fmt.Errorf("%w: bucketed expiry", ErrTimeOverflow)
	}
	return expiresAtUnix, nil
}
