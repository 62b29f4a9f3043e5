// Package resource governs the shared resources merges compete for.
//
//   - Workers: a weighted semaphore bounds concurrently running merges
//   - IO: a token bucket throttles merge writes so foreground flushes keep bandwidth
//
// # Worker Slots
//
//	rc := resource.NewController(resource.Config{MaxWorkers: 4})
//
//	if err := rc.AcquireWorker(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseWorker()
//
// # IO Rate Limiting
//
//	rc := resource.NewController(resource.Config{
//	    IOLimitBytesPerSec: 64 * 1024 * 1024,
//	})
//	w := resource.NewRateLimitedWriter(ctx, blob, rc)
//
// All methods are safe for concurrent use and treat a nil Controller as
// unlimited.
package resource
