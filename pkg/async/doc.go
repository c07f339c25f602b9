// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error collection.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, 30*time.Second, "process data", func(ctx context.Context) error {
//		// Task code with automatic panic recovery and timeout
//		return processData(ctx)
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, 10, "compile", 30*time.Second) // 10 workers, 30s per task
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return compileModule(ctx)
//	})
//
// Batch: Concurrent batch processing
//
//	errs := async.Batch(ctx, items, 5, "process items", 10*time.Second, func(ctx context.Context, item Item) error {
//		return processItem(ctx, item)
//	})
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Context Cancellation: Respects context cancellation
// Error Collection: Non-blocking error channels
// Graceful Shutdown: Worker draining
//
// # Use Cases
//
// Webhook delivery, background compilation, batch imports, analytics, cache warming
//
// # Related Packages
//
//   - pkg/assembly: Uses Batch to populate staging directories
package async
