// Package taskqueue serializes asynchronous operations per logical key.
//
// Invariants:
// - Operations submitted to one Processor run one at a time, in submission order.
// - A failing or panicking operation is reported only to its own caller.
// - Processors for different keys are independent and may run concurrently.
// - A destroyed Processor rejects every pending and future operation with ErrQueueDestroyed.
//
// Usage:
//
//	reg := taskqueue.NewRegistry()
//	defer reg.Close()
//	result, err := reg.Enqueue(ctx, "store:default", func(ctx context.Context) (any, error) {
//		return st.Apply(ctx, mutation)
//	})
package taskqueue
