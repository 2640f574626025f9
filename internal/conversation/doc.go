// Package conversation runs character completions and fans out updates.
//
// # Service
//
// The Service sits between the HTTP handlers and the language model:
//
//	svc := conversation.New(db, conf, llm.NewLiveClient(conf, logger),
//		conversation.WithTokenCounter(llm.NewTiktokenCounter(logger)),
//		conversation.WithUsageStore(db))
//	res, err := svc.Complete(ctx, "Aria", &conversation.CompletionRequest{...})
//
// A completion is validated first. Every context message must be non-empty
// and at most MaxContentLength characters, and the prompt must fit the
// model's context window. Rejected requests return ErrValidation without
// calling the model. The reply is queued as an append on the database; the
// worker adds it to whatever record it holds at that point, so concurrent
// completions for one character all keep their replies.
//
// # Broadcaster
//
// Broadcaster is registered as the database observer. Each write the worker
// persists is published as an Update to subscribers of that character's name
// and to AllCharacters subscribers. Slow subscribers miss updates rather
// than stall the worker.
package conversation
