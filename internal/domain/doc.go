// Package domain contains the core entities of the queue: queued messages,
// delegated tasks, and progress updates, together with their status machines
// and validation rules. It is independent of any storage or delivery
// mechanism; the queue never interprets task descriptions or context.
package domain
