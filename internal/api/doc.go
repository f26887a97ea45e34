// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between external clients
// (channel bridges, CLI tools, the assistant process) and the queue service,
// translating HTTP concerns to business operations.
package api
