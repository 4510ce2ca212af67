// Package server exposes the orchestrator over HTTP and gRPC.
//
// # HTTP
//
//	GET  /health                          liveness
//	GET  /health/ready                    503 until the scheduler loop runs
//	GET  /api/status                      state, countdown, provider keys, totals
//	POST /api/conversations               start a conversation (bearer token)
//	GET  /api/conversations               recent conversations
//	GET  /api/conversations/{id}          one conversation
//	GET  /api/conversations/{id}/messages transcript in order
//	GET  /api/events                      Server-Sent Events
//
// Starting while a conversation is active answers 409; requests are never
// queued. A POST carrying an Idempotency-Key that was already used returns
// the conversation the first request created.
//
// # gRPC
//
// grpc.health.v1.Health reports SERVING while the scheduler loop runs. With
// tailscale enabled the server joins the tailnet and listens on :80 (HTTP)
// and :50051 (gRPC) there instead of the configured addresses.
package server
