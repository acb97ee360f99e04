// Package services implements the business logic layer between the HTTP
// handlers and the pricing engine. It owns metric recording, request-scoped
// logging, and error transformation around the training and serving
// pipelines.
//
// # Architecture
//
// Services follow these architectural principles:
//
//	1. Interface-driven design for testability
//	2. Context propagation for cancellation and tracing
//	3. Dependency injection for loose coupling
//	4. Domain-focused methods that encapsulate business rules
//
// Handlers never touch the pricing package or the model store directly;
// every operation flows through a service method.
package services
