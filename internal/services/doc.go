// Package services provides the centralized service registry for taskd.
//
// Registry pattern for accessing all core services (task store, document
// store, file writer, completion, pipeline orchestrator, inbox monitor).
// Use NewRegistry() to create a registry with service instances, then
// accessor methods to retrieve individual services.
package services
