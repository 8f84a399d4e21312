// Package app provides the application composition layer for the oracle.
//
// # Architecture Role
//
// The app package sits above the domain, storage and service packages and is
// responsible for composing them into a running application. It is NOT a
// business logic layer - the oracle semantics live in
// internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Main application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   └── twap/           # Pairs, observations, token ordering
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (PairStore)
//	│   └── memory/         # In-memory implementation
//	├── services/           # Application services
//	│   ├── registry/       # Pair registration and resolution
//	│   └── twap/           # Windowed oracle, sources, refresher
//	├── httpapi/            # HTTP API handlers and routing
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing the registry and oracle services with their dependencies
//   - Selecting the cumulative-price source (HTTP or simulated)
//   - Registering background services with the lifecycle manager
//
// Construction order matters: the store feeds the registry, the registry
// resolves pairs for the oracle, and the refresher keeps the oracle's
// observation windows populated once started.
package app
