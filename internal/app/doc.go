// Package app composes the prize pool service.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── domain/pool/        # Shared domain types (amounts, outcomes, events)
//	├── services/           # Business logic
//	│   ├── ledger/         # Participant balances mirrored into the selection tree
//	│   ├── lottery/        # Round engine and reward split
//	│   ├── params/         # Admin-controlled parameter store
//	│   ├── randomness/     # Seed sources
//	│   └── custody/        # Custody of pooled value
//	├── storage/            # Round history and engine snapshots
//	│   ├── memory/
//	│   └── postgres/
//	├── keeper/             # Scheduled round closer
//	├── httpapi/            # REST API
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service lifecycle manager
//
// # Dependency Direction
//
//	cmd/prizepool
//	      │
//	      ▼
//	internal/app (composition)
//	      │
//	      ├──► httpapi, keeper ──► services/lottery
//	      │                             │
//	      │                             ├──► services/ledger ──► pkg/sortition
//	      │                             └──► services/{params,randomness,custody}
//	      │
//	      └──► storage ──► domain/pool
//
// Business rules live in internal/app/services; this package only wires them together.
package app
