// Package domain defines the core types of the engagement tracker: tracking
// sessions, the open and click events recorded against them, and the sync
// envelope exchanged between the agent and the aggregator.
//
// Types in this package are value objects with no storage or HTTP concerns.
// They are the shared language between handlers, services, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON tags follow the camelCase wire form the agent persists and syncs
//   - Derivation methods are allowed (they're pure functions on the type)
//   - Constants and enums belong here
package domain
