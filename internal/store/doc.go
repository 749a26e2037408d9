// Package store provides persistent storage for coven-chat using SQLite.
//
// # Architecture
//
// The store package splits its surface into interfaces by concern:
//
//   - UserStore: users and the admin flag
//   - GroupStore: groups and memberships
//   - CatalogStore: providers, model configs, credentials, settings, tools and grants
//   - ChatStore: chats and their append-only messages
//
// SQLiteStore implements all of them in a single struct. Callers depend on the
// narrowest interface they need.
//
// # Access Edges
//
// Users reach models and tools only through groups. A model config is visible
// to a user when any group the user belongs to has a row in group_model_access
// for it; tools work the same way through group_tool_access. The admin flag
// is interpreted by the access package, not here.
//
// ListResolvedModelsForGroups returns each model config once, joined with its
// provider, credentials and settings. An empty group list yields an empty
// result without touching the database.
//
// # Credentials
//
// Credential keys form a closed set (see ValidCredentialKeys). SetCredential
// rejects anything else with ErrInvalidCredentialKey, and the schema carries a
// CHECK constraint for the same set.
//
// # Messages
//
// Message content is opaque JSON owned by the conversation package. Rows are
// never updated. Timestamps are stored as fixed-width RFC3339 text with
// nanosecond precision so ordering and DeleteMessagesAfter comparisons work
// on the text column.
//
// # Schema Management
//
// The schema is created on open and migrations are applied idempotently:
//
//	store, err := store.NewSQLiteStore("/path/to/chat.db")
//
// Foreign keys are enforced on every connection, so deleting a user removes
// their memberships and chats, and deleting a model config removes its
// credentials, settings and grants.
//
// # Errors
//
//   - ErrNotFound: entity missing, or a referenced entity missing on insert
//   - ErrDuplicate: unique constraint collision
//   - ErrInvalidCredentialKey: credential key outside the closed set
package store
