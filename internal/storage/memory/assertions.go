package memory

import "github.com/tinoosan/fintrack/internal/storage"

// Compile-time interface assertion.
var _ storage.Store = (*Store)(nil)
