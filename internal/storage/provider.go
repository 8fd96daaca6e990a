package storage

import "clipmill/internal/ports"

// Provider is the storage contract used by the API, the CLI and the pipeline.
// It is an alias to ports.StorageProvider to keep call-sites simple.
type Provider = ports.StorageProvider
