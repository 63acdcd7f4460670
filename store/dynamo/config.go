package dynamo

// MaxScanSegments caps parallel scan segments.
const MaxScanSegments = 256

// DefaultWriteConcurrency bounds concurrent UpdateItem calls in UpdateMany.
const DefaultWriteConcurrency = 16

// Config holds configuration for a Collection.
type Config struct {
	// Table is the DynamoDB table holding the collection.
	// The table's partition key must be the string attribute "id".
	// Default: the collection name
	Table string

	// SetAttributes lists attributes stored as string sets. Every
	// back-reference path holding many ids must be listed here so that
	// add and remove map onto ADD and DELETE.
	SetAttributes []string

	// ScanSegments is the number of parallel scan segments used when an
	// update or find is not restricted to ids.
	// Higher values scan large tables faster but consume more read capacity at once.
	// Default: 1 (single sequential scan)
	// Max: 256
	ScanSegments int

	// WriteConcurrency bounds concurrent per-item updates.
	// Default: 16
	WriteConcurrency int
}

// DefaultConfig returns sensible defaults for small tables.
func DefaultConfig(table string) Config {
	return Config{
		Table:            table,
		ScanSegments:     1,
		WriteConcurrency: DefaultWriteConcurrency,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate(name string) {
	if c.Table == "" {
		c.Table = name
	}
	if c.ScanSegments < 1 {
		c.ScanSegments = 1
	}
	if c.ScanSegments > MaxScanSegments {
		c.ScanSegments = MaxScanSegments
	}
	if c.WriteConcurrency < 1 {
		c.WriteConcurrency = DefaultWriteConcurrency
	}
}
