package domain

// RawRecord is an untyped record as returned by a search service client:
// parsed MEDLINE fields, decoded JSON, or scraped result attributes. Key
// shapes vary per source and are interpreted during ingestion.
type RawRecord map[string]any
