// Package digest holds the domain types, collaborator interfaces and error
// taxonomy shared by the ingestion and enrichment pipelines.
package digest
