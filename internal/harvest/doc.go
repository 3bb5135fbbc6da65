// Package harvest holds the domain model and the capability interfaces the
// harvesting pipeline is built from: the rendering capability, the record
// and checkpoint stores, the translation capability, and the error taxonomy.
//
// Data flows strictly downstream. The catalog discoverer produces sources,
// the chapter discoverer produces chapters, the extractor fills chapter
// content, and the translation orchestrator produces translation rows. Each
// stage is idempotent and safely re-runnable.
package harvest
