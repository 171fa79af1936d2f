package domain

import (
	"encoding/json"
	"time"

	"phrasebridge/internal/pathkey"
)

// TranslationStatus enumerates the lifecycle states of one translation key.
type TranslationStatus string

const (
	StatusCreating         TranslationStatus = "CREATING"
	StatusCreated          TranslationStatus = "CREATED"
	StatusCompleted        TranslationStatus = "COMPLETED"
	StatusFailedPersisting TranslationStatus = "FAILED_PERSISTING"
	StatusDeleted          TranslationStatus = "DELETED"
)

// Blocking reports whether an entry in this state holds the document lock
// for its path set. COMPLETED entries are immutable history; DELETED entries
// were cancelled on the vendor side and must not block a retry forever.
func (s TranslationStatus) Blocking() bool {
	return s != StatusCompleted && s != StatusDeleted
}

// MetadataField is the document field carrying translation tracking state.
// The reference resolver skips it so metadata references never join the
// translation scope.
const MetadataField = "phraseMeta"

const translationsField = "translations"

// TranslationMetadata is one entry of a document's translation history,
// keyed by translation key. A FAILED_PERSISTING entry keeps the vendor
// project and job identifiers so a retry resumes persistence instead of
// re-creating billed jobs.
type TranslationMetadata struct {
	Key         string            `json:"key"`
	Status      TranslationStatus `json:"status"`
	Paths       []string          `json:"paths"`
	SourceLang  string            `json:"sourceLang"`
	SourceRev   string            `json:"sourceRev,omitempty"`
	TargetLangs []string          `json:"targetLangs,omitempty"`
	ProjectUID  string            `json:"projectUid,omitempty"`
	JobUIDs     []string          `json:"jobUids,omitempty"`
	// Jobs carries the full vendor job records while an entry is
	// FAILED_PERSISTING, so a resume can rebuild tracking documents without
	// re-creating billed jobs.
	Jobs        []JobInfo `json:"jobs,omitempty"`
	TMDID       string    `json:"tmd,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PathSet decodes the entry's canonical path strings.
func (m TranslationMetadata) PathSet() []pathkey.Path {
	out := make([]pathkey.Path, 0, len(m.Paths))
	for _, s := range m.Paths {
		out = append(out, pathkey.StringToPath(s))
	}
	return out
}

// PathStrings renders paths to their canonical string form for storage.
func PathStrings(paths []pathkey.Path) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, pathkey.PathToString(p))
	}
	return out
}

// MetadataFromDoc extracts all translation entries from a document. Missing
// or malformed containers yield an empty history, not an error: documents
// that never saw a translation have no metadata field at all.
func MetadataFromDoc(doc map[string]any) []TranslationMetadata {
	if doc == nil {
		return nil
	}
	meta, ok := doc[MetadataField].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := meta[translationsField].([]any)
	if !ok {
		return nil
	}
	out := make([]TranslationMetadata, 0, len(raw))
	for _, item := range raw {
		entry, err := metadataFromValue(item)
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// FindMetadata returns the entry for key, if present.
func FindMetadata(doc map[string]any, key string) (TranslationMetadata, bool) {
	for _, entry := range MetadataFromDoc(doc) {
		if entry.Key == key {
			return entry, true
		}
	}
	return TranslationMetadata{}, false
}

// ToValue renders the entry as a plain JSON value for a content-store patch.
func (m TranslationMetadata) ToValue() map[string]any {
	raw, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

func metadataFromValue(v any) (TranslationMetadata, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return TranslationMetadata{}, err
	}
	var entry TranslationMetadata
	if err := json.Unmarshal(raw, &entry); err != nil {
		return TranslationMetadata{}, err
	}
	return entry, nil
}

// TranslationsPath is the patch path of the metadata entry list.
func TranslationsPath() string {
	return MetadataField + "." + translationsField
}
