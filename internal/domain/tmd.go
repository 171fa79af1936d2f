package domain

import (
	"encoding/json"
	"time"
)

// TMDType is the content-store type of translation metadata documents.
const TMDType = "phrase.tmd"

// Ref is a content-store reference. Weak references do not block deletion
// of their target; references to draft documents must be weak.
type Ref struct {
	Ref  string `json:"_ref"`
	Weak bool   `json:"_weak,omitempty"`
}

// JobInfo is the locally tracked state of one vendor workflow-step job.
// Higher workflow level means a later pipeline stage; the last valid job of
// a workflow is the authority for the freshest translated content.
type JobInfo struct {
	UID           string     `json:"uid"`
	Status        string     `json:"status"`
	Filename      string     `json:"filename,omitempty"`
	TargetLang    string     `json:"targetLang,omitempty"`
	WorkflowLevel int        `json:"workflowLevel"`
	WorkflowStep  string     `json:"workflowStep,omitempty"`
	Providers     []string   `json:"providers,omitempty"`
	DateDue       *time.Time `json:"dateDue,omitempty"`
	DateCreated   *time.Time `json:"dateCreated,omitempty"`
}

// TMDTarget tracks one target language of a translation key.
type TMDTarget struct {
	Lang      string    `json:"lang"`
	PTD       Ref       `json:"ptd"`
	TargetDoc Ref       `json:"targetDoc"`
	Jobs      []JobInfo `json:"jobs"`
}

// TMD is the shared tracking record of one translation key. The source
// snapshot is frozen at creation and never rewritten; staleness detection
// diffs the live source against it.
type TMD struct {
	ID             string         `json:"_id"`
	Rev            string         `json:"_rev,omitempty"`
	Type           string         `json:"_type"`
	TranslationKey string         `json:"translationKey"`
	SourceDoc      Ref            `json:"sourceDoc"`
	SourceLang     string         `json:"sourceLang"`
	Snapshot       map[string]any `json:"sourceSnapshot"`
	Paths          []string       `json:"paths"`
	ProjectUID     string         `json:"projectUid"`
	Targets        []TMDTarget    `json:"targets"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Target returns the entry for lang, if present.
func (t *TMD) Target(lang string) (TMDTarget, bool) {
	for _, target := range t.Targets {
		if target.Lang == lang {
			return target, true
		}
	}
	return TMDTarget{}, false
}

// JobUIDs lists every vendor job UID across all targets.
func (t *TMD) JobUIDs() []string {
	var out []string
	for _, target := range t.Targets {
		for _, job := range target.Jobs {
			out = append(out, job.UID)
		}
	}
	return out
}

// ToDoc renders the TMD as a content-store document.
func (t *TMD) ToDoc() map[string]any {
	raw, _ := json.Marshal(t)
	var doc map[string]any
	_ = json.Unmarshal(raw, &doc)
	return doc
}

// TMDFromDoc decodes a content-store document into a TMD.
func TMDFromDoc(doc map[string]any) (*TMD, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var tmd TMD
	if err := json.Unmarshal(raw, &tmd); err != nil {
		return nil, err
	}
	return &tmd, nil
}

// PTDMeta is the tracking metadata carried by a parallel translation
// document under the MetadataField.
type PTDMeta struct {
	SourceDoc  Ref    `json:"sourceDoc"`
	TMD        Ref    `json:"tmd"`
	TargetLang string `json:"targetLang"`
}

// ToValue renders the PTD metadata as a plain JSON value.
func (m PTDMeta) ToValue() map[string]any {
	raw, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// PTDMetaFromDoc reads the tracking metadata of a PTD.
func PTDMetaFromDoc(doc map[string]any) (PTDMeta, bool) {
	meta, ok := doc[MetadataField].(map[string]any)
	if !ok {
		return PTDMeta{}, false
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return PTDMeta{}, false
	}
	var out PTDMeta
	if err := json.Unmarshal(raw, &out); err != nil {
		return PTDMeta{}, false
	}
	if out.TMD.Ref == "" {
		return PTDMeta{}, false
	}
	return out, true
}
