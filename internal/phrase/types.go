// Package phrase consumes the translation vendor's REST API: authentication,
// project and job creation, job content previews, and the inbound webhook
// payload shapes.
package phrase

import (
	"sort"
	"strings"
	"time"
)

// JobFilenamePrefix marks job files created by this system. The reconciler
// ignores inbound jobs without it; other tooling may share the same vendor
// account.
const JobFilenamePrefix = "[phrasebridge]"

// Job statuses reported by the vendor.
const (
	JobStatusNew                 = "NEW"
	JobStatusAccepted            = "ACCEPTED"
	JobStatusInProgress          = "IN_PROGRESS"
	JobStatusCompletedByLinguist = "COMPLETED_BY_LINGUIST"
	JobStatusCompleted           = "COMPLETED"
	JobStatusCancelled           = "CANCELLED"
	JobStatusRejected            = "REJECTED"
	JobStatusDeclined            = "DECLINED"
)

// Webhook event types.
const (
	EventJobCreated       = "JOB_CREATED"
	EventJobStatusChanged = "JOB_STATUS_CHANGED"
	EventJobAssigned      = "JOB_ASSIGNED"
	EventJobTargetUpdated = "JOB_TARGET_UPDATED"
	EventJobDeleted       = "JOB_DELETED"
	EventProjectDeleted   = "PROJECT_DELETED"
)

// Job is one vendor workflow-step job as returned by the jobs API.
type Job struct {
	UID           string     `json:"uid"`
	Filename      string     `json:"filename"`
	Status        string     `json:"status"`
	TargetLang    string     `json:"targetLang"`
	WorkflowLevel int        `json:"workflowLevel"`
	WorkflowStep  string     `json:"workflowStep,omitempty"`
	Providers     []string   `json:"providers,omitempty"`
	DateDue       *time.Time `json:"dateDue,omitempty"`
	DateCreated   *time.Time `json:"dateCreated,omitempty"`
}

// InvalidStatus reports whether a job in this status must be excluded when
// picking the freshest translated content.
func InvalidStatus(status string) bool {
	switch status {
	case JobStatusCancelled, JobStatusRejected, JobStatusDeclined:
		return true
	}
	return false
}

// LastValidJobUID picks the authoritative job for "freshest content so far":
// the highest workflow level among jobs that are not cancelled or rejected.
// Ties resolve to the later workflow step by UID order for determinism.
func LastValidJobUID(jobs []JobRef) (string, bool) {
	valid := make([]JobRef, 0, len(jobs))
	for _, j := range jobs {
		if !InvalidStatus(j.Status) {
			valid = append(valid, j)
		}
	}
	if len(valid) == 0 {
		return "", false
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].WorkflowLevel != valid[j].WorkflowLevel {
			return valid[i].WorkflowLevel > valid[j].WorkflowLevel
		}
		return valid[i].UID < valid[j].UID
	})
	return valid[0].UID, true
}

// JobRef is the minimal job identity used for workflow-level selection.
type JobRef struct {
	UID           string
	Status        string
	WorkflowLevel int
}

// CreateProjectParams configures a vendor project created from a template.
type CreateProjectParams struct {
	TemplateUID string
	Name        string
	SourceLang  string
	TargetLangs []string
	DateDue     *time.Time
}

// JobUpload is one per-target-language file upload into a project.
type JobUpload struct {
	TargetLang string
	Filename   string
	Content    []byte
}

// WebhookBody is the inbound vendor notification payload.
type WebhookBody struct {
	Event    string    `json:"event"`
	JobParts []JobPart `json:"jobParts,omitempty"`
	Project  *struct {
		UID string `json:"uid"`
	} `json:"project,omitempty"`
}

// JobPart is one job summary inside a webhook payload.
type JobPart struct {
	UID      string `json:"uid"`
	Filename string `json:"fileName"`
	Status   string `json:"status"`
	Project  struct {
		UID string `json:"uid"`
	} `json:"project"`
	TargetLang    string `json:"targetLang"`
	WorkflowLevel int    `json:"workflowLevel"`
}

// Ours reports whether the job part was created by this system.
func (p JobPart) Ours() bool {
	return strings.HasPrefix(p.Filename, JobFilenamePrefix)
}
