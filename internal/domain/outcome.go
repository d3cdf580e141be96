package domain

import "time"

// FailureReason classifies why a release could not be synced.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonNoCredentials       FailureReason = "no_credentials"
	ReasonPageUnreachable     FailureReason = "page_unreachable"
	ReasonLinkNotFound        FailureReason = "link_not_found"
	ReasonArtifactUnreachable FailureReason = "artifact_unreachable"
	ReasonInvalidArtifact     FailureReason = "invalid_artifact"
	ReasonGatewayUnavailable  FailureReason = "gateway_unavailable"
	ReasonSubmitRejected      FailureReason = "submit_rejected"
)

// Outcome is the per-release result of one sync pass.
type Outcome struct {
	ReleaseID string
	OK        bool
	Reason    FailureReason
	Message   string
	InfoHash  string
}

// HistoryEntry is an outcome persisted in the sync journal.
type HistoryEntry struct {
	ID        int64
	RunID     string
	ReleaseID string
	OK        bool
	Reason    FailureReason
	Message   string
	InfoHash  string
	CreatedAt time.Time
}
