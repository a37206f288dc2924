package keyexchange

// Status is what the scheduler is currently doing.
type Status int32

const (
	StatusInitializing Status = iota
	StatusUpdating
	StatusProcessingNewGroupSessions
	StatusDecryptingEvents
	StatusRetryingDecryption
	StatusRequestingKeys
	StatusRespondingToKeyRequests
	StatusIdle
)

var statusNames = [...]string{
	StatusInitializing:               "initializing",
	StatusUpdating:                   "updating",
	StatusProcessingNewGroupSessions: "processingNewGroupSessions",
	StatusDecryptingEvents:           "decryptingEvents",
	StatusRetryingDecryption:         "retryingDecryption",
	StatusRequestingKeys:             "requestingKeys",
	StatusRespondingToKeyRequests:    "respondingToKeyRequests",
	StatusIdle:                       "idle",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}
