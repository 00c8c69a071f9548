package jobs

import (
	"strings"
)

// ParseRoute extracts the job ID from a URL path like /jobs/{id} or
// /jobs/{id}/{action}. apiPrefix should be like "/jobs/". A bare hex suffix
// is accepted and normalized to a full ID.
func ParseRoute(path, apiPrefix string) (jobID, action string, ok bool) {
	if !strings.HasPrefix(path, apiPrefix) {
		return "", "", false
	}
	rest := strings.Trim(strings.TrimPrefix(path, apiPrefix), "/")
	if rest == "" {
		return "", "", false
	}

	parts := strings.SplitN(rest, "/", 2)
	jobID = parts[0]
	if !strings.HasPrefix(jobID, IDPrefix) {
		jobID = IDPrefix + jobID
	}
	if !ValidID(jobID) {
		return "", "", false
	}
	if len(parts) == 2 {
		action = parts[1]
	}
	return jobID, action, true
}
