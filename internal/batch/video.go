package batch

import (
	"path"
	"strings"
)

// VideoExtensions are the container formats the repair tool accepts.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".mkv": true,
	".avi": true,
	".m4v": true,
}

// IsVideoKey reports whether an object key names a repairable video.
// Directory markers and hidden or temporary files are skipped.
func IsVideoKey(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	base := path.Base(key)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~") {
		return false
	}
	return VideoExtensions[strings.ToLower(path.Ext(base))]
}

// FilterVideos keeps only candidates whose keys are videos.
func FilterVideos(files []CandidateFile) []CandidateFile {
	out := make([]CandidateFile, 0, len(files))
	for _, f := range files {
		if IsVideoKey(f.Key) {
			out = append(out, f)
		}
	}
	return out
}

// QuarantineDir is the directory under the output prefix that receives
// copies of inputs that could not be repaired.
const QuarantineDir = "_quarantine"

// QuarantineKey maps an input key to its quarantine location under
// outputPrefix, preserving the path below inputPrefix.
func QuarantineKey(inputPrefix, outputPrefix, inputKey string) string {
	dir := QuarantineDir
	if p := strings.TrimSuffix(outputPrefix, "/"); p != "" {
		dir = p + "/" + dir
	}
	return OutputKey(inputPrefix, dir, inputKey)
}

// OutputKey maps an input key to its destination under outputPrefix,
// preserving the path below inputPrefix.
func OutputKey(inputPrefix, outputPrefix, inputKey string) string {
	rel := strings.TrimPrefix(inputKey, strings.TrimSuffix(inputPrefix, "/"))
	rel = strings.TrimPrefix(rel, "/")
	if outputPrefix == "" {
		return rel
	}
	return strings.TrimSuffix(outputPrefix, "/") + "/" + rel
}
