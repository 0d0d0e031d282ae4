package transcripts

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/teamsync/core/pkg/providers"
)

var (
	transcriptExtensions = map[string]bool{
		".vtt": true, ".txt": true, ".docx": true, ".srt": true,
	}
	mediaExtensions = map[string]bool{
		".mp4": true, ".mp3": true, ".avi": true, ".mov": true, ".wav": true,
	}
)

// isTranscriptCandidate applies the fallback filter: transcript-like
// extensions or "transcript" in the name, media files always excluded.
func isTranscriptCandidate(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if mediaExtensions[ext] {
		return false
	}
	if transcriptExtensions[ext] {
		return true
	}
	return strings.Contains(strings.ToLower(name), "transcript")
}

// pickFallbackFile selects the best transcript artifact from a drive
// search: candidates whose name mentions the meeting subject rank above
// the rest, newest first within each rank. Returns nil when nothing
// qualifies.
func pickFallbackFile(files []providers.DriveFile, subject string) *providers.DriveFile {
	subject = strings.ToLower(strings.TrimSpace(subject))

	var candidates []providers.DriveFile
	for _, f := range files {
		if isTranscriptCandidate(f.Name) {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	matchesSubject := func(f providers.DriveFile) bool {
		return subject != "" && strings.Contains(strings.ToLower(f.Name), subject)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		mi, mj := matchesSubject(candidates[i]), matchesSubject(candidates[j])
		if mi != mj {
			return mi
		}
		return candidates[i].LastModified.After(candidates[j].LastModified)
	})
	return &candidates[0]
}
