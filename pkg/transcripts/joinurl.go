package transcripts

import (
	"net/url"
	"regexp"
)

// Online meeting identities embedded in join URLs look like
// 19:meeting_{token}@thread.v2, either raw or percent-encoded.
var (
	threadIDPattern        = regexp.MustCompile(`19:meeting_[A-Za-z0-9_=-]+@thread\.v2`)
	encodedThreadIDPattern = regexp.MustCompile(`19%3[aA]meeting_[A-Za-z0-9_=-]+%40thread\.v2`)
)

// ParseOnlineMeetingID extracts the online-meeting identity from a join
// URL. Returns "" when the URL carries no recognizable identity.
func ParseOnlineMeetingID(joinURL string) string {
	if joinURL == "" {
		return ""
	}

	if m := threadIDPattern.FindString(joinURL); m != "" {
		return m
	}
	if m := encodedThreadIDPattern.FindString(joinURL); m != "" {
		if decoded, err := url.QueryUnescape(m); err == nil {
			return decoded
		}
	}
	if decoded, err := url.QueryUnescape(joinURL); err == nil {
		if m := threadIDPattern.FindString(decoded); m != "" {
			return m
		}
	}
	return ""
}
