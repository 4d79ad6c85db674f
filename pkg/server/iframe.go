package server

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
)

// iframeTemplate is the page served from iframe*.html. Browsers without
// cross-origin XHR load it from the server's own origin; it pulls in the
// client library and relays messages to the application frame.
const iframeTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta http-equiv="X-UA-Compatible" content="IE=edge" />
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
  <script src="%s"></script>
  <script>
    document.domain = document.domain;
    SockJS.bootstrap_iframe();
  </script>
</head>
<body>
  <h2>Don't panic!</h2>
</body>
</html>
`

// renderIframe builds the iframe page for one client library URL, plus its
// ETag. The page is immutable per URL, so clients cache it for a year and
// revalidate by tag after that.
func renderIframe(sockjsURL string) ([]byte, string) {
	doc := []byte(fmt.Sprintf(iframeTemplate, sockjsURL))
	sum := sha256.Sum256(doc)
	return doc, fmt.Sprintf("%q", fmt.Sprintf("%x", sum[:]))
}

// iframe serves the page under any versioned name, iframe.html and
// iframe-1.2.3.min.html alike, so client library upgrades bust caches by
// URL while the content stays address-independent.
func (h *Handler) iframe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	hdr := w.Header()
	hdr.Set("ETag", h.iframeETag)
	hdr.Set("Content-Type", "text/html; charset=UTF-8")
	hdr.Set("X-Content-Type-Options", "nosniff")
	setCacheable(hdr)

	if etagMatches(r.Header.Get("If-None-Match"), h.iframeETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Write(h.iframeDoc)
}

func etagMatches(ifNoneMatchHeader, etag string) bool {
	if ifNoneMatchHeader == "" || etag == "" {
		return false
	}
	// Handle lists: If-None-Match: "abc", W/"def"
	for _, part := range strings.Split(ifNoneMatchHeader, ",") {
		candidate := strings.TrimSpace(part)
		if candidate == etag {
			return true
		}
		if strings.HasPrefix(candidate, "W/") && strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}
