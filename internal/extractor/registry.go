package extractor

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

// Registry maps platforms to their extractor implementations
type Registry struct {
	mu         sync.RWMutex
	extractors map[models.Platform]Extractor
}

// NewRegistry creates an empty extractor registry
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[models.Platform]Extractor)}
}

// Register binds an extractor to a platform, replacing any previous binding
func (r *Registry) Register(platform models.Platform, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[platform] = e
}

// Get returns the extractor for a platform
func (r *Registry) Get(platform models.Platform) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[platform]
	if !ok {
		return nil, &models.JobError{
			Code:    models.ErrInvalidURL,
			Message: fmt.Sprintf("no extractor registered for platform %q", platform),
		}
	}
	return e, nil
}

// platformHosts maps known hostnames to their platform. Subdomains of these
// hosts (www, m, music) match as well.
var platformHosts = map[string]models.Platform{
	"youtube.com":   models.PlatformYouTube,
	"youtu.be":      models.PlatformYouTube,
	"instagram.com": models.PlatformInstagram,
	"facebook.com":  models.PlatformFacebook,
	"fb.watch":      models.PlatformFacebook,
	"x.com":         models.PlatformX,
	"twitter.com":   models.PlatformX,
}

// PlatformFromURL derives the platform from a source URL's hostname
func PlatformFromURL(sourceURL string) (models.Platform, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", &models.JobError{
			Code:    models.ErrInvalidURL,
			Message: fmt.Sprintf("not a valid http(s) URL: %q", sourceURL),
		}
	}

	host := strings.ToLower(parsed.Hostname())
	for candidate, platform := range platformHosts {
		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return platform, nil
		}
	}

	return "", &models.JobError{
		Code:    models.ErrInvalidURL,
		Message: fmt.Sprintf("unsupported platform host %q", host),
	}
}
