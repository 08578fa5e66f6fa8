package pipeline

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
)

// shortVideo matches the short-form video links the downloader handles.
// Patterns are applied to host+path, lower-cased, without the scheme.
var shortVideo = []*regexp.Regexp{
	regexp.MustCompile(`^((vm|vt|www|m)\.)?tiktok\.com/.+`),
	regexp.MustCompile(`^(www\.)?instagram\.com/(p|reel|reels|tv)/[\w-]+/?`),
	regexp.MustCompile(`^((www|m)\.)?youtube\.com/shorts/[\w-]+`),
}

// Classify resolves which pipeline branch a URL takes. Hosts listed in
// recipeSites always classify as recipe pages, even when they also look
// like a video link. Links to any other site are unsupported.
func Classify(rawURL string, recipeSites []string) (job.Kind, error) {
	return classify(rawURL, recipeSites, false)
}

// ClassifyAnySite is Classify, except that an http(s) URL with a path on
// an unlisted, non-video host is scraped as a recipe page.
func ClassifyAnySite(rawURL string, recipeSites []string) (job.Kind, error) {
	return classify(rawURL, recipeSites, true)
}

func classify(rawURL string, recipeSites []string, anySite bool) (job.Kind, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return job.KindUnresolved, common.NewStageError(common.KindUnsupportedSource, "this link is not a valid URL", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return job.KindUnresolved, common.NewStageError(common.KindUnsupportedSource, "only http and https links are supported", nil)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return job.KindUnresolved, common.NewStageError(common.KindUnsupportedSource, "this link has no host", nil)
	}

	if isRecipeSite(host, recipeSites) {
		return job.KindRecipePage, nil
	}

	target := host + strings.ToLower(u.EscapedPath())
	for _, re := range shortVideo {
		if re.MatchString(target) {
			return job.KindMedia, nil
		}
	}

	if isVideoHost(host) {
		return job.KindUnresolved, common.NewStageError(common.KindUnsupportedSource, "only individual short videos are supported from this site", nil)
	}
	if p := strings.Trim(u.Path, "/"); anySite && p != "" {
		return job.KindRecipePage, nil
	}
	return job.KindUnresolved, common.NewStageError(common.KindUnsupportedSource, "this site is not a supported recipe source", nil)
}

// isRecipeSite matches host against the configured sites as written:
// the site itself or any subdomain of it.
func isRecipeSite(host string, sites []string) bool {
	for _, s := range sites {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func isVideoHost(host string) bool {
	for _, h := range []string{"tiktok.com", "instagram.com", "youtube.com", "youtu.be"} {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
