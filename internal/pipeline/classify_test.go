package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/job"
)

func TestClassify(t *testing.T) {
	sites := []string{"marmiton.org", "750g.com", "www.tiktok.com"}
	tests := []struct {
		url  string
		want job.Kind
	}{
		{"https://vm.tiktok.com/ZMabc123/", job.KindMedia},
		{"https://vt.tiktok.com/ZSx/", job.KindMedia},
		{"https://www.instagram.com/reel/Cxyz_12/", job.KindMedia},
		{"https://instagram.com/p/abc-1", job.KindMedia},
		{"https://www.instagram.com/tv/abc", job.KindMedia},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", job.KindMedia},
		{"https://www.marmiton.org/recettes/recette_crepes.aspx", job.KindRecipePage},
		{"https://m.750g.com/gateau", job.KindRecipePage},
		{"https://marmiton.org", job.KindRecipePage},
		// configured recipe host wins over the video pattern
		{"https://www.tiktok.com/@chef/video/123", job.KindRecipePage},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := Classify(tt.url, sites)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_Unsupported(t *testing.T) {
	for _, u := range []string{
		"",
		"not a url",
		"ftp://example.com/recipe",
		"mailto:chef@example.com",
		"https:///path-only",
		"https://example.com",
		"https://example.com/",
		"https://www.instagram.com/chef/",
		"https://www.youtube.com/watch?v=abc",
	} {
		t.Run(u, func(t *testing.T) {
			kind, err := Classify(u, nil)
			assert.Equal(t, job.KindUnresolved, kind)
			assert.Equal(t, common.KindUnsupportedSource, common.KindOf(err))
		})
	}
}

func TestClassify_UnlistedSite(t *testing.T) {
	sites := []string{"marmiton.org"}
	for _, u := range []string{
		"https://random-unknown-site.example/some/article",
		"https://bank.example/login",
		"https://cooking.example.com/recipes/cake",
		"https://notmarmiton.org/recettes/crepes",
	} {
		t.Run(u, func(t *testing.T) {
			kind, err := Classify(u, sites)
			assert.Equal(t, job.KindUnresolved, kind)
			assert.Equal(t, common.KindUnsupportedSource, common.KindOf(err))
		})
	}
}

func TestClassifyAnySite(t *testing.T) {
	sites := []string{"marmiton.org"}

	kind, err := ClassifyAnySite("https://cooking.example.com/recipes/cake", sites)
	assert.NoError(t, err)
	assert.Equal(t, job.KindRecipePage, kind)

	kind, err = ClassifyAnySite("https://vm.tiktok.com/ZMabc123/", sites)
	assert.NoError(t, err)
	assert.Equal(t, job.KindMedia, kind)

	// still needs a path, and video sites stay limited to short videos
	for _, u := range []string{"https://example.com/", "https://www.youtube.com/watch?v=abc"} {
		_, err := ClassifyAnySite(u, sites)
		assert.Equal(t, common.KindUnsupportedSource, common.KindOf(err), u)
	}
}

func TestClassify_TikTokWithoutConfiguredSites(t *testing.T) {
	kind, err := Classify("https://www.tiktok.com/@chef/video/123", nil)
	assert.NoError(t, err)
	assert.Equal(t, job.KindMedia, kind)
}
