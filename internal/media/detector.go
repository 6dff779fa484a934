package media

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// embedPath is a named location where a post may carry its embed.
type embedPath struct {
	name string
	path []string
}

// embedPaths lists every known location of an embed, in priority order.
// New schema shapes are supported by adding an entry here.
var embedPaths = []embedPath{
	{"embed", []string{"embed"}},
	{"embed_view", []string{"embedView"}},
	{"record_embed", []string{"record", "embed"}},
	{"value_embed", []string{"value", "embed"}},
	{"post_embed", []string{"post", "embed"}},
	{"post_embed_view", []string{"post", "embedView"}},
	{"post_record_embed", []string{"post", "record", "embed"}},
	{"subject_embed", []string{"subject", "embed"}},
	{"subject_embed_view", []string{"subject", "embedView"}},
}

// hit is one medium found by a check.
type hit struct {
	typ domain.MediaType
	url string
	raw any
}

// mediaCheck extracts media of one category from a parsed embed.
type mediaCheck struct {
	name    string
	extract func(e *domain.Embed) []hit
}

// mediaChecks is evaluated in order against every resolved embed.
var mediaChecks = []mediaCheck{
	{"media_items", func(e *domain.Embed) []hit {
		if e.Media != nil {
			if h := itemHits(e.Media.Items); len(h) > 0 {
				return h
			}
			if h := itemHits(e.Media.Images); len(h) > 0 {
				return h
			}
		}
		if h := itemHits(e.Items); len(h) > 0 {
			return h
		}
		// Direct images only count when no media collection was present.
		return itemHits(e.Images)
	}},
	{"external_thumb", func(e *domain.Embed) []hit {
		if e.External == nil || e.External.Thumb == nil {
			return nil
		}
		return []hit{{typ: domain.MediaTypeThumbnail, url: e.External.Thumb.URL, raw: e.External.Thumb.Raw}}
	}},
	{"media_video", func(e *domain.Embed) []hit {
		if e.Media == nil || e.Media.Video == nil {
			return nil
		}
		return []hit{videoHit(e.Media.Video)}
	}},
	{"video", func(e *domain.Embed) []hit {
		if e.Video == nil {
			return nil
		}
		return []hit{videoHit(e.Video)}
	}},
}

func itemHits(items []domain.MediaItem) []hit {
	if len(items) == 0 {
		return nil
	}
	hits := make([]hit, 0, len(items))
	for _, it := range items {
		hits = append(hits, hit{typ: it.Type, url: it.URL, raw: it.Raw})
	}
	return hits
}

func videoHit(v *domain.VideoRef) hit {
	u := v.URL
	if u == "" {
		u = v.Playlist
	}
	return hit{typ: domain.MediaTypeVideo, url: u, raw: v.Raw}
}

// Detector finds media attached to posts of any known schema shape.
type Detector struct {
	logger *slog.Logger
}

// NewDetector creates a new media detector.
func NewDetector(logger *slog.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect inspects post and summarises its media. It never fails; absent
// fields simply contribute nothing. The first path that satisfies a check
// wins for that check, and results of different checks are unioned.
func (d *Detector) Detect(post map[string]any) domain.MediaInfo {
	info := domain.MediaInfo{
		MediaTypes: []domain.MediaType{},
		MediaURLs:  []string{},
	}
	satisfied := make(map[string]bool, len(mediaChecks))

	for _, p := range embedPaths {
		embed := ParseEmbed(deepGet(post, p.path))
		if embed == nil {
			continue
		}
		for _, check := range mediaChecks {
			if satisfied[check.name] {
				continue
			}
			hits := check.extract(embed)
			if len(hits) == 0 {
				continue
			}
			satisfied[check.name] = true
			d.logger.Debug("media detected", "path", p.name, "check", check.name, "count", len(hits))
			for _, h := range hits {
				addHit(&info, h)
			}
		}
	}

	if blob := deepGet(post, []string{"record", "blob"}); blob != nil {
		addHit(&info, hit{typ: domain.MediaTypeBlob, raw: blob})
	}

	info.MediaTypes = dedupeTypes(info.MediaTypes)
	return info
}

func addHit(info *domain.MediaInfo, h hit) {
	info.HasMedia = true
	info.MediaCount++
	info.MediaTypes = append(info.MediaTypes, h.typ)
	if h.url != "" {
		info.MediaURLs = append(info.MediaURLs, h.url)
	}
	if h.raw != nil {
		info.RawMediaRefs = append(info.RawMediaRefs, h.raw)
	}
}

func dedupeTypes(types []domain.MediaType) []domain.MediaType {
	seen := make(map[domain.MediaType]bool, len(types))
	out := types[:0]
	for _, t := range types {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// urlPaths are explicit video URL fields, tried first.
var urlPaths = [][]string{
	{"embed", "media", "video", "url"},
	{"embed", "video", "url"},
	{"embed", "media", "url"},
	{"embedView", "video", "url"},
	{"embedView", "media", "video", "url"},
	{"record", "embed", "video", "url"},
	{"record", "embed", "media", "video", "url"},
	{"post", "embed", "media", "video", "url"},
	{"post", "embed", "video", "url"},
}

// playlistPaths are HLS playlist fields, tried when no explicit URL exists.
var playlistPaths = [][]string{
	{"embed", "playlist"},
	{"embed", "media", "playlist"},
	{"embedView", "playlist"},
	{"embedView", "media", "playlist"},
	{"post", "embed", "playlist"},
	{"post", "embed", "media", "playlist"},
}

// cidPaths locate the content-addressed video blob for CDN reconstruction.
var cidPaths = [][]string{
	{"embed", "cid"},
	{"embed", "media", "cid"},
	{"record", "embed", "video", "ref", "$link"},
	{"record", "embed", "media", "video", "ref", "$link"},
	{"post", "record", "embed", "video", "ref", "$link"},
	{"post", "record", "embed", "media", "video", "ref", "$link"},
	{"value", "embed", "video", "ref", "$link"},
}

// didPaths locate the author DID that owns the blob.
var didPaths = [][]string{
	{"author", "did"},
	{"post", "author", "did"},
}

// VideoCDN is the base of reconstructed playlist URLs.
const VideoCDN = "https://video.bsky.app/watch"

// ExtractVideoURL resolves a downloadable video URL. An explicit URL wins
// over a playlist, and a playlist wins over CDN reconstruction.
func ExtractVideoURL(post map[string]any) string {
	for _, p := range urlPaths {
		if s, _ := deepGet(post, p).(string); s != "" {
			return s
		}
	}
	for _, p := range playlistPaths {
		if s, _ := deepGet(post, p).(string); s != "" {
			return s
		}
	}

	cid := firstAt(post, cidPaths)
	if cid == "" {
		return ""
	}
	did := firstAt(post, didPaths)
	if did == "" {
		if uri, _ := post["uri"].(string); uri != "" {
			if parsed, err := domain.ParseATURI(uri); err == nil {
				did = parsed.Repo
			}
		}
	}
	if !strings.HasPrefix(did, "did:") {
		return ""
	}
	return VideoCDN + "/" + url.QueryEscape(did) + "/" + cid + "/playlist.m3u8"
}

func firstAt(obj map[string]any, paths [][]string) string {
	for _, p := range paths {
		if s, _ := deepGet(obj, p).(string); s != "" {
			return s
		}
	}
	return ""
}
