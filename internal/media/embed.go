// Package media inspects post structures for attached media.
package media

import (
	"strings"

	"github.com/circularmachines/sharedinventory/internal/domain"
)

// ParseEmbed converts an untyped embed payload into its tagged form.
// Both the view shape (app.bsky.embed.*#view) and the record shape are accepted.
// It returns nil for anything that is not a non-empty object.
func ParseEmbed(raw any) *domain.Embed {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}

	e := &domain.Embed{Type: stringAt(m, "$type")}

	if imgs, ok := m["images"].([]any); ok {
		e.Images = parseItems(imgs)
	}
	if items, ok := m["items"].([]any); ok {
		e.Items = parseItems(items)
	}
	if ext, ok := m["external"].(map[string]any); ok {
		e.External = parseExternal(ext)
	}
	if v, ok := m["video"].(map[string]any); ok {
		e.Video = parseVideo(v)
	}
	if media, ok := m["media"].(map[string]any); ok {
		e.Media = ParseEmbed(media)
		// A media object that is nothing but a url is a direct video link.
		if e.Media != nil && e.Media.Kind == domain.EmbedKindUnknown && stringAt(media, "url") != "" {
			e.Media.Video = parseVideo(media)
			e.Media.Kind = domain.EmbedKindVideo
		}
	}
	if rec, ok := m["record"].(map[string]any); ok {
		if uri := stringAt(rec, "uri"); uri != "" {
			e.Record = &domain.StrongRef{URI: uri, CID: stringAt(rec, "cid")}
		}
	}

	e.Kind = kindOf(e.Type, e)

	// A video view carries its fields at the top level rather than under "video".
	if e.Video == nil && (e.Kind == domain.EmbedKindVideo || stringAt(m, "playlist") != "") {
		e.Video = parseVideo(m)
		e.Kind = domain.EmbedKindVideo
	}

	return e
}

func kindOf(typ string, e *domain.Embed) domain.EmbedKind {
	base, _, _ := strings.Cut(typ, "#")
	switch base {
	case "app.bsky.embed.images":
		return domain.EmbedKindImages
	case "app.bsky.embed.external":
		return domain.EmbedKindExternal
	case "app.bsky.embed.video":
		return domain.EmbedKindVideo
	case "app.bsky.embed.recordWithMedia":
		return domain.EmbedKindRecordWithMedia
	case "app.bsky.embed.record":
		return domain.EmbedKindRecord
	}

	switch {
	case e.Media != nil:
		return domain.EmbedKindRecordWithMedia
	case e.Video != nil:
		return domain.EmbedKindVideo
	case len(e.Images) > 0:
		return domain.EmbedKindImages
	case e.External != nil:
		return domain.EmbedKindExternal
	case e.Record != nil:
		return domain.EmbedKindRecord
	}
	return domain.EmbedKindUnknown
}

// parseItems types each item by MIME, then by sub-object, then by image-only fields.
func parseItems(raw []any) []domain.MediaItem {
	items := make([]domain.MediaItem, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			items = append(items, domain.MediaItem{Type: domain.MediaTypeUnknown})
			continue
		}
		item := domain.MediaItem{
			MimeType: firstString(m, "mimeType", "mime_type"),
			Alt:      stringAt(m, "alt"),
			Raw:      m,
		}
		video, hasVideo := m["video"].(map[string]any)
		image, hasImage := m["image"].(map[string]any)

		switch {
		case item.MimeType != "":
			mime := strings.ToLower(item.MimeType)
			switch {
			case strings.HasPrefix(mime, "image/"):
				item.Type = domain.MediaTypeImage
			case strings.HasPrefix(mime, "video/"):
				item.Type = domain.MediaTypeVideo
			default:
				item.Type = domain.MediaType(mime)
			}
		case hasVideo:
			item.Type = domain.MediaTypeVideo
			item.URL = stringAt(video, "url")
		case hasImage:
			item.Type = domain.MediaTypeImage
			item.URL = stringAt(image, "url")
		default:
			_, hasAlt := m["alt"]
			_, hasAspect := m["aspectRatio"]
			if hasAlt || hasAspect {
				item.Type = domain.MediaTypeImage
			} else {
				item.Type = domain.MediaTypeUnknown
			}
		}
		if item.URL == "" {
			item.URL = stringAt(m, "fullsize")
		}
		items = append(items, item)
	}
	return items
}

func parseExternal(m map[string]any) *domain.External {
	ext := &domain.External{
		URI:   stringAt(m, "uri"),
		Title: stringAt(m, "title"),
		Raw:   m,
	}
	switch thumb := m["thumb"].(type) {
	case string:
		if thumb != "" {
			ext.Thumb = &domain.Thumb{URL: thumb}
		}
	case map[string]any:
		ext.Thumb = &domain.Thumb{URL: stringAt(thumb, "url"), Raw: thumb}
	}
	return ext
}

func parseVideo(m map[string]any) *domain.VideoRef {
	v := &domain.VideoRef{
		URL:       stringAt(m, "url"),
		Playlist:  stringAt(m, "playlist"),
		Thumbnail: stringAt(m, "thumbnail"),
		CID:       stringAt(m, "cid"),
		MimeType:  firstString(m, "mimeType", "mime_type"),
		Alt:       stringAt(m, "alt"),
		Raw:       m,
	}
	if v.CID == "" {
		if ref, ok := m["ref"].(map[string]any); ok {
			v.CID = stringAt(ref, "$link")
		}
	}
	return v
}

// deepGet walks path through nested objects and returns nil on any miss.
func deepGet(obj any, path []string) any {
	cur := obj
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[key]
		if !ok {
			return nil
		}
	}
	return cur
}

func stringAt(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringAt(m, k); s != "" {
			return s
		}
	}
	return ""
}
