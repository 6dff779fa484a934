package domain

// MediaType tags a detected medium.
type MediaType string

const (
	MediaTypeImage     MediaType = "image"
	MediaTypeVideo     MediaType = "video"
	MediaTypeThumbnail MediaType = "thumbnail"
	MediaTypeBlob      MediaType = "blob"
	MediaTypeUnknown   MediaType = "unknown"
)

// EmbedKind identifies which variant an Embed holds.
type EmbedKind string

const (
	EmbedKindImages          EmbedKind = "images"
	EmbedKindExternal        EmbedKind = "external"
	EmbedKindVideo           EmbedKind = "video"
	EmbedKindRecord          EmbedKind = "record"
	EmbedKindRecordWithMedia EmbedKind = "recordWithMedia"
	EmbedKindUnknown         EmbedKind = "unknown"
)

// Embed is the tagged form of a post embed. Only the fields of its Kind
// are normally set, but legacy shapes can populate several at once.
type Embed struct {
	Kind EmbedKind `json:"kind"`
	Type string    `json:"$type,omitempty"`

	Images   []MediaItem `json:"images,omitempty"`
	Items    []MediaItem `json:"items,omitempty"`
	External *External   `json:"external,omitempty"`
	Video    *VideoRef   `json:"video,omitempty"`
	Media    *Embed      `json:"media,omitempty"`
	Record   *StrongRef  `json:"record,omitempty"`
}

// MediaItem is one entry of an images or items collection.
type MediaItem struct {
	Type     MediaType      `json:"type"`
	MimeType string         `json:"mime_type,omitempty"`
	URL      string         `json:"url,omitempty"`
	Alt      string         `json:"alt,omitempty"`
	Raw      map[string]any `json:"-"`
}

// External is a link card.
type External struct {
	URI   string         `json:"uri"`
	Title string         `json:"title,omitempty"`
	Thumb *Thumb         `json:"thumb,omitempty"`
	Raw   map[string]any `json:"-"`
}

// Thumb is a link card thumbnail. URL is empty when only a blob ref is present.
type Thumb struct {
	URL string         `json:"url,omitempty"`
	Raw map[string]any `json:"-"`
}

// VideoRef is a video attachment in either view or record form.
type VideoRef struct {
	URL       string         `json:"url,omitempty"`
	Playlist  string         `json:"playlist,omitempty"`
	Thumbnail string         `json:"thumbnail,omitempty"`
	CID       string         `json:"cid,omitempty"`
	MimeType  string         `json:"mime_type,omitempty"`
	Alt       string         `json:"alt,omitempty"`
	Raw       map[string]any `json:"-"`
}

// MediaInfo summarises the media attached to a post.
type MediaInfo struct {
	HasMedia     bool        `json:"has_media"`
	MediaTypes   []MediaType `json:"media_types"`
	MediaCount   int         `json:"media_count"`
	MediaURLs    []string    `json:"media_urls"`
	RawMediaRefs []any       `json:"raw_media,omitempty"`
}

// HasType reports whether t was detected.
func (m MediaInfo) HasType(t MediaType) bool {
	for _, mt := range m.MediaTypes {
		if mt == t {
			return true
		}
	}
	return false
}

// HasVideo reports whether a video was detected.
func (m MediaInfo) HasVideo() bool {
	return m.HasType(MediaTypeVideo)
}

// DownloadedVideo is a local copy of a remote video.
type DownloadedVideo struct {
	Path      string `json:"path"`
	SourceURL string `json:"source_url"`
}
