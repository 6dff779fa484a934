package domain

import (
	"strings"
	"time"
)

// StrongRef is a reference to a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyRef contains references to the parent and root of a reply chain.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// MentionRef is a notification that referenced the bot's handle.
type MentionRef struct {
	URI          string    `json:"uri"`
	CID          string    `json:"cid"`
	AuthorDID    string    `json:"author_did"`
	AuthorHandle string    `json:"author_handle"`
	Text         string    `json:"text"`
	IndexedAt    time.Time `json:"indexed_at"`
}

// Post is a single post view inside a thread.
type Post struct {
	URI          string    `json:"uri"`
	CID          string    `json:"cid"`
	AuthorDID    string    `json:"author_did"`
	AuthorHandle string    `json:"author_handle"`
	DisplayName  string    `json:"display_name,omitempty"`
	Text         string    `json:"text"`
	IndexedAt    time.Time `json:"indexed_at"`
	Reply        *ReplyRef `json:"reply,omitempty"`
	ReplyCount   int       `json:"reply_count"`
	RepostCount  int       `json:"repost_count"`
	LikeCount    int       `json:"like_count"`
	Embed        *Embed    `json:"embed,omitempty"`

	// Raw is the untyped post view as returned by the server.
	Raw map[string]any `json:"-"`
}

// IsReply reports whether the post replies to another post.
func (p *Post) IsReply() bool {
	return p.Reply != nil && p.Reply.Parent.URI != ""
}

// ThreadStructure is a post with its ancestors and direct replies.
type ThreadStructure struct {
	Main    Post   `json:"main_post"`
	Parents []Post `json:"parent_posts"` // oldest first
	Replies []Post `json:"reply_posts"`
}

// RootURI returns the URI of the earliest ancestor, or the main post when there is none.
func (t *ThreadStructure) RootURI() string {
	if len(t.Parents) > 0 {
		return t.Parents[0].URI
	}
	return t.Main.URI
}

// RootPost returns the post identified by RootURI.
func (t *ThreadStructure) RootPost() *Post {
	if len(t.Parents) > 0 {
		return &t.Parents[0]
	}
	return &t.Main
}

// ATURI is a parsed at:// record URI.
type ATURI struct {
	Repo       string
	Collection string
	RKey       string
}

// ParseATURI splits at://repo/collection/rkey.
func ParseATURI(uri string) (ATURI, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return ATURI{}, ErrInvalidPostURI
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ATURI{}, ErrInvalidPostURI
	}
	return ATURI{Repo: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// String formats the URI back to at:// form.
func (u ATURI) String() string {
	return "at://" + u.Repo + "/" + u.Collection + "/" + u.RKey
}
