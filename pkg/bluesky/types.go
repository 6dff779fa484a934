package bluesky

import (
	"encoding/json"
	"time"
)

type author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type strongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRef struct {
	Root   strongRef `json:"root"`
	Parent strongRef `json:"parent"`
}

type postRecord struct {
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
	Embed     any       `json:"embed,omitempty"`
}

type postView struct {
	URI         string     `json:"uri"`
	CID         string     `json:"cid"`
	Author      author     `json:"author"`
	Record      postRecord `json:"record"`
	Embed       any        `json:"embed"`
	ReplyCount  int        `json:"replyCount"`
	RepostCount int        `json:"repostCount"`
	LikeCount   int        `json:"likeCount"`
	IndexedAt   time.Time  `json:"indexedAt"`
}

type notification struct {
	URI       string     `json:"uri"`
	CID       string     `json:"cid"`
	Author    author     `json:"author"`
	Reason    string     `json:"reason"`
	Record    postRecord `json:"record"`
	IsRead    bool       `json:"isRead"`
	IndexedAt time.Time  `json:"indexedAt"`
}

type listNotificationsResponse struct {
	Notifications []notification `json:"notifications"`
	Cursor        string         `json:"cursor"`
}

// threadNode is one node of app.bsky.feed.getPostThread output. Post stays raw
// so the untyped view can be kept alongside the typed one.
type threadNode struct {
	Type     string          `json:"$type"`
	Post     json.RawMessage `json:"post"`
	Parent   *threadNode     `json:"parent"`
	Replies  []threadNode    `json:"replies"`
	NotFound bool            `json:"notFound"`
	Blocked  bool            `json:"blocked"`
}

func (n *threadNode) usable() bool {
	return n != nil && !n.NotFound && !n.Blocked && len(n.Post) > 0 && string(n.Post) != "null"
}

type getPostThreadResponse struct {
	Thread *threadNode `json:"thread"`
}

type getPostsResponse struct {
	Posts []json.RawMessage `json:"posts"`
}

type authorFeedResponse struct {
	Feed []struct {
		Post json.RawMessage `json:"post"`
	} `json:"feed"`
	Cursor string `json:"cursor"`
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type replyRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
}
