package bluesky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/internal/media"
)

const (
	postCollection = "app.bsky.feed.post"
	threadDepth    = 5
	parentHeight   = 20
)

// ListMentions returns the most recent notifications whose reason is "mention".
func (c *Client) ListMentions(ctx context.Context, limit int) ([]domain.MentionRef, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp listNotificationsResponse
	if err := c.authed(ctx, "app.bsky.notification.listNotifications", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("list notifications: %w: %w", domain.ErrTransientIO, err)
	}

	mentions := make([]domain.MentionRef, 0, len(resp.Notifications))
	for _, n := range resp.Notifications {
		if n.Reason != "mention" {
			continue
		}
		mentions = append(mentions, domain.MentionRef{
			URI:          n.URI,
			CID:          n.CID,
			AuthorDID:    n.Author.DID,
			AuthorHandle: n.Author.Handle,
			Text:         n.Record.Text,
			IndexedAt:    n.IndexedAt,
		})
	}
	return mentions, nil
}

// UpdateSeen marks notifications up to seenAt as read.
func (c *Client) UpdateSeen(ctx context.Context, seenAt time.Time) error {
	body := map[string]string{"seenAt": seenAt.UTC().Format(time.RFC3339Nano)}
	if err := c.authed(ctx, "app.bsky.notification.updateSeen", nil, body, nil); err != nil {
		return fmt.Errorf("update seen: %w: %w", domain.ErrTransientIO, err)
	}
	return nil
}

// GetThread resolves uri into the post, its ancestors (oldest first) and its direct replies.
// The public AppView is tried first; the authenticated PDS is the fallback.
func (c *Client) GetThread(ctx context.Context, uri string) (*domain.ThreadStructure, error) {
	if _, err := domain.ParseATURI(uri); err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}

	q := url.Values{}
	q.Set("uri", uri)
	q.Set("depth", strconv.Itoa(threadDepth))
	q.Set("parentHeight", strconv.Itoa(parentHeight))

	var resp getPostThreadResponse
	err := c.call(ctx, c.cfg.PublicURL, "app.bsky.feed.getPostThread", q, nil, "", &resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug("public thread fetch failed, using PDS", "uri", uri, "error", err)
		resp = getPostThreadResponse{}
		err = c.authed(ctx, "app.bsky.feed.getPostThread", q, nil, &resp)
	}
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, uri)
		}
		return nil, fmt.Errorf("get thread %s: %w: %w", uri, domain.ErrTransientIO, err)
	}
	if !resp.Thread.usable() {
		return nil, fmt.Errorf("%w: %s", domain.ErrThreadNotFound, uri)
	}

	return buildThread(resp.Thread)
}

func isNotFound(err error) bool {
	var xe *XRPCError
	return errors.As(err, &xe) && (xe.Name == "NotFound" || xe.StatusCode == 404)
}

func buildThread(node *threadNode) (*domain.ThreadStructure, error) {
	main, err := decodePost(node.Post)
	if err != nil {
		return nil, err
	}
	thread := &domain.ThreadStructure{Main: *main}

	for p := node.Parent; p.usable(); p = p.Parent {
		post, err := decodePost(p.Post)
		if err != nil {
			return nil, err
		}
		thread.Parents = append(thread.Parents, *post)
	}
	slices.Reverse(thread.Parents)

	for i := range node.Replies {
		r := &node.Replies[i]
		if !r.usable() {
			continue
		}
		post, err := decodePost(r.Post)
		if err != nil {
			return nil, err
		}
		thread.Replies = append(thread.Replies, *post)
	}
	return thread, nil
}

// decodePost decodes a post view into both its typed and untyped forms.
func decodePost(data json.RawMessage) (*domain.Post, error) {
	var view postView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("decode post view: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode post view: %w", err)
	}

	post := &domain.Post{
		URI:          view.URI,
		CID:          view.CID,
		AuthorDID:    view.Author.DID,
		AuthorHandle: view.Author.Handle,
		DisplayName:  view.Author.DisplayName,
		Text:         view.Record.Text,
		IndexedAt:    view.IndexedAt,
		ReplyCount:   view.ReplyCount,
		RepostCount:  view.RepostCount,
		LikeCount:    view.LikeCount,
		Embed:        media.ParseEmbed(view.Embed),
		Raw:          raw,
	}
	if post.Embed == nil {
		post.Embed = media.ParseEmbed(view.Record.Embed)
	}
	if r := view.Record.Reply; r != nil {
		post.Reply = &domain.ReplyRef{
			Root:   domain.StrongRef{URI: r.Root.URI, CID: r.Root.CID},
			Parent: domain.StrongRef{URI: r.Parent.URI, CID: r.Parent.CID},
		}
	}
	return post, nil
}

// GetPost fetches a single post view.
func (c *Client) GetPost(ctx context.Context, uri string) (*domain.Post, error) {
	q := url.Values{}
	q.Set("uris", uri)

	var resp getPostsResponse
	if err := c.authed(ctx, "app.bsky.feed.getPosts", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("get post %s: %w: %w", uri, domain.ErrTransientIO, err)
	}
	if len(resp.Posts) == 0 {
		return nil, fmt.Errorf("post %w: %s", domain.ErrNotFound, uri)
	}
	return decodePost(resp.Posts[0])
}

// PostReply publishes text as a reply to the post at uri. The reply root is
// the target's own root when it is itself a reply.
func (c *Client) PostReply(ctx context.Context, uri, text string) (*domain.StrongRef, error) {
	if n := utf8.RuneCountInString(text); n > domain.MaxReplyLength {
		return nil, fmt.Errorf("%w: got %d", domain.ErrReplyTooLong, n)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReplyAttempts; attempt++ {
		ref, err := c.postReplyOnce(ctx, uri, text)
		if err == nil {
			c.logger.Info("reply posted", "parent", uri, "uri", ref.URI)
			return ref, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("reply attempt failed", "parent", uri, "attempt", attempt, "error", err)
		if attempt == c.cfg.ReplyAttempts {
			break
		}
		if err := c.sleep(ctx, c.cfg.ReplyDelay); err != nil {
			lastErr = err
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %w", domain.ErrReplyFailed, uri, lastErr)
}

func (c *Client) postReplyOnce(ctx context.Context, uri, text string) (*domain.StrongRef, error) {
	parent, err := c.GetPost(ctx, uri)
	if err != nil {
		return nil, err
	}

	ref := &replyRef{
		Root:   strongRef{URI: parent.URI, CID: parent.CID},
		Parent: strongRef{URI: parent.URI, CID: parent.CID},
	}
	if parent.Reply != nil && parent.Reply.Root.URI != "" {
		ref.Root = strongRef{URI: parent.Reply.Root.URI, CID: parent.Reply.Root.CID}
	}

	sess, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	req := createRecordRequest{
		Repo:       sess.DID,
		Collection: postCollection,
		Record: replyRecord{
			Type:      postCollection,
			Text:      text,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
			Reply:     ref,
		},
	}

	var resp createRecordResponse
	if err := c.authed(ctx, "com.atproto.repo.createRecord", nil, req, &resp); err != nil {
		return nil, err
	}
	return &domain.StrongRef{URI: resp.URI, CID: resp.CID}, nil
}

// GetAuthorFeed returns the most recent posts of actor.
func (c *Client) GetAuthorFeed(ctx context.Context, actor string, limit int) ([]domain.Post, error) {
	q := url.Values{}
	q.Set("actor", actor)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp authorFeedResponse
	if err := c.authed(ctx, "app.bsky.feed.getAuthorFeed", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("author feed %s: %w: %w", actor, domain.ErrTransientIO, err)
	}

	posts := make([]domain.Post, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		p, err := decodePost(item.Post)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, nil
}
