package inventory

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/circularmachines/sharedinventory/internal/domain"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

// JoinPhrase in a mention asks the bot to enrol the author.
const JoinPhrase = "join sharedinventory"

// ReplySink publishes a reply to a post.
type ReplySink interface {
	PostReply(ctx context.Context, uri, text string) (*domain.StrongRef, error)
}

// Responder answers mentions according to the author's membership.
type Responder struct {
	store   *Store
	replies ReplySink
	replied repository.ProcessedSet
	logger  *slog.Logger
}

// NewResponder creates a responder. replied records answered mention URIs.
func NewResponder(store *Store, replies ReplySink, replied repository.ProcessedSet, logger *slog.Logger) *Responder {
	return &Responder{
		store:   store,
		replies: replies,
		replied: replied,
		logger:  logger,
	}
}

const (
	nonMemberBody = "You're not currently a member of SharedInventory. " +
		"To become a member and start adding items to the shared inventory, " +
		"mention me with the text 'join SharedInventory'."
	memberBody = "I've noted your post. " +
		"In the future, I'll analyze your post content and add items to the shared inventory."
	welcomeBody = "You're now a member. " +
		"Mention me in a post about an item to share it with the community."
)

func nonMemberReply(handle string) string {
	return fitReply("Hi @"+handle+"! ", "Hi! ", nonMemberBody)
}

func memberReply(handle string) string {
	return fitReply("Thanks for the mention, @"+handle+"! ", "Thanks for the mention! ", memberBody)
}

func welcomeReply(handle string) string {
	return fitReply("Welcome to SharedInventory, @"+handle+"! ", "Welcome to SharedInventory! ", welcomeBody)
}

// fitReply drops the addressed greeting when it would push the reply over
// the post length limit.
func fitReply(greeting, plain, body string) string {
	if text := greeting + body; utf8.RuneCountInString(text) <= domain.MaxReplyLength {
		return text
	}
	return plain + body
}

// IsJoinRequest reports whether text asks to join.
func IsJoinRequest(text string) bool {
	return strings.Contains(strings.ToLower(text), JoinPhrase)
}

// Process answers one mention. Mentions that were already answered are skipped.
func (r *Responder) Process(ctx context.Context, mention domain.MentionRef) error {
	if r.replied.Contains(mention.URI) {
		return nil
	}
	logger := r.logger.With("mention_uri", mention.URI, "author", mention.AuthorHandle)

	member, err := r.store.IsMember(mention.AuthorDID)
	if err != nil {
		logger.Error("membership lookup failed", "error", err)
		return err
	}

	var text string
	switch {
	case member:
		text = memberReply(mention.AuthorHandle)
	case IsJoinRequest(mention.Text):
		if err := r.store.AddMember(domain.Member{DID: mention.AuthorDID, Handle: mention.AuthorHandle}); err != nil {
			logger.Error("failed to add member", "error", err)
			return err
		}
		logger.Info("member joined")
		text = welcomeReply(mention.AuthorHandle)
	default:
		text = nonMemberReply(mention.AuthorHandle)
	}

	if _, err := r.replies.PostReply(ctx, mention.URI, text); err != nil {
		logger.Error("failed to reply", "error", err, "error_kind", domain.ErrorKind(err))
		return err
	}
	if err := r.replied.Add(mention.URI); err != nil {
		logger.Error("failed to record reply", "error", err)
		return err
	}
	logger.Info("mention answered", "member", member)
	return nil
}
