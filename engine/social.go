package engine

import (
	"context"
	"fmt"

	"progresskit/core"
)

// resolveEntry normalizes the owner and checks the entry exists.
func (s *ProgressService) resolveEntry(ctx context.Context, ref core.EntryRef) (core.EntryRef, error) {
	owner, err := core.NormalizeUserID(ref.Owner)
	if err != nil {
		return core.EntryRef{}, err
	}
	ref.Owner = owner
	if _, err := s.storage.GetEntry(ctx, owner, ref.EntryID); err != nil {
		return core.EntryRef{}, err
	}
	return ref, nil
}

// AddComment stores a comment by author on the referenced entry and counts
// it as one comment interaction of the author. The interaction follow-ups
// are fail-soft.
func (s *ProgressService) AddComment(ctx context.Context, ref core.EntryRef, author core.UserID, content string) (core.Comment, error) {
	ref, err := s.resolveEntry(ctx, ref)
	if err != nil {
		return core.Comment{}, err
	}
	author, err = core.NormalizeUserID(author)
	if err != nil {
		return core.Comment{}, err
	}
	text, err := core.CommentContent(content)
	if err != nil {
		return core.Comment{}, err
	}
	now := s.now().UTC()
	c := core.Comment{ID: s.newID(), EntryRef: ref, Author: author, Content: text, CreatedAt: now, UpdatedAt: now}
	if err := s.storage.AddComment(ctx, c); err != nil {
		return core.Comment{}, fmt.Errorf("store comment: %w", err)
	}
	if _, err := s.RecordInteraction(ctx, author, core.InteractionComment); err != nil {
		s.logger.Warn("record comment interaction failed", "user", author, "comment", c.ID, "error", err)
	}
	return c, nil
}

// ownComment loads a comment and hides it from anyone but its author.
func (s *ProgressService) ownComment(ctx context.Context, ref core.EntryRef, actor core.UserID, id string) (core.Comment, error) {
	owner, err := core.NormalizeUserID(ref.Owner)
	if err != nil {
		return core.Comment{}, err
	}
	ref.Owner = owner
	actor, err = core.NormalizeUserID(actor)
	if err != nil {
		return core.Comment{}, err
	}
	c, err := s.storage.GetComment(ctx, ref, id)
	if err != nil {
		return core.Comment{}, err
	}
	if c.Author != actor {
		return core.Comment{}, fmt.Errorf("comment %s: %w", id, core.ErrNotFound)
	}
	return c, nil
}

// UpdateComment replaces the content of a comment. Only its author may edit it.
func (s *ProgressService) UpdateComment(ctx context.Context, ref core.EntryRef, actor core.UserID, id, content string) (core.Comment, error) {
	c, err := s.ownComment(ctx, ref, actor, id)
	if err != nil {
		return core.Comment{}, err
	}
	if c.Content, err = core.CommentContent(content); err != nil {
		return core.Comment{}, err
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.storage.UpdateComment(ctx, c); err != nil {
		return core.Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return c, nil
}

// DeleteComment removes a comment. Only its author may delete it; the
// interaction count it produced is kept.
func (s *ProgressService) DeleteComment(ctx context.Context, ref core.EntryRef, actor core.UserID, id string) error {
	c, err := s.ownComment(ctx, ref, actor, id)
	if err != nil {
		return err
	}
	return s.storage.DeleteComment(ctx, c.EntryRef, id)
}

// Comments lists the comments of an entry oldest first.
func (s *ProgressService) Comments(ctx context.Context, ref core.EntryRef) ([]core.Comment, error) {
	ref, err := s.resolveEntry(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.storage.ListComments(ctx, ref)
}

// React adds a reaction of typ by user. Repeating a reaction is a no-op, and
// only the call that inserted it counts as a reaction interaction.
func (s *ProgressService) React(ctx context.Context, ref core.EntryRef, user core.UserID, typ string) (core.Reaction, bool, error) {
	ref, err := s.resolveEntry(ctx, ref)
	if err != nil {
		return core.Reaction{}, false, err
	}
	user, err = core.NormalizeUserID(user)
	if err != nil {
		return core.Reaction{}, false, err
	}
	if typ, err = core.ReactionType(typ); err != nil {
		return core.Reaction{}, false, err
	}
	r := core.Reaction{EntryRef: ref, User: user, Type: typ, CreatedAt: s.now().UTC()}
	inserted, err := s.storage.AddReaction(ctx, r)
	if err != nil {
		return core.Reaction{}, false, fmt.Errorf("store reaction: %w", err)
	}
	if inserted {
		if _, err := s.RecordInteraction(ctx, user, core.InteractionReaction); err != nil {
			s.logger.Warn("record reaction interaction failed", "user", user, "entry", ref.EntryID, "error", err)
		}
	}
	return r, inserted, nil
}

// Unreact removes a reaction and reports whether one existed.
func (s *ProgressService) Unreact(ctx context.Context, ref core.EntryRef, user core.UserID, typ string) (bool, error) {
	owner, err := core.NormalizeUserID(ref.Owner)
	if err != nil {
		return false, err
	}
	ref.Owner = owner
	user, err = core.NormalizeUserID(user)
	if err != nil {
		return false, err
	}
	if typ, err = core.ReactionType(typ); err != nil {
		return false, err
	}
	return s.storage.RemoveReaction(ctx, ref, user, typ)
}

// Reactions groups the reactions of an entry by type, each group oldest first.
func (s *ProgressService) Reactions(ctx context.Context, ref core.EntryRef) (map[string][]core.Reaction, error) {
	ref, err := s.resolveEntry(ctx, ref)
	if err != nil {
		return nil, err
	}
	list, err := s.storage.ListReactions(ctx, ref)
	if err != nil {
		return nil, err
	}
	return core.GroupReactions(list), nil
}
