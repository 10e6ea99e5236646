// Package chat is the workspace chat: rooms of live connections, persisted
// messages, broadcast and read receipts.
//
// Each room is the single ordering point for its messages: persisting a message and
// fanning it out happen under the room's lock, so every member sees the room's
// messages in acceptance order and history order matches broadcast order.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"team-collab-backend/pkg/apperr"
	"team-collab-backend/pkg/clock"
	"team-collab-backend/pkg/database"
	"team-collab-backend/pkg/models"
)

const maxMessageLength = 4000

// Members resolves a user's role inside a workspace
type Members interface {
	Role(ctx context.Context, workspaceID, userID string) (*models.Workspace, models.WorkspaceRole, error)
}

type Service struct {
	db       database.DatabaseInterface
	members  Members
	registry *Registry
	clock    clock.Clock
	logger   *slog.Logger
}

func NewService(db database.DatabaseInterface, members Members, registry *Registry, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{db: db, members: members, registry: registry, clock: clk, logger: logger}
}

// Registry returns the room registry owned by the service
func (s *Service) Registry() *Registry {
	return s.registry
}

// Join registers conn in the workspace room after checking the connection's user
// belongs to the workspace. Joining twice is a no-op.
func (s *Service) Join(ctx context.Context, conn Conn, workspaceID string) error {
	if _, _, err := s.members.Role(ctx, workspaceID, conn.UserID()); err != nil {
		return err
	}
	if !s.registry.Join(conn, workspaceID) {
		return nil
	}
	// membership may have been revoked between the check and the join
	if _, _, err := s.members.Role(ctx, workspaceID, conn.UserID()); err != nil {
		s.registry.Leave(conn, workspaceID)
		return err
	}
	s.logger.Debug("connection joined room", "conn_id", conn.ID(), "workspace_id", workspaceID)
	return nil
}

// EvictMember removes every connection of a user who lost access to the workspace
// and tells each of them it left the room.
func (s *Service) EvictMember(workspaceID, userID string) {
	conns := s.registry.EvictUser(workspaceID, userID)
	for _, c := range conns {
		s.reply(c, Event{Type: EventLeft, WorkspaceID: workspaceID})
	}
	if len(conns) > 0 {
		s.logger.Info("evicted removed member from room", "workspace_id", workspaceID, "user_id", userID, "connections", len(conns))
	}
}

// Leave removes conn from one room
func (s *Service) Leave(conn Conn, workspaceID string) {
	if s.registry.Leave(conn, workspaceID) {
		s.logger.Debug("connection left room", "conn_id", conn.ID(), "workspace_id", workspaceID)
	}
}

// Disconnect removes conn from every room
func (s *Service) Disconnect(conn Conn) {
	left := s.registry.DisconnectAll(conn)
	s.logger.Debug("connection disconnected", "conn_id", conn.ID(), "rooms", len(left))
}

// Send persists a message from senderID and broadcasts it to every connection in the
// room, the sender's own included. The sender counts as having read it.
func (s *Service) Send(ctx context.Context, workspaceID, senderID, text string) (*models.ChatMessageView, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.Invalid(apperr.CodeValidation, "message cannot be empty")
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, apperr.Invalid(apperr.CodeValidation, "message is too long")
	}
	if _, _, err := s.members.Role(ctx, workspaceID, senderID); err != nil {
		return nil, err
	}
	sender, err := s.db.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeUserNotFound, "user")
	}

	var view *models.ChatMessageView
	err = s.registry.Serialize(workspaceID, s.clock.Now(), func(createdAt time.Time) error {
		msg := &models.ChatMessage{
			WorkspaceID: workspaceID,
			SenderID:    senderID,
			Message:     text,
			ReadBy:      []string{senderID},
			CreatedAt:   createdAt,
		}
		if err := s.db.CreateChat(ctx, msg); err != nil {
			return database.Classify(err, apperr.CodeChatNotFound, "chat")
		}
		view = &models.ChatMessageView{ChatMessage: *msg, Sender: sender.Summary()}
		n := s.registry.Broadcast(workspaceID, Event{Type: EventMessage, WorkspaceID: workspaceID, Message: view})
		s.logger.Debug("chat message broadcast", "chat_id", msg.ID, "workspace_id", workspaceID, "delivered", n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// MarkRead records that userID read chatID. Repeating it changes nothing and
// broadcasts nothing; the first time a read receipt goes to the message's room.
func (s *Service) MarkRead(ctx context.Context, chatID, userID string) (*models.ChatMessage, error) {
	chat, err := s.db.GetChat(ctx, chatID)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeChatNotFound, "chat")
	}
	if _, _, err := s.members.Role(ctx, chat.WorkspaceID, userID); err != nil {
		return nil, err
	}
	if chat.HasReader(userID) {
		return chat, nil
	}

	var updated *models.ChatMessage
	err = s.registry.Exclusive(chat.WorkspaceID, func() error {
		c, added, err := s.db.AddChatReader(ctx, chatID, userID)
		if err != nil {
			return database.Classify(err, apperr.CodeChatNotFound, "chat")
		}
		updated = c
		if !added {
			return nil
		}
		s.registry.Broadcast(c.WorkspaceID, Event{
			Type:        EventReadReceipt,
			WorkspaceID: c.WorkspaceID,
			Receipt: &models.ReadReceipt{
				ChatID:      c.ID,
				WorkspaceID: c.WorkspaceID,
				UserID:      userID,
				ReadBy:      c.ReadBy,
			},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListHistory returns the room's messages oldest first with senders resolved
func (s *Service) ListHistory(ctx context.Context, actorID, workspaceID string) ([]models.ChatMessageView, error) {
	if _, _, err := s.members.Role(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	msgs, err := s.db.ListChatsByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeChatNotFound, "chat")
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	users, err := s.db.ListUsersByIDs(ctx, ids)
	if err != nil {
		return nil, database.Classify(err, apperr.CodeUserNotFound, "user")
	}
	senders := make(map[string]models.UserSummary, len(users))
	for i := range users {
		senders[users[i].ID] = users[i].Summary()
	}

	views := make([]models.ChatMessageView, 0, len(msgs))
	for _, m := range msgs {
		sender, ok := senders[m.SenderID]
		if !ok {
			sender = models.UserSummary{ID: m.SenderID}
		}
		views = append(views, models.ChatMessageView{ChatMessage: m, Sender: sender})
	}
	return views, nil
}
