package chat

import (
	"context"
	"strings"

	"team-collab-backend/pkg/apperr"
)

// Handle executes one inbound frame for conn. Failures are reported to conn only,
// as an error event carrying the frame's request id.
func (s *Service) Handle(ctx context.Context, conn Conn, cmd Command) {
	workspaceID := strings.TrimSpace(cmd.WorkspaceID)

	var err error
	switch cmd.Type {
	case CommandJoin:
		if err = requireWorkspace(workspaceID); err == nil {
			if err = s.Join(ctx, conn, workspaceID); err == nil {
				s.reply(conn, Event{Type: EventJoined, WorkspaceID: workspaceID, RequestID: cmd.RequestID})
			}
		}
	case CommandLeave:
		if err = requireWorkspace(workspaceID); err == nil {
			s.Leave(conn, workspaceID)
			s.reply(conn, Event{Type: EventLeft, WorkspaceID: workspaceID, RequestID: cmd.RequestID})
		}
	case CommandSend:
		if err = requireWorkspace(workspaceID); err == nil {
			_, err = s.Send(ctx, workspaceID, conn.UserID(), cmd.Message)
		}
	case CommandRead:
		if strings.TrimSpace(cmd.ChatID) == "" {
			err = apperr.Invalid(apperr.CodeValidation, "chat_id is required")
		} else {
			_, err = s.MarkRead(ctx, strings.TrimSpace(cmd.ChatID), conn.UserID())
		}
	default:
		err = apperr.Invalid(apperr.CodeValidation, "unknown frame type "+cmd.Type)
	}

	if err != nil {
		s.ReplyError(conn, cmd.RequestID, err)
	}
}

// ReplyError sends err to conn alone
func (s *Service) ReplyError(conn Conn, requestID string, err error) {
	code, message := apperr.CodeInternal, "internal error"
	if e, ok := apperr.As(err); ok {
		code, message = e.Code, e.Message
	} else {
		s.logger.Error("chat command failed", "conn_id", conn.ID(), "error", err)
	}
	s.reply(conn, Event{Type: EventError, RequestID: requestID, Error: &ErrorPayload{Code: code, Message: message}})
}

func (s *Service) reply(conn Conn, ev Event) {
	if !conn.Deliver(ev) {
		s.registry.DisconnectAll(conn)
		conn.Close()
	}
}

func requireWorkspace(id string) error {
	if id == "" {
		return apperr.Invalid(apperr.CodeValidation, "workspace_id is required")
	}
	return nil
}
