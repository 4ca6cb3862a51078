package api

import (
	"context"
	"net/http"

	"github.com/mapchat/syncd/internal/models"
)

func (s *Server) registerChat(mux *http.ServeMux) {
	unary(mux, s, ChatServiceStartConversationProcedure, s.startConversation)
	unary(mux, s, ChatServiceListConversationsProcedure, s.listConversations)
	unary(mux, s, ChatServiceSendMessageProcedure, s.sendMessage)
	unary(mux, s, ChatServiceSendMediaProcedure, s.sendMedia)
	unary(mux, s, ChatServiceShareLocationProcedure, s.shareLocation)
	unary(mux, s, ChatServiceEditMessageProcedure, s.editMessage)
	unary(mux, s, ChatServiceDeleteMessageProcedure, s.deleteMessage)
	unary(mux, s, ChatServiceMarkReadProcedure, s.markRead)
	unary(mux, s, ChatServiceFetchMessagesProcedure, s.fetchMessages)
	serverStream(mux, s, ChatServiceWatchMessagesProcedure, s.watchMessages)
}

func messageResponse(m *models.Message) *MessageResponse {
	return &MessageResponse{Message: messageView(*m)}
}

func (s *Server) startConversation(ctx context.Context, req *StartConversationRequest) (*ConversationResponse, error) {
	conv, err := s.svc.Chat.StartConversation(ctx, req.Participants)
	if err != nil {
		return nil, err
	}
	return &ConversationResponse{Conversation: *conv}, nil
}

func (s *Server) listConversations(ctx context.Context, _ *Empty) (*ConversationsResponse, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	convs, err := s.svc.Chat.FetchConversations(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ConversationsResponse{Conversations: convs}, nil
}

func (s *Server) sendMessage(ctx context.Context, req *SendMessageRequest) (*MessageResponse, error) {
	msg, err := s.svc.Chat.SendMessage(ctx, req.Text, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return messageResponse(msg), nil
}

func (s *Server) sendMedia(ctx context.Context, req *SendMediaRequest) (*MessageResponse, error) {
	msg, err := s.svc.Chat.SendMedia(ctx, req.Data, req.MediaType, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return messageResponse(msg), nil
}

func (s *Server) shareLocation(ctx context.Context, req *ShareLocationRequest) (*MessageResponse, error) {
	msg, err := s.svc.Chat.ShareLocation(ctx, req.Location, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return messageResponse(msg), nil
}

func (s *Server) editMessage(ctx context.Context, req *EditMessageRequest) (*MessageResponse, error) {
	msg, err := s.svc.Chat.EditMessage(ctx, req.MessageID, req.Text)
	if err != nil {
		return nil, err
	}
	return messageResponse(msg), nil
}

func (s *Server) deleteMessage(ctx context.Context, req *MessageIDRequest) (*Empty, error) {
	return &Empty{}, s.svc.Chat.DeleteMessage(ctx, req.MessageID)
}

func (s *Server) markRead(ctx context.Context, req *MessageIDRequest) (*Empty, error) {
	return &Empty{}, s.svc.Chat.MarkRead(ctx, req.MessageID)
}

func (s *Server) fetchMessages(ctx context.Context, req *FetchMessagesRequest) (*MessagesResponse, error) {
	msgs, err := s.svc.Chat.FetchMessages(ctx, req.ConversationID, req.Limit)
	if err != nil {
		return nil, err
	}
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView(m)
	}
	return &MessagesResponse{Messages: views}, nil
}

func (s *Server) watchMessages(ctx context.Context, req *ConversationIDRequest, send func(*MessageResponse) error) error {
	ch, err := s.svc.Chat.ListenToMessages(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	return forward(ch, send, func(m models.Message) *MessageResponse {
		return messageResponse(&m)
	})
}
