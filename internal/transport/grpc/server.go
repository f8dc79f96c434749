package grpcx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cwrk-planet/deal-chat/internal/domain"
	"github.com/cwrk-planet/deal-chat/internal/identity"
	"github.com/cwrk-planet/deal-chat/internal/protocol"
	"github.com/cwrk-planet/deal-chat/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName — сообщения сервиса google.protobuf.Struct, кодогенерация не нужна.
const ServiceName = "dealchat.v1.ChatService"

const (
	MethodOpenRoom          = "OpenRoom"
	MethodListRooms         = "ListRooms"
	MethodListMessages      = "ListMessages"
	MethodSendMessage       = "SendMessage"
	MethodMarkRead          = "MarkRead"
	MethodCloseRoom         = "CloseRoom"
	MethodListNotifications = "ListNotifications"
)

type ChatServiceServer interface {
	OpenRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodOpenRoom, ChatServiceServer.OpenRoom),
		unary(MethodListRooms, ChatServiceServer.ListRooms),
		unary(MethodListMessages, ChatServiceServer.ListMessages),
		unary(MethodSendMessage, ChatServiceServer.SendMessage),
		unary(MethodMarkRead, ChatServiceServer.MarkRead),
		unary(MethodCloseRoom, ChatServiceServer.CloseRoom),
		unary(MethodListNotifications, ChatServiceServer.ListNotifications),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dealchat/v1/chat.proto",
}

func unary(name string, call func(ChatServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(ChatServiceServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(impl, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

type Rooms interface {
	GetOrCreate(ctx context.Context, listingID, buyerID string) (*domain.Room, domain.RoomOutcome, error)
	ListForUser(ctx context.Context, userID string, limit int, cursor string) ([]domain.RoomSummary, string, error)
	Messages(ctx context.Context, roomID, userID string, page domain.MessagePage) ([]domain.ChatMessage, error)
	AppendMessage(ctx context.Context, roomID, senderID string, in service.SendInput) (*domain.ChatMessage, error)
	MarkRead(ctx context.Context, roomID, userID string) (time.Time, error)
	Close(ctx context.Context, roomID, actorID string) (*domain.Room, bool, error)
}

type Notifications interface {
	List(ctx context.Context, userID string, page domain.NotificationPage) (*service.NotificationList, error)
}

type Server struct {
	rooms Rooms
	notes Notifications
}

var _ ChatServiceServer = (*Server)(nil)

func NewServer(rooms Rooms, notes Notifications) *Server {
	return &Server{rooms: rooms, notes: notes}
}

func Register(grpcServer *grpc.Server, s *Server) {
	grpcServer.RegisterService(&ServiceDesc, s)
}

// -------- requests --------

type openRoomRequest struct {
	ListingID string `json:"listing_id" validate:"required"`
}

type listRoomsRequest struct {
	Limit  int    `json:"limit" validate:"gte=0"`
	Cursor string `json:"cursor"`
}

type roomRequest struct {
	RoomID string `json:"room_id" validate:"required"`
}

type listMessagesRequest struct {
	RoomID string     `json:"room_id" validate:"required"`
	After  string     `json:"after"`
	Since  *time.Time `json:"since"`
	Limit  int        `json:"limit" validate:"gte=0"`
}

type sendMessageRequest struct {
	RoomID string `json:"room_id" validate:"required"`
	protocol.SendMessage
}

type listNotificationsRequest struct {
	Limit  int    `json:"limit" validate:"gte=0"`
	Cursor string `json:"cursor"`
	Unread bool   `json:"unread"`
}

// -------- methods --------

func (s *Server) OpenRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req openRoomRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	room, outcome, err := s.rooms.GetOrCreate(ctx, req.ListingID, userFromCtx(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return reply(map[string]any{"room": room, "outcome": outcome.String()})
}

func (s *Server) ListRooms(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listRoomsRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	items, next, err := s.rooms.ListForUser(ctx, userFromCtx(ctx), req.Limit, req.Cursor)
	if err != nil {
		return nil, mapErr(err)
	}
	if items == nil {
		items = []domain.RoomSummary{}
	}
	return reply(map[string]any{"items": items, "next_cursor": next})
}

func (s *Server) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listMessagesRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	items, err := s.rooms.Messages(ctx, req.RoomID, userFromCtx(ctx), domain.MessagePage{
		AfterID: req.After,
		Since:   req.Since,
		Limit:   req.Limit,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	if items == nil {
		items = []domain.ChatMessage{}
	}
	return reply(map[string]any{"items": items})
}

func (s *Server) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sendMessageRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	msg, err := s.rooms.AppendMessage(ctx, req.RoomID, userFromCtx(ctx), service.SendInput{
		Content:    req.Content,
		Kind:       req.Kind,
		Attachment: req.Attachment,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return reply(map[string]any{"message": msg})
}

func (s *Server) MarkRead(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req roomRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	at, err := s.rooms.MarkRead(ctx, req.RoomID, userFromCtx(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return reply(map[string]any{"room_id": req.RoomID, "read_at": at})
}

func (s *Server) CloseRoom(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req roomRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	room, changed, err := s.rooms.Close(ctx, req.RoomID, userFromCtx(ctx))
	if err != nil {
		return nil, mapErr(err)
	}
	return reply(map[string]any{"room": room, "changed": changed})
}

func (s *Server) ListNotifications(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listNotificationsRequest
	if err := decode(in, &req); err != nil {
		return nil, mapErr(err)
	}
	list, err := s.notes.List(ctx, userFromCtx(ctx), domain.NotificationPage{
		Limit:      req.Limit,
		Cursor:     req.Cursor,
		UnreadOnly: req.Unread,
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return reply(list)
}

// -------- helpers --------

// userFromCtx — пользователь кладётся в ctx AuthUnaryInterceptor'ом.
func userFromCtx(ctx context.Context) string {
	uid, _ := identity.UserFromContext(ctx)
	return uid
}

// decode: Struct -> JSON -> типизированный запрос + validator.
func decode(in *structpb.Struct, dst any) error {
	b, err := json.Marshal(in.AsMap())
	if err != nil {
		return domain.Invalidf("%v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalidf("%v", err)
	}
	return protocol.Validate(dst)
}

// reply сериализует ответ теми же json-тегами, что и HTTP.
func reply(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func mapErr(err error) error {
	switch domain.Classify(err) {
	case domain.ClassNone:
		return nil
	case domain.ClassUnauthorized:
		return status.Error(codes.Unauthenticated, err.Error())
	case domain.ClassForbidden:
		return status.Error(codes.PermissionDenied, err.Error())
	case domain.ClassNotFound:
		return status.Error(codes.NotFound, err.Error())
	case domain.ClassRoomClosed:
		return status.Error(codes.FailedPrecondition, err.Error())
	case domain.ClassInvalid:
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		slog.Error("grpc dependency failure", "err", err)
		return status.Error(codes.Unavailable, "service temporarily unavailable")
	}
}
