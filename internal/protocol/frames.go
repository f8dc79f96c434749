package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cwrk-planet/deal-chat/internal/domain"

	"github.com/go-playground/validator/v10"
)

// Действия клиент -> сервер
const (
	ActionSendMessage   = "send_message"
	ActionTyping        = "typing"
	ActionMarkRead      = "mark_read"
	ActionCloseChat     = "close_chat"
	ActionEditMessage   = "edit_message"
	ActionDeleteMessage = "delete_message"
	ActionRequestStatus = "request_status"
)

type SendMessage struct {
	Content    string             `json:"content"`
	Kind       string             `json:"kind" validate:"omitempty,oneof=text image file"`
	Attachment *domain.Attachment `json:"attachment,omitempty"`
}

type Typing struct {
	IsTyping *bool `json:"is_typing" validate:"required"`
}

type EditMessage struct {
	MessageID string `json:"message_id" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type DeleteMessage struct {
	MessageID string `json:"message_id" validate:"required"`
}

// Frame — разобранный входящий кадр. Заполнено ровно одно поле действия.
type Frame struct {
	Action string

	Send   *SendMessage
	Typing *Typing
	Edit   *EditMessage
	Delete *DeleteMessage
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate прогоняет структуру через validator и возвращает ErrInvalidPayload.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return domain.Invalidf("%s", describe(err))
	}
	return nil
}

// Decode разбирает {action, ...fields}. Любая ошибка — ErrInvalidPayload.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Frame{}, domain.Invalidf("malformed json")
	}
	f := Frame{Action: strings.TrimSpace(head.Action)}

	var target any
	switch f.Action {
	case ActionSendMessage:
		f.Send = &SendMessage{}
		target = f.Send
	case ActionTyping:
		f.Typing = &Typing{}
		target = f.Typing
	case ActionEditMessage:
		f.Edit = &EditMessage{}
		target = f.Edit
	case ActionDeleteMessage:
		f.Delete = &DeleteMessage{}
		target = f.Delete
	case ActionMarkRead, ActionCloseChat, ActionRequestStatus:
		return f, nil
	case "":
		return Frame{}, domain.Invalidf("missing action")
	default:
		return Frame{}, domain.Invalidf("unknown action %q", f.Action)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(target); err != nil {
		return Frame{}, domain.Invalidf("malformed %s payload", f.Action)
	}
	if err := Validate(target); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	return fmt.Sprintf("field %s failed %s", strings.ToLower(fe.Field()), fe.Tag())
}
