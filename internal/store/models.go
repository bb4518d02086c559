package store

import (
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Username  string    `gorm:"size:50;uniqueIndex;not null"`
	Email     string    `gorm:"size:100;uniqueIndex;not null"`
	Password  string    `gorm:"not null"`
	IsOnline  bool      `gorm:"column:is_online;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to chat.User.
func (m *UserModel) ToDomain() chat.User {
	return chat.User{ID: chat.UserID(m.ID), Username: m.Username, Online: m.IsOnline}
}

// RoomModel is the GORM model for the chat_rooms table.
type RoomModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"size:100;not null"`
	Description string    `gorm:"type:text"`
	CreatedBy   *int64    `gorm:"column:created_by;index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for RoomModel.
func (RoomModel) TableName() string {
	return "chat_rooms"
}

// ToDomain converts RoomModel to chat.Room.
func (m *RoomModel) ToDomain(members int) chat.Room {
	return chat.Room{
		ID:          chat.RoomID(m.ID),
		Name:        m.Name,
		Description: m.Description,
		MemberCount: members,
		CreatedAt:   m.CreatedAt,
	}
}

// RoomMemberModel is one row of the durable room membership list.
type RoomMemberModel struct {
	RoomID   int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID   int64     `gorm:"primaryKey;autoIncrement:false;index"`
	JoinedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for RoomMemberModel.
func (RoomMemberModel) TableName() string {
	return "room_members"
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	RoomID    int64     `gorm:"index:idx_messages_room_created,priority:1;not null"`
	UserID    int64     `gorm:"index;not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_messages_room_created,priority:2"`

	User UserModel `gorm:"foreignKey:UserID"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to chat.PersistedMessage. User must be
// loaded.
func (m *MessageModel) ToDomain() chat.PersistedMessage {
	return chat.PersistedMessage{
		ID:        m.ID,
		RoomID:    chat.RoomID(m.RoomID),
		UserID:    chat.UserID(m.UserID),
		Username:  m.User.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
