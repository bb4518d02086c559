package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// Append stores a message from userID in roomID and returns it with its
// id, author name and timestamp filled in.
func (s *Store) Append(ctx context.Context, roomID chat.RoomID, userID chat.UserID, content string) (chat.PersistedMessage, error) {
	l := logging.Ctx(ctx)

	var model MessageModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user UserModel
		if err := tx.First(&user, "id = ?", int64(userID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("user %d: %w", userID, chat.ErrNotFound)
			}
			return err
		}
		var room RoomModel
		if err := tx.Select("id").First(&room, "id = ?", int64(roomID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("room %d: %w", roomID, chat.ErrNotFound)
			}
			return err
		}

		model = MessageModel{RoomID: room.ID, UserID: user.ID, Content: content}
		if err := tx.Omit("User").Create(&model).Error; err != nil {
			return err
		}
		model.User = user
		return nil
	})
	if err != nil {
		if !errors.Is(err, chat.ErrNotFound) {
			l.Error().Err(err).Int64(logging.FieldRoomID, int64(roomID)).Msg("failed to append message")
		}
		return chat.PersistedMessage{}, fmt.Errorf("append message: %w", err)
	}

	return model.ToDomain(), nil
}

// List returns one page of a room's messages, newest first. page counts
// from zero.
func (s *Store) List(ctx context.Context, roomID chat.RoomID, page, size int) ([]chat.PersistedMessage, error) {
	page, size = chat.ClampPage(page, size)

	var models []MessageModel
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("room_id = ?", int64(roomID)).
		Order("created_at DESC").
		Order("id DESC").
		Offset(page * size).
		Limit(size).
		Find(&models).Error
	if err != nil {
		l := logging.Ctx(ctx)
		l.Error().Err(err).Int64(logging.FieldRoomID, int64(roomID)).Msg("failed to list messages")
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]chat.PersistedMessage, len(models))
	for i := range models {
		out[i] = models[i].ToDomain()
	}
	return out, nil
}
