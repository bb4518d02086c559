package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
)

// FindRoom retrieves a room by ID together with its durable member count.
func (s *Store) FindRoom(ctx context.Context, id chat.RoomID) (chat.Room, error) {
	l := logging.Ctx(ctx)

	var model RoomModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", int64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.Room{}, fmt.Errorf("room %d: %w", id, chat.ErrNotFound)
		}
		l.Error().Err(err).Int64(logging.FieldRoomID, int64(id)).Msg("failed to get room by id")
		return chat.Room{}, err
	}

	var members int64
	if err := s.db.WithContext(ctx).Model(&RoomMemberModel{}).Where("room_id = ?", model.ID).Count(&members).Error; err != nil {
		l.Error().Err(err).Int64(logging.FieldRoomID, int64(id)).Msg("failed to count room members")
		return chat.Room{}, err
	}

	return model.ToDomain(int(members)), nil
}

// FindUser retrieves a user by ID.
func (s *Store) FindUser(ctx context.Context, id chat.UserID) (chat.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", int64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return chat.User{}, fmt.Errorf("user %d: %w", id, chat.ErrNotFound)
		}
		l := logging.Ctx(ctx)
		l.Error().Err(err).Int64(logging.FieldUserID, int64(id)).Msg("failed to get user by id")
		return chat.User{}, err
	}
	return model.ToDomain(), nil
}

// AddMember records userID as a durable member of roomID. Adding an
// existing member is not an error.
func (s *Store) AddMember(ctx context.Context, roomID chat.RoomID, userID chat.UserID) error {
	row := RoomMemberModel{RoomID: int64(roomID), UserID: int64(userID)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("add member %d to room %d: %w", userID, roomID, err)
	}
	return nil
}

// RemoveMember deletes userID from the durable members of roomID.
func (s *Store) RemoveMember(ctx context.Context, roomID chat.RoomID, userID chat.UserID) error {
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", int64(roomID), int64(userID)).
		Delete(&RoomMemberModel{}).Error
	if err != nil {
		return fmt.Errorf("remove member %d from room %d: %w", userID, roomID, err)
	}
	return nil
}

// SetOnline writes the user's online flag.
func (s *Store) SetOnline(ctx context.Context, userID chat.UserID, online bool) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", int64(userID)).Update("is_online", online)
	if result.Error != nil {
		return fmt.Errorf("set user %d online=%v: %w", userID, online, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", userID, chat.ErrNotFound)
	}
	return nil
}

// CreateUser inserts a user. Registration is handled elsewhere; this
// exists for seeding and tests.
func (s *Store) CreateUser(ctx context.Context, username, email, passwordHash string) (chat.User, error) {
	model := UserModel{Username: username, Email: email, Password: passwordHash}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return chat.User{}, fmt.Errorf("create user %q: %w", username, err)
	}
	return model.ToDomain(), nil
}

// EnsureRoom returns the room called name, creating it when missing.
func (s *Store) EnsureRoom(ctx context.Context, name, description string) (chat.Room, error) {
	l := logging.Ctx(ctx)

	var model RoomModel
	err := s.db.WithContext(ctx).Where(RoomModel{Name: name}).Attrs(RoomModel{Description: description}).FirstOrCreate(&model).Error
	if err != nil {
		return chat.Room{}, fmt.Errorf("ensure room %q: %w", name, err)
	}

	l.Debug().Int64(logging.FieldRoomID, model.ID).Str("name", name).Msg("room ensured")
	return s.FindRoom(ctx, chat.RoomID(model.ID))
}
