// Package chat is the narrow sink the core uses to surface events inside a
// contract's chat room. Transport/relay lives elsewhere; this implementation
// just records system messages and room archival.
package chat

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Sink interface {
	PostSystemMessage(ctx context.Context, roomID, text string) error
	ArchiveRoom(ctx context.Context, roomID, reason string) error
}

type SystemMessage struct {
	ID        string    `gorm:"column:id;primaryKey"`
	RoomID    string    `gorm:"column:room_id;index;not null"`
	Body      string    `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (SystemMessage) TableName() string { return "chat_system_messages" }

type RoomArchive struct {
	RoomID     string    `gorm:"column:room_id;primaryKey"`
	Reason     string    `gorm:"column:reason"`
	ArchivedAt time.Time `gorm:"column:archived_at;autoCreateTime"`
}

func (RoomArchive) TableName() string { return "chat_room_archives" }

var Module = fx.Module("chat",
	fx.Provide(NewStoreSink),
)

type storeSink struct {
	db   *gorm.DB
	node *snowflake.Node
}

func NewStoreSink(db *gorm.DB, node *snowflake.Node) Sink {
	return &storeSink{db: db, node: node}
}

func (s *storeSink) PostSystemMessage(ctx context.Context, roomID, text string) error {
	return s.db.WithContext(ctx).Create(&SystemMessage{
		ID:     s.node.Generate().String(),
		RoomID: roomID,
		Body:   text,
	}).Error
}

func (s *storeSink) ArchiveRoom(ctx context.Context, roomID, reason string) error {
	err := s.db.WithContext(ctx).Create(&RoomArchive{
		RoomID: roomID,
		Reason: reason,
	}).Error
	if err != nil {
		zap.L().Warn("chat: failed to archive room", zap.String("room_id", roomID), zap.Error(err))
	}
	return err
}

// Nop satisfies Sink where no chat backend is wired.
type Nop struct{}

func (Nop) PostSystemMessage(ctx context.Context, roomID, text string) error { return nil }
func (Nop) ArchiveRoom(ctx context.Context, roomID, reason string) error     { return nil }
