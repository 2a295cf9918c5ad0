package store

import (
	"context"
	"fmt"

	"github.com/dkeye/meshroom/internal/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const roomsCollection = "rooms"

// Mongo stores one document per room:
// {roomId, participants: [userId], history: [{senderId, message, timestamp}]}.
type Mongo struct {
	client *mongo.Client
	rooms  *mongo.Collection
}

func OpenMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	rooms := client.Database(database).Collection(roomsCollection)
	_, err = rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index: %w", err)
	}

	log.Info().Str("module", "store.mongo").Str("database", database).Msg("connected")
	return &Mongo{client: client, rooms: rooms}, nil
}

func (m *Mongo) FindOrCreateRoom(ctx context.Context, id domain.RoomID) (*domain.DurableRoom, error) {
	update := bson.M{"$setOnInsert": bson.M{
		"participants": bson.A{},
		"history":      bson.A{},
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var room domain.DurableRoom
	err := m.rooms.FindOneAndUpdate(ctx, bson.M{"roomId": string(id)}, update, opts).Decode(&room)
	if err != nil {
		return nil, fmt.Errorf("find or create room %s: %w", id, err)
	}
	if room.Participants == nil {
		room.Participants = []domain.UserID{}
	}
	if room.History == nil {
		room.History = []domain.HistoryEntry{}
	}
	return &room, nil
}

func (m *Mongo) AddParticipant(ctx context.Context, id domain.RoomID, user domain.UserID) error {
	_, err := m.rooms.UpdateOne(ctx,
		bson.M{"roomId": string(id)},
		bson.M{"$addToSet": bson.M{"participants": string(user)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("add participant %s to %s: %w", user, id, err)
	}
	return nil
}

func (m *Mongo) AppendHistoryEntry(ctx context.Context, id domain.RoomID, entry domain.HistoryEntry) error {
	_, err := m.rooms.UpdateOne(ctx,
		bson.M{"roomId": string(id)},
		bson.M{"$push": bson.M{"history": entry}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("append history to %s: %w", id, err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
