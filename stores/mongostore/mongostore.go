// Copyright (c) Microsoft. All rights reserved.

// Package mongostore implements [agentframework.ThreadStore] on MongoDB.
//
// Each thread document carries a sequence counter. An append reserves a
// contiguous range of sequence numbers with one atomic update and then
// inserts its messages into that range, so concurrent appends never
// interleave.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	af "github.com/jochenvw/agentrun/agentframework"
)

const disconnectTimeout = 5 * time.Second

type threadDoc struct {
	ID        string    `bson:"_id"`
	Closed    bool      `bson:"closed"`
	NextSeq   int64     `bson:"next_seq"`
	CreatedAt time.Time `bson:"created_at"`
}

type messageDoc struct {
	ThreadID string `bson:"thread_id"`
	Seq      int64  `bson:"seq"`
	Role     string `bson:"role"`
	Body     string `bson:"body"`
}

// Store is a MongoDB-backed thread store.
type Store struct {
	client   *mongo.Client
	threads  *mongo.Collection
	messages *mongo.Collection
}

var _ af.ThreadStore = (*Store)(nil)

// Open connects to uri and uses the threads and thread_messages
// collections of database.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		threads:  db.Collection("threads"),
		messages: db.Collection("thread_messages"),
	}
	_, err = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create message index: %w", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) CreateThread(ctx context.Context) (string, error) {
	doc := threadDoc{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	if _, err := s.threads.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: create thread: %v", af.ErrThread, err)
	}
	return doc.ID, nil
}

func (s *Store) AppendMessages(ctx context.Context, id string, msgs []af.Message) error {
	if len(msgs) == 0 {
		t, err := s.thread(ctx, id)
		if err != nil {
			return err
		}
		if t.Closed {
			return fmt.Errorf("%w: %q", af.ErrThreadClosed, id)
		}
		return nil
	}

	docs := make([]any, len(msgs))
	for i, m := range msgs {
		b, err := af.MarshalMessageJSON(m)
		if err != nil {
			return fmt.Errorf("%w: %v", af.ErrThread, err)
		}
		docs[i] = messageDoc{ThreadID: id, Role: string(m.Role), Body: string(b)}
	}

	n := int64(len(msgs))
	res := s.threads.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "closed": false},
		bson.M{"$inc": bson.M{"next_seq": n}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var t threadDoc
	if err := res.Decode(&t); err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%w: reserve sequence: %v", af.ErrThread, err)
		}
		if _, err := s.thread(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %q", af.ErrThreadClosed, id)
	}

	first := t.NextSeq - n
	for i := range docs {
		d := docs[i].(messageDoc)
		d.Seq = first + int64(i)
		docs[i] = d
	}
	if _, err := s.messages.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("%w: append messages: %v", af.ErrThread, err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, id string) ([]af.Message, error) {
	if _, err := s.thread(ctx, id); err != nil {
		return nil, err
	}
	cursor, err := s.messages.Find(ctx,
		bson.M{"thread_id": id},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", af.ErrThread, err)
	}
	defer cursor.Close(ctx)

	msgs := []af.Message{}
	for cursor.Next(ctx) {
		var doc messageDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode message: %v", af.ErrThread, err)
		}
		m, err := af.UnmarshalMessageJSON([]byte(doc.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", af.ErrThread, err)
		}
		msgs = append(msgs, m)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: list messages: %v", af.ErrThread, err)
	}
	return msgs, nil
}

func (s *Store) CloseThread(ctx context.Context, id string) error {
	res, err := s.threads.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"closed": true}})
	if err != nil {
		return fmt.Errorf("%w: close thread: %v", af.ErrThread, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %q", af.ErrThreadNotFound, id)
	}
	return nil
}

func (s *Store) thread(ctx context.Context, id string) (threadDoc, error) {
	var t threadDoc
	err := s.threads.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return t, fmt.Errorf("%w: %q", af.ErrThreadNotFound, id)
	case err != nil:
		return t, fmt.Errorf("%w: load thread: %v", af.ErrThread, err)
	}
	return t, nil
}
