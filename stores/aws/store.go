package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"sort"
	"time"

	"boardsync/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const boardPrefix = "boards/"

type store struct {
	s3Client *s3.Client
	bucket   string
}

// NewStore creates an S3-backed store. Each board is one JSON object under
// the boards/ prefix.
func NewStore(bucketName string) *store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	return &store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func boardKey(id string) (string, error) {
	if id == "" || path.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid board id")
	}
	return boardPrefix + id + ".json", nil
}

func (s *store) read(ctx context.Context, id string) (*core.Board, error) {
	key, err := boardKey(id)
	if err != nil {
		return nil, err
	}
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("get board %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read board data: %w", err)
	}
	var board core.Board
	if err := json.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("unmarshal board %s: %w", id, err)
	}
	return &board, nil
}

func (s *store) write(ctx context.Context, board *core.Board) error {
	key, err := boardKey(board.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(board)
	if err != nil {
		return err
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put board %s: %w", board.ID, err)
	}
	return nil
}

func (s *store) Create(ctx context.Context, board *core.Board) error {
	now := time.Now()
	board.ID = ulid.Make().String()
	board.CreatedAt = now
	board.UpdatedAt = now
	if board.Visibility == "" {
		board.Visibility = core.VisibilityPrivate
	}
	for i, ab := range board.Artboards {
		ab.ID = ulid.Make().String()
		ab.BoardID = board.ID
		ab.Index = i
		ab.UpdatedAt = now
	}
	if err := s.write(ctx, board); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"board_id": board.ID,
		"owner_id": board.OwnerID,
	}).Info("Board created")
	return nil
}

func (s *store) Get(ctx context.Context, id string) (*core.Board, error) {
	return s.read(ctx, id)
}

func (s *store) ListByOwner(ctx context.Context, ownerID string) ([]*core.Board, error) {
	output, err := s.s3Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(boardPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list boards: %w", err)
	}

	boards := make([]*core.Board, 0, len(output.Contents))
	for _, object := range output.Contents {
		resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    object.Key,
		})
		if err != nil {
			logrus.WithError(err).Warnf("Failed to get object %s, skipping", *object.Key)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read object %s, skipping", *object.Key)
			continue
		}
		var board core.Board
		if err := json.Unmarshal(data, &board); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal board %s, skipping", *object.Key)
			continue
		}
		if board.OwnerID != ownerID {
			continue
		}
		board.Artboards = nil
		boards = append(boards, &board)
	}

	sort.Slice(boards, func(i, j int) bool {
		if boards[i].UpdatedAt.Equal(boards[j].UpdatedAt) {
			return boards[i].ID < boards[j].ID
		}
		return boards[i].UpdatedAt.After(boards[j].UpdatedAt)
	})
	return boards, nil
}

func (s *store) Update(ctx context.Context, id string, upd core.BoardUpdate) error {
	board, err := s.read(ctx, id)
	if err != nil {
		return err
	}
	if upd.Title != nil {
		board.Title = *upd.Title
	}
	if upd.Visibility != nil {
		board.Visibility = *upd.Visibility
	}
	if upd.Thumbnail != nil {
		board.Thumbnail = *upd.Thumbnail
	}
	board.UpdatedAt = time.Now()
	return s.write(ctx, board)
}

func (s *store) Delete(ctx context.Context, id string) error {
	// Read first so a missing board reports ErrNotFound; S3 deletes are
	// silent on absent keys.
	if _, err := s.read(ctx, id); err != nil {
		return err
	}
	key, err := boardKey(id)
	if err != nil {
		return err
	}
	_, err = s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete board %s: %w", id, err)
	}
	return nil
}

func (s *store) SaveArtboard(ctx context.Context, boardID, artboardID string, snapshot []byte) error {
	board, err := s.read(ctx, boardID)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, ab := range board.Artboards {
		if ab.ID == artboardID {
			ab.Snapshot = append([]byte(nil), snapshot...)
			ab.UpdatedAt = now
			board.UpdatedAt = now
			return s.write(ctx, board)
		}
	}
	return core.ErrNotFound
}
