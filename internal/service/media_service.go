package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/linkedin-scheduler/internal/models"
	"github.com/maheshrc27/linkedin-scheduler/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MaxImageSize is the largest accepted upload in bytes.
const MaxImageSize = 8 << 20

var allowedImageTypes = map[string]struct{}{
	"jpg": {}, "png": {}, "gif": {},
}

type MediaService interface {
	UploadImage(ctx context.Context, userID int64, data []byte) (*transfer.MediaUploadResponse, error)
}

type mediaService struct {
	store     ObjectStore
	publicURL string
}

// NewMediaService stores images in store and links them under publicURL.
func NewMediaService(store ObjectStore, publicURL string) MediaService {
	return &mediaService{
		store:     store,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *mediaService) UploadImage(ctx context.Context, userID int64, data []byte) (*transfer.MediaUploadResponse, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file is empty", models.ErrValidation)
	}
	if len(data) > MaxImageSize {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", models.ErrValidation, MaxImageSize)
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return nil, fmt.Errorf("%w: unsupported file type", models.ErrValidation)
	}
	if _, ok := allowedImageTypes[kind.Extension]; !ok {
		return nil, fmt.Errorf("%w: file type %s is not allowed", models.ErrValidation, kind.Extension)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%d/%s.%s", userID, id, kind.Extension)

	if err := s.store.Put(ctx, key, data, kind.MIME.Value); err != nil {
		return nil, fmt.Errorf("error uploading file: %w", err)
	}

	return &transfer.MediaUploadResponse{
		URL:         s.publicURL + "/" + key,
		Key:         key,
		ContentType: kind.MIME.Value,
	}, nil
}
