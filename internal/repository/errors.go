package repository

import "github.com/grihya/livechat/internal/storage"

var ErrNotFound = storage.ErrNotFound
