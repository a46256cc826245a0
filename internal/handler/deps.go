package handler

import (
	"vchat/internal/app/chat"
	"vchat/internal/app/storage"
	"vchat/internal/app/store"
	"vchat/internal/configs"
)

// AppDeps bundles the shared dependencies injected into every handler.
type AppDeps struct {
	Broker         *chat.Broker
	Store          *store.Store
	Config         *configs.AppConfig
	StorageService storage.StorageService
}
