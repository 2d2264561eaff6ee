package stores

import (
	"os"

	"boardsync/core"
	"boardsync/stores/aws"
	"boardsync/stores/filesystem"
	"boardsync/stores/memory"
	"boardsync/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore selects a board store from the STORAGE_TYPE environment variable.
// The memory and sqlite backends also implement core.RoomRegistry; callers
// type-assert when they need it.
func GetStore() core.BoardStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.BoardStore

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		store = filesystem.NewStore(basePath)
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "boardsync.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			logrus.Fatal("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		store = aws.NewStore(bucketName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
