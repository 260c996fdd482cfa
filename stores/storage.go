package stores

import (
	"os"

	"sketchd/core"
	"sketchd/stores/filesystem"
	"sketchd/stores/memory"
	"sketchd/stores/sqlite"

	"github.com/sirupsen/logrus"
)

func GetStore() core.ObjectStore {
	storageType := os.Getenv("STORAGE_TYPE")
	var store core.ObjectStore

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
			dataSourceName = "sketchd.db"
		}
		storageField["dataSourceName"] = dataSourceName
		store = sqlite.NewStore(dataSourceName)
	default:
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store
}
