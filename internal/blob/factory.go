package blob

import (
	"context"
	"fmt"

	infraFS "racecore/internal/infra/blob/fs"
	infraMemory "racecore/internal/infra/blob/memory"
	infraS3 "racecore/internal/infra/blob/s3"
)

// S3Config re-exports the S3 construction parameters.
type S3Config = infraS3.Config

// Config selects and parameterises a blob backend.
type Config struct {
	Driver Driver   `yaml:"driver"`  // fs|s3|memory (default fs)
	FSRoot string   `yaml:"fs_root"` // directory root when driver=fs (default ./blobdata)
	S3     S3Config `yaml:"s3"`
}

// Open constructs the Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return infraFS.New(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return infraMemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
