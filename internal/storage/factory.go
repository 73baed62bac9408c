package storage

import (
	"context"
	"fmt"
	"os"
)

type FactoryResult struct {
	Driver  string
	Archive Archive // nil when archival is disabled
}

// FromEnv wires the webhook payload archive. ARCHIVE_DRIVER selects the
// backend; "off" (the default) disables archival entirely.
func FromEnv(ctx context.Context) (FactoryResult, error) {
	driver := os.Getenv("ARCHIVE_DRIVER")
	if driver == "" {
		driver = "off"
	}

	switch driver {
	case "off":
		return FactoryResult{Driver: "off"}, nil

	case "local":
		baseDir := envOr("LOCAL_ARCHIVE_DIR", "./storage/webhook-archive")
		return FactoryResult{Driver: "local", Archive: NewLocal(baseDir)}, nil

	case "s3":
		region := envOr("S3_REGION", "")
		bucket := envOr("S3_BUCKET", "")
		prefix := envOr("S3_PREFIX", "webhook-archive")
		if region == "" || bucket == "" {
			return FactoryResult{}, fmt.Errorf("S3 archive config missing: S3_REGION and S3_BUCKET required")
		}
		s, err := NewS3(ctx, S3Config{Region: region, Bucket: bucket, Prefix: prefix})
		if err != nil {
			return FactoryResult{}, err
		}
		return FactoryResult{Driver: "s3", Archive: s}, nil

	default:
		return FactoryResult{}, fmt.Errorf("unknown ARCHIVE_DRIVER: %s", driver)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
