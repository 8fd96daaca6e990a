package storage

import (
	"context"
	"fmt"

	"clipmill/internal/adapters/storage/gdrive"
	"clipmill/internal/adapters/storage/localfs"
	"clipmill/internal/adapters/storage/memory"
	"clipmill/internal/adapters/storage/s3store"
	"clipmill/internal/config"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// NewProvider builds the storage backend selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg config.Storage) (Provider, error) {
	switch cfg.Provider {
	case "", "localfs":
		if cfg.LocalRoot == "" {
			return nil, fmt.Errorf("storage.local_root is required for localfs")
		}
		return localfs.New(cfg.LocalRoot, cfg.PublicBaseURL), nil

	case "gdrive":
		return newGDriveProvider(ctx, cfg)

	case "s3":
		return newS3Provider(ctx, cfg)

	case "memory":
		return memory.New(cfg.PublicBaseURL), nil

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// DriveOAuthConfig is shared with the gdrive-auth command so both sides ask
// for the same scope.
func DriveOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}
}

func newGDriveProvider(ctx context.Context, cfg config.Storage) (Provider, error) {
	conf := DriveOAuthConfig(cfg.GDriveClientID, cfg.GDriveClientSecret, "")
	tok := &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken}

	// The token source must outlive ctx, so it gets its own background context.
	httpClient := conf.Client(context.Background(), tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}

	return gdrive.NewClient(srv, cfg.GDriveFolderID), nil
}

func newS3Provider(ctx context.Context, cfg config.Storage) (Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3store.New(s3.NewFromConfig(awsCfg), cfg.S3Bucket, awsCfg.Region, cfg.S3PublicBaseURL), nil
}
