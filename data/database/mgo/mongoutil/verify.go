package mongoutil

import (
	"context"

	"PropChat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

// Check 一次性连通性检查（启动前自检用）
func Check(ctx context.Context, config *Config) error {
	if err := config.ValidateAndSetDefaults(); err != nil {
		return err
	}
	opts, err := applyConfigToOptions(config)
	if err != nil {
		return err
	}
	mongoClient, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errs.WrapMsg(err, "MongoDB connect failed", "Database", config.Database, "MaxPoolSize", config.MaxPoolSize)
	}
	defer func() { _ = mongoClient.Disconnect(ctx) }()

	if err = mongoClient.Ping(ctx, nil); err != nil {
		return errs.WrapMsg(err, "MongoDB ping failed", "Database", config.Database, "MaxPoolSize", config.MaxPoolSize)
	}
	return nil
}

// ValidateAndSetDefaults validates the configuration and sets default values.
func (c *Config) ValidateAndSetDefaults() error {
	if c.Uri == "" && len(c.Address) == 0 {
		return errs.New("either Uri or Address must be provided")
	}
	if c.Database == "" {
		return errs.New("database is required")
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = defaultMaxPoolSize
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	if c.Uri == "" {
		// authSource 缺省时用库名
		if c.AuthSource == "" {
			c.Uri = buildMongoURI(c, c.Database)
		} else {
			c.Uri = buildMongoURI(c, c.AuthSource)
		}
	}
	return nil
}
