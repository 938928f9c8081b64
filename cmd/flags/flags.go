package flags

import (
	"context"
	"log/slog"
	"time"

	"github.com/artifact-keeper/artifact-keeper/api"
	"github.com/artifact-keeper/artifact-keeper/common"
	"github.com/artifact-keeper/artifact-keeper/config"
	"github.com/artifact-keeper/artifact-keeper/storage"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	cfg := api.NewHTTPServerConfig(listenAddr, logger)
	cfg.MetricsAddr = cCtx.String(MetricsAddrFlag.Name)
	cfg.EnablePprof = cCtx.Bool(PprofFlag.Name)
	cfg.DrainDuration = time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second
	return cfg
}

// LoadConfig reads the --config file, applies every flag that was set
// explicitly (or through its environment variable), then resolves vault://
// references when a Vault address is configured.
func LoadConfig(cCtx *cli.Context, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.LoadFile(cCtx.String(ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}

	setString := func(name string, dst *string) {
		if cCtx.IsSet(name) {
			*dst = cCtx.String(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if cCtx.IsSet(name) {
			*dst = cCtx.Bool(name)
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if cCtx.IsSet(name) {
			*dst = cCtx.Duration(name)
		}
	}

	setString(StorageBackendFlag.Name, &cfg.Storage.Backend)
	setString(StoragePathFormatFlag.Name, &cfg.Storage.PathFormat)
	setString(StorageURIFlag.Name, &cfg.Storage.URI)

	az := &cfg.Storage.Azure
	setString(AzureAccountFlag.Name, &az.AccountName)
	setString(AzureContainerFlag.Name, &az.ContainerName)
	setString(AzureAccessKeyFlag.Name, &az.AccessKey)
	setString(AzureEndpointFlag.Name, &az.Endpoint)
	setBool(AzureAllowHTTPFlag.Name, &az.AllowHTTP)
	setBool(AzureRedirectFlag.Name, &az.RedirectDownloads)
	if cCtx.IsSet(AzureSASExpiryFlag.Name) {
		az.SASExpiry = time.Duration(cCtx.Int64(AzureSASExpiryFlag.Name)) * time.Second
	}
	setString(AzureTenantIDFlag.Name, &az.TenantID)
	setString(AzureClientIDFlag.Name, &az.ClientID)
	setString(AzureClientSecretFlag.Name, &az.ClientSecret)

	s3 := &cfg.Storage.S3
	setString(S3BucketFlag.Name, &s3.Bucket)
	setString(S3PrefixFlag.Name, &s3.Prefix)
	setString(S3RegionFlag.Name, &s3.Region)
	setString(S3EndpointFlag.Name, &s3.Endpoint)
	setString(S3AccessKeyFlag.Name, &s3.AccessKey)
	setString(S3SecretKeyFlag.Name, &s3.SecretKey)
	setBool(S3PathStyleFlag.Name, &s3.ForcePathStyle)
	setBool(S3RedirectFlag.Name, &s3.RedirectDownloads)

	setString(IPFSHostFlag.Name, &cfg.Storage.IPFS.Host)
	setString(IPFSPortFlag.Name, &cfg.Storage.IPFS.Port)
	setString(IPFSRootFlag.Name, &cfg.Storage.IPFS.Root)

	setString(DatabaseURLFlag.Name, &cfg.Database.URL)
	setString(RedisAddrFlag.Name, &cfg.Redis.Addr)
	setString(RedisPasswordFlag.Name, &cfg.Redis.Password)
	setString(VaultAddrFlag.Name, &cfg.Vault.Address)
	setString(VaultTokenFlag.Name, &cfg.Vault.Token)

	setDuration(GCIntervalFlag.Name, &cfg.GC.Interval)
	setDuration(GCInitialDelayFlag.Name, &cfg.GC.InitialDelay)
	setBool(GCDryRunFlag.Name, &cfg.GC.DryRun)
	if cCtx.IsSet(GCDisabledFlag.Name) {
		cfg.GC.Enabled = !cCtx.Bool(GCDisabledFlag.Name)
	}

	setString(PrimaryURLFlag.Name, &cfg.Edge.PrimaryURL)
	setString(EdgeAPIKeyFlag.Name, &cfg.Edge.APIKey)
	setString(CacheDirFlag.Name, &cfg.Edge.CacheDir)
	setDuration(HeartbeatIntervalFlag.Name, &cfg.Edge.HeartbeatInterval)
	setDuration(DownloadTimeoutFlag.Name, &cfg.Edge.DownloadTimeout)
	setBool(ChunkedTransferFlag.Name, &cfg.Edge.ChunkedEnabled)
	if cCtx.IsSet(ChunkedThresholdFlag.Name) {
		cfg.Edge.ChunkedThreshold = cCtx.Int64(ChunkedThresholdFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Vault.Address != "" {
		resolver, err := storage.NewVaultSecretResolver(cfg.Vault.Address, cfg.Vault.Token, logger)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(cCtx.Context, 30*time.Second)
		defer cancel()
		if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"ARTIFACT_KEEPER_CONFIG"},
	Usage:   "path to a YAML configuration file; flags override its values",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	ConfigFileFlag,
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var StorageBackendFlag = &cli.StringFlag{
	Name:    "storage-backend",
	EnvVars: []string{"STORAGE_BACKEND"},
	Usage:   "storage backend: filesystem, s3, azure or ipfs",
}
var StoragePathFormatFlag = &cli.StringFlag{
	Name:    "storage-path-format",
	EnvVars: []string{"STORAGE_PATH_FORMAT"},
	Usage:   "object key layout: native, legacy or migration",
}
var StorageURIFlag = &cli.StringFlag{
	Name:    "storage-uri",
	EnvVars: []string{"STORAGE_URI"},
	Usage:   "single backend location (file://, s3://, azure://, ipfs://) or vault:// reference; replaces --storage-backend",
}

var AzureAccountFlag = &cli.StringFlag{
	Name:    "azure-account",
	EnvVars: []string{"AZURE_STORAGE_ACCOUNT"},
	Usage:   "Azure storage account name",
}
var AzureContainerFlag = &cli.StringFlag{
	Name:    "azure-container",
	EnvVars: []string{"AZURE_STORAGE_CONTAINER"},
	Usage:   "Azure blob container name",
}
var AzureAccessKeyFlag = &cli.StringFlag{
	Name:    "azure-access-key",
	EnvVars: []string{"AZURE_STORAGE_ACCESS_KEY"},
	Usage:   "base64 account key or vault:// reference; omit to authenticate with Azure AD",
}
var AzureEndpointFlag = &cli.StringFlag{
	Name:    "azure-endpoint",
	EnvVars: []string{"AZURE_STORAGE_ENDPOINT"},
	Usage:   "custom blob endpoint, e.g. for Azurite",
}
var AzureAllowHTTPFlag = &cli.BoolFlag{
	Name:    "azure-allow-http",
	EnvVars: []string{"ALLOW_HTTP_INTEGRATIONS"},
	Usage:   "do not warn about a plain HTTP blob endpoint",
}
var AzureRedirectFlag = &cli.BoolFlag{
	Name:    "azure-redirect-downloads",
	EnvVars: []string{"AZURE_REDIRECT_DOWNLOADS"},
	Usage:   "redirect downloads to SAS URLs (requires an account key)",
}
var AzureSASExpiryFlag = &cli.Int64Flag{
	Name:    "azure-sas-expiry",
	EnvVars: []string{"AZURE_SAS_EXPIRY"},
	Value:   3600,
	Usage:   "lifetime of redirect SAS URLs in seconds",
}
var AzureTenantIDFlag = &cli.StringFlag{
	Name:    "azure-tenant-id",
	EnvVars: []string{"AZURE_TENANT_ID"},
	Usage:   "Azure AD tenant for service principal auth",
}
var AzureClientIDFlag = &cli.StringFlag{
	Name:    "azure-client-id",
	EnvVars: []string{"AZURE_CLIENT_ID"},
	Usage:   "service principal or user-assigned managed identity client id",
}
var AzureClientSecretFlag = &cli.StringFlag{
	Name:    "azure-client-secret",
	EnvVars: []string{"AZURE_CLIENT_SECRET"},
	Usage:   "service principal secret or vault:// reference",
}

var S3BucketFlag = &cli.StringFlag{
	Name:    "s3-bucket",
	EnvVars: []string{"S3_BUCKET"},
	Usage:   "S3 bucket name",
}
var S3PrefixFlag = &cli.StringFlag{
	Name:    "s3-prefix",
	EnvVars: []string{"S3_PREFIX"},
	Usage:   "key prefix inside the bucket",
}
var S3RegionFlag = &cli.StringFlag{
	Name:    "s3-region",
	EnvVars: []string{"S3_REGION", "AWS_REGION"},
	Usage:   "S3 region",
}
var S3EndpointFlag = &cli.StringFlag{
	Name:    "s3-endpoint",
	EnvVars: []string{"S3_ENDPOINT"},
	Usage:   "custom endpoint for S3-compatible servers",
}
var S3AccessKeyFlag = &cli.StringFlag{
	Name:    "s3-access-key",
	EnvVars: []string{"AWS_ACCESS_KEY_ID"},
	Usage:   "static access key id",
}
var S3SecretKeyFlag = &cli.StringFlag{
	Name:    "s3-secret-key",
	EnvVars: []string{"AWS_SECRET_ACCESS_KEY"},
	Usage:   "static secret key or vault:// reference",
}
var S3PathStyleFlag = &cli.BoolFlag{
	Name:    "s3-force-path-style",
	EnvVars: []string{"S3_FORCE_PATH_STYLE"},
	Usage:   "use path-style bucket addressing",
}
var S3RedirectFlag = &cli.BoolFlag{
	Name:    "s3-redirect-downloads",
	EnvVars: []string{"S3_REDIRECT_DOWNLOADS"},
	Usage:   "redirect downloads to presigned URLs (requires static credentials)",
}

var IPFSHostFlag = &cli.StringFlag{
	Name:    "ipfs-host",
	EnvVars: []string{"IPFS_HOST"},
	Usage:   "IPFS API host",
}
var IPFSPortFlag = &cli.StringFlag{
	Name:    "ipfs-port",
	EnvVars: []string{"IPFS_PORT"},
	Usage:   "IPFS API port",
}
var IPFSRootFlag = &cli.StringFlag{
	Name:    "ipfs-root",
	EnvVars: []string{"IPFS_ROOT"},
	Usage:   "MFS directory holding artifact objects",
}

var StorageFlags = []cli.Flag{
	StorageBackendFlag,
	StoragePathFormatFlag,
	StorageURIFlag,
	AzureAccountFlag,
	AzureContainerFlag,
	AzureAccessKeyFlag,
	AzureEndpointFlag,
	AzureAllowHTTPFlag,
	AzureRedirectFlag,
	AzureSASExpiryFlag,
	AzureTenantIDFlag,
	AzureClientIDFlag,
	AzureClientSecretFlag,
	S3BucketFlag,
	S3PrefixFlag,
	S3RegionFlag,
	S3EndpointFlag,
	S3AccessKeyFlag,
	S3SecretKeyFlag,
	S3PathStyleFlag,
	S3RedirectFlag,
	IPFSHostFlag,
	IPFSPortFlag,
	IPFSRootFlag,
}

var DatabaseURLFlag = &cli.StringFlag{
	Name:    "database-url",
	EnvVars: []string{"DATABASE_URL"},
	Usage:   "PostgreSQL connection string for the artifact catalog",
}
var RedisAddrFlag = &cli.StringFlag{
	Name:    "redis-addr",
	EnvVars: []string{"REDIS_ADDR"},
	Usage:   "Redis address for the storage GC lock; empty runs GC without a lock",
}
var RedisPasswordFlag = &cli.StringFlag{
	Name:    "redis-password",
	EnvVars: []string{"REDIS_PASSWORD"},
	Usage:   "Redis password or vault:// reference",
}
var VaultAddrFlag = &cli.StringFlag{
	Name:    "vault-addr",
	EnvVars: []string{"VAULT_ADDR"},
	Usage:   "Vault address used to resolve vault:// secret references",
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	EnvVars: []string{"VAULT_TOKEN"},
	Usage:   "Vault token",
}

var GCIntervalFlag = &cli.DurationFlag{
	Name:  "gc-interval",
	Usage: "period between scheduled storage GC runs",
}
var GCInitialDelayFlag = &cli.DurationFlag{
	Name:  "gc-initial-delay",
	Usage: "delay before the first scheduled storage GC run",
}
var GCDryRunFlag = &cli.BoolFlag{
	Name:  "gc-dry-run",
	Usage: "scheduled runs only report what they would delete",
}
var GCDisabledFlag = &cli.BoolFlag{
	Name:  "gc-disabled",
	Usage: "do not schedule storage GC in this process",
}

var PrimaryURLFlag = &cli.StringFlag{
	Name:    "primary-url",
	EnvVars: []string{"PRIMARY_URL"},
	Usage:   "base URL of the primary registry",
}
var EdgeAPIKeyFlag = &cli.StringFlag{
	Name:    "api-key",
	EnvVars: []string{"EDGE_API_KEY"},
	Usage:   "edge node API key or vault:// reference",
}
var CacheDirFlag = &cli.StringFlag{
	Name:    "cache-dir",
	EnvVars: []string{"EDGE_CACHE_DIR"},
	Usage:   "local artifact cache directory",
}
var HeartbeatIntervalFlag = &cli.DurationFlag{
	Name:  "heartbeat-interval",
	Usage: "period between heartbeats to the primary",
}
var DownloadTimeoutFlag = &cli.DurationFlag{
	Name:  "download-timeout",
	Usage: "time limit for one artifact download from the primary, body included",
}
var ChunkedTransferFlag = &cli.BoolFlag{
	Name:    "chunked-transfer",
	EnvVars: []string{"CHUNKED_TRANSFER_ENABLED"},
	Usage:   "use chunked multi-peer transfer for large artifacts",
}
var ChunkedThresholdFlag = &cli.Int64Flag{
	Name:  "chunked-threshold",
	Usage: "smallest artifact size in bytes fetched with chunked transfer",
}
