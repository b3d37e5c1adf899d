package main

import (
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tikinang/ppa-submit/ppa"
)

func init() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}
}

type Config struct {
	Source  string
	Debian  string
	Release []string
	PPA     string

	LaunchpadLogin  string
	LaunchpadAPI    string
	DebuildParams   []string
	VersionOverride string
	AppendHash      bool
	Force           bool
	UpdatePatches   bool
	DryRun          bool

	CacheDir      string
	WorkDir       string
	Maintainer    string
	GPGPrivateKey string

	S3       ppa.S3Config
	S3Prefix string

	SummaryFile string
	LogJSON     bool
	Verbose     bool
}

// S3Enabled reports whether uploads should also go to object storage.
func (c *Config) S3Enabled() bool {
	return c.S3.Bucket != ""
}

// registerFlags declares every setting; each is also readable from the
// config file and from PPA_SUBMIT_<NAME> environment variables.
func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("debian", "", "separate source of the debian/ directory")
	fs.StringSlice("release", nil, "Ubuntu release to submit to (repeatable)")
	fs.String("ppa", "", "target archive, e.g. ppa:owner/name")
	fs.String("launchpad-login", "", "Launchpad login for sftp uploads")
	fs.String("launchpad-api", ppa.DefaultLaunchpadAPI, "Launchpad API root")
	fs.String("debuild-params", "", "extra arguments passed to debuild")
	fs.String("version-override", "", "replace the upstream version from the changelog")
	fs.Bool("version-append-hash", false, "append the short content hash to the upstream version")
	fs.BoolP("force", "f", false, "submit even if the published upload has the same content hash")
	fs.Bool("update-patches", false, "refresh quilt patches before building")
	fs.BoolP("dry-run", "n", false, "rewrite changelogs but do not build or upload")
	fs.String("cache-dir", "", "where VCS working copies are kept (default: user cache dir)")
	fs.String("work-dir", "", "staging directory (default: a temporary directory)")
	fs.String("maintainer", ppa.DefaultMaintainer, "changelog maintainer")
	fs.String("gpg-private-key", "", "armored private key to sign uploads in-process")
	fs.String("s3-endpoint", "", "S3 endpoint of the fallback upload target")
	fs.String("s3-bucket", "", "S3 bucket; enables S3 as the last upload fallback")
	fs.String("s3-access-key", "", "S3 access key")
	fs.String("s3-secret-key", "", "S3 secret key")
	fs.String("s3-region", "us-east-1", "S3 region")
	fs.String("s3-prefix", "", "S3 key prefix")
	fs.String("summary-file", "", "write the run summary as YAML to this file")
	fs.Bool("log-json", false, "log as JSON")
	fs.BoolP("verbose", "v", false, "debug logging")
}

func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PPA_SUBMIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "binding flags")
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", file)
		}
	}
	return v, nil
}

// LoadConfig reads settings from v. args are the positional command line:
// the source specifier followed by any releases.
func LoadConfig(v *viper.Viper, args []string) (*Config, error) {
	cfg := &Config{
		Source:          v.GetString("source"),
		Debian:          v.GetString("debian"),
		Release:         v.GetStringSlice("release"),
		PPA:             v.GetString("ppa"),
		LaunchpadLogin:  v.GetString("launchpad-login"),
		LaunchpadAPI:    v.GetString("launchpad-api"),
		VersionOverride: v.GetString("version-override"),
		AppendHash:      v.GetBool("version-append-hash"),
		Force:           v.GetBool("force"),
		UpdatePatches:   v.GetBool("update-patches"),
		DryRun:          v.GetBool("dry-run"),
		CacheDir:        v.GetString("cache-dir"),
		WorkDir:         v.GetString("work-dir"),
		Maintainer:      v.GetString("maintainer"),
		GPGPrivateKey:   v.GetString("gpg-private-key"),
		S3: ppa.S3Config{
			Endpoint:  v.GetString("s3-endpoint"),
			Bucket:    v.GetString("s3-bucket"),
			AccessKey: v.GetString("s3-access-key"),
			SecretKey: v.GetString("s3-secret-key"),
			Region:    v.GetString("s3-region"),
		},
		S3Prefix:    v.GetString("s3-prefix"),
		SummaryFile: v.GetString("summary-file"),
		LogJSON:     v.GetBool("log-json"),
		Verbose:     v.GetBool("verbose"),
	}

	if len(args) > 0 {
		cfg.Source = args[0]
		if len(args) > 1 {
			cfg.Release = args[1:]
		}
	}

	params, err := shellquote.Split(v.GetString("debuild-params"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid debuild-params")
	}
	cfg.DebuildParams = params

	if cfg.Source == "" {
		return nil, errors.New("source is required")
	}
	if len(cfg.Release) == 0 {
		return nil, errors.New("at least one release is required")
	}
	if cfg.PPA == "" {
		return nil, errors.New("ppa is required")
	}
	if _, err := ppa.ParseArchiveRef(cfg.PPA); err != nil {
		return nil, err
	}
	if cfg.S3Enabled() {
		if cfg.S3.Endpoint == "" {
			return nil, errors.New("s3-endpoint is required when s3-bucket is set")
		}
		if cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "" {
			return nil, errors.New("s3-access-key and s3-secret-key are required when s3-bucket is set")
		}
	}
	return cfg, nil
}
