package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/tunedl/redact"
	"github.com/xeptore/tunedl/unit"
)

const (
	DefaultFilename = "config.yaml"

	// MaxSearchResults caps how many candidates a search may present.
	MaxSearchResults = 7
)

type Config struct {
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
	Search  Search  `yaml:"search"`
	Acquire Acquire `yaml:"acquire"`
	Catalog Catalog `yaml:"catalog"`
	Store   Store   `yaml:"store"`
	Proxy   Proxy   `yaml:"proxy"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("server", c.Server.ToDict()).
		Dict("log", c.Log.ToDict()).
		Dict("search", c.Search.ToDict()).
		Dict("acquire", c.Acquire.ToDict()).
		Dict("catalog", c.Catalog.ToDict()).
		Dict("store", c.Store.ToDict()).
		Dict("proxy", c.Proxy.ToDict())
}

func (c *Config) setDefaults() {
	c.Server.setDefaults()
	c.Log.setDefaults()
	c.Search.setDefaults()
	c.Acquire.setDefaults()
	c.Catalog.setDefaults()
	c.Store.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Server.validate(); nil != err {
		return fmt.Errorf("server config validation failed: %v", err)
	}

	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.Search.validate(); nil != err {
		return fmt.Errorf("search config validation failed: %v", err)
	}

	if err := c.Acquire.validate(); nil != err {
		return fmt.Errorf("acquire config validation failed: %v", err)
	}

	if err := c.Catalog.validate(); nil != err {
		return fmt.Errorf("catalog config validation failed: %v", err)
	}

	if err := c.Store.validate(); nil != err {
		return fmt.Errorf("store config validation failed: %v", err)
	}

	if err := c.Proxy.validate(); nil != err {
		return fmt.Errorf("proxy config validation failed: %v", err)
	}

	return nil
}

type Server struct {
	Addr            string   `yaml:"addr"`
	TmpDir          string   `yaml:"tmp_dir"`
	MaxJobs         int      `yaml:"max_jobs"`
	FileTTL         Duration `yaml:"file_ttl"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

func (c *Server) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("addr", c.Addr).
		Str("tmp_dir", c.TmpDir).
		Int("max_jobs", c.MaxJobs).
		Str("file_ttl", c.FileTTL.String()).
		Str("shutdown_timeout", c.ShutdownTimeout.String())
}

func (c *Server) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}

	if c.TmpDir == "" {
		c.TmpDir = "./tmp"
	}

	if c.MaxJobs == 0 {
		c.MaxJobs = 4
	}

	if c.FileTTL.Duration == 0 {
		c.FileTTL.Duration = 15 * time.Minute
	}

	if c.ShutdownTimeout.Duration == 0 {
		c.ShutdownTimeout.Duration = 30 * time.Second
	}
}

func (c *Server) validate() error {
	if c.MaxJobs < 0 {
		return errors.New("max_jobs must be greater than 0")
	}

	if c.FileTTL.Duration < 0 {
		return errors.New("file_ttl must be greater than 0")
	}

	if c.ShutdownTimeout.Duration < 0 {
		return errors.New("shutdown_timeout must be greater than 0")
	}

	if i, err := os.Stat(c.TmpDir); nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat tmp_dir: %v", err)
		}

		if err := os.MkdirAll(c.TmpDir, 0o0700); nil != err {
			return fmt.Errorf("failed to create tmp_dir: %v", err)
		}
	} else if !i.IsDir() {
		return errors.New("tmp_dir must be a directory")
	}

	return nil
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("format must be 'json' or 'pretty', got: %s", c.Format)
	}

	return nil
}

const (
	SearchBackendYTSearch = "ytsearch"
	SearchBackendYtdlp    = "ytdlp"
)

type Search struct {
	Backend    string   `yaml:"backend"`
	MaxResults int      `yaml:"max_results"`
	Timeout    Duration `yaml:"timeout"`
}

func (c *Search) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("backend", c.Backend).
		Int("max_results", c.MaxResults).
		Str("timeout", c.Timeout.String())
}

func (c *Search) setDefaults() {
	if c.Backend == "" {
		c.Backend = SearchBackendYTSearch
	}

	if c.MaxResults == 0 {
		c.MaxResults = 5
	}

	if c.Timeout.Duration == 0 {
		c.Timeout.Duration = 15 * time.Second
	}
}

func (c *Search) validate() error {
	if !slices.Contains([]string{SearchBackendYTSearch, SearchBackendYtdlp}, c.Backend) {
		return fmt.Errorf("backend must be '%s' or '%s', got: %s", SearchBackendYTSearch, SearchBackendYtdlp, c.Backend)
	}

	if c.MaxResults < 1 || c.MaxResults > MaxSearchResults {
		return fmt.Errorf("max_results must be between 1 and %d, got: %d", MaxSearchResults, c.MaxResults)
	}

	if c.Timeout.Duration < 0 {
		return errors.New("timeout must be greater than 0")
	}

	return nil
}

type Acquire struct {
	YtdlpPath  string          `yaml:"ytdlp_path"`
	FFmpegPath string          `yaml:"ffmpeg_path"`
	Bitrate    string          `yaml:"bitrate"`
	MaxRetries int             `yaml:"max_retries"`
	Timeouts   AcquireTimeouts `yaml:"timeouts"`
}

func (c *Acquire) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("ytdlp_path", c.YtdlpPath).
		Str("ffmpeg_path", c.FFmpegPath).
		Str("bitrate", c.Bitrate).
		Int("max_retries", c.MaxRetries).
		Dict("timeouts", c.Timeouts.ToDict())
}

func (c *Acquire) setDefaults() {
	if c.YtdlpPath == "" {
		c.YtdlpPath = "yt-dlp"
	}

	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}

	if c.Bitrate == "" {
		c.Bitrate = "192k"
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}

	c.Timeouts.setDefaults()
}

func (c *Acquire) validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be greater than 0")
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	return nil
}

type AcquireTimeouts struct {
	Fetch     Duration `yaml:"fetch"`
	Transcode Duration `yaml:"transcode"`
}

func (c *AcquireTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("fetch", c.Fetch.String()).
		Str("transcode", c.Transcode.String())
}

func (c *AcquireTimeouts) setDefaults() {
	if c.Fetch.Duration == 0 {
		c.Fetch.Duration = 5 * time.Minute
	}

	if c.Transcode.Duration == 0 {
		c.Transcode.Duration = 5 * time.Minute
	}
}

func (c *AcquireTimeouts) validate() error {
	if c.Fetch.Duration < 0 {
		return errors.New("fetch must be greater than 0")
	}

	if c.Transcode.Duration < 0 {
		return errors.New("transcode must be greater than 0")
	}

	return nil
}

const (
	CatalogProviderITunes  = "itunes"
	CatalogProviderSpotify = "spotify"
)

type Catalog struct {
	Provider          string          `yaml:"provider"`
	CacheTTL          Duration        `yaml:"cache_ttl"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	MaxCoverSize      int64           `yaml:"max_cover_size"`
	Timeouts          CatalogTimeouts `yaml:"timeouts"`
	ITunes            ITunes          `yaml:"itunes"`
	Spotify           Spotify         `yaml:"spotify"`
}

func (c *Catalog) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("provider", c.Provider).
		Str("cache_ttl", c.CacheTTL.String()).
		Float64("requests_per_second", c.RequestsPerSecond).
		Int64("max_cover_size", c.MaxCoverSize).
		Dict("timeouts", c.Timeouts.ToDict()).
		Dict("itunes", c.ITunes.ToDict()).
		Dict("spotify", c.Spotify.ToDict())
}

func (c *Catalog) setDefaults() {
	if c.Provider == "" {
		c.Provider = CatalogProviderITunes
	}

	if c.CacheTTL.Duration == 0 {
		c.CacheTTL.Duration = 1 * time.Hour
	}

	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 5
	}

	if c.MaxCoverSize == 0 {
		c.MaxCoverSize = 2 * unit.Mebibyte
	}

	c.Timeouts.setDefaults()
	c.ITunes.setDefaults()
	c.Spotify.setDefaults()
}

func (c *Catalog) validate() error {
	if !slices.Contains([]string{CatalogProviderITunes, CatalogProviderSpotify}, c.Provider) {
		return fmt.Errorf("provider must be '%s' or '%s', got: %s", CatalogProviderITunes, CatalogProviderSpotify, c.Provider)
	}

	if c.CacheTTL.Duration < 0 {
		return errors.New("cache_ttl must be greater than 0")
	}

	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be greater than 0")
	}

	if c.MaxCoverSize < 0 {
		return errors.New("max_cover_size must be greater than 0")
	}

	if err := c.Timeouts.validate(); nil != err {
		return fmt.Errorf("timeouts config validation failed: %v", err)
	}

	if err := c.ITunes.validate(); nil != err {
		return fmt.Errorf("itunes config validation failed: %v", err)
	}

	if c.Provider == CatalogProviderSpotify {
		if err := c.Spotify.validate(); nil != err {
			return fmt.Errorf("spotify config validation failed: %v", err)
		}
	}

	return nil
}

type CatalogTimeouts struct {
	Lookup        Duration `yaml:"lookup"`
	DownloadCover Duration `yaml:"download_cover"`
}

func (c *CatalogTimeouts) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("lookup", c.Lookup.String()).
		Str("download_cover", c.DownloadCover.String())
}

func (c *CatalogTimeouts) setDefaults() {
	if c.Lookup.Duration == 0 {
		c.Lookup.Duration = 5 * time.Second
	}

	if c.DownloadCover.Duration == 0 {
		c.DownloadCover.Duration = 10 * time.Second
	}
}

func (c *CatalogTimeouts) validate() error {
	if c.Lookup.Duration < 0 {
		return errors.New("lookup must be greater than 0")
	}

	if c.DownloadCover.Duration < 0 {
		return errors.New("download_cover must be greater than 0")
	}

	return nil
}

type ITunes struct {
	BaseURL string `yaml:"base_url"`
	Country string `yaml:"country"`
}

func (c *ITunes) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("base_url", c.BaseURL).
		Str("country", c.Country)
}

func (c *ITunes) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://itunes.apple.com"
	}

	if c.Country == "" {
		c.Country = "US"
	}
}

func (c *ITunes) validate() error {
	if _, err := url.Parse(c.BaseURL); nil != err {
		return fmt.Errorf("invalid base_url: %v", err)
	}

	return nil
}

type Spotify struct {
	AccountsURL  string `yaml:"accounts_url"`
	APIURL       string `yaml:"api_url"`
	Market       string `yaml:"market"`
	ClientID     string `yaml:"-"`
	ClientSecret string `yaml:"-"`
}

func (c *Spotify) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("accounts_url", c.AccountsURL).
		Str("api_url", c.APIURL).
		Str("market", c.Market).
		Str("client_id", redact.String(c.ClientID)).
		Str("client_secret", redact.String(c.ClientSecret))
}

func (c *Spotify) setDefaults() {
	if c.AccountsURL == "" {
		c.AccountsURL = "https://accounts.spotify.com"
	}

	if c.APIURL == "" {
		c.APIURL = "https://api.spotify.com"
	}

	if c.Market == "" {
		c.Market = "US"
	}
}

func (c *Spotify) validate() error {
	if c.ClientID == "" {
		return errors.New("make sure the SPOTIFY_CLIENT_ID environment variable is set")
	}

	if c.ClientSecret == "" {
		return errors.New("make sure the SPOTIFY_CLIENT_SECRET environment variable is set")
	}

	if _, err := url.Parse(c.AccountsURL); nil != err {
		return fmt.Errorf("invalid accounts_url: %v", err)
	}

	if _, err := url.Parse(c.APIURL); nil != err {
		return fmt.Errorf("invalid api_url: %v", err)
	}

	return nil
}

const (
	StoreKindBolt  = "bolt"
	StoreKindRedis = "redis"
)

type Store struct {
	Kind  string `yaml:"kind"`
	Path  string `yaml:"path"`
	Redis Redis  `yaml:"redis"`
}

func (c *Store) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("kind", c.Kind).
		Str("path", c.Path).
		Dict("redis", c.Redis.ToDict())
}

func (c *Store) setDefaults() {
	if c.Kind == "" {
		c.Kind = StoreKindBolt
	}

	if c.Path == "" {
		c.Path = "tunedl.db"
	}

	c.Redis.setDefaults()
}

func (c *Store) validate() error {
	if !slices.Contains([]string{StoreKindBolt, StoreKindRedis}, c.Kind) {
		return fmt.Errorf("kind must be '%s' or '%s', got: %s", StoreKindBolt, StoreKindRedis, c.Kind)
	}

	if c.Kind == StoreKindRedis {
		if err := c.Redis.validate(); nil != err {
			return fmt.Errorf("redis config validation failed: %v", err)
		}
	}

	return nil
}

type Redis struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Password  string `yaml:"-"`
}

func (c *Redis) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("addr", c.Addr).
		Int("db", c.DB).
		Str("key_prefix", c.KeyPrefix).
		Str("password", redact.String(c.Password))
}

func (c *Redis) setDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}

	if c.KeyPrefix == "" {
		c.KeyPrefix = "tunedl:"
	}
}

func (c *Redis) validate() error {
	if c.DB < 0 {
		return errors.New("db must be greater than or equal to 0")
	}

	return nil
}

type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c *Proxy) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("host", c.Host).
		Int("port", c.Port)
}

func (c *Proxy) Enabled() bool {
	return len(c.Host) > 0 && c.Port > 0
}

func (c *Proxy) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got: %d", c.Port)
	}

	return nil
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	d.Duration = parsed

	return nil
}

func Load(filename string) (*Config, error) {
	filename = lo.Ternary(len(filename) > 0, filename, DefaultFilename)

	data, err := os.ReadFile(filename)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(data)
}

// Parse decodes YAML config, fills secrets from the environment, applies
// defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var conf Config
	if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	conf.Catalog.Spotify.ClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	conf.Catalog.Spotify.ClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	conf.Store.Redis.Password = os.Getenv("REDIS_PASSWORD")
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
