package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Assistant AssistantConfig `yaml:"assistant"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Search    SearchConfig    `yaml:"search"`
	Calendar  CalendarConfig  `yaml:"calendar"`
	Users     UsersConfig     `yaml:"users"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// TelephonyConfig contains Plivo credentials and call-control settings
type TelephonyConfig struct {
	AuthID           string `yaml:"auth_id"`
	AuthToken        string `yaml:"auth_token"`
	APIBaseURL       string `yaml:"api_base_url"`
	StreamBaseURL    string `yaml:"stream_base_url"` // e.g. wss://bot.example.com; empty uses ws://<request host>
	StreamTimeout    int    `yaml:"stream_timeout"`  // seconds
	WhatsAppSender   string `yaml:"whatsapp_sender"`
	TemplateName     string `yaml:"template_name"`
	TemplateLanguage string `yaml:"template_language"`
	PortalURL        string `yaml:"portal_url"`      // printf format with one %s for the caller number
	RequestTimeout   int    `yaml:"request_timeout"` // seconds
	MaxConcurrent    int    `yaml:"max_concurrent"`
}

// RealtimeConfig contains the AI engine connection settings
type RealtimeConfig struct {
	URL                string  `yaml:"url"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	Voice              string  `yaml:"voice"`
	TranscriptionModel string  `yaml:"transcription_model"`
	Temperature        float64 `yaml:"temperature"`
	DialTimeout        int     `yaml:"dial_timeout"`  // seconds
	WriteTimeout       int     `yaml:"write_timeout"` // seconds
}

// AssistantConfig contains the conversational persona
type AssistantConfig struct {
	Brand                string `yaml:"brand"`
	Instructions         string `yaml:"instructions"`
	IdentifyInstructions string `yaml:"identify_instructions"`
}

// SessionConfig contains call lifecycle policy
type SessionConfig struct {
	RolePromptLimit int      `yaml:"role_prompt_limit"`
	IdentifyTimeout int      `yaml:"identify_timeout"`  // seconds
	MaxCallDuration int      `yaml:"max_call_duration"` // seconds
	RingTimeout     int      `yaml:"ring_timeout"`      // seconds
	LookupTimeout   int      `yaml:"lookup_timeout"`    // seconds
	ToolTimeout     int      `yaml:"tool_timeout"`      // seconds
	MaxPendingTools int      `yaml:"max_pending_tools"`
	EventQueueSize  int      `yaml:"event_queue_size"`
	EnabledTools    []string `yaml:"enabled_tools"`    // tool kinds; empty enables all
	CleanupInterval int      `yaml:"cleanup_interval"` // seconds
}

// AudioConfig contains jitter buffer and barge-in parameters
type AudioConfig struct {
	SampleRate     int           `yaml:"sample_rate"`
	JitterDepth    int           `yaml:"jitter_depth"`    // frames held behind a gap
	MaxSkew        int           `yaml:"max_skew"`        // frames ahead before resync
	BufferCapacity int           `yaml:"buffer_capacity"` // frames per direction
	BargeIn        BargeInConfig `yaml:"barge_in"`
}

// BargeInConfig contains local speech onset detection settings
type BargeInConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Threshold       float32 `yaml:"threshold"`
	Smoothing       float32 `yaml:"smoothing"`
	MinSpeechFrames int     `yaml:"min_speech_frames"`
}

// GeminiConfig contains Google Gemini API settings
type GeminiConfig struct {
	APIKey          string `yaml:"api_key"`
	EmbeddingModel  string `yaml:"embedding_model"`
	GenerationModel string `yaml:"generation_model"`
}

// SearchConfig contains the product vector index settings
type SearchConfig struct {
	QdrantURL  string `yaml:"qdrant_url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	TopK       int    `yaml:"top_k"`
}

// CalendarConfig contains Google Calendar scheduling settings
type CalendarConfig struct {
	CredentialsFile   string `yaml:"credentials_file"`
	CalendarID        string `yaml:"calendar_id"`
	Timezone          string `yaml:"timezone"`
	SlotMinutes       int    `yaml:"slot_minutes"`
	BusinessStartHour int    `yaml:"business_start_hour"`
	BusinessEndHour   int    `yaml:"business_end_hour"`
	LookaheadDays     int    `yaml:"lookahead_days"`
	MaxSlots          int    `yaml:"max_slots"`
	DefaultEmail      string `yaml:"default_email"`
	AutoBook          bool   `yaml:"auto_book"`
}

// UsersConfig contains the Supabase caller directory settings
type UsersConfig struct {
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	Table       string `yaml:"table"`
}

// StorageConfig contains post-call document storage settings
type StorageConfig struct {
	Backend     string `yaml:"backend"` // "supabase" or "s3"
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	SupabaseURL string `yaml:"supabase_url"`
	SupabaseKey string `yaml:"supabase_key"`
	S3Region    string `yaml:"s3_region"`
	PresignTTL  int    `yaml:"presign_ttl"` // seconds
}

// PipelineConfig contains post-call pipeline settings
type PipelineConfig struct {
	Workers     int          `yaml:"workers"`
	Timeout     int          `yaml:"timeout"` // seconds
	MaxRetries  int          `yaml:"max_retries"`
	BaseBackoff int          `yaml:"base_backoff_ms"`
	MaxBackoff  int          `yaml:"max_backoff_ms"`
	Ledger      LedgerConfig `yaml:"ledger"`
}

// LedgerConfig contains the idempotency ledger settings
type LedgerConfig struct {
	Backend       string `yaml:"backend"` // "memory" or "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	TTL           int    `yaml:"ttl"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig contains Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes YAML configuration, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills optional settings that were left empty
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10
	}

	t := &c.Telephony
	if t.APIBaseURL == "" {
		t.APIBaseURL = "https://api.plivo.com"
	}
	if t.StreamTimeout == 0 {
		t.StreamTimeout = 86400
	}
	if t.TemplateName == "" {
		t.TemplateName = "pdf_regi_template"
	}
	if t.TemplateLanguage == "" {
		t.TemplateLanguage = "en"
	}
	if t.RequestTimeout == 0 {
		t.RequestTimeout = 15
	}
	if t.MaxConcurrent == 0 {
		t.MaxConcurrent = 10
	}

	r := &c.Realtime
	if r.URL == "" {
		r.URL = "wss://api.openai.com/v1/realtime"
	}
	if r.Model == "" {
		r.Model = "gpt-4o-realtime-preview-2024-10-01"
	}
	if r.Voice == "" {
		r.Voice = "alloy"
	}
	if r.TranscriptionModel == "" {
		r.TranscriptionModel = "whisper-1"
	}
	if r.Temperature == 0 {
		r.Temperature = 0.8
	}
	if r.DialTimeout == 0 {
		r.DialTimeout = 10
	}
	if r.WriteTimeout == 0 {
		r.WriteTimeout = 5
	}

	if c.Assistant.Brand == "" {
		c.Assistant.Brand = "Technvi AI"
	}

	s := &c.Session
	if s.RolePromptLimit == 0 {
		s.RolePromptLimit = 2
	}
	if s.IdentifyTimeout == 0 {
		s.IdentifyTimeout = 15
	}
	if s.MaxCallDuration == 0 {
		s.MaxCallDuration = 1800
	}
	if s.RingTimeout == 0 {
		s.RingTimeout = 60
	}
	if s.LookupTimeout == 0 {
		s.LookupTimeout = 3
	}
	if s.ToolTimeout == 0 {
		s.ToolTimeout = 8
	}
	if s.MaxPendingTools == 0 {
		s.MaxPendingTools = 1
	}
	if s.EventQueueSize == 0 {
		s.EventQueueSize = 256
	}
	if s.CleanupInterval == 0 {
		s.CleanupInterval = 30
	}

	a := &c.Audio
	if a.SampleRate == 0 {
		a.SampleRate = 8000
	}
	if a.JitterDepth == 0 {
		a.JitterDepth = 5
	}
	if a.MaxSkew == 0 {
		a.MaxSkew = 50
	}
	if a.BufferCapacity == 0 {
		a.BufferCapacity = 1500
	}
	if a.BargeIn.Threshold == 0 {
		a.BargeIn.Threshold = 0.3
	}
	if a.BargeIn.Smoothing == 0 {
		a.BargeIn.Smoothing = 0.5
	}
	if a.BargeIn.MinSpeechFrames == 0 {
		a.BargeIn.MinSpeechFrames = 3
	}

	if c.Gemini.EmbeddingModel == "" {
		c.Gemini.EmbeddingModel = "text-embedding-004"
	}
	if c.Gemini.GenerationModel == "" {
		c.Gemini.GenerationModel = "gemini-2.0-flash"
	}

	if c.Search.Collection == "" {
		c.Search.Collection = "products"
	}
	if c.Search.TopK == 0 {
		c.Search.TopK = 3
	}

	cal := &c.Calendar
	if cal.Timezone == "" {
		cal.Timezone = "Asia/Kolkata"
	}
	if cal.SlotMinutes == 0 {
		cal.SlotMinutes = 30
	}
	if cal.BusinessStartHour == 0 && cal.BusinessEndHour == 0 {
		cal.BusinessStartHour = 9
		cal.BusinessEndHour = 17
	}
	if cal.LookaheadDays == 0 {
		cal.LookaheadDays = 7
	}
	if cal.MaxSlots == 0 {
		cal.MaxSlots = 5
	}
	if cal.DefaultEmail == "" {
		cal.DefaultEmail = "customer@example.com"
	}

	if c.Users.Table == "" {
		c.Users.Table = "registration_form"
	}

	st := &c.Storage
	if st.Backend == "" {
		st.Backend = "supabase"
	}
	if st.Bucket == "" {
		st.Bucket = "billings-data"
	}
	if st.Prefix == "" {
		st.Prefix = "calls"
	}
	if st.SupabaseURL == "" {
		st.SupabaseURL = c.Users.SupabaseURL
	}
	if st.PresignTTL == 0 {
		st.PresignTTL = 7 * 24 * 3600
	}

	p := &c.Pipeline
	if p.Workers == 0 {
		p.Workers = 4
	}
	if p.Timeout == 0 {
		p.Timeout = 300
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = 4
	}
	if p.BaseBackoff == 0 {
		p.BaseBackoff = 500
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = 30000
	}
	if p.Ledger.Backend == "" {
		p.Ledger.Backend = "memory"
	}
	if p.Ledger.KeyPrefix == "" {
		p.Ledger.KeyPrefix = "voicebot:pipeline:"
	}
	if p.Ledger.TTL == 0 {
		p.Ledger.TTL = 30 * 24 * 3600
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate performs comprehensive validation of the configuration.
// A missing credential or endpoint is reported here so the service never
// starts half-configured.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Telephony.Validate(); err != nil {
		return fmt.Errorf("telephony config: %w", err)
	}

	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Gemini.Validate(); err != nil {
		return fmt.Errorf("gemini config: %w", err)
	}

	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search config: %w", err)
	}

	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("calendar config: %w", err)
	}

	if err := c.Users.Validate(); err != nil {
		return fmt.Errorf("users config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates telephony configuration
func (t *TelephonyConfig) Validate() error {
	if t.AuthID == "" {
		return fmt.Errorf("auth_id cannot be empty")
	}

	if t.AuthToken == "" {
		return fmt.Errorf("auth_token cannot be empty")
	}

	if err := validateURL("api_base_url", t.APIBaseURL, "http", "https"); err != nil {
		return err
	}

	if t.StreamBaseURL != "" {
		if err := validateURL("stream_base_url", t.StreamBaseURL, "ws", "wss"); err != nil {
			return err
		}
	}

	if t.WhatsAppSender == "" {
		return fmt.Errorf("whatsapp_sender cannot be empty")
	}

	if t.PortalURL != "" && strings.Count(t.PortalURL, "%s") != 1 {
		return fmt.Errorf("portal_url must contain exactly one %%s placeholder, got %q", t.PortalURL)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates the AI engine configuration
func (r *RealtimeConfig) Validate() error {
	if err := validateURL("url", r.URL, "ws", "wss"); err != nil {
		return err
	}

	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if r.Temperature < 0.6 || r.Temperature > 1.2 {
		return fmt.Errorf("temperature must be between 0.6 and 1.2, got %f", r.Temperature)
	}

	return nil
}

// Validate validates session policy
func (s *SessionConfig) Validate() error {
	if s.RolePromptLimit < 1 {
		return fmt.Errorf("role_prompt_limit must be at least 1, got %d", s.RolePromptLimit)
	}

	if s.IdentifyTimeout < 1 {
		return fmt.Errorf("identify_timeout must be at least 1 second, got %d", s.IdentifyTimeout)
	}

	if s.MaxCallDuration < 10 {
		return fmt.Errorf("max_call_duration must be at least 10 seconds, got %d", s.MaxCallDuration)
	}

	if s.ToolTimeout < 1 {
		return fmt.Errorf("tool_timeout must be at least 1 second, got %d", s.ToolTimeout)
	}

	if s.MaxPendingTools < 1 {
		return fmt.Errorf("max_pending_tools must be at least 1, got %d", s.MaxPendingTools)
	}

	if s.EventQueueSize < 16 {
		return fmt.Errorf("event_queue_size must be at least 16, got %d", s.EventQueueSize)
	}

	validKinds := map[string]bool{"search": true, "schedule": true, "lookup": true, "hangup": true}
	for _, kind := range s.EnabledTools {
		if !validKinds[kind] {
			return fmt.Errorf("enabled_tools contains unknown kind '%s'", kind)
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 8000 {
		return fmt.Errorf("sample_rate must be 8000 Hz for mu-law streams, got %d", a.SampleRate)
	}

	if a.JitterDepth < 1 {
		return fmt.Errorf("jitter_depth must be at least 1, got %d", a.JitterDepth)
	}

	if a.MaxSkew <= a.JitterDepth {
		return fmt.Errorf("max_skew (%d) must be greater than jitter_depth (%d)", a.MaxSkew, a.JitterDepth)
	}

	if a.BufferCapacity < a.MaxSkew {
		return fmt.Errorf("buffer_capacity (%d) must be at least max_skew (%d)", a.BufferCapacity, a.MaxSkew)
	}

	if a.BargeIn.Threshold < 0 || a.BargeIn.Threshold > 1 {
		return fmt.Errorf("barge_in threshold must be between 0 and 1, got %f", a.BargeIn.Threshold)
	}

	if a.BargeIn.Smoothing <= 0 || a.BargeIn.Smoothing > 1 {
		return fmt.Errorf("barge_in smoothing must be in (0, 1], got %f", a.BargeIn.Smoothing)
	}

	if a.BargeIn.MinSpeechFrames < 1 {
		return fmt.Errorf("barge_in min_speech_frames must be at least 1, got %d", a.BargeIn.MinSpeechFrames)
	}

	return nil
}

// Validate validates Gemini configuration
func (g *GeminiConfig) Validate() error {
	if g.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	return nil
}

// Validate validates search configuration
func (s *SearchConfig) Validate() error {
	if s.QdrantURL == "" {
		return fmt.Errorf("qdrant_url cannot be empty")
	}

	if s.TopK < 1 || s.TopK > 50 {
		return fmt.Errorf("top_k must be between 1 and 50, got %d", s.TopK)
	}

	return nil
}

// Validate validates calendar configuration
func (c *CalendarConfig) Validate() error {
	if c.CredentialsFile == "" {
		return fmt.Errorf("credentials_file cannot be empty")
	}

	if c.CalendarID == "" {
		return fmt.Errorf("calendar_id cannot be empty")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone '%s' is not valid: %w", c.Timezone, err)
	}

	if c.SlotMinutes < 5 {
		return fmt.Errorf("slot_minutes must be at least 5, got %d", c.SlotMinutes)
	}

	if c.BusinessStartHour < 0 || c.BusinessEndHour > 24 || c.BusinessStartHour >= c.BusinessEndHour {
		return fmt.Errorf("business hours must satisfy 0 <= start < end <= 24, got %d-%d",
			c.BusinessStartHour, c.BusinessEndHour)
	}

	return nil
}

// Validate validates caller directory configuration
func (u *UsersConfig) Validate() error {
	if u.SupabaseURL == "" {
		return fmt.Errorf("supabase_url cannot be empty")
	}

	if u.SupabaseKey == "" {
		return fmt.Errorf("supabase_key cannot be empty")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty")
	}

	switch s.Backend {
	case "supabase":
		if s.SupabaseURL == "" {
			return fmt.Errorf("supabase_url cannot be empty for the supabase backend")
		}
		if s.SupabaseKey == "" {
			return fmt.Errorf("supabase_key cannot be empty for the supabase backend")
		}
	case "s3":
		if s.S3Region == "" {
			return fmt.Errorf("s3_region cannot be empty for the s3 backend")
		}
	default:
		return fmt.Errorf("backend must be 'supabase' or 's3', got '%s'", s.Backend)
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", p.MaxRetries)
	}

	if p.MaxBackoff < p.BaseBackoff {
		return fmt.Errorf("max_backoff_ms (%d) must be at least base_backoff_ms (%d)", p.MaxBackoff, p.BaseBackoff)
	}

	switch p.Ledger.Backend {
	case "memory":
	case "redis":
		if p.Ledger.RedisAddr == "" {
			return fmt.Errorf("ledger redis_addr cannot be empty for the redis backend")
		}
	default:
		return fmt.Errorf("ledger backend must be 'memory' or 'redis', got '%s'", p.Ledger.Backend)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}

	for _, scheme := range schemes {
		if u.Scheme == scheme && u.Host != "" {
			return nil
		}
	}

	return fmt.Errorf("%s must use one of %v with a host, got '%s'", field, schemes, raw)
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetRequestTimeout returns the Plivo REST timeout as a time.Duration
func (t *TelephonyConfig) GetRequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeout) * time.Second
}

// GetDialTimeout returns the AI engine dial timeout as a time.Duration
func (r *RealtimeConfig) GetDialTimeout() time.Duration {
	return time.Duration(r.DialTimeout) * time.Second
}

// GetWriteTimeout returns the AI engine write deadline as a time.Duration
func (r *RealtimeConfig) GetWriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeout) * time.Second
}

// GetIdentifyTimeout returns the per-prompt identification timeout
func (s *SessionConfig) GetIdentifyTimeout() time.Duration {
	return time.Duration(s.IdentifyTimeout) * time.Second
}

// GetMaxCallDuration returns the call duration guard
func (s *SessionConfig) GetMaxCallDuration() time.Duration {
	return time.Duration(s.MaxCallDuration) * time.Second
}

// GetRingTimeout returns how long an accepted call may wait for its stream
func (s *SessionConfig) GetRingTimeout() time.Duration {
	return time.Duration(s.RingTimeout) * time.Second
}

// GetLookupTimeout returns the caller lookup timeout
func (s *SessionConfig) GetLookupTimeout() time.Duration {
	return time.Duration(s.LookupTimeout) * time.Second
}

// GetToolTimeout returns the per-invocation backend timeout
func (s *SessionConfig) GetToolTimeout() time.Duration {
	return time.Duration(s.ToolTimeout) * time.Second
}

// GetCleanupInterval returns the registry sweep interval
func (s *SessionConfig) GetCleanupInterval() time.Duration {
	return time.Duration(s.CleanupInterval) * time.Second
}

// GetPresignTTL returns the lifetime of presigned document URLs
func (s *StorageConfig) GetPresignTTL() time.Duration {
	return time.Duration(s.PresignTTL) * time.Second
}

// GetTimeout returns the per-run pipeline timeout
func (p *PipelineConfig) GetTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// GetBaseBackoff returns the first retry delay
func (p *PipelineConfig) GetBaseBackoff() time.Duration {
	return time.Duration(p.BaseBackoff) * time.Millisecond
}

// GetMaxBackoff returns the retry delay cap
func (p *PipelineConfig) GetMaxBackoff() time.Duration {
	return time.Duration(p.MaxBackoff) * time.Millisecond
}

// GetTTL returns how long ledger records are kept
func (l *LedgerConfig) GetTTL() time.Duration {
	return time.Duration(l.TTL) * time.Second
}
