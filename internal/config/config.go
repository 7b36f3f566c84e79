package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type AuthConfig struct {
	DefaultAdminUsername string `yaml:"default_admin_username"`
	DefaultAdminPassword string `yaml:"default_admin_password"`
}

type ExamConfig struct {
	QuestionSampleSize int `yaml:"question_sample_size"`
}

// DecoderConfig controls how non-WAV containers are turned into PCM. The
// converter command is run once per clip with input and output files
// appended; webm and mp3 captures from the exam client go through it.
type DecoderConfig struct {
	ConverterCommand string `yaml:"converter_command"`
	DefaultFormat    string `yaml:"default_format"`
}

type DenoiseConfig struct {
	Enabled bool `yaml:"enabled"`
}

type VADConfig struct {
	ModelPath            string  `yaml:"model_path"`
	Threshold            float32 `yaml:"threshold"`
	WindowSize           int     `yaml:"window_size"`
	MinSilenceDurationMS int     `yaml:"min_silence_duration_ms"`
	SpeechPadMS          int     `yaml:"speech_pad_ms"`
	PoolSize             int     `yaml:"pool_size"`
}

type VoicingConfig struct {
	PitchMinHz       float64 `yaml:"pitch_min_hz"`
	PitchMaxHz       float64 `yaml:"pitch_max_hz"`
	MinFraction      float64 `yaml:"min_fraction"`
	ClarityThreshold float64 `yaml:"clarity_threshold"`
	FrameLength      int     `yaml:"frame_length"`
	HopLength        int     `yaml:"hop_length"`
}

type PipelineConfig struct {
	SampleRate         int           `yaml:"sample_rate"`
	MinSpeechDurationS float64       `yaml:"min_speech_duration_s"`
	BudgetMS           int           `yaml:"budget_ms"`
	Decoder            DecoderConfig `yaml:"decoder"`
	Denoise            DenoiseConfig `yaml:"denoise"`
	VAD                VADConfig     `yaml:"vad"`
	Voicing            VoicingConfig `yaml:"voicing"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Store       StoreConfig     `yaml:"store"`
	Auth        AuthConfig      `yaml:"auth"`
	Exam        ExamConfig      `yaml:"exam"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
}

func Default() Config {
	return Config{
		ServiceName: "vigil-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8080,
			MaxUploadBytes: 32 << 20,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/vigil.db",
		},
		Auth: AuthConfig{
			DefaultAdminUsername: "admin",
			DefaultAdminPassword: "admin123",
		},
		Exam: ExamConfig{
			QuestionSampleSize: 50,
		},
		Pipeline: PipelineConfig{
			SampleRate:         16000,
			MinSpeechDurationS: 0.3,
			BudgetMS:           5000,
			Decoder: DecoderConfig{
				ConverterCommand: "ffmpeg -hide_banner -loglevel error -y",
				DefaultFormat:    "webm",
			},
			Denoise: DenoiseConfig{
				Enabled: true,
			},
			VAD: VADConfig{
				ModelPath:            "./models/silero_vad.onnx",
				Threshold:            0.5,
				WindowSize:           1024,
				MinSilenceDurationMS: 0,
				SpeechPadMS:          0,
				PoolSize:             4,
			},
			Voicing: VoicingConfig{
				PitchMinHz:       50,
				PitchMaxHz:       400,
				MinFraction:      0.15,
				ClarityThreshold: 0.5,
				FrameLength:      1024,
				HopLength:        256,
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VIGIL_SERVICE_NAME")
	overrideString(&cfg.Environment, "VIGIL_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VIGIL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VIGIL_HTTP_PORT")
	overrideInt64(&cfg.HTTP.MaxUploadBytes, "VIGIL_HTTP_MAX_UPLOAD_BYTES")
	overrideString(&cfg.Telemetry.LogLevel, "VIGIL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VIGIL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VIGIL_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "VIGIL_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VIGIL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VIGIL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VIGIL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VIGIL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VIGIL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VIGIL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VIGIL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VIGIL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "VIGIL_STORE_PATH")
	overrideBool(&cfg.Store.VacuumOnStart, "VIGIL_STORE_VACUUM_ON_START")
	overrideString(&cfg.Auth.DefaultAdminUsername, "VIGIL_AUTH_DEFAULT_ADMIN_USERNAME")
	overrideString(&cfg.Auth.DefaultAdminPassword, "VIGIL_AUTH_DEFAULT_ADMIN_PASSWORD")
	overrideInt(&cfg.Exam.QuestionSampleSize, "VIGIL_EXAM_QUESTION_SAMPLE_SIZE")
	overrideInt(&cfg.Pipeline.SampleRate, "VIGIL_PIPELINE_SAMPLE_RATE")
	overrideFloat(&cfg.Pipeline.MinSpeechDurationS, "VIGIL_PIPELINE_MIN_SPEECH_DURATION_S")
	overrideInt(&cfg.Pipeline.BudgetMS, "VIGIL_PIPELINE_BUDGET_MS")
	overrideString(&cfg.Pipeline.Decoder.ConverterCommand, "VIGIL_PIPELINE_DECODER_CONVERTER_COMMAND")
	overrideString(&cfg.Pipeline.Decoder.DefaultFormat, "VIGIL_PIPELINE_DECODER_DEFAULT_FORMAT")
	overrideBool(&cfg.Pipeline.Denoise.Enabled, "VIGIL_PIPELINE_DENOISE_ENABLED")
	overrideString(&cfg.Pipeline.VAD.ModelPath, "VIGIL_PIPELINE_VAD_MODEL_PATH")
	overrideFloat32(&cfg.Pipeline.VAD.Threshold, "VIGIL_PIPELINE_VAD_THRESHOLD")
	overrideInt(&cfg.Pipeline.VAD.WindowSize, "VIGIL_PIPELINE_VAD_WINDOW_SIZE")
	overrideInt(&cfg.Pipeline.VAD.MinSilenceDurationMS, "VIGIL_PIPELINE_VAD_MIN_SILENCE_DURATION_MS")
	overrideInt(&cfg.Pipeline.VAD.SpeechPadMS, "VIGIL_PIPELINE_VAD_SPEECH_PAD_MS")
	overrideInt(&cfg.Pipeline.VAD.PoolSize, "VIGIL_PIPELINE_VAD_POOL_SIZE")
	overrideFloat(&cfg.Pipeline.Voicing.PitchMinHz, "VIGIL_PIPELINE_VOICING_PITCH_MIN_HZ")
	overrideFloat(&cfg.Pipeline.Voicing.PitchMaxHz, "VIGIL_PIPELINE_VOICING_PITCH_MAX_HZ")
	overrideFloat(&cfg.Pipeline.Voicing.MinFraction, "VIGIL_PIPELINE_VOICING_MIN_FRACTION")
	overrideFloat(&cfg.Pipeline.Voicing.ClarityThreshold, "VIGIL_PIPELINE_VOICING_CLARITY_THRESHOLD")
	overrideInt(&cfg.Pipeline.Voicing.FrameLength, "VIGIL_PIPELINE_VOICING_FRAME_LENGTH")
	overrideInt(&cfg.Pipeline.Voicing.HopLength, "VIGIL_PIPELINE_VOICING_HOP_LENGTH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat32(target *float32, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			*target = float32(parsed)
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		return errors.New("http.max_upload_bytes must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Auth.DefaultAdminUsername == "" {
		return errors.New("auth.default_admin_username must not be empty")
	}
	if cfg.Exam.QuestionSampleSize <= 0 {
		return errors.New("exam.question_sample_size must be positive")
	}
	return validatePipeline(cfg.Pipeline)
}

func validatePipeline(p PipelineConfig) error {
	if p.SampleRate != 8000 && p.SampleRate != 16000 {
		return errors.New("pipeline.sample_rate must be 8000 or 16000")
	}
	if p.MinSpeechDurationS < 0 {
		return errors.New("pipeline.min_speech_duration_s must be >= 0")
	}
	if p.BudgetMS <= 0 {
		return errors.New("pipeline.budget_ms must be positive")
	}
	if p.Decoder.ConverterCommand == "" {
		return errors.New("pipeline.decoder.converter_command must not be empty")
	}
	switch p.Decoder.DefaultFormat {
	case "webm", "wav", "mp3":
		// ok
	default:
		return errors.New("pipeline.decoder.default_format must be one of webm|wav|mp3")
	}
	if p.VAD.ModelPath == "" {
		return errors.New("pipeline.vad.model_path must not be empty")
	}
	if p.VAD.Threshold <= 0 || p.VAD.Threshold >= 1 {
		return errors.New("pipeline.vad.threshold must be in (0, 1)")
	}
	if p.VAD.PoolSize <= 0 {
		return errors.New("pipeline.vad.pool_size must be >= 1")
	}
	if p.Voicing.PitchMinHz <= 0 || p.Voicing.PitchMaxHz <= p.Voicing.PitchMinHz {
		return errors.New("pipeline.voicing pitch range must satisfy 0 < min < max")
	}
	if p.Voicing.MinFraction < 0 || p.Voicing.MinFraction > 1 {
		return errors.New("pipeline.voicing.min_fraction must be in [0, 1]")
	}
	if p.Voicing.ClarityThreshold <= 0 || p.Voicing.ClarityThreshold >= 1 {
		return errors.New("pipeline.voicing.clarity_threshold must be in (0, 1)")
	}
	if p.Voicing.FrameLength <= 0 || p.Voicing.HopLength <= 0 {
		return errors.New("pipeline.voicing frame and hop lengths must be positive")
	}
	if p.Voicing.HopLength > p.Voicing.FrameLength {
		return errors.New("pipeline.voicing.hop_length must not exceed frame_length")
	}
	return nil
}
