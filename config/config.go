package config

import (
	"errors"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env             string            `mapstructure:"env"`
	LogLevel        string            `mapstructure:"log_level"`
	LogType         string            `mapstructure:"log_type"`
	ServiceName     string            `mapstructure:"service_name"`
	Version         string            `mapstructure:"version"`
	RunID           string            `mapstructure:"run_id"`
	OutputDir       string            `mapstructure:"output_dir"`
	BrowserSettings *BrowserConfig    `mapstructure:"browser"`
	LinkSettings    *LinkCheckConfig  `mapstructure:"link_check"`
	DomSettings     *DomCheckConfig   `mapstructure:"dom_check"`
	MoocSettings    *MoocConfig       `mapstructure:"mooc"`
	EbrainsSettings *EbrainsConfig    `mapstructure:"ebrains"`
	NeuronSettings  *PickNeuronConfig `mapstructure:"pick_neuron"`
	HandoffSettings *HandoffConfig    `mapstructure:"handoff"`
	SlackSettings   *SlackConfig      `mapstructure:"slack"`
	PerfSettings    *PerfConfig       `mapstructure:"perf"`
	WorkerSettings  *WorkerConfig     `mapstructure:"worker"`
	CacheSettings   *CacheConfig      `mapstructure:"cache"`
	DbSettings      *DatabaseConfig   `mapstructure:"database"`
	KafkaSettings   *KafkaConfig      `mapstructure:"kafka"`
	S3Settings      *S3Config         `mapstructure:"s3"`
}

type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless"`
	RemoteURL       string        `mapstructure:"remote_url"`
	UserAgent       string        `mapstructure:"user_agent"`
	WindowWidth     int           `mapstructure:"window_width"`
	WindowHeight    int           `mapstructure:"window_height"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	NewTabTimeout   time.Duration `mapstructure:"new_tab_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ScreenshotDir   string        `mapstructure:"screenshot_dir"`
}

type LinkCheckConfig struct {
	Mechanism      string        `mapstructure:"mechanism"`
	Workers        int           `mapstructure:"workers"`
	Output         string        `mapstructure:"output"`
	PageTimeout    time.Duration `mapstructure:"page_timeout"`
	SettleInterval time.Duration `mapstructure:"settle_interval"`
	SettleMax      time.Duration `mapstructure:"settle_max"`
	IgnoreStatuses []int         `mapstructure:"ignore_statuses"`
	CacheTtl       time.Duration `mapstructure:"cache_ttl"`
}

type DomCheckConfig struct {
	Number  int           `mapstructure:"number"`
	Wait    time.Duration `mapstructure:"wait"`
	Delay   time.Duration `mapstructure:"delay"`
	Workers int           `mapstructure:"workers"`
	Output  string        `mapstructure:"output"`
}

type MoocConfig struct {
	CourseURL   string `mapstructure:"course_url"`
	PspListURL  string `mapstructure:"psp_list_url"`
	Login       string `mapstructure:"login"`
	Password    string `mapstructure:"password"`
	DebugDir    string `mapstructure:"debug_dir"`
	ResultsFile string `mapstructure:"results_file"`
}

type EbrainsConfig struct {
	Circuits map[string]*CircuitConfig `mapstructure:"circuits"`
	Login    string                    `mapstructure:"login"`
	Password string                    `mapstructure:"password"`
}

type CircuitConfig struct {
	URL        string `mapstructure:"url"`
	Population string `mapstructure:"population"`
}

type PickNeuronConfig struct {
	URL string `mapstructure:"url"`
}

type HandoffConfig struct {
	Backend string        `mapstructure:"backend"`
	Dir     string        `mapstructure:"dir"`
	Ttl     time.Duration `mapstructure:"ttl"`
}

type SlackConfig struct {
	OkURL    string        `mapstructure:"ok_url"`
	ErrorURL string        `mapstructure:"error_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type PerfConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Email        string        `mapstructure:"email"`
	ApiKey       string        `mapstructure:"api_key"`
	FormEndpoint string        `mapstructure:"form_endpoint"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWorkers   int           `mapstructure:"max_workers"`
	Browser      int           `mapstructure:"browser"`
	AuthLogin    string        `mapstructure:"http_auth_login"`
	AuthPassword string        `mapstructure:"http_auth_password"`
}

type WorkerConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

type CacheConfig struct {
	Servers string `mapstructure:"servers"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
}

type KafkaConfig struct {
	PublishResults bool            `mapstructure:"publish_results"`
	Producer       *ProducerConfig `mapstructure:"producer"`
	Consumer       *ConsumerConfig `mapstructure:"consumer"`
}

type ProducerConfig struct {
	Addr           string        `mapstructure:"addr"`
	WriteTopicName string        `mapstructure:"write_topic_name"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAsks   int           `mapstructure:"required_acks"`
	Async          bool          `mapstructure:"async"`
}

type ConsumerConfig struct {
	ReadTopicName    string        `mapstructure:"read_topic_name"`
	Brokers          string        `mapstructure:"brokers"`
	GroupID          string        `mapstructure:"group_id"`
	MaxWait          time.Duration `mapstructure:"max_wait"`
	ReadBatchTimeout time.Duration `mapstructure:"read_batch_timeout"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	AwsAccessKey    string `mapstructure:"aws_access_key"`
	AwsSecretKey    string `mapstructure:"aws_secret_key"`
	AwsBaseEndpoint string `mapstructure:"aws_base_endpoint"`
	Region          string `mapstructure:"region"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
}

// Credentials historically provided through CI variables.
var envBindings = map[string]string{
	"mooc.login":              "EDX_LOGIN",
	"mooc.password":           "EDX_PW",
	"ebrains.login":           "EBRAINS_LOGIN",
	"ebrains.password":        "EBRAINS_PW",
	"perf.email":              "GTMETRIX_EMAIL",
	"perf.api_key":            "GTMETRIX_APIKEY",
	"perf.http_auth_login":    "HTTP_AUTH_LOGIN",
	"perf.http_auth_password": "HTTP_AUTH_PASSWD",
	"run_id":                  "CI_PIPELINE_ID",
}

func MustLoad(file string) *Config {
	cfg, err := Load(file)
	if err != nil {
		slog.Error("can't initialize config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	return cfg
}

// Load reads the config file (config.yaml in the working directory when file is empty).
// A missing default file is not an error: defaults and environment still apply.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(path.Join("."))
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("log_level", "debug")
	v.SetDefault("log_type", "text")
	v.SetDefault("service_name", "portal-checker")
	v.SetDefault("version", "dev")
	v.SetDefault("output_dir", ".")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.page_load_timeout", 60*time.Second)
	v.SetDefault("browser.new_tab_timeout", 30*time.Second)
	v.SetDefault("browser.poll_interval", time.Second)
	v.SetDefault("browser.screenshot_dir", "screenshots")

	v.SetDefault("link_check.mechanism", "headless")
	v.SetDefault("link_check.workers", 2)
	v.SetDefault("link_check.output", "errors.list")
	v.SetDefault("link_check.page_timeout", 90*time.Second)
	v.SetDefault("link_check.settle_interval", 5*time.Second)
	v.SetDefault("link_check.settle_max", time.Minute)
	v.SetDefault("link_check.ignore_statuses", []int{403})
	v.SetDefault("link_check.cache_ttl", time.Hour)

	v.SetDefault("dom_check.number", 5)
	v.SetDefault("dom_check.wait", 20*time.Second)
	v.SetDefault("dom_check.workers", 2)
	v.SetDefault("dom_check.output", "page_dom_check.log")

	v.SetDefault("mooc.course_url", "https://courseware.epfl.ch/courses/course-v1:EPFL+SimNeuro2+2019_2/"+
		"courseware/ba6f8be8f0bb4956a94147f7a09e4cf4/fc4b687d340a4c69a862661e110970b1/1")
	v.SetDefault("mooc.psp_list_url", "https://bbp-mooc-sim-neuro.epfl.ch/psp-validation/list")
	v.SetDefault("mooc.debug_dir", "debug")
	v.SetDefault("mooc.results_file", "service_results.txt")

	v.SetDefault("ebrains.circuits", map[string]any{
		"CA1": map[string]any{
			"url":        "https://simulation-launcher-bsp-epfl.apps.hbp.eu/index.html#/circuits/hippo_hbp_sa_full_ca1",
			"population": "slice69",
		},
		"MICRO": map[string]any{
			"url":        "https://simulation-launcher-bsp-epfl.apps.hbp.eu/index.html#/circuits/hippo_mooc_sa_microcircuit",
			"population": "mc1_Column",
		},
	})
	v.SetDefault("pick_neuron.url", "https://bbp.epfl.ch/pick-real-neuron/")

	v.SetDefault("handoff.backend", "file")
	v.SetDefault("handoff.dir", ".")
	v.SetDefault("handoff.ttl", 7*24*time.Hour)

	v.SetDefault("slack.ok_url", "")
	v.SetDefault("slack.error_url", "")
	v.SetDefault("slack.timeout", 30*time.Second)

	v.SetDefault("perf.base_url", "https://gtmetrix.com/api/2.0/")
	v.SetDefault("perf.form_endpoint", "https://docs.google.com/forms/u/0/d/e/"+
		"1FAIpQLScTLaWu1wk6xCACiQ-FBKY8qncZoCkmmPYYz-8tTrPSsSvb4Q/formResponse")
	v.SetDefault("perf.poll_interval", 3*time.Second)
	v.SetDefault("perf.max_workers", 2)
	v.SetDefault("perf.browser", 3)

	v.SetDefault("worker.max_workers", 2)
	v.SetDefault("worker.retry_attempts", 2)
	v.SetDefault("worker.retry_delay", 5*time.Second)

	v.SetDefault("cache.servers", "localhost:11211")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "portal-checker.db")
	v.SetDefault("database.conn_max_lifetime", 3*time.Minute)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)

	v.SetDefault("kafka.producer.max_attempts", 3)
	v.SetDefault("kafka.producer.batch_size", 50)
	v.SetDefault("kafka.producer.batch_timeout", time.Second)
	v.SetDefault("kafka.producer.read_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.write_timeout", 10*time.Second)
	v.SetDefault("kafka.producer.required_acks", 1)
	v.SetDefault("kafka.consumer.max_wait", time.Second)
	v.SetDefault("kafka.consumer.read_batch_timeout", 10*time.Second)

	v.SetDefault("s3.key_prefix", "portal-checker")
}
