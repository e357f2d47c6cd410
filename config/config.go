package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

func LoadConfigFromFile(path string) (*Config, error) {
	if path == "" {
		path = "./config/config.yaml"
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	dec := yaml.NewDecoder(file)
	err = dec.Decode(&config)
	if err != nil {
		return nil, err
	}
	config.applyDefaults()
	AppConfig = &config
	return &config, nil
}

// LoadDefaults builds a config without reading a file. Used when the config
// file is missing so the server can still come up with sane values.
func LoadDefaults() *Config {
	var config Config
	config.applyDefaults()
	AppConfig = &config
	return &config
}

func (c *Config) applyDefaults() {
	if c.SaveDir == "" {
		c.SaveDir = "./media"
	}
	if c.TempDir == "" {
		c.TempDir = "./media/temp"
	}
	if c.ThumbnailDir == "" {
		c.ThumbnailDir = "./media/thumbnails"
	}
	if c.SubtitleDir == "" {
		c.SubtitleDir = "./media/subtitles"
	}
	if c.DBPath == "" {
		c.DBPath = "./mediakeep.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":51088"
	}
	if c.MaxConcurrentDownloads <= 0 {
		c.MaxConcurrentDownloads = 3
	}
	if c.YTDLPPath == "" {
		c.YTDLPPath = "yt-dlp"
	}
	if env := os.Getenv("MEDIAKEEP_PROXY"); env != "" {
		c.Proxy = env
	}
}

type Config struct {
	SaveDir                string `yaml:"save_dir"`
	TempDir                string `yaml:"temp_dir"`
	ThumbnailDir           string `yaml:"thumbnail_dir"`
	SubtitleDir            string `yaml:"subtitle_dir"`
	DBPath                 string `yaml:"db_path"`
	ListenAddr             string `yaml:"listen_addr"`
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads"`
	YTDLPPath              string `yaml:"ytdlp_path"`
	Proxy                  string `yaml:"proxy"`
	BilibiliCookie         string `yaml:"bilibili_cookie"`
	BrowserExecPath        string `yaml:"browser_exec_path"`
	MirrorBucket           string `yaml:"mirror_bucket"`
	MirrorRegion           string `yaml:"mirror_region"`
}

var AppConfig *Config
