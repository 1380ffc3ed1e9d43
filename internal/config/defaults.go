package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/umekomi/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Variant == "" {
		cfg.Embedding.Variant = "sequence"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.QueueSize == 0 {
		cfg.Embedding.QueueSize = 64
	}
}
