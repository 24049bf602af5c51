package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
UpstreamTimeout = "boom"

[[Origin]]
Name = "cdn"
Domain = "cdn.local"
Upstream = "https://media.example.com"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsInvalidByteSize(t *testing.T) {
	cfg := `
StoragePath = "./data"
SegmentSize = "huge"

[[Origin]]
Name = "cdn"
Domain = "cdn.local"
Upstream = "https://media.example.com"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 SegmentSize 应失败")
	}
}

func TestLoadRejectsOriginPort(t *testing.T) {
	cfg := `
StoragePath = "./data"

[[Origin]]
Name = "cdn"
Domain = "cdn.local"
Port = 6000
Upstream = "https://media.example.com"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("Origin 级 Port 应被拒绝")
	}
}
