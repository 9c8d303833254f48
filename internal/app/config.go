package app

import (
	"strings"
	"time"
)

const (
	BackendBOS    = "bos"
	BackendWebdav = "webdav"

	MappingFile     = "file"
	MappingPostgres = "postgres"
)

type ObjectStoreConfig struct {
	Backend        string `cfg:"{'name':'backend','desc':'Object store backend: bos or webdav.','default':'bos'}"`
	Endpoint       string `cfg:"{'name':'endpoint','desc':'BOS endpoint or WebDAV base URL.','default':'https://gz.bcebos.com'}"`
	AccessKey      string `cfg:"{'name':'access_key','desc':'BOS access key.','default':''}"`
	SecretKey      string `cfg:"{'name':'secret_key','desc':'BOS secret key.','default':''}"`
	Bucket         string `cfg:"{'name':'bucket','desc':'Bucket (top-level collection for WebDAV).','default':'ynnaiiamge'}"`
	PublicDomain   string `cfg:"{'name':'public_domain','desc':'Domain public URLs are built on.','default':'ynnaiiamge.gz.bcebos.com'}"`
	KeyPrefix      string `cfg:"{'name':'key_prefix','desc':'Prefix for generated object keys.','default':'products'}"`
	WebdavUser     string `cfg:"{'name':'webdav_user','desc':'WebDAV user.','default':''}"`
	WebdavPassword string `cfg:"{'name':'webdav_password','desc':'WebDAV password.','default':''}"`
}

type VisualSearchConfig struct {
	AppID        string        `cfg:"{'name':'app_id','desc':'Visual search application id.','default':''}"`
	ClientID     string        `cfg:"{'name':'client_id','desc':'OAuth client id (API key).','default':''}"`
	ClientSecret string        `cfg:"{'name':'client_secret','desc':'OAuth client secret.','default':''}"`
	TokenURL     string        `cfg:"{'name':'token_url','desc':'OAuth token endpoint.','default':'https://aip.baidubce.com/oauth/2.0/token'}"`
	BaseURL      string        `cfg:"{'name':'base_url','desc':'Same-image search API base.','default':'https://aip.baidubce.com/rest/2.0/realtime_search/same_hq'}"`
	QPS          float64       `cfg:"{'name':'qps','desc':'Outbound request rate limit, 0 disables.','default':2}"`
	Timeout      time.Duration `cfg:"{'name':'timeout','desc':'Timeout of a single outbound call.','default':'30s'}"`
}

type MappingConfig struct {
	Backend     string        `cfg:"{'name':'backend','desc':'URL mapping backend: file or postgres.','default':'file'}"`
	File        string        `cfg:"{'name':'file','desc':'JSON mapping document.','default':'data/url_mapping.json'}"`
	PostgresURL string        `cfg:"{'name':'postgres_url','desc':'Postgres DSN for the mapping table.','default':''}"`
	CacheSize   int           `cfg:"{'name':'cache_size','desc':'In-memory lookup cache entries.','default':1024}"`
	CacheTTL    time.Duration `cfg:"{'name':'cache_ttl','desc':'How long a cached lookup is trusted.','default':'30s'}"`
}

type HTTPConfig struct {
	Listen         string        `cfg:"{'name':'listen','desc':'Listen address.','default':':8080'}"`
	RequestTimeout time.Duration `cfg:"{'name':'request_timeout','desc':'Per-request timeout.','default':'60s'}"`
	MaxUploadBytes int           `cfg:"{'name':'max_upload_bytes','desc':'Upload size limit.','default':52428800}"`
	CORSOrigins    string        `cfg:"{'name':'cors_origins','desc':'Comma separated allowed origins.','default':'*'}"`
	Debug          bool          `cfg:"{'name':'debug','desc':'Gin debug mode.','default':false}"`
}

type IngestConfig struct {
	PersistPartial bool `cfg:"{'name':'persist_partial','desc':'Record uploads whose registration failed.','default':true}"`
}

// SplitList splits a comma separated option, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// OptionsSet reports which secret or deployment specific options carry a
// value. Values themselves are never exposed.
func OptionsSet(store ObjectStoreConfig, vs VisualSearchConfig, m MappingConfig) map[string]bool {
	return map[string]bool{
		"object_store.endpoint":       store.Endpoint != "",
		"object_store.access_key":     store.AccessKey != "",
		"object_store.secret_key":     store.SecretKey != "",
		"object_store.bucket":         store.Bucket != "",
		"object_store.public_domain":  store.PublicDomain != "",
		"object_store.webdav_user":    store.WebdavUser != "",
		"visual_search.app_id":        vs.AppID != "",
		"visual_search.client_id":     vs.ClientID != "",
		"visual_search.client_secret": vs.ClientSecret != "",
		"mapping.postgres_url":        m.PostgresURL != "",
	}
}
