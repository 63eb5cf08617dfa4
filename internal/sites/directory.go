// Package sites resolves tracking codes to the websites that embed the snippet.
package sites

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Website is a registered site. Domains, when set, restrict which hosts may
// report events under the site's tracking code.
type Website struct {
	ID       string   `yaml:"id" json:"id"`
	TenantID string   `yaml:"tenant_id" json:"tenantId"`
	Name     string   `yaml:"name" json:"name"`
	Domains  []string `yaml:"domains" json:"domains"`
	Active   *bool    `yaml:"active" json:"active"`
}

// IsActive treats a missing flag as active.
func (w Website) IsActive() bool {
	return w.Active == nil || *w.Active
}

// AllowsHost reports whether website (a host or URL) belongs to the site.
func (w Website) AllowsHost(website string) bool {
	if len(w.Domains) == 0 {
		return true
	}
	host := NormalizeHost(website)
	if host == "" {
		return false
	}
	for _, d := range w.Domains {
		d = NormalizeHost(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// NormalizeHost lowercases a host or URL and strips scheme, port, path and "www.".
func NormalizeHost(raw string) string {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// Directory is a read-only tracking code lookup.
type Directory struct {
	byCode map[string]Website
}

func NewDirectory(byCode map[string]Website) *Directory {
	return &Directory{byCode: byCode}
}

func (d *Directory) Lookup(trackingCode string) (Website, bool) {
	w, ok := d.byCode[trackingCode]
	return w, ok
}

func (d *Directory) Len() int { return len(d.byCode) }

type sitesFile struct {
	Sites map[string]Website `yaml:"sites"`
}

// LoadFile reads a YAML file keyed by tracking code.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Parse decodes the sites YAML. source is only used in error messages.
func Parse(data []byte, source string) (*Directory, error) {
	var file sitesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Sites) == 0 {
		return nil, fmt.Errorf("no sites configured in %s", source)
	}
	out := make(map[string]Website, len(file.Sites))
	for code, site := range file.Sites {
		if strings.TrimSpace(code) == "" {
			continue
		}
		if site.ID == "" {
			return nil, fmt.Errorf("site %s missing id in %s", code, source)
		}
		out[code] = site
	}
	return NewDirectory(out), nil
}
