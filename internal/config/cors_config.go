package config

import "strings"

type Cors struct {
	// FrontendURL may hold several comma separated origins; the first one is
	// where the auth bridge posts its message.
	FrontendURLs []string `env:"FRONTEND_URL" envDefault:"http://localhost:3000" envSeparator:","`
}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

func (c Cors) GetFrontendURL() string {
	for _, u := range c.FrontendURLs {
		if u = strings.TrimSpace(u); u != "" {
			return strings.TrimRight(u, "/")
		}
	}
	return ""
}

func (c Cors) GetAllowedOrigins() AllowedOrigins {
	origins := AllowedOrigins{}
	for _, u := range c.FrontendURLs {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			origins[u] = nullValue{}
		}
	}
	return origins
}

func (Cors) GetAllowedMethods() string {
	return "GET, POST, OPTIONS"
}

func (Cors) GetAllowedHeaders() string {
	return "Content-Type, Authorization, X-Request-ID"
}
