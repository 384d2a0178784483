package unit

import "github.com/prevant-go/prevant/internal/model"

// injectSecrets implements step 2: for each entry whose service name
// matches a configured service-secret selector, mount the configured
// files (decoded path -> payload) into the entry's config.
func (b *Builder) injectSecrets(appName model.AppName, entries []entry) []entry {
	if b.Config == nil {
		return entries
	}
	appStr := appName.String()
	for i := range entries {
		svcSecrets, ok := b.Config.Services[entries[i].config.ServiceName]
		if !ok {
			continue
		}
		for _, s := range svcSecrets.Secrets {
			sec := s
			if !sec.Matches(appStr) {
				continue
			}
			if entries[i].config.Files == nil {
				entries[i].config.Files = map[string]string{}
			}
			path := sec.Path
			if path == "" {
				path = "/secrets/" + sec.Name
			}
			entries[i].config.Files[path] = sec.Data
		}
	}
	return entries
}
