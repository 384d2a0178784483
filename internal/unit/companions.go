package unit

import (
	"sort"

	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/config"
	"github.com/prevant-go/prevant/internal/model"
)

// expandCompanions implements step 3. Application companions materialize
// once per matching app. Service companions materialize once per matching
// existing service; the computed name is "{originService}-{companionName}"
// so distinct origins never collide with each other, but an explicitly
// requested service sharing that exact name absorbs the companion instead
// of getting a duplicate (existing wins on env collision, files/labels
// union, per ServiceConfig.MergeWith).
func (b *Builder) expandCompanions(appName model.AppName, entries []entry) ([]entry, error) {
	if b.Config == nil || len(b.Config.Companions) == 0 {
		return entries, nil
	}

	appStr := appName.String()
	originEntries := append([]entry(nil), entries...)
	keys := make([]string, 0, len(b.Config.Companions))
	for k := range b.Config.Companions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		comp := b.Config.Companions[key]
		if comp.Type != config.CompanionTypeApplication || !comp.Matches(appStr) {
			continue
		}
		cfg, err := companionServiceConfig(comp, comp.ServiceName, model.ContainerTypeApplicationCompanion)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry{config: cfg})
	}

	for _, key := range keys {
		comp := b.Config.Companions[key]
		if comp.Type != config.CompanionTypeService || !comp.Matches(appStr) {
			continue
		}
		for _, origin := range originEntries {
			name := origin.config.ServiceName + "-" + comp.ServiceName
			cfg, err := companionServiceConfig(comp, name, model.ContainerTypeServiceCompanion)
			if err != nil {
				return nil, err
			}
			if idx := findByName(entries, name); idx >= 0 {
				entries[idx].config = entries[idx].config.MergeWith(cfg)
			} else {
				entries = append(entries, entry{config: cfg, originService: origin.config.ServiceName})
			}
		}
	}

	return entries, nil
}

func companionServiceConfig(comp config.CompanionConfig, name string, ctype model.ContainerType) (model.ServiceConfig, error) {
	cfg := model.ServiceConfig{
		ServiceName:   name,
		ContainerType: ctype,
		Labels:        cloneMap(comp.Labels),
		Files:         cloneMap(comp.Files),
		Middlewares:   append([]string(nil), comp.Middlewares...),
	}

	if comp.Image != "" {
		img, err := model.ParseImage(comp.Image)
		if err != nil {
			return model.ServiceConfig{}, apperr.InvalidServiceConfig("companion " + name + ": " + err.Error())
		}
		cfg.Image = img
	}

	if len(comp.Env) > 0 {
		envKeys := make([]string, 0, len(comp.Env))
		for k := range comp.Env {
			envKeys = append(envKeys, k)
		}
		sort.Strings(envKeys)
		for _, k := range envKeys {
			cfg.Environment = append(cfg.Environment, model.EnvironmentVariable{Key: k, Value: comp.Env[k]})
		}
	}

	if comp.Router != "" {
		cfg.Router = &model.RouterConfig{PathPrefix: comp.Router}
	}

	return cfg, nil
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func findByName(entries []entry, name string) int {
	for i, e := range entries {
		if e.config.ServiceName == name {
			return i
		}
	}
	return -1
}
