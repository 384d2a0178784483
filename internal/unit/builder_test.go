package unit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prevant-go/prevant/internal/config"
	"github.com/prevant-go/prevant/internal/infra"
	"github.com/prevant-go/prevant/internal/infra/memory"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/prevant-go/prevant/internal/template"
)

func must(t *testing.T, raw string) model.Image {
	t.Helper()
	img, err := model.ParseImage(raw)
	require.NoError(t, err)
	return img
}

func newTestBuilder(t *testing.T, cfg *config.Config) (*Builder, *memory.Backend) {
	t.Helper()
	backend := memory.New()
	if cfg == nil {
		c := config.Default()
		cfg = &c
	}
	return New(backend, cfg, template.New(), nil, nil), backend
}

func TestBuild_PlainServiceOrderedAsInstance(t *testing.T) {
	b, _ := newTestBuilder(t, nil)

	deployables, route, err := b.Build(context.Background(), BuildRequest{
		AppName: "demo",
		ServiceConfigs: []model.ServiceConfig{
			{ServiceName: "web", Image: must(t, "nginx:1.0")},
		},
	})
	require.NoError(t, err)
	require.Len(t, deployables, 1)
	require.Equal(t, model.ContainerTypeInstance, deployables[0].ContainerType)
	require.Equal(t, "/demo/", route.PathPrefix)
}

func TestBuild_ReplicaSynthesisFromSourceApp(t *testing.T) {
	b, backend := newTestBuilder(t, nil)

	_, err := backend.DeployServices(context.Background(), infra.DeploymentUnit{
		AppName: "source",
		Services: []model.DeployableService{
			{ServiceConfig: model.ServiceConfig{
				ServiceName: "db",
				Image:       must(t, "postgres:13"),
				Environment: model.EnvironmentSet{
					{Key: "REPLICATE_ME", Value: "x", Replicate: true},
					{Key: "SKIP_ME", Value: "y"},
				},
			}},
		},
	})
	require.NoError(t, err)

	replicateFrom := model.AppName("source")
	deployables, _, err := b.Build(context.Background(), BuildRequest{
		AppName:        "pr-1",
		ReplicateFrom:  &replicateFrom,
		ServiceConfigs: []model.ServiceConfig{},
	})
	require.NoError(t, err)
	require.Len(t, deployables, 1)
	require.Equal(t, model.ContainerTypeReplica, deployables[0].ContainerType)
	require.Len(t, deployables[0].Environment, 1)
	require.Equal(t, "REPLICATE_ME", deployables[0].Environment[0].Key)
}

func TestBuild_ReplicaSynthesisRequestWins(t *testing.T) {
	b, backend := newTestBuilder(t, nil)

	_, err := backend.DeployServices(context.Background(), infra.DeploymentUnit{
		AppName: "source",
		Services: []model.DeployableService{
			{ServiceConfig: model.ServiceConfig{ServiceName: "db", Image: must(t, "postgres:13")}},
		},
	})
	require.NoError(t, err)

	replicateFrom := model.AppName("source")
	deployables, _, err := b.Build(context.Background(), BuildRequest{
		AppName:       "pr-1",
		ReplicateFrom: &replicateFrom,
		ServiceConfigs: []model.ServiceConfig{
			{ServiceName: "db", Image: must(t, "postgres:14")},
		},
	})
	require.NoError(t, err)
	require.Len(t, deployables, 1)
	require.Equal(t, model.ContainerTypeInstance, deployables[0].ContainerType)
	require.Equal(t, "14", deployables[0].Image.Tag())
}

func TestBuild_CompanionExpansionAndOrdering(t *testing.T) {
	cfg := config.Default()
	cfg.Companions = map[string]config.CompanionConfig{
		"logging": {
			ServiceName: "logging",
			Type:        config.CompanionTypeService,
			Image:       "fluentbit:1.0",
			AppSelector: ".*",
		},
		"migrate": {
			ServiceName: "migrate",
			Type:        config.CompanionTypeApplication,
			Image:       "migrate:1.0",
			AppSelector: ".*",
		},
	}
	b, _ := newTestBuilder(t, &cfg)

	deployables, _, err := b.Build(context.Background(), BuildRequest{
		AppName: "demo",
		ServiceConfigs: []model.ServiceConfig{
			{ServiceName: "web", Image: must(t, "nginx:1.0")},
		},
	})
	require.NoError(t, err)
	require.Len(t, deployables, 3)

	// Ordering: ApplicationCompanion, ServiceCompanion, Instance.
	require.Equal(t, model.ContainerTypeApplicationCompanion, deployables[0].ContainerType)
	require.Equal(t, "migrate", deployables[0].ServiceName)
	require.Equal(t, model.ContainerTypeServiceCompanion, deployables[1].ContainerType)
	require.Equal(t, "web-logging", deployables[1].ServiceName)
	require.Equal(t, model.ContainerTypeInstance, deployables[2].ContainerType)
}

func TestBuild_SecretInjectionMountsConfiguredFile(t *testing.T) {
	cfg := config.Default()
	cfg.Services = map[string]config.ServiceSecretsConfig{
		"web": {Secrets: []config.SecretConfig{
			{Name: "api-key", Data: "c2VjcmV0", Path: "/etc/secret", AppSelector: ".*"},
		}},
	}
	b, _ := newTestBuilder(t, &cfg)

	deployables, _, err := b.Build(context.Background(), BuildRequest{
		AppName: "demo",
		ServiceConfigs: []model.ServiceConfig{
			{ServiceName: "web", Image: must(t, "nginx:1.0")},
		},
	})
	require.NoError(t, err)
	require.Len(t, deployables, 1)
	require.Equal(t, "c2VjcmV0", deployables[0].Files["/etc/secret"])
}

func TestBuild_TemplatingRendersApplicationName(t *testing.T) {
	b, _ := newTestBuilder(t, nil)

	deployables, _, err := b.Build(context.Background(), BuildRequest{
		AppName: "demo",
		ServiceConfigs: []model.ServiceConfig{
			{
				ServiceName: "web",
				Image:       must(t, "nginx:1.0"),
				Environment: model.EnvironmentSet{
					{Key: "APP_NAME", Value: "{{application.name}}", Templated: true},
				},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, deployables, 1)
	val, ok := deployables[0].Environment.Get("APP_NAME")
	require.True(t, ok)
	require.Equal(t, "demo", val.Value)
}
