package template

import (
	"testing"

	"github.com/prevant-go/prevant/internal/apperr"
	"github.com/prevant-go/prevant/internal/model"
	"github.com/stretchr/testify/require"
)

func TestRenderServiceConfig_RendersTemplatedEnv(t *testing.T) {
	engine := New()
	cfg := model.ServiceConfig{
		ServiceName: "api",
		Environment: model.EnvironmentSet{
			{Key: "APP_NAME", Value: "{{ application.name }}", Templated: true},
			{Key: "STATIC", Value: "unchanged", Templated: false},
		},
	}
	ctx := Context{Application: ApplicationView{Name: "demo"}}

	rendered, err := RenderServiceConfig(engine, cfg, ctx)
	require.NoError(t, err)

	v, ok := rendered.Environment.Get("APP_NAME")
	require.True(t, ok)
	require.Equal(t, "demo", v.Value)

	s, ok := rendered.Environment.Get("STATIC")
	require.True(t, ok)
	require.Equal(t, "unchanged", s.Value)
}

func TestRenderServiceConfig_ServiceCompanionSeesOriginatingService(t *testing.T) {
	engine := New()
	cfg := model.ServiceConfig{
		ServiceName: "logger",
		Environment: model.EnvironmentSet{
			{Key: "TARGET_PORT", Value: "{{ service.port }}", Templated: true},
		},
	}
	ctx := Context{
		Application: ApplicationView{Name: "demo"},
		Service:     &ServiceView{Name: "api", Port: 8080, Type: "Instance"},
	}

	rendered, err := RenderServiceConfig(engine, cfg, ctx)
	require.NoError(t, err)
	v, _ := rendered.Environment.Get("TARGET_PORT")
	require.Equal(t, "8080", v.Value)
}

func TestRenderServiceConfig_MissingVariableIsInvalidTemplateFormat(t *testing.T) {
	engine := New()
	cfg := model.ServiceConfig{
		ServiceName: "api",
		Environment: model.EnvironmentSet{
			{Key: "MISSING", Value: "{{ nope }}", Templated: true},
		},
	}
	_, err := RenderServiceConfig(engine, cfg, Context{Application: ApplicationView{Name: "demo"}})
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindInvalidTemplateFormat, kind)
}
